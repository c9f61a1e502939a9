package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aleksmelnikov/bloghub/internal/postservice"
	"github.com/aleksmelnikov/bloghub/internal/userservice"
)

const tokenCookieName = "token"

func (app *application) setTokenCookie(w http.ResponseWriter, token string, ttl time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     tokenCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (app *application) clearTokenCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     tokenCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

type registerUserRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (app *application) registerUserHandler(w http.ResponseWriter, r *http.Request) {
	var input registerUserRequest

	err := app.parseJSON(w, r, &input)
	if err != nil {
		app.badRequestErrorResponse(w, r, err)
		return
	}

	token, err := app.userService.Register(r.Context(), input.Name, input.Email, input.Password)
	if err != nil {
		app.domainErrorResponse(w, r, err)
		return
	}

	app.setTokenCookie(w, token, userservice.RegisterTokenTime)

	err = app.writeJSON(w, http.StatusCreated, envelope{"message": "User has been successfully registered"}, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
		return
	}
}

type loginUserRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (app *application) loginUserHandler(w http.ResponseWriter, r *http.Request) {
	var input loginUserRequest

	err := app.parseJSON(w, r, &input)
	if err != nil {
		app.badRequestErrorResponse(w, r, err)
		return
	}

	token, err := app.userService.Login(r.Context(), input.Email, input.Password)
	if err != nil {
		app.domainErrorResponse(w, r, err)
		return
	}

	app.setTokenCookie(w, token, userservice.LoginTokenTime)

	err = app.writeJSON(w, http.StatusOK, envelope{"message": "Login has been successfully"}, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
		return
	}
}

func (app *application) logoutUserHandler(w http.ResponseWriter, r *http.Request) {
	app.clearTokenCookie(w)

	err := app.writeJSON(w, http.StatusOK, envelope{"message": "logout successfully"}, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
		return
	}
}

type createPostRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

func (app *application) createPostHandler(w http.ResponseWriter, r *http.Request) {
	var input createPostRequest

	err := app.parseJSON(w, r, &input)
	if err != nil {
		app.badRequestErrorResponse(w, r, err)
		return
	}

	post, err := app.postService.CreatePost(r.Context(), &postservice.CreatePostRequest{
		Title:     input.Title,
		Content:   input.Content,
		CreatorID: app.getUserContext(r),
	})
	if err != nil {
		app.domainErrorResponse(w, r, err)
		return
	}

	err = app.writeJSON(w, http.StatusCreated, envelope{"message": "Post was successfully created", "post": post}, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
		return
	}
}

func (app *application) getPostHandler(w http.ResponseWriter, r *http.Request) {
	id, err := app.readIDParam(r, "postId")
	if err != nil {
		app.badRequestErrorResponse(w, r, err)
		return
	}

	view, err := app.postService.GetPostByID(r.Context(), id)
	if err != nil {
		app.domainErrorResponse(w, r, err)
		return
	}

	err = app.writeJSON(w, http.StatusOK, envelope{"post": view.Post, "author": view.Author}, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
		return
	}
}

func (app *application) searchPostHandler(w http.ResponseWriter, r *http.Request) {
	params := chi.URLParam(r, "params")

	posts, err := app.postService.SearchPosts(r.Context(), params)
	if err != nil {
		app.domainErrorResponse(w, r, err)
		return
	}

	err = app.writeJSON(w, http.StatusOK, envelope{"posts": posts}, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
		return
	}
}

type updatePostRequest struct {
	NewTitle   string `json:"newTitle"`
	NewContent string `json:"newContent"`
}

func (app *application) updatePostHandler(w http.ResponseWriter, r *http.Request) {
	id, err := app.readIDParam(r, "postId")
	if err != nil {
		app.badRequestErrorResponse(w, r, err)
		return
	}

	var input updatePostRequest

	err = app.parseJSON(w, r, &input)
	if err != nil {
		app.badRequestErrorResponse(w, r, err)
		return
	}

	err = app.postService.UpdatePost(r.Context(), &postservice.UpdatePostRequest{
		NewTitle:   input.NewTitle,
		NewContent: input.NewContent,
		PostID:     id,
		UserID:     app.getUserContext(r),
	})
	if err != nil {
		app.domainErrorResponse(w, r, err)
		return
	}

	err = app.writeJSON(w, http.StatusOK, envelope{"message": "Post was successfully updated"}, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
		return
	}
}

func (app *application) deletePostHandler(w http.ResponseWriter, r *http.Request) {
	id, err := app.readIDParam(r, "postId")
	if err != nil {
		app.badRequestErrorResponse(w, r, err)
		return
	}

	err = app.postService.DeletePost(r.Context(), id, app.getUserContext(r))
	if err != nil {
		app.domainErrorResponse(w, r, err)
		return
	}

	err = app.writeJSON(w, http.StatusOK, envelope{"message": "The post was successfully deleted"}, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
		return
	}
}

func (app *application) getProfileHandler(w http.ResponseWriter, r *http.Request) {
	id, err := app.readIDParam(r, "userId")
	if err != nil {
		app.badRequestErrorResponse(w, r, err)
		return
	}

	profile, err := app.userService.GetProfile(r.Context(), id)
	if err != nil {
		app.domainErrorResponse(w, r, err)
		return
	}

	err = app.writeJSON(w, http.StatusOK, envelope{"user": profile}, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
		return
	}
}

func (app *application) getOwnProfileHandler(w http.ResponseWriter, r *http.Request) {
	profile, err := app.userService.GetProfile(r.Context(), app.getUserContext(r))
	if err != nil {
		app.domainErrorResponse(w, r, err)
		return
	}

	err = app.writeJSON(w, http.StatusOK, envelope{"user": profile}, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
		return
	}
}

type updateProfileRequest struct {
	NewAvatarURL string `json:"newAvatarUrl"`
	NewName      string `json:"newName"`
}

func (app *application) updateProfileHandler(w http.ResponseWriter, r *http.Request) {
	var input updateProfileRequest

	err := app.parseJSON(w, r, &input)
	if err != nil {
		app.badRequestErrorResponse(w, r, err)
		return
	}

	err = app.userService.UpdateProfile(r.Context(), app.getUserContext(r), input.NewAvatarURL, input.NewName)
	if err != nil {
		app.domainErrorResponse(w, r, err)
		return
	}

	err = app.writeJSON(w, http.StatusOK, envelope{"message": "User profile was successfully update"}, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
		return
	}
}

type changePasswordRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

func (app *application) changePasswordHandler(w http.ResponseWriter, r *http.Request) {
	var input changePasswordRequest

	err := app.parseJSON(w, r, &input)
	if err != nil {
		app.badRequestErrorResponse(w, r, err)
		return
	}

	err = app.userService.ChangePassword(r.Context(), app.getUserContext(r), input.OldPassword, input.NewPassword)
	if err != nil {
		app.domainErrorResponse(w, r, err)
		return
	}

	err = app.writeJSON(w, http.StatusOK, envelope{"message": "Password was successfully update"}, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
		return
	}
}

func (app *application) toggleLikeHandler(w http.ResponseWriter, r *http.Request) {
	id, err := app.readIDParam(r, "postId")
	if err != nil {
		app.badRequestErrorResponse(w, r, err)
		return
	}

	liked, err := app.userService.ToggleLike(r.Context(), app.getUserContext(r), id)
	if err != nil {
		app.domainErrorResponse(w, r, err)
		return
	}

	message := "The post was successfully removed from likes"
	if liked {
		message = "The post was successfully added to likes"
	}

	err = app.writeJSON(w, http.StatusOK, envelope{"message": message}, nil)
	if err != nil {
		app.serverErrorResponse(w, r, err)
		return
	}
}
