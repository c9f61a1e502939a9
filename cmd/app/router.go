package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (app *application) routes() http.Handler {
	router := chi.NewRouter()

	router.Use(app.recoverPanic)
	router.Use(app.logRequest)
	router.Use(app.rateLimit)

	router.NotFound(app.notFoundErrorResponse)
	router.MethodNotAllowed(app.methodNotAllowedErrorResponse)

	router.Get("/healthcheck", app.healthCheckHandler)

	router.Route("/auth", func(r chi.Router) {
		r.Post("/register", app.registerUserHandler)
		r.Post("/login", app.loginUserHandler)
		r.Get("/logout", app.logoutUserHandler)
		r.Post("/logout", app.logoutUserHandler)
	})

	router.Route("/post", func(r chi.Router) {
		r.Get("/{postId}", app.getPostHandler)
		r.Get("/search/{params}", app.searchPostHandler)
		r.With(app.authenticate, app.requireAuthUser).Post("/create", app.createPostHandler)
		r.With(app.authenticate, app.requireAuthUser).Put("/update/{postId}", app.updatePostHandler)
		r.With(app.authenticate, app.requireAuthUser).Delete("/delete/{postId}", app.deletePostHandler)
	})

	router.Route("/user", func(r chi.Router) {
		r.Get("/profile/{userId}", app.getProfileHandler)
		r.With(app.authenticate, app.requireAuthUser).Get("/profile", app.getOwnProfileHandler)
		r.With(app.authenticate, app.requireAuthUser).Put("/update/profile", app.updateProfileHandler)
		r.With(app.authenticate, app.requireAuthUser).Put("/change/password", app.changePasswordHandler)
		r.With(app.authenticate, app.requireAuthUser).Put("/like/post/{postId}", app.toggleLikeHandler)
	})

	return router
}
