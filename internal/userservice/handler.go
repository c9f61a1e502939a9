package userservice

import (
	"context"
	"database/sql"
	"errors"

	"github.com/aleksmelnikov/bloghub/internal/common"
)

func NewUserService(db *sql.DB, c *common.Cache, secret []byte) *UserService {
	return &UserService{
		m:      newUserModel(db),
		c:      c,
		secret: secret,
	}
}

// Register creates a user account and returns a fresh session token. Name
// and email are unique across all users; the caller gets the same Conflict
// whichever one collides.
func (s *UserService) Register(ctx context.Context, name, email, password string) (string, error) {
	if err := validateRegister(name, email, password); err != nil {
		return "", err
	}

	taken, err := s.m.exists(ctx, name, email)
	if err != nil {
		return "", err
	}
	if taken {
		return "", common.NewConflictError("User with this name or email already exists")
	}

	u := User{Name: name, Email: email}
	if err := u.Password.set(password); err != nil {
		return "", err
	}

	if err := s.m.insert(ctx, &u); err != nil {
		switch {
		case errors.Is(err, ErrDuplicateName), errors.Is(err, ErrDuplicateEmail):
			return "", common.NewConflictError("User with this name or email already exists")
		default:
			return "", err
		}
	}

	return s.issueToken(u.ID, RegisterTokenTime)
}

// Login verifies the credentials and returns a long-lived session token.
// Unknown email and wrong password produce the identical error so the
// response never reveals which one was wrong.
func (s *UserService) Login(ctx context.Context, email, password string) (string, error) {
	if err := validateLogin(email, password); err != nil {
		return "", err
	}

	u, err := s.m.getByEmail(ctx, email)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			return "", common.NewValidationError("Invalid email or password")
		default:
			return "", err
		}
	}

	ok, err := u.Password.compare(password)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", common.NewValidationError("Invalid email or password")
	}

	return s.issueToken(u.ID, LoginTokenTime)
}

// GetProfile returns the user row together with owned and liked posts.
func (s *UserService) GetProfile(ctx context.Context, userID int) (*Profile, error) {
	profile, err := s.m.getProfile(ctx, userID)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			return nil, common.NewNotFoundError("User not found")
		default:
			return nil, err
		}
	}

	return profile, nil
}

// UpdateProfile applies the provided fields only. A new name must not be
// owned by anyone, the check is a case-sensitive exact match.
func (s *UserService) UpdateProfile(ctx context.Context, userID int, newAvatarURL, newName string) error {
	if newAvatarURL == "" && newName == "" {
		return common.NewValidationError("At least one field must be updated")
	}

	if newName != "" {
		taken, err := s.m.nameExists(ctx, newName)
		if err != nil {
			return err
		}
		if taken {
			return common.NewConflictError("This name already exists")
		}
	}

	err := s.m.updateProfile(ctx, userID, newAvatarURL, newName)
	if err != nil {
		switch {
		case errors.Is(err, ErrDuplicateName):
			return common.NewConflictError("This name already exists")
		case errors.Is(err, ErrNotFound):
			return common.NewNotFoundError("User not found")
		default:
			return err
		}
	}

	return nil
}

func (s *UserService) ChangePassword(ctx context.Context, userID int, oldPassword, newPassword string) error {
	if err := validateChangePassword(oldPassword, newPassword); err != nil {
		return err
	}

	u, err := s.m.getByID(ctx, userID)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			return common.NewNotFoundError("User not found")
		default:
			return err
		}
	}

	ok, err := u.Password.compare(oldPassword)
	if err != nil {
		return err
	}
	if !ok {
		return common.NewValidationError("The old password is incorrect")
	}

	if err := u.Password.set(newPassword); err != nil {
		return err
	}

	return s.m.updatePassword(ctx, userID, u.Password)
}

// ToggleLike flips the like state for (user, post) and reports the new
// state: true when the post was just liked, false when it was unliked.
func (s *UserService) ToggleLike(ctx context.Context, userID, postID int) (bool, error) {
	found, err := s.m.postExists(ctx, postID)
	if err != nil {
		return false, err
	}
	if !found {
		return false, common.NewNotFoundError("Post not found")
	}

	if _, err := s.m.getByID(ctx, userID); err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			return false, common.NewNotFoundError("User not found")
		default:
			return false, err
		}
	}

	liked, err := s.m.likeExists(ctx, userID, postID)
	if err != nil {
		return false, err
	}

	if liked {
		if err := s.m.deleteLike(ctx, userID, postID); err != nil {
			return false, err
		}
		s.invalidatePost(postID)
		return false, nil
	}

	if err := s.m.insertLike(ctx, userID, postID); err != nil {
		return false, err
	}
	s.invalidatePost(postID)

	return true, nil
}

// invalidatePost drops the cached post view so the next read picks up the
// new like count.
func (s *UserService) invalidatePost(postID int) {
	if s.c == nil {
		return
	}
	s.c.Delete(common.CacheKeyPost(postID))
}
