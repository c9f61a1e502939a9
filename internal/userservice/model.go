package userservice

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

var (
	ErrDuplicateName  = errors.New("duplicate name")
	ErrDuplicateEmail = errors.New("duplicate email")
	ErrNotFound       = errors.New("user not found")
)

func newUserModel(db *sql.DB) *UserModel {
	return &UserModel{db: db}
}

// uniqueViolation checks whether err is a unique-constraint violation on the
// named constraint.
func uniqueViolation(err error, name string) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505" && pqErr.Constraint == name
	}

	return false
}

func (m *UserModel) insert(ctx context.Context, u *User) error {
	query := `
		INSERT INTO users (name, email, password)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at`

	err := m.db.QueryRowContext(ctx, query, u.Name, u.Email, u.Password.hash).Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		switch {
		case uniqueViolation(err, "users_name_key"):
			return ErrDuplicateName
		case uniqueViolation(err, "users_email_key"):
			return ErrDuplicateEmail
		default:
			return err
		}
	}

	return nil
}

// exists reports whether any user already owns the given name or email.
func (m *UserModel) exists(ctx context.Context, name, email string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM users WHERE name = $1 OR email = $2
		)`

	var taken bool
	if err := m.db.QueryRowContext(ctx, query, name, email).Scan(&taken); err != nil {
		return false, err
	}

	return taken, nil
}

func (m *UserModel) nameExists(ctx context.Context, name string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM users WHERE name = $1
		)`

	var taken bool
	if err := m.db.QueryRowContext(ctx, query, name).Scan(&taken); err != nil {
		return false, err
	}

	return taken, nil
}

func (m *UserModel) getByEmail(ctx context.Context, email string) (*User, error) {
	query := `
		SELECT id, name, email, password, COALESCE(avatar, ''), created_at, updated_at
		FROM users
		WHERE email = $1`

	var u User
	err := m.db.QueryRowContext(ctx, query, email).Scan(&u.ID, &u.Name, &u.Email, &u.Password.hash, &u.Avatar, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, ErrNotFound
		default:
			return nil, err
		}
	}

	return &u, nil
}

func (m *UserModel) getByID(ctx context.Context, id int) (*User, error) {
	query := `
		SELECT id, name, email, password, COALESCE(avatar, ''), created_at, updated_at
		FROM users
		WHERE id = $1`

	var u User
	err := m.db.QueryRowContext(ctx, query, id).Scan(&u.ID, &u.Name, &u.Email, &u.Password.hash, &u.Avatar, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, ErrNotFound
		default:
			return nil, err
		}
	}

	return &u, nil
}

// updateProfile applies only the provided fields; empty strings leave the
// stored value untouched.
func (m *UserModel) updateProfile(ctx context.Context, id int, newAvatarURL, newName string) error {
	query := `
		UPDATE users
		SET name = COALESCE(NULLIF($1, ''), name),
		    avatar = COALESCE(NULLIF($2, ''), avatar),
		    updated_at = now()
		WHERE id = $3`

	res, err := m.db.ExecContext(ctx, query, newName, newAvatarURL, id)
	if err != nil {
		if uniqueViolation(err, "users_name_key") {
			return ErrDuplicateName
		}
		return err
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

func (m *UserModel) updatePassword(ctx context.Context, id int, pwd Password) error {
	query := `
		UPDATE users
		SET password = $1, updated_at = now()
		WHERE id = $2`

	_, err := m.db.ExecContext(ctx, query, pwd.hash, id)
	return err
}

func (m *UserModel) getProfile(ctx context.Context, id int) (*Profile, error) {
	query := `
		SELECT id, name, email, COALESCE(avatar, ''), created_at
		FROM users
		WHERE id = $1`

	var p Profile
	err := m.db.QueryRowContext(ctx, query, id).Scan(&p.ID, &p.Name, &p.Email, &p.Avatar, &p.CreatedAt)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, ErrNotFound
		default:
			return nil, err
		}
	}

	p.Posts = []ProfilePost{}
	p.LikedPosts = []LikedPost{}

	postsQuery := `
		SELECT id, title, created_at, updated_at
		FROM posts
		WHERE creator_id = $1
		ORDER BY created_at DESC`

	rows, err := m.db.QueryContext(ctx, postsQuery, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var post ProfilePost
		if err := rows.Scan(&post.ID, &post.Title, &post.CreatedAt, &post.UpdatedAt); err != nil {
			return nil, err
		}
		p.Posts = append(p.Posts, post)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	likesQuery := `
		SELECT p.id, p.title
		FROM users_likes l
		JOIN posts p ON p.id = l.post_id
		WHERE l.user_id = $1`

	likeRows, err := m.db.QueryContext(ctx, likesQuery, id)
	if err != nil {
		return nil, err
	}
	defer likeRows.Close()

	for likeRows.Next() {
		var liked LikedPost
		if err := likeRows.Scan(&liked.PostID, &liked.Title); err != nil {
			return nil, err
		}
		p.LikedPosts = append(p.LikedPosts, liked)
	}
	if err := likeRows.Err(); err != nil {
		return nil, err
	}

	return &p, nil
}

func (m *UserModel) postExists(ctx context.Context, postID int) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM posts WHERE id = $1
		)`

	var found bool
	if err := m.db.QueryRowContext(ctx, query, postID).Scan(&found); err != nil {
		return false, err
	}

	return found, nil
}

func (m *UserModel) likeExists(ctx context.Context, userID, postID int) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM users_likes WHERE user_id = $1 AND post_id = $2
		)`

	var found bool
	if err := m.db.QueryRowContext(ctx, query, userID, postID).Scan(&found); err != nil {
		return false, err
	}

	return found, nil
}

func (m *UserModel) insertLike(ctx context.Context, userID, postID int) error {
	// The composite primary key keeps this at most one row per pair even
	// when two toggles race.
	query := `
		INSERT INTO users_likes (user_id, post_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING`

	_, err := m.db.ExecContext(ctx, query, userID, postID)
	return err
}

func (m *UserModel) deleteLike(ctx context.Context, userID, postID int) error {
	query := `
		DELETE FROM users_likes
		WHERE user_id = $1 AND post_id = $2`

	_, err := m.db.ExecContext(ctx, query, userID, postID)
	return err
}
