package postservice

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

var (
	ErrRecordNotFound = errors.New("record not found")
	ErrUserForeignKey = errors.New("creator_id does not exist")
)

func newPostModel(db *sql.DB) *PostModel {
	return &PostModel{db: db}
}

// foreignKeyError checks whether err is a foreign-key violation on the
// named constraint.
func foreignKeyError(err error, name string) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23503" && pqErr.Constraint == name
	}

	return false
}

func (m *PostModel) insert(ctx context.Context, post *Post) error {
	query := `
		INSERT INTO posts (creator_id, title, content)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at`

	err := m.db.QueryRowContext(ctx, query, post.CreatorID, post.Title, post.Content).Scan(&post.ID, &post.CreatedAt, &post.UpdatedAt)
	if err != nil {
		switch {
		case foreignKeyError(err, "posts_creator_id_fkey"):
			return ErrUserForeignKey
		default:
			return err
		}
	}

	return nil
}

func (m *PostModel) getByID(ctx context.Context, id int) (*Post, error) {
	query := `
		SELECT id, creator_id, title, content, created_at, updated_at
		FROM posts
		WHERE id = $1`

	var post Post
	err := m.db.QueryRowContext(ctx, query, id).Scan(&post.ID, &post.CreatorID, &post.Title, &post.Content, &post.CreatedAt, &post.UpdatedAt)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, ErrRecordNotFound
		default:
			return nil, err
		}
	}

	return &post, nil
}

// getWithAuthor fetches the post, its creator and the like count in a
// single round trip.
func (m *PostModel) getWithAuthor(ctx context.Context, id int) (*Post, *Author, error) {
	query := `
		SELECT p.id, p.creator_id, p.title, p.content, p.created_at, p.updated_at,
		       u.name, COALESCE(u.avatar, ''),
		       COUNT(l.user_id)
		FROM posts p
		JOIN users u ON u.id = p.creator_id
		LEFT JOIN users_likes l ON l.post_id = p.id
		WHERE p.id = $1
		GROUP BY p.id, u.name, u.avatar`

	var (
		post   Post
		author Author
	)

	err := m.db.QueryRowContext(ctx, query, id).Scan(
		&post.ID, &post.CreatorID, &post.Title, &post.Content, &post.CreatedAt, &post.UpdatedAt,
		&author.Name, &author.Avatar,
		&post.Likes,
	)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, nil, ErrRecordNotFound
		default:
			return nil, nil, err
		}
	}

	return &post, &author, nil
}

// searchByTitle matches the title case-insensitively on a substring,
// storage default order.
func (m *PostModel) searchByTitle(ctx context.Context, title string) ([]Post, error) {
	query := `
		SELECT id, creator_id, title, content, created_at, updated_at
		FROM posts
		WHERE title ILIKE $1`

	rows, err := m.db.QueryContext(ctx, query, "%"+title+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	posts := []Post{}
	for rows.Next() {
		var post Post
		if err := rows.Scan(&post.ID, &post.CreatorID, &post.Title, &post.Content, &post.CreatedAt, &post.UpdatedAt); err != nil {
			return nil, err
		}
		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return posts, nil
}

func (m *PostModel) updateTitle(ctx context.Context, id int, title string) error {
	query := `
		UPDATE posts
		SET title = $1, updated_at = now()
		WHERE id = $2`

	res, err := m.db.ExecContext(ctx, query, title, id)
	if err != nil {
		return err
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrRecordNotFound
	}

	return nil
}

func (m *PostModel) touch(ctx context.Context, id int) error {
	query := `
		UPDATE posts
		SET updated_at = now()
		WHERE id = $1`

	_, err := m.db.ExecContext(ctx, query, id)
	return err
}

func (m *PostModel) deletePost(ctx context.Context, id int) error {
	query := `
		DELETE FROM posts
		WHERE id = $1`

	res, err := m.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if rows != 1 {
		switch {
		case rows == 0:
			return ErrRecordNotFound
		default:
			return fmt.Errorf("expected 1 row to be affected, got %d", rows)
		}
	}

	return nil
}

func (m *PostModel) deleteLikesByPost(ctx context.Context, postID int) error {
	query := `
		DELETE FROM users_likes
		WHERE post_id = $1`

	_, err := m.db.ExecContext(ctx, query, postID)
	return err
}
