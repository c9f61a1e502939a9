package postservice

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/aleksmelnikov/bloghub/internal/common"
)

func NewPostService(db *sql.DB, c *common.Cache, blobs BlobStore, mb common.MessageBus, logger *slog.Logger) *PostService {
	ctx, cancel := context.WithCancel(context.Background())
	return &PostService{
		m:      newPostModel(db),
		c:      c,
		blobs:  blobs,
		mb:     mb,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *PostService) Close() {
	s.cancel()
}

type CreatePostRequest struct {
	Title     string `json:"title"`
	Content   string `json:"content"`
	CreatorID int    `json:"creator_id"`
}

// CreatePost stores the body in object storage and then inserts the row.
// The order matters: a crash in between leaves at worst an orphan blob,
// never a row pointing at nothing.
func (s *PostService) CreatePost(ctx context.Context, req *CreatePostRequest) (*Post, error) {
	if req.Title == "" {
		return nil, common.NewValidationError("Title is required")
	}
	if req.Content == "" {
		return nil, common.NewValidationError("Content is required")
	}

	key := objectKey(req.Title, time.Now())

	if err := s.blobs.Put(ctx, key, req.Content); err != nil {
		return nil, fmt.Errorf("could not store post body: %w", err)
	}

	post := &Post{
		CreatorID: req.CreatorID,
		Title:     req.Title,
		Content:   s.blobs.ObjectURL(key),
	}

	if err := s.m.insert(ctx, post); err != nil {
		switch {
		case errors.Is(err, ErrUserForeignKey):
			return nil, common.NewNotFoundError("User not found")
		default:
			return nil, err
		}
	}

	return post, nil
}

// GetPostByID assembles the post view. A cache hit skips the relational
// query entirely; the body is always fetched fresh from object storage.
func (s *PostService) GetPostByID(ctx context.Context, id int) (*PostView, error) {
	if entry, ok := s.c.Get(common.CacheKeyPost(id)); ok {
		if cached, ok := entry.(cachedPost); ok {
			body, err := s.blobs.Get(ctx, keyFromURL(cached.ContentURL))
			if err != nil {
				return nil, fmt.Errorf("could not resolve post body: %w", err)
			}

			return &PostView{
				Post: PostBody{
					Title:     cached.Title,
					Content:   body,
					Likes:     cached.Likes,
					CreatedAt: cached.CreatedAt,
				},
				Author: cached.Author,
			}, nil
		}
	}

	post, author, err := s.m.getWithAuthor(ctx, id)
	if err != nil {
		switch {
		case errors.Is(err, ErrRecordNotFound):
			return nil, common.NewNotFoundError("Post not found")
		default:
			return nil, err
		}
	}

	body, err := s.blobs.Get(ctx, keyFromURL(post.Content))
	if err != nil {
		return nil, fmt.Errorf("could not resolve post body: %w", err)
	}

	s.c.Set(common.CacheKeyPost(id), cachedPost{
		Title:      post.Title,
		ContentURL: post.Content,
		Likes:      post.Likes,
		CreatedAt:  post.CreatedAt,
		Author:     *author,
	})

	return &PostView{
		Post: PostBody{
			Title:     post.Title,
			Content:   body,
			Likes:     post.Likes,
			CreatedAt: post.CreatedAt,
		},
		Author: *author,
	}, nil
}

// SearchPosts returns every post whose title contains the substring,
// case-insensitive.
func (s *PostService) SearchPosts(ctx context.Context, title string) ([]Post, error) {
	return s.m.searchByTitle(ctx, title)
}

type UpdatePostRequest struct {
	NewTitle   string `json:"newTitle"`
	NewContent string `json:"newContent"`
	PostID     int    `json:"post_id"`
	UserID     int    `json:"user_id"`
}

// UpdatePost changes the title column and/or overwrites the body under the
// existing object key. The key and the stored URL never change.
func (s *PostService) UpdatePost(ctx context.Context, req *UpdatePostRequest) error {
	if req.NewTitle == "" && req.NewContent == "" {
		return common.NewValidationError("You have to change at least one thing")
	}

	post, err := s.m.getByID(ctx, req.PostID)
	if err != nil {
		switch {
		case errors.Is(err, ErrRecordNotFound):
			return common.NewNotFoundError("Post not found")
		default:
			return err
		}
	}

	if post.CreatorID != req.UserID {
		return common.NewForbiddenError("Only the creator can edit this post")
	}

	if req.NewTitle != "" {
		if err := s.m.updateTitle(ctx, req.PostID, req.NewTitle); err != nil {
			return err
		}
	}

	if req.NewContent != "" {
		if err := s.blobs.Put(ctx, keyFromURL(post.Content), req.NewContent); err != nil {
			return fmt.Errorf("could not store post body: %w", err)
		}
		if req.NewTitle == "" {
			if err := s.m.touch(ctx, req.PostID); err != nil {
				return err
			}
		}
	}

	s.c.Delete(common.CacheKeyPost(req.PostID))

	return nil
}

// DeletePost removes the post and everything hanging off it: the blob, the
// like rows, the row itself and the cache entry. The four side effects are
// not transactional; each is attempted even when an earlier one fails so a
// stuck blob can never block row cleanup.
func (s *PostService) DeletePost(ctx context.Context, postID, userID int) error {
	post, err := s.m.getByID(ctx, postID)
	if err != nil {
		switch {
		case errors.Is(err, ErrRecordNotFound):
			return common.NewNotFoundError("Post not found")
		default:
			return err
		}
	}

	if post.CreatorID != userID {
		return common.NewForbiddenError("Only the creator delete this post")
	}

	key := keyFromURL(post.Content)
	if key == "" {
		return common.NewNotFoundError("Object not found")
	}

	if err := s.deleteBlob(ctx, key); err != nil {
		s.logger.Warn("post body delete failed, queueing cleanup", slog.String("key", key), slog.String("error", err.Error()))
		s.queueCleanup(ctx, key)
	}

	if err := s.m.deleteLikesByPost(ctx, postID); err != nil {
		s.logger.Warn("like cleanup failed", slog.Int("post_id", postID), slog.String("error", err.Error()))
	}

	// The cache entry goes regardless of how the row delete fares; a
	// failed row delete must not leave a cached view behind.
	delErr := s.m.deletePost(ctx, postID)
	s.c.Delete(common.CacheKeyPost(postID))

	if delErr != nil {
		switch {
		case errors.Is(delErr, ErrRecordNotFound):
			return common.NewNotFoundError("Post not found")
		default:
			return delErr
		}
	}

	return nil
}

func (s *PostService) deleteBlob(ctx context.Context, key string) error {
	backoff := retry.WithMaxRetries(3, retry.NewExponential(200*time.Millisecond))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := s.blobs.Delete(ctx, key); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
}

func (s *PostService) queueCleanup(ctx context.Context, key string) {
	if s.mb == nil {
		return
	}

	msg, err := json.Marshal(cleanupMessage{Key: key})
	if err != nil {
		s.logger.Error("could not marshal cleanup message", slog.String("error", err.Error()))
		return
	}

	if err := s.mb.Publish(ctx, msg, common.PostCleanupKey, common.PostExchange); err != nil {
		s.logger.Error("could not publish cleanup event", slog.String("key", key), slog.String("error", err.Error()))
	}
}

// CleanupOrphanBlobs consumes queued cleanup events and retries the blob
// deletes that failed during post deletion. Run once at startup.
func (s *PostService) CleanupOrphanBlobs() {
	if s.mb == nil {
		return
	}

	msgs, err := s.mb.Consume(common.PostCleanupKey, common.PostExchange, common.PostCleanupQueue)
	if err != nil {
		s.logger.Error("could not consume cleanup events", slog.String("error", err.Error()))
		return
	}

	go func() {
		for {
			select {
			case msg, ok := <-msgs:
				if !ok {
					return
				}

				var data cleanupMessage
				if err := json.Unmarshal(msg.Body, &data); err != nil {
					s.logger.Error("could not unmarshal cleanup message", slog.String("error", err.Error()))
					msg.Ack(false)
					continue
				}

				if err := s.deleteBlob(s.ctx, data.Key); err != nil {
					s.logger.Error("orphan blob delete failed, requeueing", slog.String("key", data.Key), slog.String("error", err.Error()))
					msg.Nack(false, true)
					continue
				}

				s.logger.Info("orphan blob removed", slog.String("key", data.Key))
				msg.Ack(false)

			case <-s.ctx.Done():
				s.logger.Info("stopping CleanupOrphanBlobs due to context cancellation")
				return
			}
		}
	}()
}
