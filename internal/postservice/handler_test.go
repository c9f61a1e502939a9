package postservice

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/aleksmelnikov/bloghub/internal/blobstore"
	"github.com/aleksmelnikov/bloghub/internal/common"
)

func setupTestEnvironment(t *testing.T) (*PostService, *sql.DB, *blobstore.BlobStore, func() error) {
	t.Helper()

	ctx := context.Background()

	db := common.TestDB("file://../../migrations", t)

	endpoint, accessKey, secretKey := common.TestMinio(t)
	blobs, err := blobstore.New(endpoint, accessKey, secretKey, "posts", false)
	if err != nil {
		t.Fatalf("could not create blob store: %v", err)
	}

	if err := blobs.EnsureBucket(ctx); err != nil {
		t.Fatalf("could not create bucket: %v", err)
	}

	cache := common.NewCache(time.Hour, 0)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s := NewPostService(db, cache, blobs, nil, logger)
	t.Cleanup(s.Close)

	cleanup := func() error {
		cache.Flush()

		_, err := db.Exec("DELETE FROM users_likes")
		if err != nil {
			return err
		}

		_, err = db.Exec("DELETE FROM posts")
		if err != nil {
			return err
		}

		_, err = db.Exec("DELETE FROM users")
		if err != nil {
			return err
		}

		return nil
	}

	return s, db, blobs, cleanup
}

func insertTestUser(ctx context.Context, t *testing.T, db *sql.DB, name string) int {
	t.Helper()

	var id int
	err := db.QueryRowContext(ctx, "INSERT INTO users (name, email, password) VALUES ($1, $2, $3) RETURNING id", name, name+"@example.com", []byte("hash")).Scan(&id)
	assert.NoError(t, err)

	return id
}

func TestCreatePost(t *testing.T) {
	s, db, blobs, cleanup := setupTestEnvironment(t)

	t.Run("valid post", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		userID := insertTestUser(ctx, t, db, "testuser")

		post, err := s.CreatePost(ctx, &CreatePostRequest{
			Title:     "My First Post!",
			Content:   "hello from the test",
			CreatorID: userID,
		})
		assert.NoError(t, err)
		assert.NotZero(t, post.ID)

		// The column holds the object URL, never the body.
		assert.True(t, strings.HasPrefix(post.Content, "http://"))
		assert.Contains(t, post.Content, "/posts/My-First-Post-:")

		body, err := blobs.Get(ctx, keyFromURL(post.Content))
		assert.NoError(t, err)
		assert.Equal(t, "hello from the test", body)

		var stored string
		err = db.QueryRow("SELECT content FROM posts WHERE id = $1", post.ID).Scan(&stored)
		assert.NoError(t, err)
		assert.Equal(t, post.Content, stored)

		t.Cleanup(func() {
			assert.NoError(t, cleanup())
		})
	})

	t.Run("missing fields", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		_, err := s.CreatePost(ctx, &CreatePostRequest{Content: "body"})
		assert.Equal(t, common.NewValidationError("Title is required"), err)

		_, err = s.CreatePost(ctx, &CreatePostRequest{Title: "title"})
		assert.Equal(t, common.NewValidationError("Content is required"), err)
	})

	t.Run("unknown creator", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		_, err := s.CreatePost(ctx, &CreatePostRequest{
			Title:     "orphan",
			Content:   "body",
			CreatorID: 999,
		})
		assert.Equal(t, common.NewNotFoundError("User not found"), err)

		t.Cleanup(func() {
			assert.NoError(t, cleanup())
		})
	})
}

func TestGetPostByID(t *testing.T) {
	s, db, _, cleanup := setupTestEnvironment(t)

	t.Run("unknown post", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		_, err := s.GetPostByID(ctx, 999)
		assert.Equal(t, common.NewNotFoundError("Post not found"), err)
	})

	t.Run("round trip and cache hit", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		userID := insertTestUser(ctx, t, db, "testuser")

		post, err := s.CreatePost(ctx, &CreatePostRequest{
			Title:     "cached post",
			Content:   "the body",
			CreatorID: userID,
		})
		assert.NoError(t, err)

		view, err := s.GetPostByID(ctx, post.ID)
		assert.NoError(t, err)
		assert.Equal(t, "cached post", view.Post.Title)
		assert.Equal(t, "the body", view.Post.Content)
		assert.Equal(t, 0, view.Post.Likes)
		assert.Equal(t, "testuser", view.Author.Name)

		// A cache hit skips the relational query, so a direct row change
		// is invisible until the entry is invalidated.
		_, err = db.Exec("UPDATE posts SET title = 'changed behind the cache' WHERE id = $1", post.ID)
		assert.NoError(t, err)

		view, err = s.GetPostByID(ctx, post.ID)
		assert.NoError(t, err)
		assert.Equal(t, "cached post", view.Post.Title)

		t.Cleanup(func() {
			assert.NoError(t, cleanup())
		})
	})
}

func TestSearchPosts(t *testing.T) {
	s, db, _, cleanup := setupTestEnvironment(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	userID := insertTestUser(ctx, t, db, "testuser")

	for _, title := range []string{"Go concurrency patterns", "Cooking for one", "More Go tips"} {
		_, err := s.CreatePost(ctx, &CreatePostRequest{Title: title, Content: "body", CreatorID: userID})
		assert.NoError(t, err)
	}

	testCases := []struct {
		name     string
		query    string
		expected int
	}{
		{name: "substring", query: "go", expected: 2},
		{name: "case insensitive", query: "COOKING", expected: 1},
		{name: "no match", query: "rust", expected: 0},
		{name: "empty matches all", query: "", expected: 3},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			posts, err := s.SearchPosts(ctx, tc.query)
			assert.NoError(t, err)
			assert.Len(t, posts, tc.expected)
		})
	}

	t.Cleanup(func() {
		assert.NoError(t, cleanup())
	})
}

func TestUpdatePost(t *testing.T) {
	s, db, blobs, cleanup := setupTestEnvironment(t)

	t.Run("nothing to update", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		err := s.UpdatePost(ctx, &UpdatePostRequest{PostID: 1, UserID: 1})
		assert.Equal(t, common.NewValidationError("You have to change at least one thing"), err)
	})

	t.Run("only the creator", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		userID := insertTestUser(ctx, t, db, "creator")
		otherID := insertTestUser(ctx, t, db, "intruder")

		post, err := s.CreatePost(ctx, &CreatePostRequest{Title: "mine", Content: "body", CreatorID: userID})
		assert.NoError(t, err)

		err = s.UpdatePost(ctx, &UpdatePostRequest{NewTitle: "stolen", PostID: post.ID, UserID: otherID})
		assert.Equal(t, common.NewForbiddenError("Only the creator can edit this post"), err)

		t.Cleanup(func() {
			assert.NoError(t, cleanup())
		})
	})

	t.Run("content overwrites the same object", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		userID := insertTestUser(ctx, t, db, "creator")

		post, err := s.CreatePost(ctx, &CreatePostRequest{Title: "stable key", Content: "v1", CreatorID: userID})
		assert.NoError(t, err)

		// Warm the cache, then update; the entry must be invalidated.
		_, err = s.GetPostByID(ctx, post.ID)
		assert.NoError(t, err)

		err = s.UpdatePost(ctx, &UpdatePostRequest{NewTitle: "new title", NewContent: "v2", PostID: post.ID, UserID: userID})
		assert.NoError(t, err)

		var stored string
		err = db.QueryRow("SELECT content FROM posts WHERE id = $1", post.ID).Scan(&stored)
		assert.NoError(t, err)
		assert.Equal(t, post.Content, stored)

		body, err := blobs.Get(ctx, keyFromURL(stored))
		assert.NoError(t, err)
		assert.Equal(t, "v2", body)

		view, err := s.GetPostByID(ctx, post.ID)
		assert.NoError(t, err)
		assert.Equal(t, "new title", view.Post.Title)
		assert.Equal(t, "v2", view.Post.Content)

		t.Cleanup(func() {
			assert.NoError(t, cleanup())
		})
	})
}

func TestDeletePost(t *testing.T) {
	s, db, blobs, cleanup := setupTestEnvironment(t)

	t.Run("only the creator", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		userID := insertTestUser(ctx, t, db, "creator")
		otherID := insertTestUser(ctx, t, db, "intruder")

		post, err := s.CreatePost(ctx, &CreatePostRequest{Title: "mine", Content: "body", CreatorID: userID})
		assert.NoError(t, err)

		err = s.DeletePost(ctx, post.ID, otherID)
		assert.Equal(t, common.NewForbiddenError("Only the creator delete this post"), err)

		t.Cleanup(func() {
			assert.NoError(t, cleanup())
		})
	})

	t.Run("removes row, blob, likes and cache entry", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		userID := insertTestUser(ctx, t, db, "creator")

		post, err := s.CreatePost(ctx, &CreatePostRequest{Title: "doomed", Content: "body", CreatorID: userID})
		assert.NoError(t, err)

		_, err = db.Exec("INSERT INTO users_likes (user_id, post_id) VALUES ($1, $2)", userID, post.ID)
		assert.NoError(t, err)

		_, err = s.GetPostByID(ctx, post.ID)
		assert.NoError(t, err)

		key := keyFromURL(post.Content)

		err = s.DeletePost(ctx, post.ID, userID)
		assert.NoError(t, err)

		var count int
		err = db.QueryRow("SELECT COUNT(*) FROM posts WHERE id = $1", post.ID).Scan(&count)
		assert.NoError(t, err)
		assert.Equal(t, 0, count)

		err = db.QueryRow("SELECT COUNT(*) FROM users_likes WHERE post_id = $1", post.ID).Scan(&count)
		assert.NoError(t, err)
		assert.Equal(t, 0, count)

		_, err = blobs.Get(ctx, key)
		assert.Error(t, err)

		_, err = s.GetPostByID(ctx, post.ID)
		assert.Equal(t, common.NewNotFoundError("Post not found"), err)

		t.Cleanup(func() {
			assert.NoError(t, cleanup())
		})
	})

	t.Run("cache entry goes even when the row delete fails", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		userID := insertTestUser(ctx, t, db, "creator")

		post, err := s.CreatePost(ctx, &CreatePostRequest{Title: "stuck", Content: "body", CreatorID: userID})
		assert.NoError(t, err)

		_, err = s.GetPostByID(ctx, post.ID)
		assert.NoError(t, err)

		// Block the row delete so the fan-out's last step fails.
		_, err = db.Exec(`
			CREATE OR REPLACE FUNCTION block_post_delete() RETURNS trigger AS $$
			BEGIN RAISE EXCEPTION 'delete blocked'; END;
			$$ LANGUAGE plpgsql`)
		assert.NoError(t, err)
		_, err = db.Exec("CREATE TRIGGER block_delete BEFORE DELETE ON posts FOR EACH ROW EXECUTE FUNCTION block_post_delete()")
		assert.NoError(t, err)

		err = s.DeletePost(ctx, post.ID, userID)
		assert.Error(t, err)

		_, found := s.c.Get(common.CacheKeyPost(post.ID))
		assert.False(t, found)

		_, err = db.Exec("DROP TRIGGER block_delete ON posts")
		assert.NoError(t, err)

		t.Cleanup(func() {
			assert.NoError(t, cleanup())
		})
	})
}

// flakyBlobStore fails its first deletes, then succeeds and reports the
// deleted key.
type flakyBlobStore struct {
	mu       sync.Mutex
	failures int
	deleted  chan string
}

func (f *flakyBlobStore) Put(ctx context.Context, key, body string) error { return nil }

func (f *flakyBlobStore) Get(ctx context.Context, key string) (string, error) { return "", nil }

func (f *flakyBlobStore) ObjectURL(key string) string {
	return "http://localhost:9000/posts/" + key
}

func (f *flakyBlobStore) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failures > 0 {
		f.failures--
		return errors.New("storage unavailable")
	}

	select {
	case f.deleted <- key:
	default:
	}

	return nil
}

func TestCleanupOrphanBlobsRequeues(t *testing.T) {
	connURL := common.TestRabbitMQ(t)

	mb, err := common.NewMessageBroker(connURL)
	assert.NoError(t, err)
	defer mb.Close()

	assert.NoError(t, common.SetupPostExchange(mb))

	// Enough failures to exhaust one full backoff cycle, so the first
	// delivery is nacked and the event has to come around again.
	blobs := &flakyBlobStore{failures: 4, deleted: make(chan string, 1)}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s := NewPostService(nil, common.NewCache(0, 0), blobs, mb, logger)
	t.Cleanup(s.Close)

	s.CleanupOrphanBlobs()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	payload, err := json.Marshal(cleanupMessage{Key: "orphan:1700000000000"})
	assert.NoError(t, err)
	assert.NoError(t, mb.Publish(ctx, payload, common.PostCleanupKey, common.PostExchange))

	select {
	case key := <-blobs.deleted:
		assert.Equal(t, "orphan:1700000000000", key)
	case <-ctx.Done():
		t.Fatal("orphan blob was never deleted")
	}
}
