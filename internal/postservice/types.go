package postservice

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/aleksmelnikov/bloghub/internal/common"
)

// BlobStore is the object-storage surface the post flow consumes. Bodies
// live there; the posts table only holds the object URL.
type BlobStore interface {
	Put(ctx context.Context, key, body string) error
	Get(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
	ObjectURL(key string) string
}

type PostService struct {
	m      *PostModel
	c      *common.Cache
	blobs  BlobStore
	mb     common.MessageBus
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

type PostModel struct {
	db *sql.DB
}

type Post struct {
	ID        int    `json:"id"`
	CreatorID int    `json:"creator_id"`
	Title     string `json:"title"`
	// Content holds the object-storage URL of the body, never the body
	// itself.
	Content   string    `json:"content"`
	Likes     int       `json:"likes"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Author struct {
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

// PostView is the assembled read model of a single post, with the body
// resolved from object storage.
type PostView struct {
	Post   PostBody `json:"post"`
	Author Author   `json:"author"`
}

type PostBody struct {
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Likes     int       `json:"likes"`
	CreatedAt time.Time `json:"createdAt"`
}

// cachedPost is the snapshot kept under post:{id}. It stores the content
// URL, not the resolved body, so every read still pays one object-storage
// round trip; only the relational query is saved on a hit. The cache is
// never authoritative.
type cachedPost struct {
	Title      string
	ContentURL string
	Likes      int
	CreatedAt  time.Time
	Author     Author
}

// cleanupMessage is what gets published when a blob delete keeps failing
// during post deletion.
type cleanupMessage struct {
	Key string `json:"key"`
}
