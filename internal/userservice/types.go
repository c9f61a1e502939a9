package userservice

import (
	"database/sql"
	"time"

	"github.com/aleksmelnikov/bloghub/internal/common"
)

const (
	// Session lifetimes differ on purpose: a fresh registration gets a
	// short-lived token, an explicit login a week-long one.
	RegisterTokenTime time.Duration = 10 * time.Hour
	LoginTokenTime    time.Duration = 175 * time.Hour
)

type UserService struct {
	m      *UserModel
	c      *common.Cache
	secret []byte
}

type UserModel struct {
	db *sql.DB
}

type User struct {
	ID        int       `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Password  Password  `json:"-"`
	Avatar    string    `json:"avatar"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Password struct {
	Plain string `json:"-"`
	hash  []byte `json:"-"`
}

// Profile is the read model behind /user/profile: the user row plus the
// posts they created and the posts they liked.
type Profile struct {
	ID         int           `json:"id"`
	Name       string        `json:"name"`
	Email      string        `json:"email"`
	Avatar     string        `json:"avatar"`
	CreatedAt  time.Time     `json:"created_at"`
	Posts      []ProfilePost `json:"posts"`
	LikedPosts []LikedPost   `json:"liked_posts"`
}

type ProfilePost struct {
	ID        int       `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type LikedPost struct {
	PostID int    `json:"post_id"`
	Title  string `json:"title"`
}
