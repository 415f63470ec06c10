package types

import (
	"regexp"
	"time"

	"github.com/nicolasparada/go-errs"
)

type User struct {
	ID         string     `db:"id" json:"id"`
	Username   string     `db:"username" json:"username"`
	Online     bool       `db:"online" json:"online"`
	LastSeenAt *time.Time `db:"last_seen_at" json:"lastSeenAt"`
	CreatedAt  time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updatedAt"`
}

var reUsername = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,20}$`)

type Login struct {
	Username string
}

func (in *Login) Validate() error {
	if !reUsername.MatchString(in.Username) {
		return errs.InvalidArgumentError("invalid username")
	}
	return nil
}

type TokenOutput struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	User      User      `json:"user"`
}
