package types

import (
	"time"

	"github.com/nicolasparada/go-errs"
)

type PushSubscription struct {
	ID        string    `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"userId"`
	Endpoint  string    `db:"endpoint" json:"endpoint"`
	P256dh    string    `db:"p256dh" json:"-"`
	Auth      string    `db:"auth" json:"-"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

type SavePushSubscription struct {
	Endpoint string
	P256dh   string
	Auth     string

	loggedInUserID string
}

func (in *SavePushSubscription) SetLoggedInUserID(userID string) {
	in.loggedInUserID = userID
}

func (in SavePushSubscription) LoggedInUserID() string {
	return in.loggedInUserID
}

func (in *SavePushSubscription) Validate() error {
	if in.Endpoint == "" {
		return errs.InvalidArgumentError("endpoint is required")
	}
	if in.P256dh == "" || in.Auth == "" {
		return errs.InvalidArgumentError("subscription keys are required")
	}
	return nil
}
