package models

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID             uuid.UUID `json:"id"`
	DisplayName    string    `json:"displayName"`
	Username       string    `json:"username"`
	Email          string    `json:"email,omitempty"`
	PhoneNumber    string    `json:"phoneNumber,omitempty"`
	Bio            string    `json:"bio"`
	PhotoURL       string    `json:"photoURL"`
	PushToken      string    `json:"-"`
	HashedPassword string    `json:"-"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Name is what other users see for this account: the display name, or the
// email when no display name was set.
func (u *User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	if u.Email != "" {
		return u.Email
	}
	return u.PhoneNumber
}

// ProfileUpdate carries the changed profile fields; nil fields are left as-is.
type ProfileUpdate struct {
	DisplayName *string
	Username    *string
	Bio         *string
	PhotoURL    *string
	PushToken   *string
}

// IsEmpty reports whether the update would change nothing.
func (p ProfileUpdate) IsEmpty() bool {
	return p.DisplayName == nil && p.Username == nil && p.Bio == nil &&
		p.PhotoURL == nil && p.PushToken == nil
}
