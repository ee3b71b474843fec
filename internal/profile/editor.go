// Package profile edits the signed-in user's own profile document.
package profile

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"regexp"
	"strings"

	"whisper-link/internal/database"
	"whisper-link/internal/models"
	"whisper-link/internal/pubsub"
	"whisper-link/internal/utils"

	"github.com/google/uuid"
)

// MaxAvatarSize is the largest accepted profile picture upload.
const MaxAvatarSize = 5 << 20

var usernamePattern = regexp.MustCompile(`^[a-z0-9_]{3,30}$`)

// ValidateUsername normalizes a username and checks its shape. Uniqueness is
// checked by the store.
func ValidateUsername(username string) (string, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" {
		return "", utils.NewInvalidInputError("Username cannot be empty")
	}
	if !usernamePattern.MatchString(username) {
		return "", utils.NewInvalidInputError("Username must be 3-30 characters of letters, numbers and underscores")
	}
	return username, nil
}

// Update carries the fields the user edited; nil means unchanged.
type Update struct {
	DisplayName *string `json:"displayName,omitempty"`
	Username    *string `json:"username,omitempty"`
	Bio         *string `json:"bio,omitempty"`
}

type Editor struct {
	store         database.Store
	bus           pubsub.Bus
	publicBaseURL string
}

// NewEditor builds an Editor. Avatar URLs are publicBaseURL + "/avatars/{id}".
func NewEditor(store database.Store, bus pubsub.Bus, publicBaseURL string) *Editor {
	return &Editor{
		store:         store,
		bus:           bus,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
	}
}

// Update writes only the fields that differ from the stored profile and
// returns the resulting document.
func (e *Editor) Update(ctx context.Context, userID uuid.UUID, upd Update) (*models.User, error) {
	current, err := e.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	var changes models.ProfileUpdate
	if upd.DisplayName != nil {
		name := strings.TrimSpace(*upd.DisplayName)
		if name != current.DisplayName {
			changes.DisplayName = &name
		}
	}
	if upd.Username != nil {
		username, err := ValidateUsername(*upd.Username)
		if err != nil {
			return nil, err
		}
		if username != current.Username {
			taken, err := e.store.ExistingUsernames(ctx, []string{username})
			if err != nil {
				return nil, err
			}
			if taken[username] {
				return nil, utils.NewAppError(utils.ErrDuplicate, "Username is already taken", nil)
			}
			changes.Username = &username
		}
	}
	if upd.Bio != nil && *upd.Bio != current.Bio {
		bio := *upd.Bio
		changes.Bio = &bio
	}

	if changes.IsEmpty() {
		return current, nil
	}
	if err := e.store.UpdateUser(ctx, userID, changes); err != nil {
		return nil, err
	}
	e.announce(ctx, userID)
	return e.store.GetUser(ctx, userID)
}

// UploadAvatar stores an image and points the profile's photoURL at it.
func (e *Editor) UploadAvatar(ctx context.Context, userID uuid.UUID, filename, contentType string, r io.Reader) (*models.User, error) {
	if !strings.HasPrefix(contentType, "image/") {
		return nil, utils.NewInvalidInputError("Avatar must be an image")
	}

	// Read one byte past the limit to detect oversized uploads.
	data, err := io.ReadAll(io.LimitReader(r, MaxAvatarSize+1))
	if err != nil {
		return nil, utils.NewAppError(utils.ErrInvalidInput, "Failed to read avatar", err)
	}
	if len(data) > MaxAvatarSize {
		return nil, utils.NewInvalidInputError(fmt.Sprintf("Avatar must be at most %d MB", MaxAvatarSize>>20))
	}
	if len(data) == 0 {
		return nil, utils.NewInvalidInputError("Avatar is empty")
	}

	if _, err := e.store.GetUser(ctx, userID); err != nil {
		return nil, err
	}

	id, err := e.store.PutAvatar(ctx, userID, filename, contentType, bytes.NewReader(data))
	if err != nil {
		log.Printf("ProfileEditor: avatar upload for %s failed: %v", userID, err)
		return nil, err
	}

	url := e.publicBaseURL + "/avatars/" + id
	if err := e.store.UpdateUser(ctx, userID, models.ProfileUpdate{PhotoURL: &url}); err != nil {
		return nil, err
	}
	e.announce(ctx, userID)
	return e.store.GetUser(ctx, userID)
}

// SetPushToken records the device token push notifications are sent to.
func (e *Editor) SetPushToken(ctx context.Context, userID uuid.UUID, token string) error {
	token = strings.TrimSpace(token)
	return e.store.UpdateUser(ctx, userID, models.ProfileUpdate{PushToken: &token})
}

func (e *Editor) announce(ctx context.Context, userID uuid.UUID) {
	event := pubsub.Event{Kind: pubsub.KindUserUpdated, ID: userID.String()}
	for _, topic := range []string{pubsub.UserTopic(userID.String()), pubsub.UsersTopic} {
		if err := e.bus.Publish(ctx, topic, event); err != nil {
			log.Printf("ProfileEditor: publish on %s failed: %v", topic, err)
		}
	}
}
