// internal/database/user_repository.go
package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"whisper-link/internal/models"
	"whisper-link/internal/utils"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// UserDocument represents the MongoDB schema for a user
type UserDocument struct {
	ID             string    `bson:"_id"`
	DisplayName    string    `bson:"displayName"`
	Username       string    `bson:"username,omitempty"`
	Email          string    `bson:"email,omitempty"`
	PhoneNumber    string    `bson:"phoneNumber,omitempty"`
	Bio            string    `bson:"bio"`
	PhotoURL       string    `bson:"photoURL"`
	PushToken      string    `bson:"pushToken,omitempty"`
	HashedPassword string    `bson:"hashedPassword,omitempty"`
	CreatedAt      time.Time `bson:"createdAt"`
}

func toUserDocument(user *models.User) UserDocument {
	return UserDocument{
		ID:             user.ID.String(),
		DisplayName:    user.DisplayName,
		Username:       user.Username,
		Email:          user.Email,
		PhoneNumber:    user.PhoneNumber,
		Bio:            user.Bio,
		PhotoURL:       user.PhotoURL,
		PushToken:      user.PushToken,
		HashedPassword: user.HashedPassword,
		CreatedAt:      user.CreatedAt,
	}
}

func (doc UserDocument) toModel() (*models.User, error) {
	id, err := uuid.Parse(doc.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid user ID in database: %w", err)
	}
	return &models.User{
		ID:             id,
		DisplayName:    doc.DisplayName,
		Username:       doc.Username,
		Email:          doc.Email,
		PhoneNumber:    doc.PhoneNumber,
		Bio:            doc.Bio,
		PhotoURL:       doc.PhotoURL,
		PushToken:      doc.PushToken,
		HashedPassword: doc.HashedPassword,
		CreatedAt:      doc.CreatedAt,
	}, nil
}

// CreateUser inserts a new user document
func (m *MongoDB) CreateUser(ctx context.Context, user *models.User) error {
	_, err := m.Users.InsertOne(ctx, toUserDocument(user))
	if mongo.IsDuplicateKeyError(err) {
		return utils.NewAppError(utils.ErrUserAlreadyExists, "Username, email or phone already registered", err)
	}
	if err != nil {
		return utils.NewAppError(utils.ErrDatabase, "Failed to save user", err)
	}
	return nil
}

func (m *MongoDB) findUser(ctx context.Context, filter bson.M) (*models.User, error) {
	var doc UserDocument
	err := m.Users.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, utils.NewAppError(utils.ErrUserNotFound, "User not found", err)
	}
	if err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "Failed to fetch user", err)
	}
	return doc.toModel()
}

// GetUser retrieves a user from MongoDB by their ID
func (m *MongoDB) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return m.findUser(ctx, bson.M{"_id": id.String()})
}

// GetUserByEmail retrieves a user from MongoDB by their email address
func (m *MongoDB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return m.findUser(ctx, bson.M{"email": email})
}

func (m *MongoDB) GetUserByPhone(ctx context.Context, phone string) (*models.User, error) {
	return m.findUser(ctx, bson.M{"phoneNumber": phone})
}

// ListUsers returns every user sorted by id for stable output
func (m *MongoDB) ListUsers(ctx context.Context) ([]*models.User, error) {
	cursor, err := m.Users.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "Failed to list users", err)
	}
	defer cursor.Close(ctx)

	var users []*models.User
	for cursor.Next(ctx) {
		var doc UserDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode user: %w", err)
		}
		user, err := doc.toModel()
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, cursor.Err()
}

// UpdateUser sets the changed profile fields
func (m *MongoDB) UpdateUser(ctx context.Context, id uuid.UUID, update models.ProfileUpdate) error {
	set := bson.M{}
	if update.DisplayName != nil {
		set["displayName"] = *update.DisplayName
	}
	if update.Username != nil {
		set["username"] = *update.Username
	}
	if update.Bio != nil {
		set["bio"] = *update.Bio
	}
	if update.PhotoURL != nil {
		set["photoURL"] = *update.PhotoURL
	}
	if update.PushToken != nil {
		set["pushToken"] = *update.PushToken
	}
	if len(set) == 0 {
		return nil
	}

	result, err := m.Users.UpdateOne(ctx, bson.M{"_id": id.String()}, bson.M{"$set": set})
	if mongo.IsDuplicateKeyError(err) {
		return utils.NewAppError(utils.ErrDuplicate, "Username is already taken", err)
	}
	if err != nil {
		return utils.NewAppError(utils.ErrDatabase, "Failed to update user", err)
	}
	if result.MatchedCount == 0 {
		return utils.NewUserNotFoundError(id.String())
	}
	return nil
}

// ExistingUsernames reports which candidates already belong to a user
func (m *MongoDB) ExistingUsernames(ctx context.Context, candidates []string) (map[string]bool, error) {
	taken := make(map[string]bool)
	if len(candidates) == 0 {
		return taken, nil
	}

	cursor, err := m.Users.Find(ctx,
		bson.M{"username": bson.M{"$in": candidates}},
		options.Find().SetProjection(bson.M{"username": 1}),
	)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "Failed to look up usernames", err)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var doc struct {
			Username string `bson:"username"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode username: %w", err)
		}
		taken[doc.Username] = true
	}
	return taken, cursor.Err()
}
