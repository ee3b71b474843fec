package database

import (
	"context"
	"errors"
	"io"

	"whisper-link/internal/utils"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// PutAvatar streams an image into the avatars GridFS bucket and returns its id
func (m *MongoDB) PutAvatar(ctx context.Context, userID uuid.UUID, filename, contentType string, r io.Reader) (string, error) {
	opts := options.GridFSUpload().SetMetadata(bson.M{
		"userId":      userID.String(),
		"contentType": contentType,
	})
	fileID, err := m.Avatars.UploadFromStream(filename, r, opts)
	if err != nil {
		return "", utils.NewAppError(utils.ErrDatabase, "Failed to store avatar", err)
	}
	return fileID.Hex(), nil
}

// OpenAvatar returns a reader over a stored avatar and its content type
func (m *MongoDB) OpenAvatar(ctx context.Context, id string) (io.ReadCloser, string, error) {
	fileID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, "", utils.NewAppError(utils.ErrNotFound, "Avatar not found", err)
	}

	stream, err := m.Avatars.OpenDownloadStream(fileID)
	if errors.Is(err, gridfs.ErrFileNotFound) {
		return nil, "", utils.NewAppError(utils.ErrNotFound, "Avatar not found", err)
	}
	if err != nil {
		return nil, "", utils.NewAppError(utils.ErrDatabase, "Failed to open avatar", err)
	}

	contentType := "application/octet-stream"
	if meta := stream.GetFile().Metadata; meta != nil {
		if ct, ok := meta.Lookup("contentType").StringValueOK(); ok && ct != "" {
			contentType = ct
		}
	}
	return stream, contentType, nil
}
