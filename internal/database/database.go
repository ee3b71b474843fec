// internal/database/database.go
package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoDB struct {
	Client        *mongo.Client
	Users         *mongo.Collection
	Conversations *mongo.Collection
	Messages      *mongo.Collection
	Avatars       *gridfs.Bucket
}

var _ Store = (*MongoDB)(nil)

func NewMongoDB(ctx context.Context, uri, dbName string, clientOpts ...*options.ClientOptions) (*MongoDB, error) {
	serverAPI := options.ServerAPI(options.ServerAPIVersion1)
	opts := append([]*options.ClientOptions{options.Client().ApplyURI(uri).SetServerAPIOptions(serverAPI)}, clientOpts...)

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	m, err := openMongoDB(ctx, client, dbName)
	if err != nil {
		if derr := client.Disconnect(context.Background()); derr != nil {
			log.Printf("MongoDB: disconnect after failed setup: %v", derr)
		}
		return nil, err
	}
	return m, nil
}

// openMongoDB verifies the connection and prepares collections, the avatar
// bucket and indexes. The caller owns client and disconnects it on error.
func openMongoDB(ctx context.Context, client *mongo.Client, dbName string) (*MongoDB, error) {
	// Ping the database to verify connection
	if err := client.Database("admin").RunCommand(ctx, bson.D{{Key: "ping", Value: 1}}).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	log.Println("Successfully connected to MongoDB!")

	db := client.Database(dbName)
	bucket, err := gridfs.NewBucket(db, options.GridFSBucket().SetName("avatars"))
	if err != nil {
		return nil, fmt.Errorf("failed to open avatar bucket: %w", err)
	}

	m := &MongoDB{
		Client:        client,
		Users:         db.Collection("users"),
		Conversations: db.Collection("conversations"),
		Messages:      db.Collection("messages"),
		Avatars:       bucket,
	}
	if err := m.EnsureIndexes(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

// EnsureIndexes creates the uniqueness and ordering indexes the store relies on.
func (m *MongoDB) EnsureIndexes(ctx context.Context) error {
	nonEmpty := func(field string) bson.M {
		return bson.M{field: bson.M{"$type": "string", "$gt": ""}}
	}

	_, err := m.Users.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "username", Value: 1}},
			Options: options.Index().SetUnique(true).SetPartialFilterExpression(nonEmpty("username")),
		},
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true).SetPartialFilterExpression(nonEmpty("email")),
		},
		{
			Keys:    bson.D{{Key: "phoneNumber", Value: 1}},
			Options: options.Index().SetUnique(true).SetPartialFilterExpression(nonEmpty("phoneNumber")),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create user indexes: %w", err)
	}

	_, err = m.Conversations.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "users", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create conversation indexes: %w", err)
	}

	_, err = m.Messages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "conversationId", Value: 1}, {Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create message indexes: %w", err)
	}
	return nil
}

func (m *MongoDB) Close(ctx context.Context) error {
	log.Println("Closing MongoDB connection...")
	return m.Client.Disconnect(ctx)
}
