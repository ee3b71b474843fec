// Package notify delivers best-effort push notifications to a device token.
package notify

import (
	"context"
	"fmt"
	"log"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
)

// Notifier sends one notification to one device. An empty token is a no-op.
type Notifier interface {
	Notify(ctx context.Context, token, title, body string) error
}

// messagingClient is the part of the FCM client the notifier needs.
type messagingClient interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// FCMNotifier sends through Firebase Cloud Messaging.
type FCMNotifier struct {
	client messagingClient
}

// NewFCMNotifier builds a notifier on the messaging client of app.
func NewFCMNotifier(ctx context.Context, app *firebase.App) (*FCMNotifier, error) {
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize messaging client: %w", err)
	}
	return &FCMNotifier{client: client}, nil
}

func (n *FCMNotifier) Notify(ctx context.Context, token, title, body string) error {
	if token == "" {
		return nil
	}
	id, err := n.client.Send(ctx, &messaging.Message{
		Token: token,
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to send push notification: %w", err)
	}
	log.Printf("Notify: delivered push %s", id)
	return nil
}

// LogNotifier only logs; used when no push credentials are configured.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, token, title, body string) error {
	if token == "" {
		return nil
	}
	log.Printf("Notify: push disabled, would send %q to device", title)
	return nil
}

// New picks the FCM notifier when a Firebase app is configured and falls back to logging.
func New(ctx context.Context, app *firebase.App) Notifier {
	if app == nil {
		log.Printf("Notify: FIREBASE_CREDENTIALS not set, push notifications are logged only")
		return LogNotifier{}
	}
	n, err := NewFCMNotifier(ctx, app)
	if err != nil {
		log.Printf("Notify: %v; push notifications are logged only", err)
		return LogNotifier{}
	}
	return n
}
