// Package push delivers web push notifications to subscribed browsers.
package push

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"battletrails/logging"
	"battletrails/metrics"
	"battletrails/models"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type Store interface {
	Subscriptions(ctx context.Context, userID primitive.ObjectID) ([]models.PushSubscription, error)
	DeleteSubscription(ctx context.Context, endpoint string) error
}

type Notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Icon  string `json:"icon,omitempty"`
	URL   string `json:"url,omitempty"`
}

type payload struct {
	Title string         `json:"title"`
	Body  string         `json:"body"`
	Icon  string         `json:"icon,omitempty"`
	Data  map[string]any `json:"data"`
}

type sendFunc func(ctx context.Context, msg []byte, sub *webpush.Subscription, opts *webpush.Options) (*http.Response, error)

type Notifier struct {
	store      Store
	publicKey  string
	privateKey string
	subscriber string
	timeout    time.Duration
	send       sendFunc
	log        zerolog.Logger
}

// NewNotifier returns a notifier signing with the given VAPID key pair.
// When either key is missing a throwaway pair is generated, which is only
// useful in development because browsers subscribe against the public key.
func NewNotifier(store Store, publicKey, privateKey, subscriber string) (*Notifier, error) {
	n := &Notifier{
		store:      store,
		publicKey:  publicKey,
		privateKey: privateKey,
		subscriber: subscriber,
		timeout:    5 * time.Second,
		send:       webpush.SendNotificationWithContext,
		log:        logging.WithComponent("push"),
	}
	if publicKey == "" || privateKey == "" {
		priv, pub, err := webpush.GenerateVAPIDKeys()
		if err != nil {
			return nil, fmt.Errorf("generate VAPID keys: %w", err)
		}
		n.publicKey, n.privateKey = pub, priv
		n.log.Warn().Str("public_key", pub).Msg("VAPID keys not configured, generated a temporary pair")
	}
	return n, nil
}

func (n *Notifier) PublicKey() string { return n.publicKey }

// Notify sends in the background; failures are only logged.
func (n *Notifier) Notify(userID primitive.ObjectID, note Notification) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				n.log.Error().Interface("panic", r).Msg("push notification panicked")
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		defer cancel()
		n.deliver(ctx, userID, note)
	}()
}

// deliver sends note to every subscription of userID and returns how many
// deliveries succeeded.
func (n *Notifier) deliver(ctx context.Context, userID primitive.ObjectID, note Notification) int {
	subs, err := n.store.Subscriptions(ctx, userID)
	if err != nil {
		n.log.Error().Err(err).Str("user_id", userID.Hex()).Msg("failed to load push subscriptions")
		return 0
	}
	if len(subs) == 0 {
		return 0
	}

	msg, err := json.Marshal(payload{
		Title: note.Title,
		Body:  note.Body,
		Icon:  note.Icon,
		Data:  map[string]any{"url": note.URL, "timestamp": time.Now().Unix()},
	})
	if err != nil {
		n.log.Error().Err(err).Msg("failed to encode push payload")
		return 0
	}

	sent := 0
	for _, s := range subs {
		resp, err := n.send(ctx, msg, &s.Sub, &webpush.Options{
			Subscriber:      n.subscriber,
			VAPIDPublicKey:  n.publicKey,
			VAPIDPrivateKey: n.privateKey,
			TTL:             30,
		})
		if err == nil && resp != nil && resp.StatusCode >= 400 {
			err = fmt.Errorf("push service returned %d", resp.StatusCode)
		}
		metrics.RecordPush(err)

		if resp != nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound {
				if derr := n.store.DeleteSubscription(ctx, s.Sub.Endpoint); derr != nil {
					n.log.Warn().Err(derr).Msg("failed to delete expired subscription")
				}
			}
		}
		if err != nil {
			n.log.Warn().Err(err).Str("user_id", userID.Hex()).Msg("push delivery failed")
			continue
		}
		sent++
	}
	return sent
}
