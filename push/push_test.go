package push

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"battletrails/models"

	"github.com/SherClockHolmes/webpush-go"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type fakeStore struct {
	mu      sync.Mutex
	subs    []models.PushSubscription
	err     error
	deleted []string
}

func (f *fakeStore) Subscriptions(context.Context, primitive.ObjectID) ([]models.PushSubscription, error) {
	return f.subs, f.err
}

func (f *fakeStore) DeleteSubscription(_ context.Context, endpoint string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, endpoint)
	return nil
}

func response(code int) *http.Response {
	return &http.Response{StatusCode: code, Body: io.NopCloser(strings.NewReader(""))}
}

func newTestNotifier(t *testing.T, store Store, send sendFunc) *Notifier {
	t.Helper()
	n, err := NewNotifier(store, "", "", "mailto:test@example.com")
	if err != nil {
		t.Fatal(err)
	}
	n.send = send
	return n
}

func TestNewNotifierGeneratesKeys(t *testing.T) {
	t.Parallel()

	n := newTestNotifier(t, &fakeStore{}, nil)
	if n.PublicKey() == "" || n.privateKey == "" {
		t.Fatal("expected generated VAPID keys")
	}

	n, err := NewNotifier(&fakeStore{}, "pub", "priv", "")
	if err != nil {
		t.Fatal(err)
	}
	if n.PublicKey() != "pub" {
		t.Errorf("PublicKey() = %q, want configured key", n.PublicKey())
	}
}

func TestDeliver(t *testing.T) {
	t.Parallel()

	store := &fakeStore{subs: []models.PushSubscription{
		{Sub: webpush.Subscription{Endpoint: "https://push.example/ok"}},
		{Sub: webpush.Subscription{Endpoint: "https://push.example/gone"}},
		{Sub: webpush.Subscription{Endpoint: "https://push.example/err"}},
	}}

	var mu sync.Mutex
	var bodies []string
	n := newTestNotifier(t, store, func(_ context.Context, msg []byte, sub *webpush.Subscription, opts *webpush.Options) (*http.Response, error) {
		mu.Lock()
		bodies = append(bodies, string(msg))
		mu.Unlock()
		if opts.VAPIDPublicKey == "" || opts.VAPIDPrivateKey == "" {
			t.Error("VAPID keys not passed to sender")
		}
		switch {
		case strings.HasSuffix(sub.Endpoint, "gone"):
			return response(http.StatusGone), nil
		case strings.HasSuffix(sub.Endpoint, "err"):
			return nil, errors.New("dial tcp: timeout")
		}
		return response(http.StatusCreated), nil
	})

	sent := n.deliver(context.Background(), primitive.NewObjectID(), Notification{Title: "Nuevo me gusta", Body: "A Ana le gusta tu ruta"})
	if sent != 1 {
		t.Errorf("sent = %d, want 1", sent)
	}
	if len(store.deleted) != 1 || store.deleted[0] != "https://push.example/gone" {
		t.Errorf("deleted = %v", store.deleted)
	}
	if len(bodies) != 3 || !strings.Contains(bodies[0], `"title":"Nuevo me gusta"`) {
		t.Errorf("bodies = %v", bodies)
	}
}

func TestDeliverStoreError(t *testing.T) {
	t.Parallel()

	n := newTestNotifier(t, &fakeStore{err: errors.New("db down")}, func(context.Context, []byte, *webpush.Subscription, *webpush.Options) (*http.Response, error) {
		t.Error("send should not be called")
		return nil, nil
	})
	if sent := n.deliver(context.Background(), primitive.NewObjectID(), Notification{}); sent != 0 {
		t.Errorf("sent = %d, want 0", sent)
	}
}
