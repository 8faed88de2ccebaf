// Package events publishes domain events to NATS for out-of-process
// consumers such as the mailer.
package events

import (
	"time"

	"battletrails/logging"
	"battletrails/metrics"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

const (
	SubjectPasswordReset = "auth.password_reset"
	SubjectUserSignedUp  = "auth.signed_up"
	SubjectPostCreated   = "post.created"
	SubjectPostDeleted   = "post.deleted"
	SubjectPostLiked     = "post.liked"
)

type PasswordReset struct {
	Email     string `json:"email"`
	Name      string `json:"name"`
	ResetURL  string `json:"resetUrl"`
	ExpiresAt int64  `json:"expiresAt"`
}

type UserSignedUp struct {
	UserID   string `json:"userId"`
	Email    string `json:"email"`
	Provider string `json:"provider"`
}

type PostEvent struct {
	PostID string `json:"postId"`
	UserID string `json:"userId"`
	Title  string `json:"title,omitempty"`
}

type conn interface {
	Publish(subject string, data []byte) error
}

type Publisher struct {
	conn   conn
	prefix string
	log    zerolog.Logger
}

// Connect dials NATS. An empty url yields a publisher that drops events.
func Connect(url, prefix string) (*Publisher, error) {
	p := &Publisher{prefix: prefix, log: logging.WithComponent("events")}
	if url == "" {
		p.log.Info().Msg("NATS_URL not set, domain events are disabled")
		return p, nil
	}

	nc, err := nats.Connect(url,
		nats.Name("battletrails"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				p.log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			p.log.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, err
	}
	p.conn = nc
	return p, nil
}

func (p *Publisher) subject(s string) string {
	if p.prefix == "" {
		return s
	}
	return p.prefix + "." + s
}

// Publish sends v as JSON. Failures are logged, never returned.
func (p *Publisher) Publish(subject string, v any) {
	if p == nil || p.conn == nil {
		return
	}
	subject = p.subject(subject)

	data, err := json.Marshal(v)
	if err != nil {
		p.log.Error().Err(err).Str("subject", subject).Msg("failed to encode event")
		return
	}

	err = p.conn.Publish(subject, data)
	metrics.RecordEventPublished(subject, err)
	if err != nil {
		p.log.Error().Err(err).Str("subject", subject).Msg("failed to publish event")
	}
}

// Close flushes pending messages and closes the connection.
func (p *Publisher) Close() {
	if nc, ok := p.conn.(*nats.Conn); ok {
		if err := nc.Drain(); err != nil {
			nc.Close()
		}
	}
}
