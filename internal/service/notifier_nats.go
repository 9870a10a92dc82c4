package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sandeepkv93/session-guard/internal/observability"
)

const securityStreamName = "AUTH_SECURITY"

// EventPublisher publishes a JSON document to a subject.
type EventPublisher interface {
	Publish(ctx context.Context, subject string, v any) error
}

// JetStreamPublisher wraps a NATS JetStream connection.
type JetStreamPublisher struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// NewJetStreamPublisher connects to url and makes sure a stream captures every
// subject under subjectPrefix.
func NewJetStreamPublisher(url, subjectPrefix string, opts ...nats.Option) (*JetStreamPublisher, error) {
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, err
	}
	_, err = js.AddStream(&nats.StreamConfig{
		Name:     securityStreamName,
		Subjects: []string{strings.TrimSuffix(subjectPrefix, ".") + ".>"},
		MaxAge:   7 * 24 * time.Hour,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		nc.Close()
		return nil, err
	}
	return &JetStreamPublisher{conn: nc, js: js}, nil
}

func (p *JetStreamPublisher) Publish(ctx context.Context, subject string, v any) error {
	if p == nil {
		return errors.New("nil publisher")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = p.js.Publish(subject, data, nats.Context(ctx))
	return err
}

func (p *JetStreamPublisher) Close() {
	if p == nil {
		return
	}
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
}

type SecurityEvent struct {
	Kind             string    `json:"kind"`
	UserID           uint      `json:"user_id"`
	NotifyUser       bool      `json:"notify_user"`
	NotifyDevelopers bool      `json:"notify_developers"`
	OccurredAt       time.Time `json:"occurred_at"`
}

// NATSSecurityNotifier publishes security events for the mail and paging
// workers that consume them.
type NATSSecurityNotifier struct {
	publisher EventPublisher
	prefix    string
	now       func() time.Time
}

func NewNATSSecurityNotifier(publisher EventPublisher, subjectPrefix string) *NATSSecurityNotifier {
	if subjectPrefix == "" {
		subjectPrefix = "auth.security"
	}
	return &NATSSecurityNotifier{publisher: publisher, prefix: strings.TrimSuffix(subjectPrefix, "."), now: time.Now}
}

func (n *NATSSecurityNotifier) NotifyBlockedAccount(ctx context.Context, userID uint) error {
	return n.publish(ctx, "account_blocked", SecurityEvent{UserID: userID, NotifyUser: true, NotifyDevelopers: true})
}

func (n *NATSSecurityNotifier) NotifyReuseDetected(ctx context.Context, userID uint, alsoNotifyUser bool) error {
	return n.publish(ctx, "reuse_detected", SecurityEvent{UserID: userID, NotifyUser: alsoNotifyUser, NotifyDevelopers: true})
}

func (n *NATSSecurityNotifier) publish(ctx context.Context, kind string, ev SecurityEvent) error {
	ev.Kind = kind
	ev.OccurredAt = n.now().UTC()
	if err := n.publisher.Publish(ctx, n.prefix+"."+kind, ev); err != nil {
		observability.RecordSecurityNotification(ctx, kind, "error")
		return err
	}
	observability.RecordSecurityNotification(ctx, kind, "published")
	return nil
}
