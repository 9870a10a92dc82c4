package service

import (
	"context"
	"errors"
	"testing"
)

type recordedPublish struct {
	subject string
	event   SecurityEvent
}

type fakePublisher struct {
	published []recordedPublish
	err       error
}

func (p *fakePublisher) Publish(_ context.Context, subject string, v any) error {
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, recordedPublish{subject: subject, event: v.(SecurityEvent)})
	return nil
}

func TestNATSSecurityNotifierSubjects(t *testing.T) {
	ctx := context.Background()
	pub := &fakePublisher{}
	n := NewNATSSecurityNotifier(pub, "auth.security.")

	if err := n.NotifyBlockedAccount(ctx, 7); err != nil {
		t.Fatalf("blocked: %v", err)
	}
	if err := n.NotifyReuseDetected(ctx, 7, false); err != nil {
		t.Fatalf("reuse: %v", err)
	}
	if len(pub.published) != 2 {
		t.Fatalf("expected 2 publishes, got %d", len(pub.published))
	}
	if pub.published[0].subject != "auth.security.account_blocked" || !pub.published[0].event.NotifyUser {
		t.Fatalf("unexpected blocked event: %+v", pub.published[0])
	}
	reuse := pub.published[1]
	if reuse.subject != "auth.security.reuse_detected" || reuse.event.NotifyUser || !reuse.event.NotifyDevelopers {
		t.Fatalf("unexpected reuse event: %+v", reuse)
	}
}

func TestMultiSecurityNotifierJoinsErrors(t *testing.T) {
	failing := NewNATSSecurityNotifier(&fakePublisher{err: errors.New("nats down")}, "")
	m := MultiSecurityNotifier{LogSecurityNotifier{}, failing}
	if err := m.NotifyReuseDetected(context.Background(), 1, true); err == nil {
		t.Fatal("expected publisher error to surface")
	}
}
