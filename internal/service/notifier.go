package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/sandeepkv93/session-guard/internal/observability"
)

// LogSecurityNotifier writes notifications to the log stream only.
type LogSecurityNotifier struct{}

func (LogSecurityNotifier) NotifyBlockedAccount(ctx context.Context, userID uint) error {
	slog.WarnContext(ctx, "security notification", "kind", "account_blocked", "user_id", userID)
	observability.RecordSecurityNotification(ctx, "account_blocked", "logged")
	return nil
}

func (LogSecurityNotifier) NotifyReuseDetected(ctx context.Context, userID uint, alsoNotifyUser bool) error {
	slog.WarnContext(ctx, "security notification", "kind", "reuse_detected", "user_id", userID, "notify_user", alsoNotifyUser)
	observability.RecordSecurityNotification(ctx, "reuse_detected", "logged")
	return nil
}

// MultiSecurityNotifier fans a notification out to every notifier and joins
// their errors.
type MultiSecurityNotifier []SecurityNotifier

func (m MultiSecurityNotifier) NotifyBlockedAccount(ctx context.Context, userID uint) error {
	var errs []error
	for _, n := range m {
		errs = append(errs, n.NotifyBlockedAccount(ctx, userID))
	}
	return errors.Join(errs...)
}

func (m MultiSecurityNotifier) NotifyReuseDetected(ctx context.Context, userID uint, alsoNotifyUser bool) error {
	var errs []error
	for _, n := range m {
		errs = append(errs, n.NotifyReuseDetected(ctx, userID, alsoNotifyUser))
	}
	return errors.Join(errs...)
}
