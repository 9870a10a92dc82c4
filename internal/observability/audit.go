package observability

import (
	"context"
	"log/slog"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// Audit mirrors a security audit event into the structured log stream.
func Audit(ctx context.Context, level slog.Level, event string, attrs ...any) {
	base := []any{
		"event", event,
		"request_id", chimiddleware.GetReqID(ctx),
	}
	base = append(base, attrs...)
	slog.Log(ctx, level, "audit", base...)
}
