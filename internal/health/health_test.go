package health

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sandeepkv93/session-guard/internal/repository"
	"gorm.io/gorm/logger"
)

func TestProbeRunnerAggregatesResults(t *testing.T) {
	runner := NewProbeRunner(50*time.Millisecond,
		NewPingChecker("ok", func(context.Context) error { return nil }),
		NewPingChecker("down", func(context.Context) error { return errors.New("connection refused") }),
		NewPingChecker("slow", func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}),
	)

	ready, results := runner.Ready(context.Background())
	if ready {
		t.Fatal("expected runner to report unready")
	}
	if len(results) != 3 || !results[0].Healthy || results[1].Healthy || results[2].Healthy {
		t.Fatalf("unexpected results: %+v", results)
	}
	if results[1].Error != "connection refused" || results[2].Error == "" {
		t.Fatalf("expected errors to be reported, got %+v", results)
	}
}

func TestProbeRunnerWithoutCheckersIsReady(t *testing.T) {
	ready, results := NewProbeRunner(0).Ready(context.Background())
	if !ready || len(results) != 0 {
		t.Fatalf("expected ready with no results, got %v %+v", ready, results)
	}
}

func TestDBAndRedisCheckers(t *testing.T) {
	db, err := repository.Open("sqlite", filepath.Join(t.TempDir(), "health.db"), logger.Silent)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	runner := NewProbeRunner(time.Second, NewDBChecker(db), NewRedisChecker(client))
	if ready, results := runner.Ready(context.Background()); !ready {
		t.Fatalf("expected ready, got %+v", results)
	}

	server.Close()
	ready, results := runner.Ready(context.Background())
	if ready || results[1].Name != "redis" || results[1].Healthy {
		t.Fatalf("expected redis check to fail, got %+v", results)
	}
}
