package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/sandeepkv93/session-guard/internal/domain"
)

func seedUser(t *testing.T, repo UserRepository, orgID uint, username string) *domain.User {
	t.Helper()
	u := &domain.User{OrganisationID: orgID, Username: username, PasswordHash: "x", Role: domain.RoleMember, IsActive: true}
	if err := repo.Create(context.Background(), u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func TestRecordFailedLoginLocksAtThreshold(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(newTestDB(t))
	u := seedUser(t, repo, 1, "alice")

	for i := 1; i < 3; i++ {
		res, err := repo.RecordFailedLogin(ctx, u.ID, 3)
		if err != nil {
			t.Fatalf("record failure %d: %v", i, err)
		}
		if res.Attempts != i || res.Locked {
			t.Fatalf("unexpected result after %d failures: %+v", i, res)
		}
	}
	res, err := repo.RecordFailedLogin(ctx, u.ID, 3)
	if err != nil {
		t.Fatalf("record final failure: %v", err)
	}
	if !res.Locked || res.Attempts != 3 {
		t.Fatalf("expected lock at threshold, got %+v", res)
	}
	got, err := repo.FindByIDIncludingDeleted(ctx, u.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.IsActive {
		t.Fatal("expected user to be deactivated")
	}

	if err := repo.ResetFailedLogins(ctx, u.ID); err != nil {
		t.Fatalf("reset: %v", err)
	}
	got, _ = repo.FindByIDIncludingDeleted(ctx, u.ID)
	if got.FailedLoginAttempts != 0 {
		t.Fatalf("expected counter reset, got %d", got.FailedLoginAttempts)
	}
}

func TestFindUserHonoursSoftDelete(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewUserRepository(db)
	u := seedUser(t, repo, 1, "Bob")

	found, err := repo.FindByOrganisationAndUsername(ctx, 1, "  bob ")
	if err != nil || found.ID != u.ID {
		t.Fatalf("expected case-insensitive lookup, got %v %v", found, err)
	}
	if _, err := repo.FindByOrganisationAndUsername(ctx, 2, "bob"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected org scoping, got %v", err)
	}

	if err := db.Delete(&domain.User{}, u.ID).Error; err != nil {
		t.Fatalf("soft delete: %v", err)
	}
	if _, err := repo.FindByOrganisationAndUsername(ctx, 1, "bob"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected deleted user hidden from login lookup, got %v", err)
	}
	deleted, err := repo.FindByIDIncludingDeleted(ctx, u.ID)
	if err != nil {
		t.Fatalf("unscoped find: %v", err)
	}
	if !deleted.DeletedAt.Valid {
		t.Fatal("expected deleted marker to be visible")
	}
}
