package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm/logger"

	"github.com/sandeepkv93/session-guard/internal/domain"
	"github.com/sandeepkv93/session-guard/internal/repository"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func setTestEnv(t *testing.T) string {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "guard.db")
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DATABASE_URL", dsn)
	t.Setenv("JWT_ACCESS_SECRET", strings.Repeat("s", 32))
	t.Setenv("REFRESH_TOKEN_PEPPER", strings.Repeat("p", 16))
	t.Setenv("BCRYPT_COST", "4")
	t.Setenv("APP_ENV", "test")
	return dsn
}

func TestHashPasswordPrintsBcryptHash(t *testing.T) {
	out, err := execute(t, "hunter2\n", "hash-password", "--cost", "4")
	if err != nil {
		t.Fatalf("hash-password: %v", err)
	}
	hash := strings.TrimSpace(out)
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("hunter2")); err != nil {
		t.Fatalf("hash does not verify: %v", err)
	}
}

func TestHashPasswordRejectsEmptyInput(t *testing.T) {
	if _, err := execute(t, "", "hash-password"); err == nil {
		t.Fatal("expected error for empty password")
	}
}

func TestMigrateThenCreateUser(t *testing.T) {
	dsn := setTestEnv(t)

	if _, err := execute(t, "", "migrate"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	out, err := execute(t, "correct horse\n", "create-user", "--org", "acme", "--username", "alice", "--role", "admin")
	if err != nil {
		t.Fatalf("create-user: %v", err)
	}
	if !strings.Contains(out, "created user alice") {
		t.Fatalf("unexpected output %q", out)
	}

	db, err := repository.Open("sqlite", dsn, logger.Silent)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	org, err := repository.NewOrganisationRepository(db).FindByCode(context.Background(), "acme")
	if err != nil {
		t.Fatalf("find org: %v", err)
	}
	u, err := repository.NewUserRepository(db).FindByOrganisationAndUsername(context.Background(), org.ID, "alice")
	if err != nil {
		t.Fatalf("find user: %v", err)
	}
	if u.Role != domain.RoleAdmin || !u.IsActive {
		t.Fatalf("unexpected user %+v", u)
	}
}

func TestCreateUserRejectsUnknownRole(t *testing.T) {
	setTestEnv(t)
	_, err := execute(t, "pw\n", "create-user", "--org", "acme", "--username", "bob", "--role", "owner")
	if err == nil || !strings.Contains(err.Error(), "unknown role") {
		t.Fatalf("expected unknown role error, got %v", err)
	}
}
