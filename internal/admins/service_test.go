package admins

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/formbuilder/internal/apperrors"
	"github.com/MarcoPoloResearchLab/formbuilder/internal/auth"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestService(t *testing.T, clock func() time.Time) (*Service, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "admins.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Admin{}); err != nil {
		t.Fatalf("failed to migrate admin schema: %v", err)
	}
	service, err := NewService(ServiceConfig{Database: db, Clock: clock})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return service, db
}

func TestResolveStripsProviderPrefix(t *testing.T) {
	service, db := newTestService(t, func() time.Time { return time.Unix(1, 0) })

	claims := auth.SessionClaims{
		UserID:          "google:12345",
		UserEmail:       "admin@example.com",
		UserDisplayName: "Example Admin",
	}
	admin, err := service.Resolve(context.Background(), claims)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if admin.Subject != "12345" {
		t.Fatalf("expected subject without provider prefix, got %q", admin.Subject)
	}

	// second call should hit cache and not create a duplicate record.
	if _, err := service.Resolve(context.Background(), claims); err != nil {
		t.Fatalf("second resolve failed: %v", err)
	}
	var count int64
	if err := db.Model(&Admin{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one admin row, got %d", count)
	}
}

func TestResolveRefreshesProfile(t *testing.T) {
	current := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	service, _ := newTestService(t, func() time.Time { return current })
	ctx := context.Background()

	claims := auth.SessionClaims{UserEmail: "old@example.com"}
	claims.Subject = "admin-1"
	if _, err := service.Resolve(ctx, claims); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	current = current.Add(2 * time.Hour)
	claims.UserEmail = "new@example.com"
	admin, err := service.Resolve(ctx, claims)
	if err != nil {
		t.Fatalf("second resolve failed: %v", err)
	}
	if admin.Email != "new@example.com" || !admin.LastSeenAt.Equal(current) {
		t.Fatalf("expected refreshed admin, got %#v", admin)
	}

	listed, err := service.List(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(listed) != 1 || listed[0].Email != "new@example.com" {
		t.Fatalf("unexpected admins %#v", listed)
	}
}

func TestResolveRejectsEmptyClaims(t *testing.T) {
	service, _ := newTestService(t, nil)
	_, err := service.Resolve(context.Background(), auth.SessionClaims{})
	if !apperrors.IsKind(err, apperrors.KindForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}
