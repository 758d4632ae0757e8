package forms

import (
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testConfigJSON = `{"pages":[{"pageNumber":1,"fields":[{"id":"field_1","name":"email","label":"Email","type":"email","required":true}],"webhook":{"enabled":false,"url":"","method":"POST"},"customJS":""}]}`

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "forms.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Form{}); err != nil {
		t.Fatalf("failed to migrate forms schema: %v", err)
	}
	return db
}

// steppingClock advances one second per call so updated_at ordering is deterministic.
func steppingClock(start time.Time) func() time.Time {
	current := start
	return func() time.Time {
		current = current.Add(time.Second)
		return current
	}
}

func newTestService(t *testing.T, db *gorm.DB) *Service {
	t.Helper()
	service, err := NewService(ServiceConfig{
		Database: db,
		Clock:    steppingClock(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)),
		Logger:   zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to construct forms service: %v", err)
	}
	return service
}
