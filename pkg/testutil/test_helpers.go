// Package testutil centralizes the fixtures shared by the session
// package's tests: a single in-memory SQLite database setup plus the
// Person/PersonByName pair used throughout the scenario tests,
// mirroring the SDK's own SetupTestDB/TestEntity convention of keeping
// one canonical fixture instead of duplicating setup per test file.
package testutil

import (
	"testing"

	"github.com/ai-shiraz-teams/go-docsession/pkg/command"
	"github.com/ai-shiraz-teams/go-docsession/pkg/storage"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Person is the fixture aggregate used across session tests: a document
// with a name, mapped both directly (PersonByID, a pure MapIndex) and
// through a reduce (PersonByName, grouping same-named people).
type Person struct {
	Id   uint
	Name string
	Age  int
}

// PersonByID is a pure MapIndex row: one row per Person document,
// carrying the document id as a plain column (spec §3).
type PersonByID struct {
	ID         uint `gorm:"primaryKey"`
	DocumentID uint `gorm:"column:document_id"`
	Name       string
}

func (PersonByID) TableName() string { return "person_by_id" }

// PersonByName is a reduce-index row: one row per distinct name, with
// Count folding the number of Person documents sharing that name.
type PersonByName struct {
	ID    uint `gorm:"primaryKey"`
	Name  string
	Count int
}

func (PersonByName) TableName() string { return "person_by_name" }

// SetupTestDB creates a fresh in-memory SQLite database and migrates
// every table the session engine itself owns plus the fixture index
// tables, the way the SDK's SetupTestDB centralizes AutoMigrate calls
// for its own TestEntity.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	if err := db.AutoMigrate(
		&storage.Document{},
		&storage.Blob{},
		&command.IndexLink{},
		&PersonByID{},
		&PersonByName{},
	); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	return db
}
