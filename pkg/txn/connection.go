// Package txn implements the connection/transaction provider
// collaborator named in spec §6: supplies a connection, and opens a
// transaction at a chosen isolation level.
package txn

import (
	"context"
	"database/sql"

	"gorm.io/gorm"
)

// ConnectionFactory is the external collaborator the session opens its
// transaction through. Disposable reports whether the factory's
// connections should be closed by Dispose, or are pooled/shared and
// must be left open (e.g. a connection pool the caller owns).
type ConnectionFactory interface {
	CreateConnection(ctx context.Context) (*gorm.DB, error)
	Disposable() bool
}

// GormConnectionFactory is the default ConnectionFactory, grounded on
// the teacher's direct *gorm.DB wiring in
// pkg/infrastructure/unit_of_work/postgres_unit_of_work.go.
type GormConnectionFactory struct {
	db         *gorm.DB
	disposable bool
}

// NewGormConnectionFactory wraps an already-open *gorm.DB. disposable
// controls whether Session.Dispose closes the underlying *sql.DB —
// false for a shared/pooled handle the caller manages independently.
func NewGormConnectionFactory(db *gorm.DB, disposable bool) *GormConnectionFactory {
	return &GormConnectionFactory{db: db, disposable: disposable}
}

func (f *GormConnectionFactory) CreateConnection(ctx context.Context) (*gorm.DB, error) {
	return f.db.WithContext(ctx), nil
}

func (f *GormConnectionFactory) Disposable() bool {
	return f.disposable
}

// BeginTx opens a new transaction on conn at the given isolation level.
// A zero sql.IsolationLevel uses the driver's default.
func BeginTx(conn *gorm.DB, level sql.IsolationLevel) (*gorm.DB, error) {
	tx := conn.Begin(&sql.TxOptions{Isolation: level})
	if tx.Error != nil {
		return nil, tx.Error
	}
	return tx, nil
}

// CloseConnection closes the *sql.DB backing conn, for disposable
// factories.
func CloseConnection(conn *gorm.DB) error {
	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
