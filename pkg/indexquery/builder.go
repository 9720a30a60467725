// Package indexquery adapts the SDK's identifier/FilterApplier pair
// (pkg/infrastructure/identifier, pkg/infrastructure/unit_of_work) into
// the spec's "query builder for fetching indexes" collaborator: it
// issues the two bind-parameterized statements the session needs
// directly (select the Document row by Id, select the current reduced
// row by group key) and offers a general Where-style entry point for
// ad-hoc queries against the session's live transaction.
package indexquery

import (
	"context"
	"errors"
	"fmt"

	"github.com/ai-shiraz-teams/go-docsession/pkg/storage"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// namingStrategy mirrors GORM's default field-to-column conversion, so a
// descriptor's GroupKey (a Go struct field name, also used for reflection
// in the pipeline's groupByKey) resolves to the same column GORM itself
// generated for that field.
var namingStrategy = schema.NamingStrategy{}

// Builder issues queries against one live *gorm.DB handle — typically
// the session's open transaction, so reads observe the session's own
// uncommitted writes.
type Builder struct {
	tx *gorm.DB
}

// New creates a Builder bound to tx.
func New(tx *gorm.DB) *Builder {
	return &Builder{tx: tx}
}

// FetchDocument runs `select * from Document where Id = @Id`.
func (b *Builder) FetchDocument(ctx context.Context, id uint) (*storage.Document, bool, error) {
	var doc storage.Document
	err := b.tx.WithContext(ctx).Where("id = ?", id).First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &doc, true, nil
}

// FetchReduceRow runs `select * from <table> where <groupKeyColumn> =
// @currentKey`, taking the first row or none, decoding into out (a
// pointer to the descriptor's index row type).
func (b *Builder) FetchReduceRow(ctx context.Context, table, groupKeyField string, key interface{}, out interface{}) (bool, error) {
	column := namingStrategy.ColumnName(table, groupKeyField)
	condition := fmt.Sprintf("%s = ?", column)
	err := b.tx.WithContext(ctx).Table(table).Where(condition, key).First(out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Table returns a *gorm.DB scoped to table, for ad-hoc querying of
// index rows (e.g. by application code after a session commits).
func (b *Builder) Table(table string) *gorm.DB {
	return b.tx.Table(table)
}
