package command

import (
	"context"
	"fmt"

	"github.com/ai-shiraz-teams/go-docsession/pkg/storage"

	"gorm.io/gorm"
)

// IndexLink is the bridge row maintained for reduce descriptors, whose
// aggregate rows fold many documents into one group: {IndexType,
// IndexID} identifies the aggregate row, DocumentID one contributing
// document. Pure MapIndex rows carry their contributing document id
// directly as a column instead (no bridge row needed).
type IndexLink struct {
	IndexType  string `gorm:"primaryKey"`
	IndexID    uint   `gorm:"primaryKey"`
	DocumentID uint   `gorm:"primaryKey;index"`
}

func (IndexLink) TableName() string {
	return "index_document_links"
}

// CreateDocument executes inline (not through the journal, per spec
// §4.3): the new document's id must be known before the rest of that
// entity's processing can proceed. It assigns doc.ID as a side effect.
func CreateDocument(ctx context.Context, tx *gorm.DB, doc *storage.Document) error {
	return tx.WithContext(ctx).Create(doc).Error
}

// DeleteDocumentCommand removes a Document row. Journaled at delete
// time (spec §4.3 item 3).
type DeleteDocumentCommand struct {
	DocumentID uint
}

func (c *DeleteDocumentCommand) Execute(ctx context.Context, tx *gorm.DB) error {
	return tx.WithContext(ctx).Where("id = ?", c.DocumentID).Delete(&storage.Document{}).Error
}

func (c *DeleteDocumentCommand) String() string {
	return fmt.Sprintf("DeleteDocument(id=%d)", c.DocumentID)
}

// CreateIndexCommand inserts a brand-new index row (Row has no id yet)
// and, for reduce descriptors, the IndexLink rows for AddedDocumentIDs.
type CreateIndexCommand struct {
	TableName        string
	Row              interface{}
	AddedDocumentIDs []int64
	idOf             func(row interface{}) uint
}

// NewCreateIndexCommand builds a CreateIndexCommand. idOf reads back
// the row's assigned id after insertion, needed to populate IndexLink.
func NewCreateIndexCommand(table string, row interface{}, added []int64, idOf func(interface{}) uint) *CreateIndexCommand {
	return &CreateIndexCommand{TableName: table, Row: row, AddedDocumentIDs: added, idOf: idOf}
}

func (c *CreateIndexCommand) Execute(ctx context.Context, tx *gorm.DB) error {
	if err := tx.WithContext(ctx).Table(c.TableName).Create(c.Row).Error; err != nil {
		return err
	}
	if len(c.AddedDocumentIDs) == 0 {
		return nil
	}
	rowID := c.idOf(c.Row)
	links := make([]IndexLink, 0, len(c.AddedDocumentIDs))
	for _, docID := range c.AddedDocumentIDs {
		links = append(links, IndexLink{IndexType: c.TableName, IndexID: rowID, DocumentID: uint(docID)})
	}
	return tx.WithContext(ctx).Create(&links).Error
}

func (c *CreateIndexCommand) String() string {
	return fmt.Sprintf("CreateIndex(table=%s, added=%d)", c.TableName, len(c.AddedDocumentIDs))
}

// UpdateIndexCommand saves an existing index row (Row.ID already set)
// and applies the link deltas for reduce descriptors.
type UpdateIndexCommand struct {
	TableName          string
	Row                interface{}
	RowID              uint
	AddedDocumentIDs   []int64
	RemovedDocumentIDs []int64
}

func NewUpdateIndexCommand(table string, row interface{}, rowID uint, added, removed []int64) *UpdateIndexCommand {
	return &UpdateIndexCommand{TableName: table, Row: row, RowID: rowID, AddedDocumentIDs: added, RemovedDocumentIDs: removed}
}

func (c *UpdateIndexCommand) Execute(ctx context.Context, tx *gorm.DB) error {
	if err := tx.WithContext(ctx).Table(c.TableName).Save(c.Row).Error; err != nil {
		return err
	}
	if len(c.AddedDocumentIDs) > 0 {
		links := make([]IndexLink, 0, len(c.AddedDocumentIDs))
		for _, docID := range c.AddedDocumentIDs {
			links = append(links, IndexLink{IndexType: c.TableName, IndexID: c.RowID, DocumentID: uint(docID)})
		}
		if err := tx.WithContext(ctx).Create(&links).Error; err != nil {
			return err
		}
	}
	if len(c.RemovedDocumentIDs) > 0 {
		if err := tx.WithContext(ctx).
			Where("index_type = ? AND index_id = ? AND document_id IN ?", c.TableName, c.RowID, c.RemovedDocumentIDs).
			Delete(&IndexLink{}).Error; err != nil {
			return err
		}
	}
	return nil
}

func (c *UpdateIndexCommand) String() string {
	return fmt.Sprintf("UpdateIndex(table=%s, id=%d, added=%d, removed=%d)",
		c.TableName, c.RowID, len(c.AddedDocumentIDs), len(c.RemovedDocumentIDs))
}

// DeleteMapIndexCommand removes every row of a pure-MapIndex table
// keyed by DocumentID — the bulk cleanup spec §3 assigns to a deleted
// source document.
type DeleteMapIndexCommand struct {
	TableName  string
	DocumentID uint
}

func NewDeleteMapIndexCommand(table string, documentID uint) *DeleteMapIndexCommand {
	return &DeleteMapIndexCommand{TableName: table, DocumentID: documentID}
}

func (c *DeleteMapIndexCommand) Execute(ctx context.Context, tx *gorm.DB) error {
	stmt := fmt.Sprintf("DELETE FROM %s WHERE document_id = ?", c.TableName)
	return tx.WithContext(ctx).Exec(stmt, c.DocumentID).Error
}

func (c *DeleteMapIndexCommand) String() string {
	return fmt.Sprintf("DeleteMapIndex(table=%s, document=%d)", c.TableName, c.DocumentID)
}

// DeleteReduceIndexCommand removes an aggregate row whose fold emptied
// it out, plus its IndexLink bridge rows.
type DeleteReduceIndexCommand struct {
	TableName string
	RowID     uint
}

func NewDeleteReduceIndexCommand(table string, rowID uint) *DeleteReduceIndexCommand {
	return &DeleteReduceIndexCommand{TableName: table, RowID: rowID}
}

func (c *DeleteReduceIndexCommand) Execute(ctx context.Context, tx *gorm.DB) error {
	if err := tx.WithContext(ctx).
		Where("index_type = ? AND index_id = ?", c.TableName, c.RowID).
		Delete(&IndexLink{}).Error; err != nil {
		return err
	}
	stmt := fmt.Sprintf("DELETE FROM %s WHERE id = ?", c.TableName)
	return tx.WithContext(ctx).Exec(stmt, c.RowID).Error
}

func (c *DeleteReduceIndexCommand) String() string {
	return fmt.Sprintf("DeleteReduceIndex(table=%s, id=%d)", c.TableName, c.RowID)
}
