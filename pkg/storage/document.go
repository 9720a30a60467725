// Package storage implements the document-storage collaborator named
// in spec §6: Load, LoadMany, Save, Delete of opaque entity blobs keyed
// by the auto-assigned document id.
package storage

import "time"

// Document is the persistence-layer header row the session owns
// directly: {id, type}. It anchors a serialized entity blob but carries
// no business payload itself — the teacher's BaseEntity is the template
// for "bookkeeping fields only", trimmed here to what the spec names.
type Document struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	Type      string `gorm:"index;not null" json:"type"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName pins the GORM table name so it doesn't collide with a
// user's own "documents" naming.
func (Document) TableName() string {
	return "documents"
}

// Blob is where the GORM-backed DocumentStore keeps the canonical BSON
// encoding of a live entity, one row per Document.
type Blob struct {
	DocumentID uint `gorm:"primaryKey"`
	Payload    []byte
}

func (Blob) TableName() string {
	return "document_blobs"
}
