package storage

import "context"

// DocumentStore is the out-of-scope document (blob) storage
// collaborator named in spec §1/§6. Implementations persist an opaque
// serialized entity keyed by the document id the session assigns.
type DocumentStore interface {
	// Load decodes the entity stored for id into out (a pointer to the
	// caller's entity type). It reports false if no blob exists for id.
	Load(ctx context.Context, id uint, out interface{}) (bool, error)

	// LoadMany decodes the entities stored for ids into the positional
	// slots of out (a pointer to a []T the caller allocated). Ids with
	// no stored blob leave their slot at T's zero value.
	LoadMany(ctx context.Context, ids []uint, out interface{}) error

	// Save persists entity's canonical serialized form under id,
	// overwriting any prior blob.
	Save(ctx context.Context, id uint, entity interface{}) error

	// Delete removes the blob stored for id. Deleting a missing id is
	// not an error.
	Delete(ctx context.Context, id uint) error
}
