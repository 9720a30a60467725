package storage

import (
	"context"
	"errors"
	"reflect"

	"go.mongodb.org/mongo-driver/bson"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormDocumentStore is the default DocumentStore adapter, grounded on
// the teacher's direct *gorm.DB usage in
// pkg/infrastructure/unit_of_work/postgres_unit_of_work.go. Entities
// are encoded with BSON (go.mongodb.org/mongo-driver/bson, already a
// teacher dependency via mongo_unit_of_work.go) so the same canonical
// bytes double as the change tracker's equality check.
type GormDocumentStore struct {
	db *gorm.DB
}

// NewGormDocumentStore wraps db (expected to be the session's live
// transaction handle; the session builds one store when it opens its
// transaction).
func NewGormDocumentStore(db *gorm.DB) *GormDocumentStore {
	return &GormDocumentStore{db: db}
}

// Encode returns entity's canonical BSON encoding, exported so the
// change tracker can compare two encodings for structural equality.
func Encode(entity interface{}) ([]byte, error) {
	return bson.Marshal(entity)
}

func (s *GormDocumentStore) Load(ctx context.Context, id uint, out interface{}) (bool, error) {
	var blob Blob
	err := s.db.WithContext(ctx).Where("document_id = ?", id).First(&blob).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := bson.Unmarshal(blob.Payload, out); err != nil {
		return false, err
	}
	return true, nil
}

func (s *GormDocumentStore) LoadMany(ctx context.Context, ids []uint, out interface{}) error {
	outVal := reflect.ValueOf(out)
	if outVal.Kind() != reflect.Ptr || outVal.Elem().Kind() != reflect.Slice {
		return errors.New("storage: LoadMany out must be a pointer to a slice")
	}
	sliceVal := outVal.Elem()
	elemType := sliceVal.Type().Elem()

	sliceVal.Set(reflect.MakeSlice(sliceVal.Type(), len(ids), len(ids)))

	if len(ids) == 0 {
		return nil
	}

	var blobs []Blob
	if err := s.db.WithContext(ctx).Where("document_id IN ?", ids).Find(&blobs).Error; err != nil {
		return err
	}

	byID := make(map[uint][]byte, len(blobs))
	for _, b := range blobs {
		byID[b.DocumentID] = b.Payload
	}

	isPtrElem := elemType.Kind() == reflect.Ptr
	structType := elemType
	if isPtrElem {
		structType = elemType.Elem()
	}

	for i, id := range ids {
		payload, ok := byID[id]
		if !ok {
			continue
		}
		elemPtr := reflect.New(structType)
		if err := bson.Unmarshal(payload, elemPtr.Interface()); err != nil {
			return err
		}
		if isPtrElem {
			sliceVal.Index(i).Set(elemPtr)
		} else {
			sliceVal.Index(i).Set(elemPtr.Elem())
		}
	}
	return nil
}

func (s *GormDocumentStore) Save(ctx context.Context, id uint, entity interface{}) error {
	payload, err := Encode(entity)
	if err != nil {
		return err
	}
	blob := Blob{DocumentID: id, Payload: payload}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "document_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload"}),
	}).Create(&blob).Error
}

func (s *GormDocumentStore) Delete(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Where("document_id = ?", id).Delete(&Blob{}).Error
}
