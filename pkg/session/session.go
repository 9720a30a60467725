// Package session implements the unit-of-work session engine that is
// the sole subject of the specification this module ports: a component
// that batches pending saves and deletes, drives the map/reduce
// pipeline that keeps projections consistent with documents, serializes
// the resulting mutations into an ordered command sequence executed
// inside one transaction, and preserves identity of previously loaded
// entities within its lifetime.
package session

import (
	"context"
	"database/sql"
	"reflect"
	"sync"

	"github.com/ai-shiraz-teams/go-docsession/pkg/command"
	"github.com/ai-shiraz-teams/go-docsession/pkg/descriptor"
	"github.com/ai-shiraz-teams/go-docsession/pkg/idaccess"
	"github.com/ai-shiraz-teams/go-docsession/pkg/indexquery"
	"github.com/ai-shiraz-teams/go-docsession/pkg/sessionerr"
	"github.com/ai-shiraz-teams/go-docsession/pkg/storage"
	"github.com/ai-shiraz-teams/go-docsession/pkg/txn"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Session is the unit-of-work orchestrator. It is not safe for
// concurrent use (spec §5); guardMu turns concurrent misuse into a
// panic rather than silent corruption instead of offering any real
// parallelism.
type Session struct {
	factory  txn.ConnectionFactory
	registry *descriptor.Registry
	ids      *idaccess.Registry
	opts     Options
	logger   *logrus.Logger

	guardMu sync.Mutex

	conn *gorm.DB
	tx   *gorm.DB
	docs storage.DocumentStore
	q    *indexquery.Builder

	identity *identityMap
	tracker  *changeTracker
	pipe     *pipeline
	journal  *command.Journal

	txOpened bool
	canceled bool
	disposed bool
}

// New constructs a Session. The transaction is not opened until the
// first operation that touches the database (spec §4.1).
func New(factory txn.ConnectionFactory, registry *descriptor.Registry, opts Options) *Session {
	ids := idaccess.NewRegistry()
	return &Session{
		factory:  factory,
		registry: registry,
		ids:      ids,
		opts:     opts,
		logger:   opts.logger(),
		identity: newIdentityMap(),
		tracker:  newChangeTracker(),
		journal:  command.NewJournal(),
	}
}

func (s *Session) lock() func() {
	if !s.guardMu.TryLock() {
		panic("session: concurrent use of a single Session is not supported")
	}
	return s.guardMu.Unlock
}

// SetIsolationLevel sets the isolation level the next-opened
// transaction will use. Permitted only before the transaction is
// opened; this implementation rejects later calls outright rather than
// silently ignoring them (spec §9 "isolation-level change mid-session").
func (s *Session) SetIsolationLevel(level sql.IsolationLevel) error {
	defer s.lock()()
	if s.txOpened {
		return sessionerr.NewInvalidOperationError("set_isolation_level", "transaction already open; isolation level is read once at open")
	}
	s.opts.IsolationLevel = level
	return nil
}

// ensureTransaction lazily opens the connection and transaction on
// first demand.
func (s *Session) ensureTransaction(ctx context.Context) error {
	if s.txOpened {
		return nil
	}

	conn, err := s.factory.CreateConnection(ctx)
	if err != nil {
		return sessionerr.NewBackendError("create_connection", err)
	}
	tx, err := txn.BeginTx(conn, s.opts.IsolationLevel)
	if err != nil {
		return sessionerr.NewBackendError("begin_transaction", err)
	}

	s.conn = conn
	s.tx = tx
	s.docs = storage.NewGormDocumentStore(tx)
	s.q = indexquery.New(tx)
	s.pipe = newPipeline(s.registry, s.ids, s.logger)
	s.txOpened = true

	s.logger.WithField("isolation", s.opts.IsolationLevel).Debug("session: transaction opened")
	return nil
}

// Save records entity in the pending-save set. If the entity is
// already tracked in the identity map the call is a no-op: it will be
// reconsidered at commit time via diffing (spec §4.1).
func (s *Session) Save(entity interface{}) error {
	defer s.lock()()

	if isNilEntity(entity) {
		return sessionerr.NewInvalidArgumentError("save", "entity is nil")
	}
	if _, isDoc := entity.(*storage.Document); isDoc {
		return sessionerr.NewInvalidArgumentError("save", "cannot save a Document")
	}
	if s.registry.IsIndexType(reflect.TypeOf(entity)) {
		return sessionerr.NewInvalidArgumentError("save", "cannot save an Index row")
	}

	if _, tracked := s.identity.Has(entity); tracked {
		return nil
	}
	s.tracker.queueSave(entity)
	return nil
}

// Delete records entity in the pending-delete set. entity must expose
// an Id field (spec §4.1); the actual id is resolved at commit time.
func (s *Session) Delete(entity interface{}) error {
	defer s.lock()()

	if isNilEntity(entity) {
		return sessionerr.NewInvalidArgumentError("delete", "entity is nil")
	}
	s.tracker.queueDelete(entity)
	return nil
}

// Query auto-flushes pending work into the still-open transaction and
// returns a query handle bound to it, so queries observe the session's
// own uncommitted writes (spec §9 "auto-flush in query()").
func (s *Session) Query(ctx context.Context) (*indexquery.Builder, error) {
	defer s.lock()()
	if err := s.ensureTransaction(ctx); err != nil {
		return nil, err
	}
	if err := s.commitLocked(ctx); err != nil {
		return nil, err
	}
	return s.q, nil
}

// Commit drains all pending work (diffed tracked entities, explicitly
// queued saves, explicit deletes, map/reduce finalization) into the
// open transaction, without committing the transaction itself. It does
// not reset cancellation — Dispose decides the final disposition.
func (s *Session) Commit(ctx context.Context) error {
	defer s.lock()()
	if err := s.ensureTransaction(ctx); err != nil {
		return err
	}
	return s.commitLocked(ctx)
}

func (s *Session) commitLocked(ctx context.Context) error {
	if err := s.diffTrackedEntities(ctx); err != nil {
		return err
	}
	if err := s.processPendingSaves(ctx); err != nil {
		return err
	}
	if err := s.processPendingDeletes(ctx); err != nil {
		return err
	}
	if err := s.pipe.Finalize(ctx, s.q, s.journal); err != nil {
		return err
	}
	if err := s.journal.Drain(ctx, s.tx); err != nil {
		return sessionerr.NewBackendError("drain_journal", err)
	}
	s.tracker.reset()
	return nil
}

// diffTrackedEntities implements spec §4.3 item 2 for every entity
// currently in the identity map, skipping ones also queued for delete.
func (s *Session) diffTrackedEntities(ctx context.Context) error {
	for _, tracked := range s.identity.All() {
		if s.tracker.isPendingDelete(tracked.Entity) {
			continue
		}

		doc, found, err := s.q.FetchDocument(ctx, tracked.ID)
		if err != nil {
			return sessionerr.NewBackendError("fetch_document", err)
		}
		if !found {
			continue
		}

		oldEntity := reflect.New(reflect.TypeOf(tracked.Entity).Elem()).Interface()
		hadBlob, err := s.docs.Load(ctx, tracked.ID, oldEntity)
		if err != nil {
			return sessionerr.NewBackendError("load_document", err)
		}
		if !hadBlob {
			continue
		}
		if acc := s.ids.For(oldEntity); acc != nil {
			acc.Set(oldEntity, int64(tracked.ID))
		}

		oldBytes, err := storage.Encode(oldEntity)
		if err != nil {
			return sessionerr.NewBackendError("encode_old", err)
		}
		newBytes, err := storage.Encode(tracked.Entity)
		if err != nil {
			return sessionerr.NewBackendError("encode_new", err)
		}
		if bytesEqual(oldBytes, newBytes) {
			continue
		}

		if err := s.pipe.MapDeleted(ctx, s.journal, doc, oldEntity); err != nil {
			return err
		}
		if err := s.pipe.MapNew(ctx, s.journal, doc, tracked.Entity); err != nil {
			return err
		}
		if err := s.docs.Save(ctx, tracked.ID, tracked.Entity); err != nil {
			return sessionerr.NewBackendError("save_document", err)
		}
	}
	return nil
}

// processPendingSaves implements spec §4.3 item 1 for every entity
// explicitly queued by Save.
func (s *Session) processPendingSaves(ctx context.Context) error {
	for _, entity := range s.tracker.pendingSave {
		doc := &storage.Document{Type: simplifiedName(entity)}
		if err := command.CreateDocument(ctx, s.tx, doc); err != nil {
			return sessionerr.NewBackendError("create_document", err)
		}

		if err := s.docs.Save(ctx, doc.ID, entity); err != nil {
			return sessionerr.NewBackendError("save_document", err)
		}

		if acc := s.ids.For(entity); acc != nil {
			acc.Set(entity, int64(doc.ID))
		}

		s.identity.Put(doc.ID, entity)

		if err := s.pipe.MapNew(ctx, s.journal, doc, entity); err != nil {
			return err
		}
	}
	return nil
}

// processPendingDeletes implements spec §4.3 item 3.
func (s *Session) processPendingDeletes(ctx context.Context) error {
	for _, entity := range s.tracker.pendingDelete {
		acc := s.ids.For(entity)
		if acc == nil {
			return sessionerr.NewInvalidOperationError("delete", "entity has no Id property")
		}
		id := uint(acc.Get(entity))

		doc, found, err := s.q.FetchDocument(ctx, id)
		if err != nil {
			return sessionerr.NewBackendError("fetch_document", err)
		}
		if !found {
			continue
		}

		if err := s.docs.Delete(ctx, id); err != nil {
			return sessionerr.NewBackendError("delete_document", err)
		}
		s.journal.Append(&command.DeleteDocumentCommand{DocumentID: id})
		s.identity.Remove(id)

		if err := s.pipe.MapDeleted(ctx, s.journal, doc, entity); err != nil {
			return err
		}
	}
	return nil
}

// Cancel is idempotent; it merely flips a flag that changes Dispose's
// final disposition to a rollback. It does not abort in-flight work.
func (s *Session) Cancel() {
	defer s.lock()()
	s.canceled = true
}

// Dispose commits (if not canceled) or rolls back the transaction, and
// disposes it; if the connection factory reports its connections as
// disposable, the connection is disposed too. Save and Delete never
// open the transaction themselves (spec §4.1: lazy open on first
// database-touching operation), so Dispose must open it here too —
// otherwise a session that only ever called Save/Delete before Dispose
// would discard its pending work instead of committing it.
func (s *Session) Dispose(ctx context.Context) error {
	defer s.lock()()
	if s.disposed {
		return nil
	}
	defer func() { s.disposed = true }()

	if s.canceled {
		if s.txOpened {
			s.tx.Rollback()
			s.closeConnectionIfDisposable()
		}
		return nil
	}

	if err := s.ensureTransaction(ctx); err != nil {
		return err
	}
	if err := s.commitLocked(ctx); err != nil {
		return err
	}
	if err := s.tx.Commit().Error; err != nil {
		return sessionerr.NewBackendError("commit_transaction", err)
	}
	s.closeConnectionIfDisposable()
	return nil
}

func (s *Session) closeConnectionIfDisposable() {
	if s.factory.Disposable() {
		_ = txn.CloseConnection(s.conn)
	}
}

// Get loads the entities for ids. Entities already present in the
// identity map are returned from cache; the rest are bulk-loaded from
// document storage. Ordering matches the input id sequence; duplicate
// ids yield the same instance (spec §4.1). A standalone generic
// function, not a Session method, because Go does not support generic
// methods on a non-generic receiver.
func Get[T any](ctx context.Context, s *Session, ids []uint) ([]T, error) {
	defer s.lock()()
	if err := s.ensureTransaction(ctx); err != nil {
		return nil, err
	}

	results := make([]T, len(ids))
	missing := make([]uint, 0, len(ids))
	missingPos := make(map[uint][]int)

	for i, id := range ids {
		if cached, ok := s.identity.Get(id); ok {
			results[i] = cached.(T)
			continue
		}
		if _, already := missingPos[id]; !already {
			missing = append(missing, id)
		}
		missingPos[id] = append(missingPos[id], i)
	}

	if len(missing) == 0 {
		return results, nil
	}

	var loaded []T
	if err := s.docs.LoadMany(ctx, missing, &loaded); err != nil {
		return nil, sessionerr.NewBackendError("load_many", err)
	}

	for i, id := range missing {
		entityPtr := loaded[i]

		if acc := s.ids.For(entityPtr); acc != nil {
			acc.Set(entityPtr, int64(id))
		}
		s.identity.Put(id, entityPtr)

		for _, pos := range missingPos[id] {
			results[pos] = entityPtr
		}
	}

	return results, nil
}

func simplifiedName(entity interface{}) string {
	t := reflect.TypeOf(entity)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

func isNilEntity(entity interface{}) bool {
	if entity == nil {
		return true
	}
	v := reflect.ValueOf(entity)
	switch v.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.Interface:
		return v.IsNil()
	default:
		return false
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
