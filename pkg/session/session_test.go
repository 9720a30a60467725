package session_test

import (
	"context"
	"testing"

	"github.com/ai-shiraz-teams/go-docsession/pkg/descriptor"
	"github.com/ai-shiraz-teams/go-docsession/pkg/session"
	"github.com/ai-shiraz-teams/go-docsession/pkg/testutil"
	"github.com/ai-shiraz-teams/go-docsession/pkg/txn"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// newTestRegistry registers the two fixture descriptors: PersonByID (a
// pure MapIndex, one row per Person) and PersonByName (a reduce index
// grouping Person rows by Name, folding a count).
func newTestRegistry() *descriptor.Registry {
	reg := descriptor.NewRegistry()

	reg.Register(descriptor.NewFor(&testutil.Person{}, &testutil.PersonByID{}).
		MapWith(func(entity interface{}) []interface{} {
			p := entity.(*testutil.Person)
			return []interface{}{&testutil.PersonByID{DocumentID: p.Id, Name: p.Name}}
		}).
		Build())

	reg.Register(descriptor.NewFor(&testutil.Person{}, &testutil.PersonByName{}).
		MapWith(func(entity interface{}) []interface{} {
			p := entity.(*testutil.Person)
			return []interface{}{&testutil.PersonByName{Name: p.Name, Count: 1}}
		}).
		GroupBy("Name").
		ReduceWith(func(g descriptor.Grouping) interface{} {
			count := 0
			name := ""
			for _, s := range g.States {
				row := s.Row.(*testutil.PersonByName)
				count += row.Count
				name = row.Name
			}
			return &testutil.PersonByName{Name: name, Count: count}
		}).
		DeleteWith(func(current interface{}, deleted []descriptor.MapState) interface{} {
			cur := current.(*testutil.PersonByName)
			removed := 0
			for _, s := range deleted {
				removed += s.Row.(*testutil.PersonByName).Count
			}
			remaining := cur.Count - removed
			if remaining <= 0 {
				return nil
			}
			return &testutil.PersonByName{ID: cur.ID, Name: cur.Name, Count: remaining}
		}).
		Build())

	return reg
}

func newTestSession(t *testing.T, db *gorm.DB) *session.Session {
	t.Helper()
	factory := txn.NewGormConnectionFactory(db, false)
	return session.New(factory, newTestRegistry(), session.Options{})
}

func countRows(t *testing.T, db *gorm.DB, table string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Table(table).Count(&n).Error)
	return n
}

// TestSaveAssignsIdAndRoundTrips covers the Id-round-trip property: a
// saved entity receives a non-zero Id, and Get by that Id returns an
// entity with the same field values.
func TestSaveAssignsIdAndRoundTrips(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	s := newTestSession(t, db)
	p := &testutil.Person{Name: "Alice", Age: 30}
	require.NoError(t, s.Save(p))
	require.NoError(t, s.Dispose(ctx))
	require.NotZero(t, p.Id)

	s2 := newTestSession(t, db)
	loaded, err := session.Get[*testutil.Person](ctx, s2, []uint{p.Id})
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "Alice", loaded[0].Name)
	assert.Equal(t, 30, loaded[0].Age)
	require.NoError(t, s2.Dispose(ctx))
}

// TestGetReturnsSameInstanceWithinSession covers the identity-map
// property: two Get calls for the same Id within one session return the
// identical pointer.
func TestGetReturnsSameInstanceWithinSession(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	setup := newTestSession(t, db)
	p := &testutil.Person{Name: "Bob", Age: 40}
	require.NoError(t, setup.Save(p))
	require.NoError(t, setup.Dispose(ctx))

	s := newTestSession(t, db)
	first, err := session.Get[*testutil.Person](ctx, s, []uint{p.Id})
	require.NoError(t, err)
	second, err := session.Get[*testutil.Person](ctx, s, []uint{p.Id})
	require.NoError(t, err)
	assert.Same(t, first[0], second[0])
	require.NoError(t, s.Dispose(ctx))
}

// TestMapIndexCreatedAndCleanedUpOnDelete exercises the pure MapIndex
// lifecycle (spec scenario S4): saving a Person creates exactly one
// PersonByID row, and deleting it removes that row via
// DeleteMapIndexCommand rather than leaving it orphaned.
func TestMapIndexCreatedAndCleanedUpOnDelete(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	s := newTestSession(t, db)
	p := &testutil.Person{Name: "Carol", Age: 22}
	require.NoError(t, s.Save(p))
	require.NoError(t, s.Dispose(ctx))

	assert.EqualValues(t, 1, countRows(t, db, "person_by_id"))

	s2 := newTestSession(t, db)
	loaded, err := session.Get[*testutil.Person](ctx, s2, []uint{p.Id})
	require.NoError(t, err)
	require.NoError(t, s2.Delete(loaded[0]))
	require.NoError(t, s2.Dispose(ctx))

	assert.EqualValues(t, 0, countRows(t, db, "person_by_id"))
}

// TestReduceIndexAccumulatesAcrossDocuments covers scenario S1/S2/S3:
// two same-named Person documents fold into one PersonByName row with
// Count 2; deleting one drops the count to 1; deleting the last one
// removes the row entirely.
func TestReduceIndexAccumulatesAcrossDocuments(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	s := newTestSession(t, db)
	p1 := &testutil.Person{Name: "Dana", Age: 20}
	p2 := &testutil.Person{Name: "Dana", Age: 45}
	require.NoError(t, s.Save(p1))
	require.NoError(t, s.Save(p2))
	require.NoError(t, s.Dispose(ctx))

	var row testutil.PersonByName
	require.NoError(t, db.Where("name = ?", "Dana").First(&row).Error)
	assert.Equal(t, 2, row.Count)

	s2 := newTestSession(t, db)
	loaded, err := session.Get[*testutil.Person](ctx, s2, []uint{p1.Id})
	require.NoError(t, err)
	require.NoError(t, s2.Delete(loaded[0]))
	require.NoError(t, s2.Dispose(ctx))

	require.NoError(t, db.Where("name = ?", "Dana").First(&row).Error)
	assert.Equal(t, 1, row.Count)

	s3 := newTestSession(t, db)
	loaded2, err := session.Get[*testutil.Person](ctx, s3, []uint{p2.Id})
	require.NoError(t, err)
	require.NoError(t, s3.Delete(loaded2[0]))
	require.NoError(t, s3.Dispose(ctx))

	err = db.Where("name = ?", "Dana").First(&row).Error
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

// TestReduceIndexMatchesAcrossBatchedAndIncrementalCommits covers the
// batched-vs-one-at-a-time consistency property: folding three
// same-named saves in one session produces the same final count as
// folding them as three separate sessions, each committing in turn.
func TestReduceIndexMatchesAcrossBatchedAndIncrementalCommits(t *testing.T) {
	ctx := context.Background()

	batched := testutil.SetupTestDB(t)
	sb := newTestSession(t, batched)
	require.NoError(t, sb.Save(&testutil.Person{Name: "Eve", Age: 1}))
	require.NoError(t, sb.Save(&testutil.Person{Name: "Eve", Age: 2}))
	require.NoError(t, sb.Save(&testutil.Person{Name: "Eve", Age: 3}))
	require.NoError(t, sb.Dispose(ctx))

	var batchedRow testutil.PersonByName
	require.NoError(t, batched.Where("name = ?", "Eve").First(&batchedRow).Error)

	incremental := testutil.SetupTestDB(t)
	for _, age := range []int{1, 2, 3} {
		si := newTestSession(t, incremental)
		require.NoError(t, si.Save(&testutil.Person{Name: "Eve", Age: age}))
		require.NoError(t, si.Dispose(ctx))
	}

	var incrementalRow testutil.PersonByName
	require.NoError(t, incremental.Where("name = ?", "Eve").First(&incrementalRow).Error)

	assert.Equal(t, batchedRow.Count, incrementalRow.Count)
}

// TestNoChangeProducesNoIndexCommands covers the no-op property: saving
// an already-tracked entity whose fields are unchanged emits no
// additional index mutations on a second commit.
func TestNoChangeProducesNoIndexCommands(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	setup := newTestSession(t, db)
	p := &testutil.Person{Name: "Frank", Age: 50}
	require.NoError(t, setup.Save(p))
	require.NoError(t, setup.Dispose(ctx))

	before := countRows(t, db, "person_by_id")

	s := newTestSession(t, db)
	loaded, err := session.Get[*testutil.Person](ctx, s, []uint{p.Id})
	require.NoError(t, err)
	require.NoError(t, s.Save(loaded[0]))
	require.NoError(t, s.Dispose(ctx))

	assert.Equal(t, before, countRows(t, db, "person_by_id"))
}

// TestCancelDiscardsPendingWork covers the cancellation-atomicity
// property: a session that saves an entity and is then canceled leaves
// no trace of it — neither a Document row nor a projected index row.
func TestCancelDiscardsPendingWork(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	s := newTestSession(t, db)
	p := &testutil.Person{Name: "Grace", Age: 33}
	require.NoError(t, s.Save(p))
	s.Cancel()
	require.NoError(t, s.Dispose(ctx))

	assert.EqualValues(t, 0, countRows(t, db, "documents"))
	assert.EqualValues(t, 0, countRows(t, db, "person_by_id"))
	assert.EqualValues(t, 0, countRows(t, db, "person_by_name"))
}

// TestSavingTrackedEntityTwiceInOneSessionIsNoop covers scenario S5:
// calling Save twice on the same not-yet-committed entity within one
// session (deduplicated by the pending-save set) produces exactly one
// Document row, not two.
func TestSavingTrackedEntityTwiceInOneSessionIsNoop(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	s := newTestSession(t, db)
	p := &testutil.Person{Name: "Heidi", Age: 27}
	require.NoError(t, s.Save(p))
	require.NoError(t, s.Save(p))
	require.NoError(t, s.Dispose(ctx))

	assert.EqualValues(t, 1, countRows(t, db, "documents"))
	assert.EqualValues(t, 1, countRows(t, db, "person_by_id"))
}

// TestSaveRejectsIndexRow covers spec §4.1: attempting to Save a
// registered index row type directly is an InvalidArgumentError, not a
// silently-accepted write.
func TestSaveRejectsIndexRow(t *testing.T) {
	db := testutil.SetupTestDB(t)
	s := newTestSession(t, db)

	err := s.Save(&testutil.PersonByName{Name: "x", Count: 1})
	require.Error(t, err)
}

// TestSetIsolationLevelRejectedAfterTransactionOpen covers the
// isolation-level-change-mid-session decision (open question resolved
// in DESIGN.md): once the transaction is open, SetIsolationLevel must
// fail rather than silently apply to an already-begun transaction.
func TestSetIsolationLevelRejectedAfterTransactionOpen(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	s := newTestSession(t, db)
	require.NoError(t, s.Save(&testutil.Person{Name: "Ivan", Age: 19}))
	_, err := session.Get[*testutil.Person](ctx, s, nil)
	require.NoError(t, err)

	err = s.SetIsolationLevel(0)
	require.Error(t, err)
	s.Cancel()
	require.NoError(t, s.Dispose(ctx))
}
