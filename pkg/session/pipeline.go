package session

import (
	"context"
	"reflect"

	"github.com/ai-shiraz-teams/go-docsession/pkg/command"
	"github.com/ai-shiraz-teams/go-docsession/pkg/descriptor"
	"github.com/ai-shiraz-teams/go-docsession/pkg/idaccess"
	"github.com/ai-shiraz-teams/go-docsession/pkg/indexquery"
	"github.com/ai-shiraz-teams/go-docsession/pkg/sessionerr"
	"github.com/ai-shiraz-teams/go-docsession/pkg/storage"

	"github.com/sirupsen/logrus"
)

// pipeline accumulates per-descriptor map deltas and drives reduce
// finalization, per spec §4.4.
type pipeline struct {
	registry *descriptor.Registry
	rowIDs   *idaccess.Registry
	logger   *logrus.Logger

	// accum holds MapStates awaiting reduce finalization, keyed by the
	// descriptor that produced them, preserving accumulation order.
	accum map[*descriptor.Descriptor][]descriptor.MapState
	// order preserves descriptor-first-seen order for deterministic
	// finalization iteration (spec §5: "reduce-finalization commands in
	// descriptor iteration order").
	order []*descriptor.Descriptor
}

func newPipeline(registry *descriptor.Registry, rowIDs *idaccess.Registry, logger *logrus.Logger) *pipeline {
	return &pipeline{
		registry: registry,
		rowIDs:   rowIDs,
		logger:   logger,
		accum:    make(map[*descriptor.Descriptor][]descriptor.MapState),
	}
}

func (p *pipeline) track(d *descriptor.Descriptor, state descriptor.MapState) {
	if _, seen := p.accum[d]; !seen {
		p.order = append(p.order, d)
	}
	p.accum[d] = append(p.accum[d], state)
}

// MapNew implements spec §4.4 map_new(doc, entity).
func (p *pipeline) MapNew(ctx context.Context, journal *command.Journal, doc *storage.Document, entity interface{}) error {
	for _, d := range p.registry.For(entity) {
		rows := d.Map(entity)
		for _, row := range rows {
			if !d.IsReduce() {
				rowID := p.rowIDs.For(row)
				if rowID == nil {
					return sessionerr.NewInvalidOperationError("map_new", "index row type has no Id field")
				}
				id := uint(rowID.Get(row))
				if id == 0 {
					journal.Append(command.NewCreateIndexCommand(d.TableName(), row, nil, p.rowIDValue))
				} else {
					journal.Append(command.NewUpdateIndexCommand(d.TableName(), row, id, nil, nil))
				}
				continue
			}
			p.track(d, descriptor.MapState{
				Row:         row,
				Kind:        descriptor.StateNew,
				DocumentIDs: []int64{int64(doc.ID)},
			})
		}
	}
	return nil
}

// MapDeleted implements spec §4.4 map_deleted(doc, entity).
func (p *pipeline) MapDeleted(ctx context.Context, journal *command.Journal, doc *storage.Document, entity interface{}) error {
	for _, d := range p.registry.For(entity) {
		if !d.IsReduce() || d.Delete == nil {
			journal.Append(command.NewDeleteMapIndexCommand(d.TableName(), doc.ID))
			continue
		}
		rows := d.Map(entity)
		for _, row := range rows {
			p.track(d, descriptor.MapState{
				Row:         row,
				Kind:        descriptor.StateDelete,
				DocumentIDs: []int64{int64(doc.ID)},
			})
		}
	}
	return nil
}

func (p *pipeline) rowIDValue(row interface{}) uint {
	acc := p.rowIDs.For(row)
	if acc == nil {
		return 0
	}
	return uint(acc.Get(row))
}

// Finalize runs reduce finalization (spec §4.4 steps 1-4/a-h) once
// during commit, after all per-entity work, in descriptor then
// group-key iteration order.
func (p *pipeline) Finalize(ctx context.Context, q *indexquery.Builder, journal *command.Journal) error {
	for _, d := range p.order {
		states := p.accum[d]
		if len(states) == 0 {
			continue
		}
		if d.GroupKey == "" {
			return sessionerr.NewInvalidOperationError("reduce_finalize", "descriptor has no group key")
		}

		groups := groupByKey(states, d.GroupKey)
		for _, key := range groups.order {
			if err := p.finalizeGroup(ctx, q, journal, d, key, groups.byKey[key]); err != nil {
				return err
			}
		}
	}
	p.accum = make(map[*descriptor.Descriptor][]descriptor.MapState)
	p.order = nil
	return nil
}

func (p *pipeline) finalizeGroup(ctx context.Context, q *indexquery.Builder, journal *command.Journal, d *descriptor.Descriptor, key interface{}, states []descriptor.MapState) error {
	var newGroup, deleteGroup, updateGroup []descriptor.MapState
	for _, s := range states {
		switch s.Kind {
		case descriptor.StateNew:
			newGroup = append(newGroup, s)
		case descriptor.StateDelete:
			deleteGroup = append(deleteGroup, s)
		case descriptor.StateUpdate:
			updateGroup = append(updateGroup, s)
		}
	}

	var current interface{}

	if len(newGroup) > 0 {
		reduced := d.Reduce(descriptor.Grouping{Key: key, States: newGroup})
		if reduced == nil {
			return sessionerr.NewInvalidOperationError("reduce", "reduce returned nil for a non-empty group")
		}
		current = reduced
	}

	persistedRow := newIndexRow(d.IndexType)
	persistedExists, err := q.FetchReduceRow(ctx, d.TableName(), d.GroupKey, key, persistedRow)
	if err != nil {
		return sessionerr.NewBackendError("fetch_reduce_row", err)
	}

	if persistedExists && current != nil {
		current = d.Reduce(descriptor.Grouping{Key: key, States: []descriptor.MapState{
			{Row: persistedRow}, {Row: current},
		}})
	} else if persistedExists {
		current = persistedRow
	}

	if current != nil && len(deleteGroup) > 0 && d.Delete != nil {
		current = d.Delete(current, deleteGroup)
	}
	if current != nil && len(updateGroup) > 0 && d.Update != nil {
		current = d.Update(current, updateGroup)
	}

	var addedDocIDs, removedDocIDs []int64
	for _, s := range newGroup {
		addedDocIDs = append(addedDocIDs, s.DocumentIDs...)
	}
	for _, s := range deleteGroup {
		removedDocIDs = append(removedDocIDs, s.DocumentIDs...)
	}

	switch {
	case persistedExists && current == nil:
		rowID := p.rowIDValue(persistedRow)
		journal.Append(command.NewDeleteReduceIndexCommand(d.TableName(), rowID))
	case persistedExists && current != nil:
		rowID := p.rowIDValue(persistedRow)
		p.setRowID(current, rowID)
		journal.Append(command.NewUpdateIndexCommand(d.TableName(), current, rowID, addedDocIDs, removedDocIDs))
	case !persistedExists && current != nil:
		journal.Append(command.NewCreateIndexCommand(d.TableName(), current, addedDocIDs, p.rowIDValue))
	}
	return nil
}

func (p *pipeline) setRowID(row interface{}, id uint) {
	acc := p.rowIDs.For(row)
	if acc == nil {
		return
	}
	acc.Set(row, int64(id))
}

func newIndexRow(t reflect.Type) interface{} {
	return reflect.New(t).Interface()
}

type groupedStates struct {
	order []interface{}
	byKey map[interface{}][]descriptor.MapState
}

func groupByKey(states []descriptor.MapState, field string) groupedStates {
	g := groupedStates{byKey: make(map[interface{}][]descriptor.MapState)}
	for _, s := range states {
		key := fieldValue(s.Row, field)
		if _, seen := g.byKey[key]; !seen {
			g.order = append(g.order, key)
		}
		g.byKey[key] = append(g.byKey[key], s)
	}
	return g
}

func fieldValue(row interface{}, field string) interface{} {
	v := reflect.ValueOf(row)
	for v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	f := v.FieldByName(field)
	if !f.IsValid() {
		return nil
	}
	return f.Interface()
}
