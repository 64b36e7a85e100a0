package orm

import (
	"context"
	"fmt"
	"reflect"
	"sort"

	"github.com/ammar0144/nplusone/pkg/db"
	"github.com/ammar0144/nplusone/pkg/metadata"
	"go.uber.org/zap"
)

// rowValues returns the scalar values followed by the foreign key ids of e, in
// descriptor order. A missing reference is nil.
func rowValues(e Entity, desc *metadata.Entity) []interface{} {
	values := append([]interface{}(nil), e.Values()...)
	for _, fk := range desc.ForeignKeys() {
		ref, ok := e.Association(fk.Name).(referenceProxy)
		if !ok || ref.ID() == 0 {
			values = append(values, nil)
			continue
		}
		values = append(values, ref.ID())
	}
	return values
}

// rowColumns returns the column names matching rowValues
func rowColumns(desc *metadata.Entity) []string {
	cols := append([]string(nil), desc.Columns...)
	for _, fk := range desc.ForeignKeys() {
		cols = append(cols, fk.JoinColumn)
	}
	return cols
}

type pendingUpdate struct {
	entity Entity
	desc   *metadata.Entity
	values []interface{}
}

// flushLocked writes pending inserts in dependency order, then updates of dirty
// managed entities. Nothing is written when there is no pending work.
func (s *Session) flushLocked(ctx context.Context) error {
	inserts, err := s.orderedInserts()
	if err != nil {
		return err
	}
	updates, err := s.dirtyEntities()
	if err != nil {
		return err
	}
	if len(inserts) == 0 && len(updates) == 0 {
		return nil
	}

	s.checkBidirectional(inserts)

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		s.record(err)
		return err
	}

	var assigned []Entity
	fail := func(err error) error {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.log.Warn("rollback failed", zap.Error(rbErr))
		}
		for _, e := range assigned {
			e.SetPrimaryKey(0)
		}
		s.record(err)
		return err
	}

	for _, e := range inserts {
		desc, err := s.descriptor(e)
		if err != nil {
			return fail(err)
		}
		if err := s.checkReferences(e, desc); err != nil {
			return fail(err)
		}
		query := db.NewBuilder(desc.Table).BuildInsert(rowColumns(desc))
		res, err := tx.Exec(ctx, query, rowValues(e, desc)...)
		if err != nil {
			return fail(fmt.Errorf("insert %s: %w", desc.Name, err))
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fail(fmt.Errorf("insert %s: %w", desc.Name, err))
		}
		e.SetPrimaryKey(id)
		assigned = append(assigned, e)
	}

	// inserted ids may have changed foreign keys of managed entities
	updates, err = s.dirtyEntities()
	if err != nil {
		return fail(err)
	}
	for _, u := range updates {
		if err := s.checkReferences(u.entity, u.desc); err != nil {
			return fail(err)
		}
		query := db.NewBuilder(u.desc.Table).BuildUpdate(rowColumns(u.desc), u.desc.IDColumn)
		args := append(u.values, u.entity.PrimaryKey())
		if _, err := tx.Exec(ctx, query, args...); err != nil {
			return fail(fmt.Errorf("update %s: %w", keyOf(u.entity), err))
		}
	}

	if err := tx.Commit(); err != nil {
		return fail(err)
	}

	for _, e := range inserts {
		desc, _ := s.descriptor(e)
		key := keyOf(e)
		s.managed[key] = e
		s.snapshots[key] = rowValues(e, desc)
	}
	for _, u := range updates {
		s.snapshots[keyOf(u.entity)] = u.values
	}
	s.inserts = nil
	s.scheduled = make(map[Entity]bool)

	s.log.Debug("flushed", zap.Int("inserts", len(inserts)), zap.Int("updates", len(updates)))
	return nil
}

// orderedInserts sorts pending inserts so referenced entities come first. Save
// order is kept within an entity type.
func (s *Session) orderedInserts() ([]Entity, error) {
	if len(s.inserts) == 0 {
		return nil, nil
	}
	rank := make(map[string]int, len(s.factory.insertOrder))
	for i, name := range s.factory.insertOrder {
		rank[name] = i
	}
	ordered := append([]Entity(nil), s.inserts...)
	for _, e := range ordered {
		if _, ok := rank[e.EntityName()]; !ok {
			return nil, fmt.Errorf("%w: entity %q", metadata.ErrMetadataMissing, e.EntityName())
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return rank[ordered[i].EntityName()] < rank[ordered[j].EntityName()]
	})
	return ordered, nil
}

// dirtyEntities returns managed entities whose row differs from the snapshot,
// in insert order then id order
func (s *Session) dirtyEntities() ([]pendingUpdate, error) {
	var dirty []pendingUpdate
	for key, e := range s.managed {
		desc, err := s.descriptor(e)
		if err != nil {
			return nil, err
		}
		values := rowValues(e, desc)
		if snapshot, ok := s.snapshots[key]; ok && reflect.DeepEqual(snapshot, values) {
			continue
		}
		dirty = append(dirty, pendingUpdate{entity: e, desc: desc, values: values})
	}

	rank := make(map[string]int, len(s.factory.insertOrder))
	for i, name := range s.factory.insertOrder {
		rank[name] = i
	}
	sort.Slice(dirty, func(i, j int) bool {
		a, b := dirty[i].entity, dirty[j].entity
		if a.EntityName() != b.EntityName() {
			return rank[a.EntityName()] < rank[b.EntityName()]
		}
		return a.PrimaryKey() < b.PrimaryKey()
	})
	return dirty, nil
}

// checkReferences fails when a foreign key points at an unsaved entity
func (s *Session) checkReferences(e Entity, desc *metadata.Entity) error {
	for _, fk := range desc.ForeignKeys() {
		ref, ok := e.Association(fk.Name).(referenceProxy)
		if !ok {
			return fmt.Errorf("entity %s does not expose reference %s", desc.Name, fk.Name)
		}
		target := ref.entity()
		if target != nil && target.PrimaryKey() == 0 {
			return fmt.Errorf("%w: %s.%s", ErrTransientReference, desc.Name, fk.Name)
		}
	}
	return nil
}

// checkBidirectional warns when a parent's initialized collection holds a child
// whose back-reference points elsewhere. The child's foreign key is written.
func (s *Session) checkBidirectional(inserts []Entity) {
	parents := make([]Entity, 0, len(s.managed)+len(inserts))
	for _, e := range s.managed {
		parents = append(parents, e)
	}
	parents = append(parents, inserts...)

	for _, parent := range parents {
		desc, err := s.descriptor(parent)
		if err != nil {
			continue
		}
		for _, a := range desc.Associations {
			if !a.Cardinality.ToMany() || a.Inverse == "" {
				continue
			}
			coll, ok := parent.Association(a.Name).(collectionProxy)
			if !ok || !coll.IsInitialized() {
				continue
			}
			for _, child := range coll.members() {
				ref, ok := child.Association(a.Inverse).(referenceProxy)
				if !ok {
					continue
				}
				if agrees(ref, parent) {
					continue
				}
				s.log.Warn("association sides disagree, child foreign key wins",
					zap.String("parent", keyOf(parent).String()),
					zap.String("association", a.Name),
					zap.String("child", keyOf(child).String()),
					zap.Int64("child_fk", ref.ID()),
				)
			}
		}
	}
}

func agrees(ref referenceProxy, parent Entity) bool {
	if ref.IsInitialized() {
		return ref.entity() == parent
	}
	return parent.PrimaryKey() != 0 && ref.ID() == parent.PrimaryKey()
}
