package metadata

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// graphKey identifies a named fetch graph
type graphKey struct {
	entity string
	name   string
}

// Registry holds entity descriptors and named fetch graphs.
//
// Descriptors are registered at startup. After Freeze the registry is read-only
// and may be shared freely between sessions and goroutines.
type Registry struct {
	mu       sync.RWMutex
	frozen   bool
	entities map[string]*Entity
	order    []string // registration order
	graphs   map[graphKey][]string
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		entities: make(map[string]*Entity),
		graphs:   make(map[graphKey][]string),
	}
}

// Register adds an entity descriptor
func (r *Registry) Register(e *Entity) error {
	if e == nil {
		return fmt.Errorf("%w: nil entity", ErrInvalidDescriptor)
	}
	if err := e.validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return ErrRegistryFrozen
	}
	if _, exists := r.entities[e.Name]; exists {
		return fmt.Errorf("%w: entity %s already registered", ErrInvalidDescriptor, e.Name)
	}
	r.entities[e.Name] = e
	r.order = append(r.order, e.Name)
	return nil
}

// RegisterGraph registers a named fetch graph over entity. Every path must resolve
// once all entities are registered; RegisterGraph validates eagerly, so register
// the entities first.
func (r *Registry) RegisterGraph(entity, name string, paths ...string) error {
	if name == "" {
		return fmt.Errorf("%w: graph name is required", ErrInvalidDescriptor)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return ErrRegistryFrozen
	}
	key := graphKey{entity: entity, name: name}
	if _, exists := r.graphs[key]; exists {
		return fmt.Errorf("%w: graph %s already registered", ErrInvalidDescriptor, name)
	}

	for _, path := range paths {
		chain, err := r.resolveLocked(entity, path)
		if err != nil {
			return err
		}
		for _, a := range chain {
			a.Graphs = appendUnique(a.Graphs, name)
		}
	}
	r.graphs[key] = append([]string(nil), paths...)
	return nil
}

// Freeze makes the registry read-only
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Entity returns the descriptor registered under name
func (r *Registry) Entity(name string) (*Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entities[name]
	if !ok {
		return nil, fmt.Errorf("%w: entity %q", ErrMetadataMissing, name)
	}
	return e, nil
}

// Graph returns the attribute paths of a named graph
func (r *Registry) Graph(entity, name string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	paths, ok := r.graphs[graphKey{entity: entity, name: name}]
	if !ok {
		return nil, fmt.Errorf("%w: graph %q on %s", ErrMetadataMissing, name, entity)
	}
	return append([]string(nil), paths...), nil
}

// Resolve walks a dotted attribute path from entity and returns the chain of
// associations it traverses
func (r *Registry) Resolve(entity, path string) ([]*Association, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.resolveLocked(entity, path)
}

func (r *Registry) resolveLocked(entity, path string) ([]*Association, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty attribute path on %s", ErrMetadataMissing, entity)
	}
	current, ok := r.entities[entity]
	if !ok {
		return nil, fmt.Errorf("%w: entity %q", ErrMetadataMissing, entity)
	}

	var chain []*Association
	for _, segment := range strings.Split(path, ".") {
		a := current.Association(segment)
		if a == nil {
			return nil, fmt.Errorf("%w: attribute %q on %s (path %q)", ErrMetadataMissing, segment, current.Name, path)
		}
		next, ok := r.entities[a.Target]
		if !ok {
			return nil, fmt.Errorf("%w: target entity %q of %s.%s", ErrMetadataMissing, a.Target, current.Name, a.Name)
		}
		chain = append(chain, a)
		current = next
	}
	return chain, nil
}

// InsertOrder returns entity names ordered so that referenced entities come
// before the entities holding a foreign key to them. Ties keep registration order.
func (r *Registry) InsertOrder() ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	position := make(map[string]int, len(r.order))
	for i, name := range r.order {
		position[name] = i
	}

	indegree := make(map[string]int, len(r.order))
	dependents := make(map[string][]string)
	for _, name := range r.order {
		indegree[name] += 0
		for _, fk := range r.entities[name].ForeignKeys() {
			if fk.Target == name {
				continue // self reference
			}
			if _, ok := r.entities[fk.Target]; !ok {
				return nil, fmt.Errorf("%w: target entity %q of %s.%s", ErrMetadataMissing, fk.Target, name, fk.Name)
			}
			indegree[name]++
			dependents[fk.Target] = append(dependents[fk.Target], name)
		}
	}

	var ready, ordered []string
	for _, name := range r.order {
		if indegree[name] == 0 {
			ready = append(ready, name)
		}
	}
	for len(ready) > 0 {
		sort.SliceStable(ready, func(i, j int) bool { return position[ready[i]] < position[ready[j]] })
		name := ready[0]
		ready = ready[1:]
		ordered = append(ordered, name)
		for _, dep := range dependents[name] {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	if len(ordered) != len(r.order) {
		return nil, fmt.Errorf("%w: foreign keys form a cycle", ErrInvalidDescriptor)
	}
	return ordered, nil
}

func appendUnique(list []string, value string) []string {
	for _, v := range list {
		if v == value {
			return list
		}
	}
	return append(list, value)
}
