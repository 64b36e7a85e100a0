package orm

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/ammar0144/nplusone/pkg/db"
	"github.com/ammar0144/nplusone/pkg/metadata"
	"github.com/stretchr/testify/require"
)

type owner struct {
	ID   int64
	Name string
	Pets Collection[*pet]
}

func (o *owner) EntityName() string      { return "Owner" }
func (o *owner) PrimaryKey() int64       { return o.ID }
func (o *owner) SetPrimaryKey(id int64)  { o.ID = id }
func (o *owner) Values() []interface{}   { return []interface{}{o.Name} }
func (o *owner) Pointers() []interface{} { return []interface{}{&o.Name} }
func (o *owner) Association(name string) interface{} {
	if name == "pets" {
		return &o.Pets
	}
	return nil
}

type pet struct {
	ID    int64
	Name  string
	Owner Reference[*owner]
}

func (p *pet) EntityName() string      { return "Pet" }
func (p *pet) PrimaryKey() int64       { return p.ID }
func (p *pet) SetPrimaryKey(id int64)  { p.ID = id }
func (p *pet) Values() []interface{}   { return []interface{}{p.Name} }
func (p *pet) Pointers() []interface{} { return []interface{}{&p.Name} }
func (p *pet) Association(name string) interface{} {
	if name == "owner" {
		return &p.Owner
	}
	return nil
}

func newRegistry(t *testing.T, petsFetch metadata.FetchMode) *metadata.Registry {
	t.Helper()
	reg := metadata.NewRegistry()
	require.NoError(t, reg.Register(&metadata.Entity{
		Name: "Owner", Table: "owner", Columns: []string{"name"},
		New: func() any { return &owner{} },
		Associations: []*metadata.Association{
			{Name: "pets", Target: "Pet", Cardinality: metadata.OneToMany, Inverse: "owner", JoinColumn: "owner_id", Fetch: petsFetch},
		},
	}))
	require.NoError(t, reg.Register(&metadata.Entity{
		Name: "Pet", Table: "pet", Columns: []string{"name"},
		New: func() any { return &pet{} },
		Associations: []*metadata.Association{
			{Name: "owner", Target: "Owner", Cardinality: metadata.ManyToOne, Inverse: "pets", JoinColumn: "owner_id", Owning: true},
		},
	}))
	require.NoError(t, reg.RegisterGraph("Owner", "Owner.withPets", "pets"))
	return reg
}

type harness struct {
	manager *db.Manager
	factory *SessionFactory
}

func newHarness(t *testing.T, petsFetch metadata.FetchMode, opts ...FactoryOption) *harness {
	t.Helper()
	cfg := db.DefaultConfig(filepath.Join(t.TempDir(), "orm.db"))
	cfg.LogLevel = "silent"

	m, err := db.NewManager(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })

	require.NoError(t, m.DB().Exec(`CREATE TABLE owner (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT NOT NULL UNIQUE)`).Error)
	require.NoError(t, m.DB().Exec(`CREATE TABLE pet (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT NOT NULL, owner_id INTEGER REFERENCES owner(id))`).Error)

	f, err := NewSessionFactory(m, newRegistry(t, petsFetch), opts...)
	require.NoError(t, err)
	return &harness{manager: m, factory: f}
}

func (h *harness) open(t *testing.T) *Session {
	t.Helper()
	s, err := h.factory.Open(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close(context.Background()) })
	return s
}

// seed stores owners owner0..owner{n-1}, each with perOwner pets named
// pet{k*perOwner+i}, the way the pets are wired by hand before saving
func (h *harness) seed(t *testing.T, owners, perOwner int) {
	t.Helper()
	ctx := context.Background()
	s, err := h.factory.Open(ctx)
	require.NoError(t, err)

	for k := 0; k < owners; k++ {
		pets := make([]Entity, 0, perOwner)
		o := &owner{Name: fmt.Sprintf("owner%d", k)}
		for i := 0; i < perOwner; i++ {
			p := &pet{Name: fmt.Sprintf("pet%d", k*perOwner+i)}
			pets = append(pets, p)
			require.NoError(t, o.Pets.Add(p))
			p.Owner.Set(o)
		}
		require.NoError(t, s.SaveAll(pets...))
		require.NoError(t, s.Save(o))
	}
	require.NoError(t, s.Close(ctx))
}
