package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stub struct{}

func newStub() any { return &stub{} }

// newTestRegistry registers an Owner/Pet/Toy graph: Owner 1-* Pet 1-* Toy, Owner 1-* Visit
func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	require.NoError(t, r.Register(&Entity{
		Name: "Owner", Table: "owner", Columns: []string{"name"}, New: newStub,
		Associations: []*Association{
			{Name: "pets", Target: "Pet", Cardinality: OneToMany, Inverse: "owner", JoinColumn: "owner_id"},
			{Name: "visits", Target: "Visit", Cardinality: OneToMany, JoinColumn: "owner_id"},
		},
	}))
	require.NoError(t, r.Register(&Entity{
		Name: "Pet", Table: "pet", Columns: []string{"name"}, New: newStub,
		Associations: []*Association{
			{Name: "owner", Target: "Owner", Cardinality: ManyToOne, Inverse: "pets", JoinColumn: "owner_id", Owning: true},
			{Name: "toys", Target: "Toy", Cardinality: OneToMany, JoinColumn: "pet_id"},
		},
	}))
	require.NoError(t, r.Register(&Entity{
		Name: "Toy", Table: "toy", Columns: []string{"label"}, New: newStub,
		Associations: []*Association{
			{Name: "pet", Target: "Pet", Cardinality: ManyToOne, JoinColumn: "pet_id", Owning: true},
		},
	}))
	require.NoError(t, r.Register(&Entity{
		Name: "Visit", Table: "visit", Columns: []string{"note"}, New: newStub,
	}))
	return r
}

func TestRegistry_Resolve(t *testing.T) {
	r := newTestRegistry(t)

	chain, err := r.Resolve("Owner", "pets.toys")
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, "pets", chain[0].Name)
	assert.Equal(t, "Owner", chain[0].Source)
	assert.Equal(t, "toys", chain[1].Name)

	_, err = r.Resolve("Owner", "pets.collar")
	assert.ErrorIs(t, err, ErrMetadataMissing)

	_, err = r.Resolve("Cat", "pets")
	assert.True(t, IsMetadataMissing(err))

	_, err = r.Resolve("Owner", "")
	assert.ErrorIs(t, err, ErrMetadataMissing)
}

func TestRegistry_Graphs(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.RegisterGraph("Owner", "Owner.withPets", "pets"))

	paths, err := r.Graph("Owner", "Owner.withPets")
	require.NoError(t, err)
	assert.Equal(t, []string{"pets"}, paths)

	owner, err := r.Entity("Owner")
	require.NoError(t, err)
	assert.Equal(t, []string{"Owner.withPets"}, owner.Association("pets").Graphs)

	_, err = r.Graph("Owner", "Owner.withVisits")
	assert.ErrorIs(t, err, ErrMetadataMissing)

	err = r.RegisterGraph("Owner", "Owner.broken", "cats")
	assert.ErrorIs(t, err, ErrMetadataMissing)

	err = r.RegisterGraph("Owner", "Owner.withPets", "pets")
	assert.ErrorIs(t, err, ErrInvalidDescriptor)
}

func TestRegistry_Freeze(t *testing.T) {
	r := newTestRegistry(t)
	r.Freeze()

	err := r.Register(&Entity{Name: "Vet", Table: "vet", New: newStub})
	assert.ErrorIs(t, err, ErrRegistryFrozen)

	err = r.RegisterGraph("Owner", "late", "pets")
	assert.ErrorIs(t, err, ErrRegistryFrozen)

	_, err = r.Entity("Owner")
	assert.NoError(t, err)
}

func TestRegistry_InsertOrder(t *testing.T) {
	r := NewRegistry()
	// register children first to prove the order is derived from foreign keys
	require.NoError(t, r.Register(&Entity{
		Name: "Toy", Table: "toy", New: newStub,
		Associations: []*Association{{Name: "pet", Target: "Pet", Cardinality: ManyToOne, JoinColumn: "pet_id", Owning: true}},
	}))
	require.NoError(t, r.Register(&Entity{
		Name: "Pet", Table: "pet", New: newStub,
		Associations: []*Association{{Name: "owner", Target: "Owner", Cardinality: ManyToOne, JoinColumn: "owner_id", Owning: true}},
	}))
	require.NoError(t, r.Register(&Entity{Name: "Owner", Table: "owner", New: newStub}))

	order, err := r.InsertOrder()
	require.NoError(t, err)
	assert.Equal(t, []string{"Owner", "Pet", "Toy"}, order)
}

func TestEntity_Validate(t *testing.T) {
	tests := []struct {
		name   string
		entity *Entity
	}{
		{
			name:   "missing table",
			entity: &Entity{Name: "Owner", New: newStub},
		},
		{
			name:   "missing constructor",
			entity: &Entity{Name: "Owner", Table: "owner"},
		},
		{
			name: "owning one-to-many",
			entity: &Entity{Name: "Owner", Table: "owner", New: newStub, Associations: []*Association{
				{Name: "pets", Target: "Pet", Cardinality: OneToMany, JoinColumn: "owner_id", Owning: true},
			}},
		},
		{
			name: "many-to-one without join column",
			entity: &Entity{Name: "Pet", Table: "pet", New: newStub, Associations: []*Association{
				{Name: "owner", Target: "Owner", Cardinality: ManyToOne, Owning: true},
			}},
		},
		{
			name: "duplicate association",
			entity: &Entity{Name: "Pet", Table: "pet", New: newStub, Associations: []*Association{
				{Name: "owner", Target: "Owner", Cardinality: ManyToOne, JoinColumn: "owner_id", Owning: true},
				{Name: "owner", Target: "Owner", Cardinality: ManyToOne, JoinColumn: "owner_id", Owning: true},
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewRegistry().Register(tt.entity)
			assert.ErrorIs(t, err, ErrInvalidDescriptor)
		})
	}
}

func TestEntity_HasColumn(t *testing.T) {
	r := newTestRegistry(t)
	pet, err := r.Entity("Pet")
	require.NoError(t, err)

	assert.Equal(t, "id", pet.IDColumn)
	assert.True(t, pet.HasColumn("id"))
	assert.True(t, pet.HasColumn("name"))
	assert.True(t, pet.HasColumn("owner_id"))
	assert.False(t, pet.HasColumn("pet_id"))
	assert.True(t, OneToMany.ToMany())
	assert.False(t, ManyToOne.ToMany())
}
