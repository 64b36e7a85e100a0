package model

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ammar0144/nplusone/pkg/db"
	"github.com/ammar0144/nplusone/pkg/metadata"
	"github.com/ammar0144/nplusone/pkg/orm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister(t *testing.T) {
	reg, err := NewRegistry()
	require.NoError(t, err)

	order, err := reg.InsertOrder()
	require.NoError(t, err)
	assert.Equal(t, []string{OwnerEntity, PetEntity}, order)

	paths, err := reg.Graph(OwnerEntity, OwnerWithPets)
	require.NoError(t, err)
	assert.Equal(t, []string{"pets"}, paths)

	pet, err := reg.Entity(PetEntity)
	require.NoError(t, err)
	owner := pet.Association("owner")
	require.NotNil(t, owner)
	assert.True(t, owner.Owning)
	assert.Equal(t, metadata.Lazy, owner.Fetch)

	// a second registration of the same model is rejected
	assert.Error(t, Register(reg))
}

func TestAddPet(t *testing.T) {
	o := &Owner{Name: "alice"}
	p := &Pet{Name: "rex"}
	require.NoError(t, o.AddPet(p))

	ctx := context.Background()
	ok, err := o.Pets.Contains(ctx, p)
	require.NoError(t, err)
	assert.True(t, ok)
	got, set, err := p.Owner.Get(ctx)
	require.NoError(t, err)
	assert.True(t, set)
	assert.Same(t, o, got)
}

func TestSchemaRoundTrip(t *testing.T) {
	ctx := context.Background()
	cfg := db.DefaultConfig(filepath.Join(t.TempDir(), "model.db"))
	cfg.LogLevel = "silent"
	m, err := db.NewManager(cfg)
	require.NoError(t, err)
	defer m.Close()
	require.NoError(t, m.CreateSchema(ctx, Records()...))
	// creating the schema twice is harmless
	require.NoError(t, m.CreateSchema(ctx, Records()...))

	reg, err := NewRegistry()
	require.NoError(t, err)
	f, err := orm.NewSessionFactory(m, reg)
	require.NoError(t, err)

	s, err := f.Open(ctx)
	require.NoError(t, err)
	o := &Owner{Name: "alice"}
	require.NoError(t, o.AddPet(&Pet{Name: "rex"}))
	stray := &Pet{Name: "stray"}
	items, err := o.Pets.Items(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Save(o))
	require.NoError(t, s.Save(items[0]))
	require.NoError(t, s.Save(stray))
	require.NoError(t, s.Close(ctx))

	var records []PetRecord
	require.NoError(t, m.DB().Order("id").Find(&records).Error)
	require.Len(t, records, 2)
	require.NotNil(t, records[0].OwnerID)
	assert.Equal(t, o.ID, *records[0].OwnerID)
	assert.Nil(t, records[1].OwnerID)

	s, err = f.Open(ctx)
	require.NoError(t, err)
	defer s.Close(ctx)
	pets, err := orm.QueryTextAs[*Pet](ctx, s, "SELECT p FROM Pet p")
	require.NoError(t, err)
	require.Len(t, pets, 2)
	// the owner stays a lazy reference until read; the stray has none
	assert.False(t, pets[0].Owner.IsInitialized())
	assert.Equal(t, o.ID, pets[0].Owner.ID())
	assert.True(t, pets[1].Owner.IsInitialized())
	_, set, err := pets[1].Owner.Get(ctx)
	require.NoError(t, err)
	assert.False(t, set)
	assert.Equal(t, 1, s.Stats().Selects)

	owner, set, err := pets[0].Owner.Get(ctx)
	require.NoError(t, err)
	require.True(t, set)
	assert.Equal(t, "alice", owner.Name)
	assert.Equal(t, 2, s.Stats().Selects)
}
