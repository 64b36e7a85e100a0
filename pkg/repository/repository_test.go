package repository

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/ammar0144/nplusone/pkg/db"
	"github.com/ammar0144/nplusone/pkg/fetch"
	"github.com/ammar0144/nplusone/pkg/model"
	"github.com/ammar0144/nplusone/pkg/orm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFactory(t *testing.T) *orm.SessionFactory {
	t.Helper()
	cfg := db.DefaultConfig(filepath.Join(t.TempDir(), "repo.db"))
	cfg.LogLevel = "silent"
	m, err := db.NewManager(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	require.NoError(t, m.CreateSchema(context.Background(), model.Records()...))

	reg, err := model.NewRegistry()
	require.NoError(t, err)
	f, err := orm.NewSessionFactory(m, reg)
	require.NoError(t, err)
	return f
}

func openSession(t *testing.T, f *orm.SessionFactory) *orm.Session {
	t.Helper()
	s, err := f.Open(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close(context.Background()) })
	return s
}

// seedOwners stores owner0..owner{n-1}; pet k*perOwner+i belongs to owner k.
// The session is flushed and cleared, and its statistics reset.
func seedOwners(t *testing.T, s *orm.Session, n, perOwner int) {
	t.Helper()
	owners := NewOwnerRepository(s)
	pets := NewPetRepository(s)
	for k := 0; k < n; k++ {
		o := &model.Owner{Name: fmt.Sprintf("owner%d", k)}
		for i := 0; i < perOwner; i++ {
			p := &model.Pet{Name: fmt.Sprintf("pet%d", k*perOwner+i)}
			require.NoError(t, o.AddPet(p))
			require.NoError(t, pets.Save(p))
		}
		require.NoError(t, owners.Save(o))
	}
	require.NoError(t, s.Flush(context.Background()))
	s.Clear()
	s.ResetStats()
}

func assertOwnersWithPets(t *testing.T, owners []*model.Owner, n, perOwner int) {
	t.Helper()
	ctx := context.Background()
	require.Len(t, owners, n)
	for k, o := range owners {
		assert.Equal(t, fmt.Sprintf("owner%d", k), o.Name)
		size, err := o.Pets.Size(ctx)
		require.NoError(t, err)
		assert.Equal(t, perOwner, size)
	}
}

func TestScenario_FindAllIssuesOnePlusN(t *testing.T) {
	s := openSession(t, newFactory(t))
	seedOwners(t, s, 10, 10)

	owners, err := NewOwnerRepository(s).FindAll(context.Background())
	require.NoError(t, err)
	for _, o := range owners {
		assert.False(t, o.Pets.IsInitialized())
	}
	assertOwnersWithPets(t, owners, 10, 10)
	assert.Equal(t, 11, s.Stats().Selects)
}

func TestScenario_EagerVariantsIssueOneSelect(t *testing.T) {
	tests := []struct {
		name string
		find func(*OwnerRepository, context.Context) ([]*model.Owner, error)
	}{
		{"join fetch", (*OwnerRepository).FindAllWithPets},
		{"named entity graph", (*OwnerRepository).FindAllWithNamedEntityGraph},
		{"attribute path graph", (*OwnerRepository).FindAllWithPetsEntityGraph},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := openSession(t, newFactory(t))
			seedOwners(t, s, 10, 10)

			owners, err := tt.find(NewOwnerRepository(s), context.Background())
			require.NoError(t, err)
			for _, o := range owners {
				assert.True(t, o.Pets.IsInitialized())
			}
			assertOwnersWithPets(t, owners, 10, 10)
			assert.Equal(t, 1, s.Stats().Selects)

			// children arrive in id order with the back reference set
			pets, err := owners[3].Pets.Items(context.Background())
			require.NoError(t, err)
			for i, p := range pets {
				assert.Equal(t, fmt.Sprintf("pet%d", 30+i), p.Name)
				assert.True(t, p.Owner.IsInitialized())
				assert.Equal(t, owners[3].ID, p.Owner.ID())
			}
			assert.Equal(t, 1, s.Stats().Selects)
		})
	}
}

func TestScenario_OwnerWithoutPets(t *testing.T) {
	ctx := context.Background()
	s := openSession(t, newFactory(t))
	seedOwners(t, s, 1, 0)

	owners, err := NewOwnerRepository(s).FindAllWithPets(ctx)
	require.NoError(t, err)
	require.Len(t, owners, 1)
	assert.True(t, owners[0].Pets.IsInitialized())
	size, err := owners[0].Pets.Size(ctx)
	require.NoError(t, err)
	assert.Zero(t, size)
	assert.Equal(t, 1, s.Stats().Selects)
}

func TestScenario_DetachedAccessAfterClear(t *testing.T) {
	ctx := context.Background()
	s := openSession(t, newFactory(t))
	seedOwners(t, s, 1, 1)

	owners, err := NewOwnerRepository(s).FindAll(ctx)
	require.NoError(t, err)
	require.Len(t, owners, 1)
	pets, err := NewPetRepository(s).FindAll(ctx)
	require.NoError(t, err)
	require.Len(t, pets, 1)

	s.Clear()

	_, err = owners[0].Pets.Size(ctx)
	assert.ErrorIs(t, err, orm.ErrDetachedAccess)
	_, err = owners[0].Pets.Items(ctx)
	assert.ErrorIs(t, err, orm.ErrDetachedAccess)
	_, err = owners[0].Pets.Contains(ctx, pets[0])
	assert.ErrorIs(t, err, orm.ErrDetachedAccess)
	assert.ErrorIs(t, owners[0].AddPet(&model.Pet{Name: "late"}), orm.ErrDetachedAccess)
}

func TestPetRepository(t *testing.T) {
	ctx := context.Background()
	f := newFactory(t)
	s := openSession(t, f)
	seedOwners(t, s, 3, 2)
	require.NoError(t, NewPetRepository(s).Save(&model.Pet{Name: "stray"}))
	require.NoError(t, s.Flush(ctx))
	s.Clear()
	s.ResetStats()

	t.Run("lazy owner loads each distinct owner on first access", func(t *testing.T) {
		s := openSession(t, f)
		pets, err := NewPetRepository(s).FindAll(ctx)
		require.NoError(t, err)
		require.Len(t, pets, 7)
		assert.Equal(t, 1, s.Stats().Selects)

		for _, p := range pets[:6] {
			assert.False(t, p.Owner.IsInitialized())
			o, ok, err := p.Owner.Get(ctx)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, p.Owner.ID(), o.ID)
		}
		_, ok, err := pets[6].Owner.Get(ctx)
		require.NoError(t, err)
		assert.False(t, ok)
		// two pets per owner: the second read is an identity map hit
		assert.Equal(t, 4, s.Stats().Selects)
	})

	t.Run("join fetch of the owner", func(t *testing.T) {
		s := openSession(t, f)
		pets, err := NewPetRepository(s).FindAllWithOwner(ctx)
		require.NoError(t, err)
		require.Len(t, pets, 7)
		for _, p := range pets[:6] {
			o, ok, err := p.Owner.Get(ctx)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, p.Owner.ID(), o.ID)
		}
		_, ok, err := pets[6].Owner.Get(ctx)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, 1, s.Stats().Selects)
	})

	t.Run("by owner and orphans", func(t *testing.T) {
		s := openSession(t, f)
		owners := NewOwnerRepository(s)
		found, err := owners.FindByName(ctx, "owner1")
		require.NoError(t, err)
		require.Len(t, found, 1)

		repo := NewPetRepository(s)
		pets, err := repo.FindByOwner(ctx, found[0])
		require.NoError(t, err)
		require.Len(t, pets, 2)
		assert.Equal(t, "pet2", pets[0].Name)

		orphans, err := repo.FindOrphans(ctx)
		require.NoError(t, err)
		require.Len(t, orphans, 1)
		assert.Equal(t, "stray", orphans[0].Name)

		_, err = repo.FindByOwner(ctx, &model.Owner{})
		assert.ErrorIs(t, err, orm.ErrTransientReference)
	})
}

func TestGenericRepository(t *testing.T) {
	ctx := context.Background()
	f := newFactory(t)
	s := openSession(t, f)
	seedOwners(t, s, 5, 1)
	repo := NewOwnerRepository(s)

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	page, err := repo.Order("name", true).Limit(2).Offset(1).FindAll(ctx)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "owner3", page[0].Name)
	assert.Equal(t, "owner2", page[1].Name)

	// paging a joined collection is refused
	_, err = repo.Fetch("pets").Limit(2).FindAll(ctx)
	assert.True(t, fetch.IsUnsafePagination(err))

	first, ok, err := repo.Order("name", false).First(ctx, "name", db.Like, "owner%")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "owner0", first.Name)

	_, ok, err = repo.First(ctx, "name", db.Equal, "nobody")
	require.NoError(t, err)
	assert.False(t, ok)

	byID, err := repo.FindByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Same(t, first, byID)

	_, err = repo.FindByID(ctx, 999)
	assert.True(t, orm.IsNotFound(err))

	exists, err := repo.Exists(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = repo.Exists(ctx, 999)
	require.NoError(t, err)
	assert.False(t, exists)

	// IN lists of different sizes share one session and resolver
	in, err := repo.FindWhere(ctx, "name", db.In, "owner1")
	require.NoError(t, err)
	require.Len(t, in, 1)
	in, err = repo.FindWhere(ctx, "name", db.In, nil)
	require.NoError(t, err)
	assert.Empty(t, in)
	in, err = repo.FindWhere(ctx, "name", db.In, []string{"owner1", "owner4"})
	require.NoError(t, err)
	assert.Len(t, in, 2)
	require.NoError(t, s.Err())

	_, err = repo.Query(ctx, "SELECT p FROM Pet p")
	assert.ErrorIs(t, err, fetch.ErrInvalidQuery)

	o := &model.Owner{Name: "owner5"}
	require.NoError(t, repo.SaveAll(o))
	n, err = repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(6), n)
	assert.NotZero(t, o.ID)
	assert.Same(t, s, repo.Session())
}

func TestNewGenericRepositoryPanicsOnUnregisteredType(t *testing.T) {
	s := openSession(t, newFactory(t))
	assert.Panics(t, func() { NewGenericRepository[*stranger](s) })
}

type stranger struct{ model.Owner }

func (*stranger) EntityName() string { return "Stranger" }
