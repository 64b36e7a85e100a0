package fetch

import (
	"testing"

	"github.com/ammar0144/nplusone/pkg/db"
	"github.com/ammar0144/nplusone/pkg/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stub struct{}

func newStub() any { return &stub{} }

const (
	ownerSQL     = "SELECT t0.id, t0.name FROM owner t0 ORDER BY t0.id ASC"
	withPetsSQL  = "SELECT t0.id, t0.name, t1.id, t1.name, t1.owner_id FROM owner t0 LEFT OUTER JOIN pet t1 ON t1.owner_id = t0.id ORDER BY t0.id ASC, t1.id ASC"
	petOwnerSQL  = "SELECT t0.id, t0.name, t0.owner_id, t1.id, t1.name FROM pet t0 LEFT OUTER JOIN owner t1 ON t1.id = t0.owner_id ORDER BY t0.id ASC"
	siblingsSQL  = "SELECT t0.id, t0.name, t0.owner_id, t1.id, t1.name, t2.id, t2.name, t2.owner_id FROM pet t0 LEFT OUTER JOIN owner t1 ON t1.id = t0.owner_id LEFT OUTER JOIN pet t2 ON t2.owner_id = t1.id ORDER BY t0.id ASC, t2.id ASC"
	withPetsText = "SELECT o FROM Owner o LEFT JOIN FETCH o.pets"
)

// newTestRegistry registers Owner 1-* Pet 1-* Toy, Owner 1-* Visit and a
// many-to-many Vet *-* Specialty
func newTestRegistry(t *testing.T) *metadata.Registry {
	t.Helper()
	r := metadata.NewRegistry()
	require.NoError(t, r.Register(&metadata.Entity{
		Name: "Owner", Table: "owner", Columns: []string{"name"}, New: newStub,
		Associations: []*metadata.Association{
			{Name: "pets", Target: "Pet", Cardinality: metadata.OneToMany, Inverse: "owner", JoinColumn: "owner_id"},
			{Name: "visits", Target: "Visit", Cardinality: metadata.OneToMany, JoinColumn: "owner_id"},
		},
	}))
	require.NoError(t, r.Register(&metadata.Entity{
		Name: "Pet", Table: "pet", Columns: []string{"name"}, New: newStub,
		Associations: []*metadata.Association{
			{Name: "owner", Target: "Owner", Cardinality: metadata.ManyToOne, Inverse: "pets", JoinColumn: "owner_id", Owning: true},
			{Name: "toys", Target: "Toy", Cardinality: metadata.OneToMany, JoinColumn: "pet_id"},
		},
	}))
	require.NoError(t, r.Register(&metadata.Entity{
		Name: "Toy", Table: "toy", Columns: []string{"label"}, New: newStub,
		Associations: []*metadata.Association{
			{Name: "pet", Target: "Pet", Cardinality: metadata.ManyToOne, JoinColumn: "pet_id", Owning: true},
		},
	}))
	require.NoError(t, r.Register(&metadata.Entity{Name: "Visit", Table: "visit", Columns: []string{"note"}, New: newStub}))
	require.NoError(t, r.Register(&metadata.Entity{
		Name: "Vet", Table: "vet", Columns: []string{"name"}, New: newStub,
		Associations: []*metadata.Association{
			{Name: "specialties", Target: "Specialty", Cardinality: metadata.ManyToMany},
		},
	}))
	require.NoError(t, r.Register(&metadata.Entity{Name: "Specialty", Table: "specialty", Columns: []string{"name"}, New: newStub}))
	require.NoError(t, r.RegisterGraph("Owner", "Owner.withPets", "pets"))
	r.Freeze()
	return r
}

func newTestResolver(t *testing.T, opts ...Option) *Resolver {
	t.Helper()
	r, err := NewResolver(newTestRegistry(t), opts...)
	require.NoError(t, err)
	return r
}

func TestResolver_DefaultPlan(t *testing.T) {
	r := newTestResolver(t)

	p, err := r.Resolve(Query{Root: "Owner"})
	require.NoError(t, err)
	assert.Equal(t, ownerSQL, p.SQL())
	assert.Equal(t, StateBound, p.State())
	assert.False(t, p.JoinsCollection())
	require.Len(t, p.Nodes(), 1)
	assert.Equal(t, 2, p.Columns())

	deferred := p.Root().Deferred()
	require.Len(t, deferred, 2)
	assert.Equal(t, "pets", deferred[0].Name)
}

func TestResolver_DirectivesAgree(t *testing.T) {
	r := newTestResolver(t)

	queries := map[string]Query{
		"join fetch":     {Root: "Owner", JoinFetch: []string{"pets"}},
		"named graph":    {Root: "Owner", Graph: "Owner.withPets"},
		"attribute path": {Root: "Owner", AttributePaths: []string{"pets"}},
		"all combined":   {Root: "Owner", JoinFetch: []string{"pets"}, Graph: "Owner.withPets", AttributePaths: []string{"pets"}},
	}
	for name, q := range queries {
		t.Run(name, func(t *testing.T) {
			p, err := r.Resolve(q)
			require.NoError(t, err)
			assert.Equal(t, withPetsSQL, p.SQL())
			assert.True(t, p.JoinsCollection())
			require.Len(t, p.Nodes(), 2)

			pets := p.Root().Child("pets")
			require.NotNil(t, pets)
			assert.Equal(t, "t1", pets.Alias)
			assert.Equal(t, 2, pets.IDIndex)
			assert.Equal(t, 3, pets.ColumnIndex)
			assert.Equal(t, 4, pets.FKIndex)
			assert.Equal(t, "visits", p.Root().Deferred()[0].Name)
		})
	}

	text, err := r.ResolveText(withPetsText)
	require.NoError(t, err)
	assert.Equal(t, withPetsSQL, text.SQL())
}

func TestResolver_InlineWins(t *testing.T) {
	r := newTestResolver(t)
	p, err := r.Resolve(Query{Root: "Owner", JoinFetch: []string{"pets"}, Graph: "Owner.withPets"})
	require.NoError(t, err)
	assert.Equal(t, SourceJoinFetch, p.Root().Child("pets").Source)
}

func TestResolver_NestedAndToOne(t *testing.T) {
	r := newTestResolver(t)

	p, err := r.Resolve(Query{Root: "Pet", AttributePaths: []string{"owner.pets"}})
	require.NoError(t, err)
	assert.Equal(t, siblingsSQL, p.SQL())
	assert.Equal(t, "owner.pets", p.Nodes()[2].Path)
	assert.True(t, p.JoinsCollection())

	p, err = r.Resolve(Query{Root: "Pet", JoinFetch: []string{"owner"}, Limit: 5})
	require.NoError(t, err)
	assert.Equal(t, petOwnerSQL+" LIMIT 5", p.SQL())
	assert.False(t, p.JoinsCollection())
}

func TestResolver_Rejections(t *testing.T) {
	r := newTestResolver(t)

	tests := []struct {
		name  string
		query Query
		want  error
	}{
		{name: "cartesian", query: Query{Root: "Owner", AttributePaths: []string{"pets", "visits"}}, want: ErrCartesianFetch},
		{name: "nested collections", query: Query{Root: "Owner", JoinFetch: []string{"pets", "pets.toys"}}, want: ErrCartesianFetch},
		{name: "nested collection path", query: Query{Root: "Owner", AttributePaths: []string{"pets.toys"}}, want: ErrCartesianFetch},
		{name: "nested under graph", query: Query{Root: "Owner", Graph: "Owner.withPets", AttributePaths: []string{"pets.toys"}}, want: ErrCartesianFetch},
		{name: "cartesian across forms", query: Query{Root: "Owner", JoinFetch: []string{"visits"}, Graph: "Owner.withPets"}, want: ErrCartesianFetch},
		{name: "limit with collection", query: Query{Root: "Owner", JoinFetch: []string{"pets"}, Limit: 3}, want: ErrUnsafePagination},
		{name: "offset with collection", query: Query{Root: "Owner", Graph: "Owner.withPets", Offset: 3}, want: ErrUnsafePagination},
		{name: "many to many", query: Query{Root: "Vet", JoinFetch: []string{"specialties"}}, want: ErrUnsupportedAssociation},
		{name: "unknown graph", query: Query{Root: "Owner", Graph: "Owner.everything"}, want: metadata.ErrMetadataMissing},
		{name: "unknown path", query: Query{Root: "Owner", AttributePaths: []string{"cats"}}, want: metadata.ErrMetadataMissing},
		{name: "unknown root", query: Query{Root: "Cat"}, want: metadata.ErrMetadataMissing},
		{name: "unknown column", query: Query{Root: "Owner", Where: []Condition{{Column: "age", Operator: db.Equal, Value: 1}}}, want: metadata.ErrMetadataMissing},
		{name: "bad operator", query: Query{Root: "Owner", Where: []Condition{{Column: "name", Operator: "~", Value: 1}}}, want: ErrInvalidQuery},
		{name: "negative limit", query: Query{Root: "Owner", Limit: -1}, want: ErrInvalidQuery},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Resolve(tt.query)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	assert.Equal(t, 0, r.CachedPlans())
}

func TestResolver_WhereOrderPagination(t *testing.T) {
	r := newTestResolver(t)

	p, err := r.Resolve(Query{
		Root:    "Owner",
		Where:   []Condition{{Column: "name", Operator: db.Like, Value: "owner%"}},
		OrderBy: []Order{{Column: "name", Desc: true}},
		Limit:   2,
		Offset:  4,
	})
	require.NoError(t, err)
	assert.Equal(t, "SELECT t0.id, t0.name FROM owner t0 WHERE t0.name LIKE ? ORDER BY t0.name DESC, t0.id ASC LIMIT 2 OFFSET 4", p.SQL())
	assert.Equal(t, []interface{}{"owner%"}, p.Args())
	assert.Equal(t, StateBound, p.State())
}

func TestResolver_Cache(t *testing.T) {
	r := newTestResolver(t)

	first, err := r.EntityLoad("Pet", 1)
	require.NoError(t, err)
	second, err := r.EntityLoad("Pet", 2)
	require.NoError(t, err)

	assert.Equal(t, 1, r.CachedPlans())
	assert.Equal(t, first.SQL(), second.SQL())
	assert.Same(t, first.Root(), second.Root())
	assert.Equal(t, []interface{}{int64(1)}, first.Args())
	assert.Equal(t, []interface{}{int64(2)}, second.Args())

	_, err = r.Resolve(Query{Root: "Pet", Where: []Condition{{Column: "id", Operator: db.In, Value: []int64{1, 2}}}})
	require.NoError(t, err)
	_, err = r.Resolve(Query{Root: "Pet", Where: []Condition{{Column: "id", Operator: db.In, Value: []int64{1, 2, 3}}}})
	require.NoError(t, err)
	assert.Equal(t, 3, r.CachedPlans())

	uncached := newTestResolver(t, WithCacheSize(0))
	_, err = uncached.EntityLoad("Pet", 1)
	require.NoError(t, err)
	assert.Equal(t, 0, uncached.CachedPlans())
}

func TestResolver_CacheKeepsInArity(t *testing.T) {
	r := newTestResolver(t)
	in := func(v interface{}) Query {
		return Query{Root: "Owner", Where: []Condition{{Column: "name", Operator: db.In, Value: v}}}
	}

	tests := []struct {
		name     string
		value    interface{}
		wantSQL  string
		wantArgs []interface{}
	}{
		{name: "scalar", value: "owner1", wantSQL: "SELECT t0.id, t0.name FROM owner t0 WHERE t0.name IN (?) ORDER BY t0.id ASC", wantArgs: []interface{}{"owner1"}},
		{name: "nil", value: nil, wantSQL: "SELECT t0.id, t0.name FROM owner t0 WHERE 1 = 0 ORDER BY t0.id ASC"},
		{name: "empty slice", value: []string{}, wantSQL: "SELECT t0.id, t0.name FROM owner t0 WHERE 1 = 0 ORDER BY t0.id ASC"},
		{name: "one element slice", value: []string{"owner2"}, wantSQL: "SELECT t0.id, t0.name FROM owner t0 WHERE t0.name IN (?) ORDER BY t0.id ASC", wantArgs: []interface{}{"owner2"}},
		{name: "slice", value: []string{"a", "b"}, wantSQL: "SELECT t0.id, t0.name FROM owner t0 WHERE t0.name IN (?, ?) ORDER BY t0.id ASC", wantArgs: []interface{}{"a", "b"}},
		{name: "scalar again", value: "owner3", wantSQL: "SELECT t0.id, t0.name FROM owner t0 WHERE t0.name IN (?) ORDER BY t0.id ASC", wantArgs: []interface{}{"owner3"}},
	}
	// run in order: each case must not be served a plan cached by an earlier one of another arity
	for _, tt := range tests {
		p, err := r.Resolve(in(tt.value))
		require.NoError(t, err, tt.name)
		assert.Equal(t, tt.wantSQL, p.SQL(), tt.name)
		assert.Equal(t, tt.wantArgs, p.Args(), tt.name)
	}
	assert.Equal(t, 3, r.CachedPlans())
}

func TestResolver_AssociationLoad(t *testing.T) {
	r := newTestResolver(t)
	reg := r.Registry()

	owner, err := reg.Entity("Owner")
	require.NoError(t, err)
	pet, err := reg.Entity("Pet")
	require.NoError(t, err)
	vet, err := reg.Entity("Vet")
	require.NoError(t, err)

	p, err := r.AssociationLoad(owner.Association("pets"), 7, 0)
	require.NoError(t, err)
	assert.Equal(t, "SELECT t0.id, t0.name, t0.owner_id FROM pet t0 WHERE t0.owner_id = ? ORDER BY t0.id ASC", p.SQL())
	assert.Equal(t, []interface{}{int64(7)}, p.Args())

	p, err = r.AssociationLoad(pet.Association("owner"), 3, 7)
	require.NoError(t, err)
	assert.Equal(t, "SELECT t0.id, t0.name FROM owner t0 WHERE t0.id = ? ORDER BY t0.id ASC", p.SQL())
	assert.Equal(t, []interface{}{int64(7)}, p.Args())

	_, err = r.AssociationLoad(vet.Association("specialties"), 1, 0)
	assert.ErrorIs(t, err, ErrUnsupportedAssociation)
}

func TestPlan_StateMachine(t *testing.T) {
	r := newTestResolver(t)

	p, err := r.ResolveText("SELECT o FROM Owner o WHERE o.name = ?")
	require.NoError(t, err)
	assert.Equal(t, StateBuilt, p.State())
	assert.ErrorIs(t, p.MarkExecuted(), ErrPlanState)

	assert.ErrorIs(t, p.Bind(), ErrInvalidQuery)
	require.NoError(t, p.Bind("owner1"))
	assert.Equal(t, StateBound, p.State())

	require.NoError(t, p.MarkExecuted())
	require.NoError(t, p.Bind("owner2"))
	assert.Equal(t, StateBound, p.State())
	assert.Equal(t, []interface{}{"owner2"}, p.Args())

	require.NoError(t, p.MarkExecuted())
	require.NoError(t, p.MarkMaterialized())
	assert.Equal(t, StateMaterialized, p.State())

	assert.ErrorIs(t, p.Bind("owner3"), ErrPlanImmutable)
	assert.ErrorIs(t, p.MarkExecuted(), ErrPlanImmutable)
	assert.ErrorIs(t, p.MarkMaterialized(), ErrPlanState)
}
