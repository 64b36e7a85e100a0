package orm

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssign(t *testing.T) {
	var s string
	require.NoError(t, assign(&s, []byte("rex")))
	assert.Equal(t, "rex", s)
	require.NoError(t, assign(&s, nil))
	assert.Equal(t, "", s)

	var n int64
	require.NoError(t, assign(&n, []byte("42")))
	assert.Equal(t, int64(42), n)

	var b bool
	require.NoError(t, assign(&b, int64(1)))
	assert.True(t, b)

	var ns sql.NullString
	require.NoError(t, assign(&ns, "tom"))
	assert.Equal(t, sql.NullString{String: "tom", Valid: true}, ns)

	var f float64
	assert.Error(t, assign(&f, "x"))
	assert.Error(t, assign(&struct{}{}, int64(1)))
}

func TestCollection_ZeroValue(t *testing.T) {
	ctx := context.Background()
	var c Collection[*pet]
	assert.True(t, c.IsInitialized())

	n, err := c.Size(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	p := &pet{Name: "rex"}
	require.NoError(t, c.Add(p))
	ok, err := c.Contains(ctx, p)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = c.Contains(ctx, &pet{Name: "rex"})
	require.NoError(t, err)
	assert.False(t, ok)

	c.Set(nil)
	n, _ = c.Size(ctx)
	assert.Zero(t, n)
}

func TestReference_SetAndClear(t *testing.T) {
	ctx := context.Background()
	var r Reference[*owner]
	assert.True(t, r.IsInitialized())
	_, ok, err := r.Get(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	o := &owner{ID: 3}
	r.Set(o)
	got, ok, err := r.Get(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Same(t, o, got)
	assert.Equal(t, int64(3), r.ID())

	r.Set(nil)
	assert.Zero(t, r.ID())
	r.Set(o)
	r.Clear()
	_, ok, _ = r.Get(ctx)
	assert.False(t, ok)
}

func TestEntityNameOf(t *testing.T) {
	assert.Equal(t, "Owner", EntityNameOf[*owner]())
	assert.Equal(t, "Pet", EntityNameOf[*pet]())
	assert.Equal(t, "Owner#5", Key{Entity: "Owner", ID: 5}.String())
}
