package schema

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistryIDsAscendFromOne(t *testing.T) {
	r := NewRegistry(nil)
	a, err := r.Register(Definition{Name: "a", Kind: Kind{Tag: KindU32}})
	require.NoError(t, err)
	b, err := r.Register(Definition{Name: "b", Kind: Kind{Tag: KindU64}})
	require.NoError(t, err)

	require.Equal(t, SchemaID(1), a.ID())
	require.Equal(t, SchemaID(2), b.ID())
	require.Equal(t, 2, r.Len())

	var seen []SchemaID
	r.Range(func(s *Schema) bool {
		seen = append(seen, s.ID())
		return true
	})
	require.Equal(t, []SchemaID{1, 2}, seen)
}

func TestGetUnknownIDPanics(t *testing.T) {
	r := NewRegistry(nil)
	require.Panics(t, func() { r.Get(42) })
	require.Panics(t, func() { r.Get(0) })
}

func TestDuplicateNameRejected(t *testing.T) {
	r := NewRegistry(nil)
	_, err := r.Register(Definition{Name: "pos", Kind: Kind{Tag: KindU32}})
	require.NoError(t, err)
	_, err = r.Register(Definition{Name: "pos", Kind: Kind{Tag: KindU32}})
	require.ErrorIs(t, err, ErrDuplicateName)
}

// Two registrations with identical kinds are distinct schemas. Compatibility
// is identity, never structure.
func TestIdentityNotStructure(t *testing.T) {
	r, b := testRegistry(t)

	kind := StructOf(Field{Name: "x", Schema: b.F32}, Field{Name: "y", Schema: b.F32})
	s1, err := r.Register(Definition{Kind: kind})
	require.NoError(t, err)
	s2, err := r.Register(Definition{Kind: kind})
	require.NoError(t, err)

	require.NotEqual(t, s1.ID(), s2.ID())
	require.False(t, s1.Same(s2))
	require.True(t, s1.Same(s1))
}

func TestRegisterForBindsGoType(t *testing.T) {
	type vec2 struct{ X, Y float32 }
	r, b := testRegistry(t)

	s, err := RegisterFor[vec2](r, "vec2", StructOf(
		Field{Name: "x", Schema: b.F32},
		Field{Name: "y", Schema: b.F32},
	))
	require.NoError(t, err)

	found, ok := SchemaOf[vec2](r)
	require.True(t, ok)
	require.True(t, found.Same(s))

	byName, ok := r.LookupName("vec2")
	require.True(t, ok)
	require.True(t, byName.Same(s))
}

func TestRegisterForLayoutMismatch(t *testing.T) {
	r, _ := testRegistry(t)

	_, err := RegisterFor[uint64](r, "bad", Kind{Tag: KindU8})
	require.ErrorIs(t, err, ErrForeignLayout)
}

func TestBuiltinsIdempotent(t *testing.T) {
	r := NewRegistry(nil)
	b1, err := RegisterBuiltins(r)
	require.NoError(t, err)
	n := r.Len()
	b2, err := RegisterBuiltins(r)
	require.NoError(t, err)
	require.Equal(t, n, r.Len())
	require.True(t, b1.F32.Same(b2.F32))
	require.True(t, b1.Str.Same(b2.Str))
}

func TestRegisterRecursiveDirectSelfFieldRejected(t *testing.T) {
	r, _ := testRegistry(t)
	before := r.Len()

	_, err := r.RegisterRecursive("bad", func(self *Schema, rb RecursiveBuilder) Kind {
		return StructOf(Field{Name: "inner", Schema: self})
	})
	require.ErrorIs(t, err, ErrInfiniteLayout)
	// Rollback keeps the namespace clean for a retry.
	require.Equal(t, before, r.Len())
	_, ok := r.LookupName("bad")
	require.False(t, ok)
}

func TestTypeData(t *testing.T) {
	type marker struct{ Tag uint32 }
	r, b := testRegistry(t)

	key, err := RegisterFor[marker](r, "marker", StructOf(Field{Name: "tag", Schema: b.U32}))
	require.NoError(t, err)

	s, err := r.Register(Definition{Name: "subject", Kind: Kind{Tag: KindU32}})
	require.NoError(t, err)

	require.NoError(t, s.SetTypeData(marker{Tag: 9}))
	got, ok := TypeDataFor[marker](s)
	require.True(t, ok)
	require.Equal(t, uint32(9), got.Tag)

	err = s.SetTypeDataKeyed(key.ID(), marker{Tag: 10})
	require.ErrorIs(t, err, ErrTypeDataConflict)

	_, ok = TypeDataFor[marker](b.U64)
	require.False(t, ok)
}
