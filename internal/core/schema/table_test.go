package schema

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

type countingResource struct {
	ID    uint64
	drops *int
}

func (c countingResource) Dispose() {
	if c.drops != nil {
		*c.drops++
	}
}

func (c countingResource) Clone() countingResource { return c }

func TestTableForDerivesDisposeAndClone(t *testing.T) {
	table := TableFor[countingResource]()
	require.NotNil(t, table.Clone)
	require.NotNil(t, table.Default)
	require.NotNil(t, table.Drop)
	// No Hash/Equal methods declared: left to structural synthesis.
	require.Nil(t, table.Hash)
	require.Nil(t, table.Eq)

	drops := 0
	v := countingResource{ID: 3, drops: &drops}
	var dst countingResource
	table.Clone(unsafe.Pointer(&dst), unsafe.Pointer(&v))
	require.Equal(t, uint64(3), dst.ID)
	table.Drop(unsafe.Pointer(&dst))
	require.Equal(t, 1, drops)
}

func TestStructTableFieldwise(t *testing.T) {
	r, b := testRegistry(t)

	s, err := r.Register(Definition{
		Name: "pair",
		Kind: StructOf(
			Field{Name: "a", Schema: b.U8},
			Field{Name: "b", Schema: b.U64},
		),
	})
	require.NoError(t, err)
	table := s.Table()
	require.NotNil(t, table.Clone)
	require.NotNil(t, table.Hash)
	require.NotNil(t, table.Eq)

	type pair struct {
		A uint8
		_ [7]byte
		B uint64
	}
	x := pair{A: 1, B: 2}
	y := pair{A: 1, B: 2}
	require.True(t, table.Eq(unsafe.Pointer(&x), unsafe.Pointer(&y)))
	require.Equal(t,
		table.Hash(unsafe.Pointer(&x)),
		table.Hash(unsafe.Pointer(&y)))

	// Padding bytes must not reach the digest: scribble over them.
	xBytes := (*[16]byte)(unsafe.Pointer(&x))
	for i := 1; i < 8; i++ {
		xBytes[i] = 0xff
	}
	require.True(t, table.Eq(unsafe.Pointer(&x), unsafe.Pointer(&y)))
	require.Equal(t,
		table.Hash(unsafe.Pointer(&x)),
		table.Hash(unsafe.Pointer(&y)))

	y.B = 3
	require.False(t, table.Eq(unsafe.Pointer(&x), unsafe.Pointer(&y)))
}

func TestEnumTableDiscriminantDispatch(t *testing.T) {
	r, b := testRegistry(t)

	s, err := r.Register(Definition{
		Name: "maybe_u64",
		Kind: EnumOf(
			Variant{Name: "none", Discriminant: 0},
			Variant{Name: "some", Discriminant: 1, Payload: b.U64},
		),
	})
	require.NoError(t, err)
	table := s.Table()

	type maybe struct {
		disc uint32
		_    uint32
		val  uint64
	}
	some := maybe{disc: 1, val: 99}
	var cloned maybe
	table.Clone(unsafe.Pointer(&cloned), unsafe.Pointer(&some))
	require.Equal(t, uint32(1), cloned.disc)
	require.Equal(t, uint64(99), cloned.val)

	none := maybe{disc: 0, val: 77}
	otherNone := maybe{disc: 0, val: 12}
	// Payload bytes of a payload-less variant are dead; equality ignores
	// them.
	require.True(t, table.Eq(unsafe.Pointer(&none), unsafe.Pointer(&otherNone)))
	require.False(t, table.Eq(unsafe.Pointer(&none), unsafe.Pointer(&some)))
	require.NotEqual(t,
		table.Hash(unsafe.Pointer(&none)),
		table.Hash(unsafe.Pointer(&some)))

	// Default selects the first declared variant.
	var def maybe
	def.val = 5
	table.Default(unsafe.Pointer(&def))
	require.Equal(t, uint32(0), def.disc)
	require.Equal(t, uint64(0), def.val)
}

func TestStringTableHashesContents(t *testing.T) {
	r, b := testRegistry(t)
	_ = r

	table := b.Str.Table()
	a := "hello"
	// A second header pointing at a fresh copy of the same bytes.
	c := string([]byte("hello"))
	require.True(t, table.Eq(unsafe.Pointer(&a), unsafe.Pointer(&c)))
	require.Equal(t,
		table.Hash(unsafe.Pointer(&a)),
		table.Hash(unsafe.Pointer(&c)))
}
