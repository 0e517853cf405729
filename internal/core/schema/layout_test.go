package schema

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testRegistry(t *testing.T) (*Registry, *Builtins) {
	t.Helper()
	r := NewRegistry(nil)
	b, err := RegisterBuiltins(r)
	require.NoError(t, err)
	return r, b
}

func TestStructLayoutSequential(t *testing.T) {
	r, b := testRegistry(t)

	s, err := r.Register(Definition{
		Name: "mixed",
		Kind: StructOf(
			Field{Name: "a", Schema: b.U8},
			Field{Name: "b", Schema: b.U32},
			Field{Name: "c", Schema: b.U16},
			Field{Name: "d", Schema: b.F64},
		),
	})
	require.NoError(t, err)

	require.Equal(t, uintptr(0), s.FieldOffset(0))
	require.Equal(t, uintptr(4), s.FieldOffset(1))
	require.Equal(t, uintptr(8), s.FieldOffset(2))
	require.Equal(t, uintptr(16), s.FieldOffset(3))
	require.Equal(t, uintptr(24), s.Layout().Size)
	require.Equal(t, uintptr(8), s.Layout().Align)
}

// Offsets must be reproducible from the declared field layouts alone:
// round the running offset up to each field's alignment, in declaration
// order, no reordering. Anything addressing fields by precomputed offsets
// depends on this.
func TestStructOffsetsRecomputable(t *testing.T) {
	r, b := testRegistry(t)

	cases := [][]*Schema{
		{b.U8, b.U8, b.U8},
		{b.U64, b.U8, b.U32},
		{b.Bool, b.F64, b.U16, b.I8, b.I64},
		{b.Str, b.U8, b.Str},
		{b.F32, b.F32},
	}
	for _, fieldSchemas := range cases {
		fields := make([]Field, len(fieldSchemas))
		for i, fs := range fieldSchemas {
			fields[i] = Field{Name: string(rune('a' + i)), Schema: fs}
		}
		s, err := r.Register(Definition{Kind: StructOf(fields...)})
		require.NoError(t, err)

		var offset uintptr
		var maxAlign uintptr = 1
		for i, fs := range fieldSchemas {
			fl := fs.Layout()
			if rem := offset % fl.Align; rem != 0 {
				offset += fl.Align - rem
			}
			require.Equal(t, offset, s.FieldOffset(i), "field %d", i)
			offset += fl.Size
			if fl.Align > maxAlign {
				maxAlign = fl.Align
			}
		}
		if rem := offset % maxAlign; rem != 0 {
			offset += maxAlign - rem
		}
		require.Equal(t, offset, s.Layout().Size)
		require.Equal(t, maxAlign, s.Layout().Align)
	}
}

func TestEnumLayout(t *testing.T) {
	r, b := testRegistry(t)

	s, err := r.Register(Definition{
		Name: "shape",
		Kind: EnumOf(
			Variant{Name: "empty", Discriminant: 0},
			Variant{Name: "circle", Discriminant: 1, Payload: b.F32},
			Variant{Name: "box", Discriminant: 7, Payload: b.F64},
		),
	})
	require.NoError(t, err)

	// Discriminant prefix is fixed at four bytes; the widest payload is
	// eight-byte aligned, so the payload starts at eight.
	require.Equal(t, uintptr(8), s.PayloadOffset())
	require.Equal(t, uintptr(16), s.Layout().Size)
	require.Equal(t, uintptr(8), s.Layout().Align)

	v, ok := s.VariantByDiscriminant(7)
	require.True(t, ok)
	require.Equal(t, "box", v.Name)
	_, ok = s.VariantByDiscriminant(3)
	require.False(t, ok)
}

func TestEnumDuplicateDiscriminant(t *testing.T) {
	r, b := testRegistry(t)

	_, err := r.Register(Definition{
		Kind: EnumOf(
			Variant{Name: "a", Discriminant: 1, Payload: b.U8},
			Variant{Name: "b", Discriminant: 1},
		),
	})
	require.ErrorIs(t, err, ErrDuplicateVariant)
}

func TestLayoutOverflow(t *testing.T) {
	r, _ := testRegistry(t)

	_, err := r.Register(Definition{Kind: OpaqueOf(1<<41, 8)})
	require.ErrorIs(t, err, ErrLayoutOverflow)

	huge, err := r.Register(Definition{Kind: OpaqueOf(1<<39, 8)})
	require.NoError(t, err)
	_, err = r.Register(Definition{
		Kind: StructOf(
			Field{Name: "a", Schema: huge},
			Field{Name: "b", Schema: huge},
			Field{Name: "c", Schema: huge},
		),
	})
	require.ErrorIs(t, err, ErrLayoutOverflow)
}

func TestOpaqueAlignMustBePowerOfTwo(t *testing.T) {
	r, _ := testRegistry(t)

	_, err := r.Register(Definition{Kind: OpaqueOf(16, 3)})
	require.ErrorIs(t, err, ErrInvalidKind)
}

func TestNilFieldSchemaRejected(t *testing.T) {
	r, _ := testRegistry(t)

	_, err := r.Register(Definition{Kind: StructOf(Field{Name: "a"})})
	require.ErrorIs(t, err, ErrNilFieldSchema)
}
