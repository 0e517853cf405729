package schema

import "unsafe"

// Layout is a byte size and alignment pair. Every registered schema has one,
// computed exactly once at registration.
type Layout struct {
	Size  uintptr
	Align uintptr
}

// maxLayoutSize bounds any computed size. Anything beyond this is a
// registration bug, not a storable value.
const maxLayoutSize uintptr = 1 << 40

// enumDiscriminantSize is the fixed width of the enum discriminant prefix.
// It never varies with the variant count so that serialized discriminants
// stay stable as variants are added.
const enumDiscriminantSize uintptr = 4

// alignUp rounds n up to the next multiple of align. align must be a power
// of two.
func alignUp(n, align uintptr) (uintptr, bool) {
	sum := n + align - 1
	if sum < n {
		return 0, false
	}
	return sum &^ (align - 1), true
}

func isPowerOfTwo(n uintptr) bool {
	return n != 0 && n&(n-1) == 0
}

// primitiveLayout returns the native layout of a fixed-width scalar kind.
func primitiveLayout(tag KindTag) Layout {
	switch tag {
	case KindI8, KindU8, KindBool:
		return Layout{Size: 1, Align: 1}
	case KindI16, KindU16:
		return Layout{Size: 2, Align: 2}
	case KindI32, KindU32, KindF32:
		return Layout{Size: 4, Align: 4}
	case KindI64, KindU64, KindF64:
		return Layout{Size: 8, Align: 8}
	case KindString:
		var s string
		return Layout{Size: unsafe.Sizeof(s), Align: unsafe.Alignof(s)}
	default:
		return Layout{}
	}
}

// structLayout lays fields out sequentially in declaration order: each
// field's offset is the running offset rounded up to the field's alignment,
// the struct's alignment is the maximum field alignment, and the final size
// is rounded up to that alignment. No reordering happens, ever — scripting
// and FFI collaborators address fields by these offsets.
func structLayout(fields []Field) (Layout, []uintptr, error) {
	var (
		offset  uintptr
		align   uintptr = 1
		offsets         = make([]uintptr, len(fields))
	)
	for i, f := range fields {
		if f.Schema == nil {
			return Layout{}, nil, ErrNilFieldSchema
		}
		fl := f.Schema.layout
		if fl.Align == 0 {
			// Layout not computed yet: the field schema is the one
			// currently being registered, i.e. direct self-containment.
			return Layout{}, nil, ErrInfiniteLayout
		}
		off, ok := alignUp(offset, fl.Align)
		if !ok {
			return Layout{}, nil, ErrLayoutOverflow
		}
		offsets[i] = off
		offset = off + fl.Size
		if offset < off || offset > maxLayoutSize {
			return Layout{}, nil, ErrLayoutOverflow
		}
		if fl.Align > align {
			align = fl.Align
		}
	}
	size, ok := alignUp(offset, align)
	if !ok || size > maxLayoutSize {
		return Layout{}, nil, ErrLayoutOverflow
	}
	return Layout{Size: size, Align: align}, offsets, nil
}

// enumLayout computes the layout of a tagged union: a fixed-width
// discriminant prefix followed by the largest variant payload, with the
// payload aligned to the maximum payload alignment.
func enumLayout(variants []Variant) (Layout, uintptr, error) {
	var (
		payloadAlign uintptr = 1
		payloadSize  uintptr
	)
	seen := make(map[uint32]struct{}, len(variants))
	for _, v := range variants {
		if _, dup := seen[v.Discriminant]; dup {
			return Layout{}, 0, ErrDuplicateVariant
		}
		seen[v.Discriminant] = struct{}{}
		if v.Payload == nil {
			continue
		}
		pl := v.Payload.layout
		if pl.Align == 0 {
			return Layout{}, 0, ErrInfiniteLayout
		}
		if pl.Align > payloadAlign {
			payloadAlign = pl.Align
		}
		if pl.Size > payloadSize {
			payloadSize = pl.Size
		}
	}
	align := payloadAlign
	if align < enumDiscriminantSize {
		align = enumDiscriminantSize
	}
	payloadOffset, ok := alignUp(enumDiscriminantSize, payloadAlign)
	if !ok {
		return Layout{}, 0, ErrLayoutOverflow
	}
	size, ok := alignUp(payloadOffset+payloadSize, align)
	if !ok || size > maxLayoutSize {
		return Layout{}, 0, ErrLayoutOverflow
	}
	return Layout{Size: size, Align: align}, payloadOffset, nil
}

// opaqueLayout validates an explicitly declared blob layout.
func opaqueLayout(size, align uintptr) (Layout, error) {
	if !isPowerOfTwo(align) {
		return Layout{}, ErrInvalidKind
	}
	rounded, ok := alignUp(size, align)
	if !ok || rounded > maxLayoutSize {
		return Layout{}, ErrLayoutOverflow
	}
	return Layout{Size: rounded, Align: align}, nil
}
