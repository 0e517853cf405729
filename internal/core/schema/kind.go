package schema

// KindTag discriminates the shape of a registered type.
type KindTag uint8

const (
	KindInvalid KindTag = iota
	KindI8
	KindI16
	KindI32
	KindI64
	KindU8
	KindU16
	KindU32
	KindU64
	KindF32
	KindF64
	KindBool
	KindString
	KindOpaque
	KindStruct
	KindEnum
	KindVec
	KindMap
)

// String returns the lower-case name of the tag, matching the names used
// in schema definition files.
func (t KindTag) String() string {
	switch t {
	case KindI8:
		return "i8"
	case KindI16:
		return "i16"
	case KindI32:
		return "i32"
	case KindI64:
		return "i64"
	case KindU8:
		return "u8"
	case KindU16:
		return "u16"
	case KindU32:
		return "u32"
	case KindU64:
		return "u64"
	case KindF32:
		return "f32"
	case KindF64:
		return "f64"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	case KindOpaque:
		return "opaque"
	case KindStruct:
		return "struct"
	case KindEnum:
		return "enum"
	case KindVec:
		return "vec"
	case KindMap:
		return "map"
	default:
		return "invalid"
	}
}

// IsPrimitive reports whether the tag is a fixed-width scalar.
func (t KindTag) IsPrimitive() bool {
	return t >= KindI8 && t <= KindString
}

// Field is one struct member: an optional name and the registered schema
// of the member's type. Unnamed fields are addressed by index only.
type Field struct {
	Name   string
	Schema *Schema
}

// Variant is one enum alternative. Discriminants are explicit and stable;
// they are persisted in serialized assets and over the network, so they are
// never inferred from declaration position.
type Variant struct {
	Name         string
	Discriminant uint32
	// Payload is the struct-kind schema laid out after the discriminant.
	// May be nil for payload-less variants.
	Payload *Schema
}

// Kind is the tagged union describing a schema's shape. Exactly the members
// matching Tag are meaningful.
type Kind struct {
	Tag KindTag

	// Opaque declares an explicit byte layout the registry does not
	// interpret. Valid when Tag == KindOpaque.
	OpaqueSize  uintptr
	OpaqueAlign uintptr

	// Fields are the ordered struct members. Valid when Tag == KindStruct.
	Fields []Field

	// Variants are the ordered enum alternatives. Valid when Tag == KindEnum.
	Variants []Variant

	// Elem is the element schema of a vec. Valid when Tag == KindVec.
	// The reference is to a registered schema, never an inline layout,
	// which is what makes indirect recursion through a vec representable.
	Elem *Schema

	// Key and Value are the map schemas. Valid when Tag == KindMap.
	Key   *Schema
	Value *Schema
}

// StructOf is a convenience constructor for struct kinds.
func StructOf(fields ...Field) Kind {
	return Kind{Tag: KindStruct, Fields: fields}
}

// EnumOf is a convenience constructor for enum kinds.
func EnumOf(variants ...Variant) Kind {
	return Kind{Tag: KindEnum, Variants: variants}
}

// VecOf is a convenience constructor for vec kinds.
func VecOf(elem *Schema) Kind {
	return Kind{Tag: KindVec, Elem: elem}
}

// MapOf is a convenience constructor for map kinds.
func MapOf(key, value *Schema) Kind {
	return Kind{Tag: KindMap, Key: key, Value: value}
}

// OpaqueOf declares an uninterpreted blob of the given size and alignment.
func OpaqueOf(size, align uintptr) Kind {
	return Kind{Tag: KindOpaque, OpaqueSize: size, OpaqueAlign: align}
}
