package schema

// Builtins holds the primitive schemas every world bootstrap registers,
// each bound to its native Go type so casts and typed backing work.
type Builtins struct {
	I8, I16, I32, I64 *Schema
	U8, U16, U32, U64 *Schema
	F32, F64          *Schema
	Bool              *Schema
	Str               *Schema
}

// RegisterBuiltins registers (or returns the already registered) primitive
// schemas under their kind names.
func RegisterBuiltins(r *Registry) (*Builtins, error) {
	b := &Builtins{}
	type prim struct {
		dst **Schema
		tag KindTag
		reg func(name string) (*Schema, error)
	}
	prims := []prim{
		{&b.I8, KindI8, func(n string) (*Schema, error) { return RegisterFor[int8](r, n, Kind{Tag: KindI8}) }},
		{&b.I16, KindI16, func(n string) (*Schema, error) { return RegisterFor[int16](r, n, Kind{Tag: KindI16}) }},
		{&b.I32, KindI32, func(n string) (*Schema, error) { return RegisterFor[int32](r, n, Kind{Tag: KindI32}) }},
		{&b.I64, KindI64, func(n string) (*Schema, error) { return RegisterFor[int64](r, n, Kind{Tag: KindI64}) }},
		{&b.U8, KindU8, func(n string) (*Schema, error) { return RegisterFor[uint8](r, n, Kind{Tag: KindU8}) }},
		{&b.U16, KindU16, func(n string) (*Schema, error) { return RegisterFor[uint16](r, n, Kind{Tag: KindU16}) }},
		{&b.U32, KindU32, func(n string) (*Schema, error) { return RegisterFor[uint32](r, n, Kind{Tag: KindU32}) }},
		{&b.U64, KindU64, func(n string) (*Schema, error) { return RegisterFor[uint64](r, n, Kind{Tag: KindU64}) }},
		{&b.F32, KindF32, func(n string) (*Schema, error) { return RegisterFor[float32](r, n, Kind{Tag: KindF32}) }},
		{&b.F64, KindF64, func(n string) (*Schema, error) { return RegisterFor[float64](r, n, Kind{Tag: KindF64}) }},
		{&b.Bool, KindBool, func(n string) (*Schema, error) { return RegisterFor[bool](r, n, Kind{Tag: KindBool}) }},
		{&b.Str, KindString, func(n string) (*Schema, error) { return RegisterFor[string](r, n, Kind{Tag: KindString}) }},
	}
	for _, p := range prims {
		name := p.tag.String()
		if existing, ok := r.LookupName(name); ok {
			*p.dst = existing
			continue
		}
		s, err := p.reg(name)
		if err != nil {
			return nil, err
		}
		*p.dst = s
	}
	return b, nil
}

// MustRegisterBuiltins is RegisterBuiltins for bootstrap paths.
func MustRegisterBuiltins(r *Registry) *Builtins {
	b, err := RegisterBuiltins(r)
	if err != nil {
		panic(err)
	}
	return b
}
