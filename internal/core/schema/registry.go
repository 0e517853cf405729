package schema

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/lockstep-engine/lockstep/internal/core/observability/log"
)

// Definition is the input to registration: a name, a shape and optionally
// an explicit function table and a foreign Go type.
type Definition struct {
	// Name is a collaborator-facing lookup key. Empty names are allowed
	// and simply not indexed; non-empty names must be unique.
	Name string

	Kind Kind

	// Table, when non-nil, is used exactly as given. Nil members then mean
	// the capability is deliberately absent (opaque no-clone/no-default
	// types). When Table is nil a table is synthesized from the kind.
	Table *FuncTable

	// GoType is the optional foreign-type identity token.
	GoType reflect.Type

	// native is set by RegisterFor and overlaid onto the synthesized
	// table so Go-derived clone/default win over structural ones.
	native *FuncTable
}

// Registry is the process-wide, append-only schema table. Entries are never
// mutated after registration and never freed: any type-erased pointer in
// the process carries only a SchemaID and must be able to dereference it
// for as long as the process lives.
type Registry struct {
	mu       sync.RWMutex
	schemas  []*Schema
	byName   map[string]*Schema
	byGoType map[reflect.Type]*Schema

	// vecCache and mapCache are conveniences for the VecOf/MapOf helpers
	// only. Explicit Register calls always allocate fresh ids: identity,
	// not structure, defines compatibility.
	vecCache map[SchemaID]*Schema
	mapCache map[[2]SchemaID]*Schema

	logger log.Log
}

// NewRegistry builds an empty registry. A nil logger disables registration
// logging.
func NewRegistry(logger log.Log) *Registry {
	if logger == nil {
		logger = log.Nop()
	}
	return &Registry{
		byName:   make(map[string]*Schema),
		byGoType: make(map[reflect.Type]*Schema),
		vecCache: make(map[SchemaID]*Schema),
		mapCache: make(map[[2]SchemaID]*Schema),
		logger:   logger,
	}
}

// Register assigns the next id, computes the layout, synthesizes or adopts
// the function table and retains the schema for the registry's lifetime.
// There is no unregister: the namespace is append-only by design.
func (r *Registry) Register(def Definition) (*Schema, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registerLocked(def)
}

// MustRegister is Register for bootstrap paths where failure is a bug.
func (r *Registry) MustRegister(def Definition) *Schema {
	s, err := r.Register(def)
	if err != nil {
		panic(fmt.Sprintf("schema: register %q: %v", def.Name, err))
	}
	return s
}

func (r *Registry) registerLocked(def Definition) (*Schema, error) {
	if def.Name != "" {
		if _, exists := r.byName[def.Name]; exists {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateName, def.Name)
		}
	}

	s := &Schema{
		id:       SchemaID(len(r.schemas) + 1),
		name:     def.Name,
		kind:     def.Kind,
		goType:   def.GoType,
		registry: r,
	}

	if err := r.computeLayout(s); err != nil {
		return nil, err
	}

	if def.GoType != nil && s.kind.Tag != KindVec && s.kind.Tag != KindMap {
		if def.GoType.Size() != s.layout.Size || uintptr(def.GoType.Align()) != s.layout.Align {
			return nil, fmt.Errorf("%w: %q computed %d/%d, Go type %s is %d/%d",
				ErrForeignLayout, def.Name, s.layout.Size, s.layout.Align,
				def.GoType, def.GoType.Size(), def.GoType.Align())
		}
	}

	if def.Table != nil {
		s.table = def.Table
	} else if s.table == nil {
		s.table = synthesizeTable(s)
	}
	if def.native != nil {
		s.table = overlayTable(s.table, def.native)
	}

	r.schemas = append(r.schemas, s)
	if s.name != "" {
		r.byName[s.name] = s
	}
	if s.goType != nil {
		if _, taken := r.byGoType[s.goType]; !taken {
			r.byGoType[s.goType] = s
		}
	}

	r.logger.Debug("schema registered",
		log.Uint32("id", uint32(s.id)),
		log.String("name", s.name),
		log.String("kind", s.kind.Tag.String()),
		log.Uintptr("size", s.layout.Size),
		log.Uintptr("align", s.layout.Align),
	)
	return s, nil
}

// computeLayout fills s.layout and the struct/enum offsets. Vec and map
// kinds also receive their table here, from the installed container hooks,
// because their layout is fixed by the host container representation.
func (r *Registry) computeLayout(s *Schema) error {
	k := s.kind
	switch {
	case k.Tag.IsPrimitive():
		s.layout = primitiveLayout(k.Tag)
	case k.Tag == KindOpaque:
		l, err := opaqueLayout(k.OpaqueSize, k.OpaqueAlign)
		if err != nil {
			return err
		}
		s.layout = l
	case k.Tag == KindStruct:
		l, offsets, err := structLayout(k.Fields)
		if err != nil {
			return err
		}
		s.layout, s.fieldOffsets = l, offsets
	case k.Tag == KindEnum:
		l, payloadOffset, err := enumLayout(k.Variants)
		if err != nil {
			return err
		}
		s.layout, s.payloadOffset = l, payloadOffset
	case k.Tag == KindVec:
		vec, _ := containerHooks()
		if vec == nil {
			return ErrNoContainerHooks
		}
		if k.Elem == nil {
			return ErrInvalidKind
		}
		ops := vec(k.Elem)
		s.layout, s.table = ops.Layout, ops.Table
	case k.Tag == KindMap:
		_, m := containerHooks()
		if m == nil {
			return ErrNoContainerHooks
		}
		if k.Key == nil || k.Value == nil {
			return ErrInvalidKind
		}
		ops := m(k.Key, k.Value)
		s.layout, s.table = ops.Layout, ops.Table
	default:
		return ErrInvalidKind
	}
	if s.layout.Align == 0 {
		return ErrInvalidKind
	}
	return nil
}

// synthesizeTable builds the structural function table for kinds that did
// not bring an explicit one.
func synthesizeTable(s *Schema) *FuncTable {
	switch s.kind.Tag {
	case KindString:
		return stringTable()
	case KindStruct:
		return structTable(s)
	case KindEnum:
		return enumTable(s)
	default:
		// Scalars and opaque blobs: byte-wise plain-data callbacks.
		return podTable(s.layout)
	}
}

// RegisterFor registers a schema for the concrete Go type T, deriving the
// native portion of the function table mechanically and validating that
// the declared kind's computed layout matches the Go type's real layout.
func RegisterFor[T any](r *Registry, name string, kind Kind) (*Schema, error) {
	return r.Register(Definition{
		Name:   name,
		Kind:   kind,
		GoType: reflect.TypeFor[T](),
		native: TableFor[T](),
	})
}

// MustRegisterFor is RegisterFor for bootstrap paths.
func MustRegisterFor[T any](r *Registry, name string, kind Kind) *Schema {
	s, err := RegisterFor[T](r, name, kind)
	if err != nil {
		panic(fmt.Sprintf("schema: register %q: %v", name, err))
	}
	return s
}

// RecursiveBuilder lets a RegisterRecursive build callback register the
// container schemas it needs while the registry lock is already held.
type RecursiveBuilder struct {
	r *Registry
}

// VecOf is Registry.VecOf usable inside a RegisterRecursive callback.
func (b RecursiveBuilder) VecOf(elem *Schema) (*Schema, error) {
	return b.r.vecOfLocked(elem)
}

// MapOf is Registry.MapOf usable inside a RegisterRecursive callback.
func (b RecursiveBuilder) MapOf(key, value *Schema) (*Schema, error) {
	return b.r.mapOfLocked(key, value)
}

// RegisterRecursive registers a schema whose kind may reference the schema
// itself through a vec or map. The build callback receives the allocated
// shell; a kind that embeds the shell directly as a struct field is
// rejected with ErrInfiniteLayout because only indirection terminates.
func (r *Registry) RegisterRecursive(name string, build func(self *Schema, b RecursiveBuilder) Kind) (*Schema, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if name != "" {
		if _, exists := r.byName[name]; exists {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateName, name)
		}
	}
	// Reserve the shell's slot up front so container schemas registered
	// inside build see a stable identity for it. Nothing is published
	// until the lock is released, so the rollback below cannot be
	// observed by readers.
	start := len(r.schemas)
	s := &Schema{
		id:       SchemaID(start + 1),
		name:     name,
		registry: r,
	}
	r.schemas = append(r.schemas, s)

	rollback := func() {
		for _, dead := range r.schemas[start:] {
			if dead.name != "" {
				delete(r.byName, dead.name)
			}
			if dead.goType != nil && r.byGoType[dead.goType] == dead {
				delete(r.byGoType, dead.goType)
			}
		}
		for k, v := range r.vecCache {
			if int(v.id) > start {
				delete(r.vecCache, k)
			}
		}
		for k, v := range r.mapCache {
			if int(v.id) > start {
				delete(r.mapCache, k)
			}
		}
		r.schemas = r.schemas[:start]
	}

	s.kind = build(s, RecursiveBuilder{r: r})
	if err := r.computeLayout(s); err != nil {
		rollback()
		return nil, err
	}
	if s.table == nil {
		s.table = synthesizeTable(s)
	}
	if name != "" {
		r.byName[name] = s
	}
	r.logger.Debug("schema registered",
		log.Uint32("id", uint32(s.id)),
		log.String("name", s.name),
		log.String("kind", s.kind.Tag.String()),
		log.Uintptr("size", s.layout.Size),
		log.Uintptr("align", s.layout.Align),
	)
	return s, nil
}

// Get returns the schema for a previously issued id. An id that was never
// issued is a bug in the type-registration bootstrap, not a recoverable
// runtime condition, so Get panics.
func (r *Registry) Get(id SchemaID) *Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id == 0 || int(id) > len(r.schemas) {
		panic(fmt.Sprintf("schema: unknown schema id %d", id))
	}
	return r.schemas[id-1]
}

// LookupName resolves a schema by its registration name.
func (r *Registry) LookupName(name string) (*Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byName[name]
	return s, ok
}

// LookupGoType resolves the schema registered for a concrete Go type. When
// several schemas share a Go type the first registered wins.
func (r *Registry) LookupGoType(rt reflect.Type) (*Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byGoType[rt]
	return s, ok
}

// SchemaOf resolves the schema registered for T.
func SchemaOf[T any](r *Registry) (*Schema, bool) {
	return r.LookupGoType(reflect.TypeFor[T]())
}

// Len returns the number of registered schemas.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.schemas)
}

// Range calls fn for every registered schema in ascending id order,
// stopping early when fn returns false.
func (r *Registry) Range(fn func(*Schema) bool) {
	r.mu.RLock()
	snapshot := r.schemas
	r.mu.RUnlock()
	for _, s := range snapshot {
		if !fn(s) {
			return
		}
	}
}

// VecOf returns a vec schema over elem, reusing one previously built by
// this helper. Explicitly registered vec kinds are not deduplicated.
func (r *Registry) VecOf(elem *Schema) (*Schema, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.vecOfLocked(elem)
}

func (r *Registry) vecOfLocked(elem *Schema) (*Schema, error) {
	if s, ok := r.vecCache[elem.id]; ok {
		return s, nil
	}
	s, err := r.registerLocked(Definition{Kind: VecOf(elem)})
	if err != nil {
		return nil, err
	}
	r.vecCache[elem.id] = s
	return s, nil
}

// MapOf returns a map schema over (key, value), reusing one previously
// built by this helper.
func (r *Registry) MapOf(key, value *Schema) (*Schema, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mapOfLocked(key, value)
}

func (r *Registry) mapOfLocked(key, value *Schema) (*Schema, error) {
	ck := [2]SchemaID{key.id, value.id}
	if s, ok := r.mapCache[ck]; ok {
		return s, nil
	}
	s, err := r.registerLocked(Definition{Kind: MapOf(key, value)})
	if err != nil {
		return nil, err
	}
	r.mapCache[ck] = s
	return s, nil
}

var (
	globalRegistry *Registry
	globalOnce     sync.Once
)

// Initialize constructs the process-wide registry exactly once and returns
// it. Later calls return the already-initialized registry regardless of
// arguments.
func Initialize(logger log.Log) *Registry {
	globalOnce.Do(func() {
		globalRegistry = NewRegistry(logger)
	})
	return globalRegistry
}

// Provide returns the process-wide registry, initializing it with a no-op
// logger if the bootstrap has not run yet.
func Provide() *Registry {
	return Initialize(nil)
}
