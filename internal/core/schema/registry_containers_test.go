// These tests exercise VecOf/MapOf, which need the container hooks that the
// storage package installs at init time. Importing storage from an in-package
// test would create an import cycle, so they live in the external test
// package with a blank import of storage.
package schema_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	. "github.com/lockstep-engine/lockstep/internal/core/schema"
	_ "github.com/lockstep-engine/lockstep/internal/core/storage"
)

func testRegistry(t *testing.T) (*Registry, *Builtins) {
	t.Helper()
	r := NewRegistry(nil)
	b, err := RegisterBuiltins(r)
	require.NoError(t, err)
	return r, b
}

func TestVecOfCaches(t *testing.T) {
	r, b := testRegistry(t)

	v1, err := r.VecOf(b.U32)
	require.NoError(t, err)
	v2, err := r.VecOf(b.U32)
	require.NoError(t, err)
	require.True(t, v1.Same(v2))

	other, err := r.VecOf(b.U64)
	require.NoError(t, err)
	require.False(t, v1.Same(other))

	m1, err := r.MapOf(b.U32, b.Str)
	require.NoError(t, err)
	m2, err := r.MapOf(b.U32, b.Str)
	require.NoError(t, err)
	require.True(t, m1.Same(m2))
}

func TestRegisterRecursiveVecOfSelf(t *testing.T) {
	r, b := testRegistry(t)

	node, err := r.RegisterRecursive("tree_node", func(self *Schema, rb RecursiveBuilder) Kind {
		children, err := rb.VecOf(self)
		require.NoError(t, err)
		return StructOf(
			Field{Name: "weight", Schema: b.U32},
			Field{Name: "children", Schema: children},
		)
	})
	require.NoError(t, err)
	require.Equal(t, KindStruct, node.Kind().Tag)

	// The vec field's element is the node itself.
	idx, ok := node.FieldIndex("children")
	require.True(t, ok)
	childVec := node.Kind().Fields[idx].Schema
	require.Equal(t, KindVec, childVec.Kind().Tag)
	require.True(t, childVec.Kind().Elem.Same(node))
}
