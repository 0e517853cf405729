package schema

import "sync"

// ContainerOps is what the dynamic container implementation supplies for a
// vec or map schema: the fixed layout of the host container header and the
// function table that deep-operates through the element schemas.
type ContainerOps struct {
	Layout Layout
	Table  *FuncTable
}

// The container package installs these hooks at init time, the same way
// database drivers register themselves. The schema package cannot implement
// vec/map semantics itself without depending on the storage layer.
var (
	containerMu sync.RWMutex
	vecHook     func(elem *Schema) ContainerOps
	mapHook     func(key, value *Schema) ContainerOps
)

// InstallContainerHooks wires the vec/map container implementation into the
// registry. Calling it twice replaces the hooks; passing nil uninstalls.
func InstallContainerHooks(vec func(elem *Schema) ContainerOps, m func(key, value *Schema) ContainerOps) {
	containerMu.Lock()
	defer containerMu.Unlock()
	vecHook = vec
	mapHook = m
}

func containerHooks() (func(elem *Schema) ContainerOps, func(key, value *Schema) ContainerOps) {
	containerMu.RLock()
	defer containerMu.RUnlock()
	return vecHook, mapHook
}
