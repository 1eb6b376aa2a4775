// Package registry maps process type names to constructors.
//
// A Registry is an explicit object; there is no global. Plugin packages
// expose a register function and are loaded once per registry with
// LoadModule. Chain combines registries: a type unknown to one is looked up
// in the next, but a type that is found and fails to construct is reported
// immediately.
//
//	reg := registry.New()
//	if err := reg.LoadModule("builtin", processes.Module(algos)); err != nil {
//	    return err
//	}
//	proc, err := reg.Create("numbers", "src", block)
package registry
