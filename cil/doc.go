// Package cil is the object model of a CLI (ECMA-335) module.
//
// A Module is decoded from a PE image with Read or Open, or built in memory
// with NewModule. Collections (types, members, attributes, bodies) are read
// on first access and cached; WithDeferredLoading(false) decodes everything
// up front instead. The graph can be edited and serialized again with
// Write, WriteFile or Bytes:
//
//	m, err := cil.Open(ctx, "Lib.dll")
//	if err != nil {
//	    return err
//	}
//	t, err := m.FindType("Acme.Greeter")
//	...
//	t.SetName("Welcomer")
//	err = m.WriteFile("Lib.out.dll")
//
// Rows read from the image keep their tokens on write. Definitions added in
// memory are numbered after them.
//
// # References
//
// TypeReference, MethodReference and FieldReference resolve to definitions
// in other assemblies through the AssemblyResolver installed with
// WithResolver. ModuleCache is a directory-based resolver that shares the
// modules it opens. A reference that cannot be bound fails with
// *errors.UnresolvedError.
//
// # Concurrency
//
// All nodes of a module share one mutex. Exported methods are safe for
// concurrent use, and Write holds the lock for the whole serialization.
package cil
