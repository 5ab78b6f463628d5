// Package climeta reads, edits and writes CLI (ECMA-335) modules: the
// metadata tables, heaps, signatures and IL bodies carried by .NET
// assemblies.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct responsibilities:
//
//	climeta/             Root package with Open, Read and module summaries
//	├── cil/             Object model: types, members, attributes, bodies, writer
//	├── metadata/        Table schema, row codecs, heaps and coded indices
//	├── pe/              PE/COFF container reader and image writer
//	├── errors/          Structured error types for debugging
//	├── internal/buffer/ Position-tracked byte buffer
//	└── cmd/clidump/     Command line inspector
//
// # Quick Start
//
// Open an assembly and list its types:
//
//	m, err := climeta.Open(ctx, "Lib.dll")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	types, err := m.AllTypes()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, t := range types {
//	    fmt.Println(t.FullName())
//	}
//
// Edit and write it back:
//
//	t, _ := m.FindType("Acme.Greeter")
//	t.SetNamespace("Acme.Legacy")
//	if err := m.WriteFile("Lib.patched.dll"); err != nil {
//	    log.Fatal(err)
//	}
//
// # Resolving References
//
// References into other assemblies resolve through an injected resolver.
// There is no global one:
//
//	cache := cil.NewModuleCache([]string{"/usr/lib/mono/4.5"})
//	m, err := climeta.Open(ctx, "App.exe", cil.WithResolver(cache))
//
// # Thread Safety
//
// Every node of a module shares the module's mutex, so reads and edits are
// safe from multiple goroutines. Writing a module while another goroutine
// edits it produces an image of either state, never a mix.
//
// # Lazy Loading
//
// Collections are decoded on first access and cached. Modules opened with
// cil.WithDeferredLoading(false) decode everything up front, which surfaces
// malformed rows at open time instead of at the getter that reaches them.
package climeta
