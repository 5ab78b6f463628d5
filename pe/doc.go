// Package pe reads and writes the PE/COFF container of CLI images.
//
// Read locates the CLI header and the metadata root and exposes the raw
// metadata streams, managed resources, strong-name blob, debug directory and
// Win32 resources. ImageWriter lays out a single .text section holding every
// CLI segment, plus optional .rsrc and .reloc sections, and serializes the
// whole image in memory.
package pe
