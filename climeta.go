package climeta

import (
	"context"
	"encoding/hex"

	"github.com/wippyai/cli-metadata/cil"
	"github.com/wippyai/cli-metadata/metadata"
)

// Open reads the module stored at path.
func Open(ctx context.Context, path string, opts ...cil.Option) (*cil.Module, error) {
	return cil.Open(ctx, path, opts...)
}

// Read decodes the module held in data. The slice must not be modified
// while the module is in use.
func Read(data []byte, opts ...cil.Option) (*cil.Module, error) {
	return cil.Read(data, opts...)
}

// Summary is a flat description of a module, as printed by clidump info.
type Summary struct {
	Name           string            `json:"name"`
	Assembly       string            `json:"assembly,omitempty"`
	Kind           string            `json:"kind"`
	Architecture   string            `json:"architecture"`
	RuntimeVersion string            `json:"runtime_version"`
	Mvid           string            `json:"mvid"`
	EntryPoint     string            `json:"entry_point,omitempty"`
	Types          int               `json:"types"`
	Methods        int               `json:"methods"`
	Fields         int               `json:"fields"`
	References     []string          `json:"references,omitempty"`
	Resources      []string          `json:"resources,omitempty"`
	Streams        []StreamSummary   `json:"streams,omitempty"`
	Tables         map[string]uint32 `json:"tables,omitempty"`
}

// StreamSummary describes one metadata stream of an image.
type StreamSummary struct {
	Name string `json:"name"`
	Size uint32 `json:"size"`
}

// Describe summarizes m. Stream and table counts are only present for
// modules read from an image.
func Describe(m *cil.Module) (*Summary, error) {
	s := &Summary{
		Name:           m.Name,
		Kind:           m.Kind.String(),
		Architecture:   m.Architecture.String(),
		RuntimeVersion: m.RuntimeVersion,
		Mvid:           hex.EncodeToString(m.Mvid[:]),
	}

	asm, err := m.Assembly()
	if err != nil {
		return nil, err
	}
	if asm != nil {
		s.Assembly = asm.FullName()
	}

	ep, err := m.EntryPoint()
	if err != nil {
		return nil, err
	}
	if ep != nil {
		s.EntryPoint = ep.Name
		if dt := ep.DeclaringType(); dt != nil {
			s.EntryPoint = dt.FullName() + "::" + ep.Name
		}
	}

	types, err := m.AllTypes()
	if err != nil {
		return nil, err
	}
	s.Types = len(types)
	for _, t := range types {
		ms, err := t.Methods()
		if err != nil {
			return nil, err
		}
		fs, err := t.Fields()
		if err != nil {
			return nil, err
		}
		s.Methods += len(ms)
		s.Fields += len(fs)
	}

	refs, err := m.AssemblyReferences()
	if err != nil {
		return nil, err
	}
	for _, r := range refs {
		s.References = append(s.References, r.FullName())
	}

	resources, err := m.Resources()
	if err != nil {
		return nil, err
	}
	for _, r := range resources {
		s.Resources = append(s.Resources, r.ResourceName())
	}

	if img := m.Image(); img != nil {
		for _, st := range img.Streams {
			s.Streams = append(s.Streams, StreamSummary{Name: st.Name, Size: st.Size})
		}
	}
	if tables := m.Tables(); tables != nil {
		s.Tables = RowCounts(tables)
	}
	return s, nil
}

// RowCounts returns the row count of every populated table by name.
func RowCounts(t *metadata.Tables) map[string]uint32 {
	out := make(map[string]uint32)
	for _, tbl := range t.Present() {
		out[tbl.String()] = t.RowCount(tbl)
	}
	return out
}
