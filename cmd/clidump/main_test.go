package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/cli-metadata/cil"
)

// writeSample writes Sample.dll with one class, one interface and one enum.
func writeSample(t *testing.T) string {
	t.Helper()
	m := cil.NewModule("Sample.dll", cil.ModuleDLL)
	m.SetAssembly(cil.NewAssemblyDefinition("Sample", cil.Version{Major: 3}))
	object := m.CorlibNamed("System", "Object", false)
	i4 := m.CorlibType(cil.ElementI4)

	greeter := cil.NewTypeDefinition("Acme", "Greeter", cil.TypePublic, object)
	require.NoError(t, m.AddType(greeter))
	require.NoError(t, greeter.AddField(cil.NewFieldDefinition("count", cil.FieldPrivate, i4)))
	answer := cil.NewMethodDefinition("Answer", cil.MethodPublic|cil.MethodStatic, 0, i4)
	answer.SetBody(cil.NewMethodBody([]byte{0x1F, 0x2A, 0x2A}))
	require.NoError(t, greeter.AddMethod(answer))

	shape := cil.NewTypeDefinition("Acme", "IShape", cil.TypePublic|cil.TypeInterface|cil.TypeAbstract, nil)
	require.NoError(t, m.AddType(shape))

	color := cil.NewTypeDefinition("Acme", "Color", cil.TypePublic|cil.TypeSealed, m.CorlibNamed("System", "Enum", false))
	require.NoError(t, m.AddType(color))
	require.NoError(t, color.AddField(cil.NewFieldDefinition("value__", cil.FieldPublic|cil.FieldSpecialName|cil.FieldRTSpecialName, i4)))

	path := filepath.Join(t.TempDir(), "Sample.dll")
	require.NoError(t, m.WriteFile(path))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	cfg, used, err := loadConfig("")
	require.NoError(t, err)
	assert.Empty(t, used)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, "auto", cfg.Output.Color)
	assert.Empty(t, cfg.SearchDirs)
}

func TestLoadConfigFile(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	dir := filepath.Join(xdg, appName)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "clidump.yaml"), []byte(`
search_dirs:
  - /opt/ref
  - /usr/lib/mono
log:
  level: debug
  format: json
output:
  color: never
`), 0o644))

	cfg, used, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "clidump.yaml"), used)
	assert.Equal(t, []string{"/opt/ref", "/usr/lib/mono"}, cfg.SearchDirs)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "never", cfg.Output.Color)
}

func TestLoadConfigExplicitTOMLAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.toml")
	require.NoError(t, os.WriteFile(path, []byte("[log]\nlevel = \"info\"\n"), 0o644))
	t.Setenv("CLIDUMP_OUTPUT_COLOR", "always")

	cfg, used, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, path, used)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "always", cfg.Output.Color)
}

func TestLoadConfigErrors(t *testing.T) {
	_, _, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  format: xml\n"), 0o644))
	_, _, err = loadConfig(path)
	require.ErrorContains(t, err, "log.format")
}

func TestNewLoggerRejectsLevel(t *testing.T) {
	_, err := newLogger(LogConfig{Level: "loud", Format: "console"}, false)
	require.Error(t, err)

	log, err := newLogger(LogConfig{Level: "error", Format: "json"}, true)
	require.NoError(t, err)
	assert.True(t, log.Core().Enabled(-1), "verbose enables debug")
}

func TestInfoCommand(t *testing.T) {
	out, err := run(t, "info", writeSample(t))
	require.NoError(t, err)
	assert.Contains(t, out, "Sample, Version=3.0.0.0")
	assert.Contains(t, out, "TypeDef")
	assert.Contains(t, out, "#Strings")
	assert.Contains(t, out, "ILONLY")
}

func TestTypesJSON(t *testing.T) {
	out, err := run(t, "types", "--members", "--json", writeSample(t))
	require.NoError(t, err)

	var infos []typeInfo
	require.NoError(t, json.Unmarshal([]byte(out), &infos))
	byName := make(map[string]typeInfo)
	for _, ti := range infos {
		byName[ti.Name] = ti
	}

	greeter := byName["Acme.Greeter"]
	assert.Equal(t, "class", greeter.Kind)
	assert.Equal(t, "System.Object", greeter.Base)
	assert.Contains(t, greeter.Members, memberInfo{Kind: "method", Name: "Answer", Signature: "static Answer() : System.Int32"})
	assert.Contains(t, greeter.Members, memberInfo{Kind: "field", Name: "count", Signature: "System.Int32"})

	assert.Equal(t, "interface", byName["Acme.IShape"].Kind)
	assert.Equal(t, "enum", byName["Acme.Color"].Kind)
}

func TestTypesPlain(t *testing.T) {
	out, err := run(t, "types", writeSample(t))
	require.NoError(t, err)
	assert.Contains(t, out, "Acme.Greeter")
	assert.NotContains(t, out, "Answer")
}

func TestTablesCommand(t *testing.T) {
	path := writeSample(t)

	out, err := run(t, "tables", path)
	require.NoError(t, err)
	assert.Contains(t, out, "0x02 TypeDef")

	out, err = run(t, "tables", "--rows", "typedef", path)
	require.NoError(t, err)
	assert.Contains(t, out, "TypeName")

	_, err = run(t, "tables", "--rows", "Nope", path)
	require.ErrorContains(t, err, "unknown table")
}

func TestRoundtripCommand(t *testing.T) {
	in := writeSample(t)
	out := filepath.Join(t.TempDir(), "Sample.out.dll")

	stdout, err := run(t, "roundtrip", "--eager", in, out)
	require.NoError(t, err)
	assert.Contains(t, stdout, "graphs match")
	assert.FileExists(t, out)

	// a rewritten image is a fixed point of the writer
	stdout, err = run(t, "roundtrip", out, filepath.Join(t.TempDir(), "again.dll"))
	require.NoError(t, err)
	assert.Contains(t, stdout, "bytes identical")
}

func TestCompareModulesReportsRename(t *testing.T) {
	path := writeSample(t)
	a, err := cil.Open(t.Context(), path)
	require.NoError(t, err)
	b, err := cil.Open(t.Context(), path)
	require.NoError(t, err)

	greeter, err := b.FindType("Acme.Greeter")
	require.NoError(t, err)
	greeter.SetName("Welcomer")

	diffs, err := compareModules(a, b)
	require.NoError(t, err)
	require.Len(t, diffs, 1)
	assert.Contains(t, diffs[0], "Acme.Welcomer")
}

func TestBrowseRequiresTerminal(t *testing.T) {
	_, err := run(t, "browse", writeSample(t))
	require.ErrorContains(t, err, "interactive terminal")
}

func TestBrowseModel(t *testing.T) {
	types := []typeInfo{
		{Name: "Acme.Greeter", Kind: "class", Members: []memberInfo{{Kind: "method", Name: "Answer", Signature: "static Answer() : System.Int32"}}},
		{Name: "Acme.IShape", Kind: "interface"},
		{Name: "Other.Thing", Kind: "class"},
	}
	m := newBrowseModel("Sample.dll", func() ([]typeInfo, error) { return types, nil })
	assert.Contains(t, m.View(), "Loading")

	m.Update(m.loadTypes())
	assert.Len(t, m.visible, 3)
	assert.Contains(t, m.View(), "Acme.Greeter")
	assert.Contains(t, m.details.View(), "Answer")

	key := func(s string) tea.KeyMsg { return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)} }
	m.Update(key("j"))
	cur, ok := m.current()
	require.True(t, ok)
	assert.Equal(t, "Acme.IShape", cur.Name)

	m.Update(key("/"))
	require.True(t, m.filter.Focused())
	for _, r := range "other" {
		m.Update(key(string(r)))
	}
	assert.Equal(t, []int{2}, m.visible)
	cur, _ = m.current()
	assert.Equal(t, "Other.Thing", cur.Name)

	m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	assert.False(t, m.filter.Focused())
	assert.Len(t, m.visible, 3)

	_, cmd := m.Update(key("q"))
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}
