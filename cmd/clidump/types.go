package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wippyai/cli-metadata/cil"
)

type typeInfo struct {
	Name       string       `json:"name"`
	Kind       string       `json:"kind"`
	Token      string       `json:"token"`
	Base       string       `json:"base,omitempty"`
	Interfaces []string     `json:"interfaces,omitempty"`
	Members    []memberInfo `json:"members,omitempty"`
}

type memberInfo struct {
	Kind      string `json:"kind"`
	Name      string `json:"name"`
	Signature string `json:"signature"`
}

func newTypesCmd(a *app) *cobra.Command {
	var (
		members bool
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "types <file>",
		Short: "List the types defined by a module",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.open(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			infos, err := collectTypes(m, members)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(a.out)
				enc.SetIndent("", "  ")
				return enc.Encode(infos)
			}
			for _, ti := range infos {
				printType(a.out, ti)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&members, "members", "m", false, "include fields, methods, properties and events")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print types as JSON")
	return cmd
}

func collectTypes(m *cil.Module, members bool) ([]typeInfo, error) {
	types, err := m.AllTypes()
	if err != nil {
		return nil, err
	}
	out := make([]typeInfo, 0, len(types))
	for _, t := range types {
		ti, err := describeType(t, members)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", t.FullName(), err)
		}
		out = append(out, ti)
	}
	return out, nil
}

func describeType(t *cil.TypeDefinition, members bool) (typeInfo, error) {
	ti := typeInfo{Name: t.FullName(), Kind: typeKind(t), Token: t.Token().String()}

	base, err := t.BaseType()
	if err != nil {
		return ti, err
	}
	if base != nil {
		ti.Base = base.FullName()
	}
	ifaces, err := t.Interfaces()
	if err != nil {
		return ti, err
	}
	for _, impl := range ifaces {
		ti.Interfaces = append(ti.Interfaces, impl.InterfaceType.FullName())
	}
	if !members {
		return ti, nil
	}

	fields, err := t.Fields()
	if err != nil {
		return ti, err
	}
	for _, f := range fields {
		ft, err := f.FieldType()
		if err != nil {
			return ti, err
		}
		ti.Members = append(ti.Members, memberInfo{Kind: "field", Name: f.Name, Signature: typeName(ft)})
	}

	methods, err := t.Methods()
	if err != nil {
		return ti, err
	}
	for _, md := range methods {
		sig, err := methodSignature(md)
		if err != nil {
			return ti, err
		}
		ti.Members = append(ti.Members, memberInfo{Kind: "method", Name: md.Name, Signature: sig})
	}

	props, err := t.Properties()
	if err != nil {
		return ti, err
	}
	for _, p := range props {
		pt, err := p.PropertyType()
		if err != nil {
			return ti, err
		}
		ti.Members = append(ti.Members, memberInfo{Kind: "property", Name: p.Name, Signature: typeName(pt)})
	}

	events, err := t.Events()
	if err != nil {
		return ti, err
	}
	for _, e := range events {
		et, err := e.EventType()
		if err != nil {
			return ti, err
		}
		ti.Members = append(ti.Members, memberInfo{Kind: "event", Name: e.Name, Signature: typeName(et)})
	}
	return ti, nil
}

func typeKind(t *cil.TypeDefinition) string {
	switch {
	case t.IsInterface():
		return "interface"
	case t.IsEnum():
		return "enum"
	case t.IsValueType():
		return "struct"
	}
	return "class"
}

func typeName(t cil.Type) string {
	if t == nil {
		return "?"
	}
	return t.FullName()
}

// methodSignature renders md as "Name(T1 a, T2 b) : R".
func methodSignature(md *cil.MethodDefinition) (string, error) {
	ret, err := md.ReturnType()
	if err != nil {
		return "", err
	}
	params, err := md.Parameters()
	if err != nil {
		return "", err
	}
	sig, err := md.Signature()
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	if md.IsStatic() {
		sb.WriteString("static ")
	}
	sb.WriteString(md.Name)
	if sig.IsGeneric() {
		fmt.Fprintf(&sb, "``%d", sig.GenericArity)
	}
	sb.WriteByte('(')
	for i, p := range params {
		if i > 0 {
			sb.WriteString(", ")
		}
		pt := "?"
		if i < len(sig.Parameters) {
			pt = typeName(sig.Parameters[i])
		}
		sb.WriteString(pt)
		if p.Name != "" {
			sb.WriteByte(' ')
			sb.WriteString(p.Name)
		}
	}
	for i := len(params); i < len(sig.Parameters); i++ {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(typeName(sig.Parameters[i]))
	}
	sb.WriteString(") : ")
	sb.WriteString(typeName(ret))
	return sb.String(), nil
}

func printType(w io.Writer, ti typeInfo) {
	line := typeStyle.Render(ti.Name) + " " + mutedStyle.Render(ti.Kind+" "+ti.Token)
	if ti.Base != "" {
		line += mutedStyle.Render(" : ") + ti.Base
	}
	if len(ti.Interfaces) > 0 {
		line += mutedStyle.Render(", ") + strings.Join(ti.Interfaces, ", ")
	}
	fmt.Fprintln(w, line)
	for _, mi := range ti.Members {
		fmt.Fprintf(w, "  %-8s %s\n", mutedStyle.Render(mi.Kind), memberStyle.Render(memberLine(mi)))
	}
}

func memberLine(mi memberInfo) string {
	if mi.Kind == "method" {
		return mi.Signature
	}
	return mi.Signature + " " + mi.Name
}
