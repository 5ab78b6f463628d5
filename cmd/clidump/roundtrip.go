package main

import (
	"bytes"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wippyai/cli-metadata/cil"
)

func newRoundtripCmd(a *app) *cobra.Command {
	var eager bool
	cmd := &cobra.Command{
		Use:   "roundtrip <in> <out>",
		Short: "Read a module, write it back and compare the two graphs",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, out := args[0], args[1]
			orig, err := a.open(cmd.Context(), in, cil.WithDeferredLoading(!eager))
			if err != nil {
				return err
			}
			if err := orig.WriteFile(out); err != nil {
				return err
			}
			copied, err := a.open(cmd.Context(), out)
			if err != nil {
				return fmt.Errorf("re-read %s: %w", out, err)
			}

			diffs, err := compareModules(orig, copied)
			if err != nil {
				return err
			}
			a.log.Debug("roundtrip compared", zap.String("in", in), zap.String("out", out), zap.Int("diffs", len(diffs)))
			if len(diffs) > 0 {
				for _, d := range diffs {
					fmt.Fprintln(a.out, errorStyle.Render("- ")+d)
				}
				return fmt.Errorf("%d difference(s) between %s and %s", len(diffs), in, out)
			}

			same, err := sameBytes(in, out)
			if err != nil {
				return err
			}
			note := "graphs match"
			if same {
				note += ", bytes identical"
			}
			fmt.Fprintln(a.out, memberStyle.Render("ok")+" "+note)
			return nil
		},
	}
	cmd.Flags().BoolVar(&eager, "eager", false, "decode the whole input before writing")
	return cmd
}

func sameBytes(a, b string) (bool, error) {
	x, err := os.ReadFile(a)
	if err != nil {
		return false, err
	}
	y, err := os.ReadFile(b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(x, y), nil
}

// compareModules lists the differences between the observable graphs of a
// and b: assembly identity, types with their members and tokens, method
// bodies, references and resources.
func compareModules(a, b *cil.Module) ([]string, error) {
	var diffs []string
	diff := func(format string, args ...any) {
		diffs = append(diffs, fmt.Sprintf(format, args...))
	}

	aa, err := a.Assembly()
	if err != nil {
		return nil, err
	}
	ba, err := b.Assembly()
	if err != nil {
		return nil, err
	}
	if assemblyName(aa) != assemblyName(ba) {
		diff("assembly: %s != %s", assemblyName(aa), assemblyName(ba))
	}

	at, err := collectTypes(a, true)
	if err != nil {
		return nil, err
	}
	bt, err := collectTypes(b, true)
	if err != nil {
		return nil, err
	}
	if len(at) != len(bt) {
		diff("type count: %d != %d", len(at), len(bt))
	}
	for i := range min(len(at), len(bt)) {
		x, y := at[i], bt[i]
		if x.Name != y.Name || x.Token != y.Token || x.Base != y.Base {
			diff("type %d: %s %s : %s != %s %s : %s", i, x.Name, x.Token, x.Base, y.Name, y.Token, y.Base)
			continue
		}
		if len(x.Members) != len(y.Members) {
			diff("%s: member count %d != %d", x.Name, len(x.Members), len(y.Members))
			continue
		}
		for j := range x.Members {
			if x.Members[j] != y.Members[j] {
				diff("%s: %s %s != %s %s", x.Name, x.Members[j].Kind, memberLine(x.Members[j]), y.Members[j].Kind, memberLine(y.Members[j]))
			}
		}
	}

	bodies, err := compareBodies(a, b)
	if err != nil {
		return nil, err
	}
	diffs = append(diffs, bodies...)

	ar, err := a.AssemblyReferences()
	if err != nil {
		return nil, err
	}
	br, err := b.AssemblyReferences()
	if err != nil {
		return nil, err
	}
	if len(ar) != len(br) {
		diff("assembly references: %d != %d", len(ar), len(br))
	}

	ares, err := a.Resources()
	if err != nil {
		return nil, err
	}
	bres, err := b.Resources()
	if err != nil {
		return nil, err
	}
	if len(ares) != len(bres) {
		diff("resources: %d != %d", len(ares), len(bres))
	}
	return diffs, nil
}

func compareBodies(a, b *cil.Module) ([]string, error) {
	at, err := a.AllTypes()
	if err != nil {
		return nil, err
	}
	bt, err := b.AllTypes()
	if err != nil {
		return nil, err
	}
	var diffs []string
	for i := range min(len(at), len(bt)) {
		am, err := at[i].Methods()
		if err != nil {
			return nil, err
		}
		bm, err := bt[i].Methods()
		if err != nil {
			return nil, err
		}
		for j := range min(len(am), len(bm)) {
			if am[j].HasBody() != bm[j].HasBody() || !am[j].HasBody() {
				continue
			}
			x, err := am[j].Body()
			if err != nil {
				return nil, err
			}
			y, err := bm[j].Body()
			if err != nil {
				return nil, err
			}
			if !bytes.Equal(x.Code, y.Code) || len(x.ExceptionHandlers) != len(y.ExceptionHandlers) ||
				len(x.Variables) != len(y.Variables) || x.InitLocals != y.InitLocals {
				diffs = append(diffs, fmt.Sprintf("%s::%s: body differs", at[i].FullName(), am[j].Name))
			}
		}
	}
	return diffs, nil
}

func assemblyName(a *cil.AssemblyDefinition) string {
	if a == nil {
		return "<none>"
	}
	return a.FullName()
}
