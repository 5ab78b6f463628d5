package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wippyai/cli-metadata/metadata"
)

func newTablesCmd(a *app) *cobra.Command {
	var dump string
	cmd := &cobra.Command{
		Use:   "tables <file>",
		Short: "List metadata tables, or dump the raw rows of one table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.open(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			tables := m.Tables()
			if tables == nil {
				return fmt.Errorf("%s: no table stream", args[0])
			}
			if dump == "" {
				printTables(a.out, tables)
				return nil
			}
			tbl, ok := tableByName(dump)
			if !ok {
				return fmt.Errorf("unknown table %q", dump)
			}
			return dumpRows(a.out, tables, tbl)
		},
	}
	cmd.Flags().StringVar(&dump, "rows", "", "dump the rows of the named table (e.g. TypeDef)")
	return cmd
}

func tableByName(name string) (metadata.Table, bool) {
	for tbl := range metadata.Table(metadata.TableCount) {
		if strings.EqualFold(tbl.String(), name) {
			return tbl, true
		}
	}
	return 0, false
}

func printTables(w io.Writer, t *metadata.Tables) {
	fmt.Fprintf(w, "%s  %s\n", headerStyle.Render(fmt.Sprintf("%-24s %8s %6s", "table", "rows", "size")), mutedStyle.Render("sorted"))
	for _, tbl := range t.Present() {
		sorted := ""
		if t.IsSorted(tbl) {
			sorted = "yes"
		}
		fmt.Fprintf(w, "%-24s %8d %6d  %s\n", fmt.Sprintf("0x%02x %s", uint8(tbl), tbl), t.RowCount(tbl), t.Layout.RowSize(tbl), sorted)
	}
	if t.HasPointerTables() {
		fmt.Fprintln(w, warnStyle.Render("uncompressed (#-) stream with pointer tables"))
	}
}

func dumpRows(w io.Writer, t *metadata.Tables, tbl metadata.Table) error {
	cols := metadata.Schema[tbl]
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	fmt.Fprintln(w, headerStyle.Render("rid\t"+strings.Join(names, "\t")))

	for rid := uint32(1); rid <= t.RowCount(tbl); rid++ {
		row, err := t.Row(tbl, rid)
		if err != nil {
			return err
		}
		vals := make([]string, len(row))
		for i, v := range row {
			vals[i] = fmt.Sprintf("0x%x", v)
		}
		fmt.Fprintf(w, "%d\t%s\n", rid, strings.Join(vals, "\t"))
	}
	return nil
}
