package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	climeta "github.com/wippyai/cli-metadata"
	"github.com/wippyai/cli-metadata/pe"
)

func newInfoCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "info <file>",
		Short: "Print PE and CLI headers, streams and table row counts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.open(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			s, err := climeta.Describe(m)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(a.out)
				enc.SetIndent("", "  ")
				return enc.Encode(s)
			}
			printInfo(a.out, s, m.Image())
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the summary as JSON")
	return cmd
}

func printInfo(w io.Writer, s *climeta.Summary, img *pe.Image) {
	fmt.Fprintln(w, titleStyle.Render(s.Name))
	field := func(name, value string) {
		if value != "" {
			fmt.Fprintf(w, "  %-16s %s\n", mutedStyle.Render(name), value)
		}
	}
	field("assembly", s.Assembly)
	field("kind", s.Kind)
	field("architecture", s.Architecture)
	field("runtime", s.RuntimeVersion)
	field("mvid", s.Mvid)
	field("entry point", s.EntryPoint)
	field("types", fmt.Sprint(s.Types))
	field("methods", fmt.Sprint(s.Methods))
	field("fields", fmt.Sprint(s.Fields))

	if img != nil {
		fmt.Fprintln(w)
		fmt.Fprintln(w, headerStyle.Render("Image"))
		field("timestamp", time.Unix(int64(img.Timestamp), 0).UTC().Format(time.RFC3339))
		field("image base", fmt.Sprintf("0x%x", img.ImageBase))
		field("subsystem", fmt.Sprint(img.Subsystem))
		field("cli flags", cliFlags(img.CLI.Flags))
		field("metadata", fmt.Sprintf("%d.%d %s", img.MetadataMajor, img.MetadataMinor, img.RuntimeVersion))
		for _, sec := range img.Sections {
			field(sec.Name, fmt.Sprintf("va 0x%x size 0x%x raw 0x%x", sec.VirtualAddress, sec.VirtualSize, sec.SizeOfRawData))
		}
	}

	if len(s.Streams) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, headerStyle.Render("Streams"))
		for _, st := range s.Streams {
			field(st.Name, fmt.Sprintf("%d bytes", st.Size))
		}
	}
	if len(s.Tables) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, headerStyle.Render("Tables"))
		names := make([]string, 0, len(s.Tables))
		for name := range s.Tables {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			field(name, fmt.Sprint(s.Tables[name]))
		}
	}
	if len(s.References) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, headerStyle.Render("References"))
		for _, r := range s.References {
			fmt.Fprintf(w, "  %s\n", r)
		}
	}
	if len(s.Resources) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, headerStyle.Render("Resources"))
		for _, r := range s.Resources {
			fmt.Fprintf(w, "  %s\n", r)
		}
	}
}

func cliFlags(f uint32) string {
	names := []struct {
		bit  uint32
		name string
	}{
		{pe.CLIFlagILOnly, "ILONLY"},
		{pe.CLIFlag32BitRequired, "32BITREQUIRED"},
		{pe.CLIFlagILLibrary, "IL_LIBRARY"},
		{pe.CLIFlagStrongNameSigned, "STRONGNAMESIGNED"},
		{pe.CLIFlagNativeEntryPoint, "NATIVE_ENTRYPOINT"},
		{pe.CLIFlagTrackDebugData, "TRACKDEBUGDATA"},
		{pe.CLIFlag32BitPreferred, "32BITPREFERRED"},
	}
	out := fmt.Sprintf("0x%08x", f)
	for _, n := range names {
		if f&n.bit != 0 {
			out += " " + n.name
		}
	}
	return out
}
