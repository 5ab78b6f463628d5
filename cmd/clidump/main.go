// Command clidump inspects and rewrites CLI (.NET) assemblies.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wippyai/cli-metadata/cil"
)

// app is the state shared by all commands of one invocation.
type app struct {
	cfgFile string
	verbose bool

	cfg *Config
	log *zap.Logger
	out io.Writer
}

func main() {
	if err := newRootCmd(os.Stdout).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: ")+err.Error())
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{out: out, log: zap.NewNop()}

	root := &cobra.Command{
		Use:   appName,
		Short: "Inspect and rewrite CLI (ECMA-335) assemblies",
		Long: titleStyle.Render(appName) + mutedStyle.Render(" - CLI metadata inspector") + `

clidump reads .NET assemblies and netmodules, prints their headers, metadata
tables and types, and can write them back to check that nothing is lost.

Referenced assemblies are looked up next to the input file and in the
search_dirs configured in clidump.yaml or CLIDUMP_SEARCH_DIRS.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = a.log.Sync()
		},
	}
	root.SetOut(out)

	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default is ./clidump.yaml or $XDG_CONFIG_HOME/clidump/clidump.yaml)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newInfoCmd(a),
		newTypesCmd(a),
		newTablesCmd(a),
		newRoundtripCmd(a),
		newBrowseCmd(a),
	)
	return root
}

// init loads configuration and sets up logging and colors.
func (a *app) init() error {
	cfg, used, err := loadConfig(a.cfgFile)
	if err != nil {
		return err
	}
	a.cfg = cfg

	log, err := newLogger(cfg.Log, a.verbose)
	if err != nil {
		return err
	}
	a.log = log
	if used != "" {
		a.log.Debug("loaded config", zap.String("path", used))
	}
	setupColor(cfg.Output.Color, a.out)
	return nil
}

// open reads the module at path. References resolve against the file's
// directory and the configured search directories.
func (a *app) open(ctx context.Context, path string, opts ...cil.Option) (*cil.Module, error) {
	dirs := append([]string{filepath.Dir(path)}, a.cfg.SearchDirs...)
	cache := cil.NewModuleCache(dirs, cil.WithLogger(a.log))
	opts = append([]cil.Option{cil.WithResolver(cache), cil.WithLogger(a.log)}, opts...)

	m, err := cil.Open(ctx, path, opts...)
	if err != nil {
		return nil, err
	}
	a.log.Debug("opened module", zap.String("path", path), zap.String("module", m.Name))
	return m, nil
}
