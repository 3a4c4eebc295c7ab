package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jward/injectpoint"
	"github.com/jward/injectpoint/internal/config"
	"github.com/jward/injectpoint/internal/source"
	"github.com/jward/injectpoint/scripts"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

// app carries the state shared by all commands of one invocation.
type app struct {
	configPath string
	db         string
	format     string
	mode       string
	scriptsDir string
	sourcesDir string

	cfg    *config.Config
	logger *zap.Logger
	out    io.Writer
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "injectpoint",
		Short:         "Resolve bytecode injection points against compiled classes",
		Long:          "injectpoint indexes compiled classes into SQLite and resolves injector declarations (method selectors and instruction-point descriptors) against them.",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
		// No Run: prints help by default.
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "config file (default: ./injectpoint.yaml if present)")
	pf.StringVar(&a.db, "db", "", "class index path (default: .injectpoint/index.db)")
	pf.StringVar(&a.format, "format", "", "output format: json|text|yaml")
	pf.StringVar(&a.scriptsDir, "scripts-dir", "", "load matcher scripts from disk instead of the embedded set")

	root.AddCommand(a.indexCmd(), a.targetsCmd(), a.resolveCmd(), a.checkCmd(), a.navigateCmd(), a.signatureCmd(), a.matchersCmd())
	return root
}

// setup loads configuration and lets explicitly set flags override it.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("db") {
		cfg.DB = a.db
	}
	if flags.Changed("format") {
		cfg.Format = a.format
	}
	if flags.Changed("mode") {
		cfg.Mode = a.mode
	}
	if flags.Changed("scripts-dir") {
		cfg.ScriptsDir = a.scriptsDir
	}
	if flags.Changed("sources") {
		cfg.SourcesDir = a.sourcesDir
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, err := cfg.Logger()
	if err != nil {
		return err
	}
	a.cfg, a.logger, a.out = cfg, logger, cmd.OutOrStdout()
	return nil
}

func (a *app) openEngine() (*injectpoint.Engine, error) {
	if err := a.cfg.EnsureDBDir(); err != nil {
		return nil, err
	}
	opts := []injectpoint.Option{
		injectpoint.WithLogger(a.logger),
		injectpoint.WithWorkers(a.cfg.Workers),
		injectpoint.WithDynamicPrefixes(a.cfg.DynamicPrefixes...),
	}
	if a.cfg.ScriptsDir != "" {
		opts = append(opts, injectpoint.WithScriptsDir(a.cfg.ScriptsDir))
	} else {
		opts = append(opts, injectpoint.WithScriptsFS(scripts.FS))
	}
	if a.cfg.SourcesDir != "" {
		opts = append(opts, injectpoint.WithSources(source.FSProvider{FS: os.DirFS(a.cfg.SourcesDir)}))
	}
	e, err := injectpoint.Open(a.cfg.DB, opts...)
	if err != nil {
		return nil, fmt.Errorf("opening engine: %w", err)
	}
	return e, nil
}

// withSites opens the engine, registers the sites in path and calls fn.
func (a *app) withSites(path string, fn func(e *injectpoint.Engine, ids []injectpoint.SiteID) error) error {
	sites, err := readSites(path)
	if err != nil {
		return err
	}
	e, err := a.openEngine()
	if err != nil {
		return err
	}
	defer e.Close()

	ids := make([]injectpoint.SiteID, len(sites))
	for i, s := range sites {
		ids[i] = e.Register(s)
	}
	a.logger.Debug("registered sites", zap.String("file", path), zap.Int("sites", len(ids)))
	return fn(e, ids)
}

func siteName(e *injectpoint.Engine, id injectpoint.SiteID) string {
	s, _ := e.Site(id)
	if s.Name != "" {
		return s.Name
	}
	return fmt.Sprintf("#%d", id)
}

// ---------------------------------------------------------------------------
// index
// ---------------------------------------------------------------------------

func (a *app) indexCmd() *cobra.Command {
	var prune bool
	cmd := &cobra.Command{
		Use:   "index <classes.yaml>...",
		Short: "Store compiled classes in the class index",
		Long:  "Reads class dumps and writes them to SQLite. The modification stamp advances only when a class's content changed.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var classes []*injectpoint.ClassNode
			for _, path := range args {
				cs, err := readClasses(path)
				if err != nil {
					return a.outputError("index", err)
				}
				classes = append(classes, cs...)
			}
			e, err := a.openEngine()
			if err != nil {
				return a.outputError("index", err)
			}
			defer e.Close()

			res, err := e.Index(cmd.Context(), classes)
			if err != nil {
				return a.outputError("index", err)
			}
			var removed []string
			if prune {
				keep := make([]string, len(classes))
				for i, c := range classes {
					keep[i] = c.Name
				}
				if removed, err = e.Prune(cmd.Context(), keep); err != nil {
					return a.outputError("index", err)
				}
			}
			a.logger.Info("indexed classes",
				zap.String("db", a.cfg.DB),
				zap.Int("changed", len(res.Changed)),
				zap.Int("unchanged", res.Unchanged),
				zap.Int("removed", len(removed)))
			return a.outputResult(CLIResult{Command: "index", Results: CLIIndex{
				Changed:   res.Changed,
				Unchanged: res.Unchanged,
				Removed:   removed,
				Stamp:     e.Store().Stamp(),
			}})
		},
	}
	cmd.Flags().BoolVar(&prune, "prune", false, "remove indexed classes absent from the given dumps")
	return cmd
}

// ---------------------------------------------------------------------------
// targets
// ---------------------------------------------------------------------------

func (a *app) targetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "targets <sites.yaml>",
		Short: "List the target methods each site resolves to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := a.withSites(args[0], func(e *injectpoint.Engine, ids []injectpoint.SiteID) error {
				var out []CLITarget
				for _, id := range ids {
					ts, err := e.ResolveTargets(cmd.Context(), id)
					if err != nil {
						return err
					}
					for _, t := range ts {
						out = append(out, targetToCLI(siteName(e, id), t))
					}
				}
				return a.outputResult(CLIResult{Command: "targets", Results: out, TotalCount: intPtr(len(out))})
			})
			if err != nil {
				return a.outputError("targets", err)
			}
			return nil
		},
	}
}

// ---------------------------------------------------------------------------
// resolve
// ---------------------------------------------------------------------------

func (a *app) resolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve <sites.yaml>",
		Short: "Resolve the injection points of each site",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode := a.cfg.CollectMode()
			err := a.withSites(args[0], func(e *injectpoint.Engine, ids []injectpoint.SiteID) error {
				var out []CLIInstruction
				for _, id := range ids {
					res, err := e.ResolveAllInstructions(cmd.Context(), id, mode)
					if err != nil {
						return err
					}
					for _, r := range res {
						out = append(out, instructionToCLI(siteName(e, id), r))
					}
				}
				return a.outputResult(CLIResult{Command: "resolve", Results: out, TotalCount: intPtr(len(out))})
			})
			if err != nil {
				return a.outputError("resolve", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&a.mode, "mode", "", "collect mode: first|last|all")
	return cmd
}

// ---------------------------------------------------------------------------
// check
// ---------------------------------------------------------------------------

func (a *app) checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <sites.yaml>",
		Short: "Report sites that do not resolve, are ambiguous or repeat a target",
		Long:  "Checks every site concurrently. Exits non-zero when any site is flagged; soft failures are reported but do not fail the run.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flagged := 0
			err := a.withSites(args[0], func(e *injectpoint.Engine, ids []injectpoint.SiteID) error {
				reports, err := e.CheckSites(cmd.Context(), ids)
				if err != nil {
					return err
				}
				out := make([]CLIReport, len(reports))
				for i, r := range reports {
					out[i] = reportToCLI(r)
					if !r.OK() {
						flagged++
					}
				}
				return a.outputResult(CLIResult{Command: "check", Results: out, TotalCount: intPtr(len(out))})
			})
			if err != nil {
				return a.outputError("check", err)
			}
			if flagged > 0 {
				return fmt.Errorf("%d site(s) flagged", flagged)
			}
			return nil
		},
	}
}

// ---------------------------------------------------------------------------
// navigate
// ---------------------------------------------------------------------------

func (a *app) navigateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "navigate <sites.yaml>",
		Short: "Map each site's matched instructions back to source",
		Long:  "Uses the Java sources under --sources to locate matched instructions. Without sources, bytecode-level locations are printed.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := a.withSites(args[0], func(e *injectpoint.Engine, ids []injectpoint.SiteID) error {
				var out []CLIElement
				for _, id := range ids {
					els, err := e.ResolveForNavigation(cmd.Context(), id)
					if err != nil {
						return err
					}
					for _, el := range els {
						out = append(out, CLIElement{Site: siteName(e, id), Element: el})
					}
				}
				return a.outputResult(CLIResult{Command: "navigate", Results: out, TotalCount: intPtr(len(out))})
			})
			if err != nil {
				return a.outputError("navigate", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&a.sourcesDir, "sources", "", "root directory of the target classes' Java sources")
	return cmd
}

// ---------------------------------------------------------------------------
// signature
// ---------------------------------------------------------------------------

func (a *app) signatureCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "signature <sites.yaml>",
		Short: "Print the handler signatures each site's injector accepts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := a.withSites(args[0], func(e *injectpoint.Engine, ids []injectpoint.SiteID) error {
				var out []CLISignature
				for _, id := range ids {
					sigs, err := e.ExpectedSignature(cmd.Context(), id)
					if err != nil {
						return err
					}
					for _, s := range sigs {
						out = append(out, signatureToCLI(siteName(e, id), s))
					}
				}
				return a.outputResult(CLIResult{Command: "signature", Results: out, TotalCount: intPtr(len(out))})
			})
			if err != nil {
				return a.outputError("signature", err)
			}
			return nil
		},
	}
}

// ---------------------------------------------------------------------------
// matchers
// ---------------------------------------------------------------------------

func (a *app) matchersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "matchers",
		Short: "List the script matchers available to SCRIPT descriptors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := a.openEngine()
			if err != nil {
				return a.outputError("matchers", err)
			}
			defer e.Close()

			names, err := e.Matchers()
			if err != nil {
				return a.outputError("matchers", err)
			}
			return a.outputResult(CLIResult{Command: "matchers", Results: names, TotalCount: intPtr(len(names))})
		},
	}
}

func intPtr(n int) *int { return &n }
