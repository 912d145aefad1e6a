package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperpolymath/poly-db-lsp/internal/commands"
	"github.com/hyperpolymath/poly-db-lsp/internal/config"
	"github.com/hyperpolymath/poly-db-lsp/internal/host"
	"github.com/hyperpolymath/poly-db-lsp/internal/logging"
	"github.com/hyperpolymath/poly-db-lsp/internal/rpc"
	"github.com/hyperpolymath/poly-db-lsp/internal/workspace"
)

// app holds the process-wide state shared by all subcommands.
type app struct {
	in        io.Reader
	out       io.Writer
	errOut    io.Writer
	lookupEnv func(string) (string, bool)

	// launcher replaces process spawning in tests.
	launcher rpc.Launcher

	configPath     string
	lspPath        string
	logLevel       string
	logFormat      string
	output         string
	workspace      string
	requestTimeout time.Duration

	cfg    *config.Config
	logger *zap.Logger
}

// surfacedError marks failures that were already shown to the user.
type surfacedError struct {
	err error
}

func (e *surfacedError) Error() string { return e.err.Error() }

func (e *surfacedError) Unwrap() error { return e.err }

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               "polydb",
		Short:             "Command-line client for the PolyDB LSP engine",
		Long:              "Runs queries, inspects schemas, creates backups and manages connections through a PolyDB LSP engine process.",
		PersistentPreRunE: a.persistentPreRunE,
		SilenceErrors:     true,
		SilenceUsage:      true,
	}
	rootCmd.SetIn(a.in)
	rootCmd.SetOut(a.out)
	rootCmd.SetErr(a.errOut)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "path to a polydb.yaml, polydb.toml or polydb.json file (default: discovered in the workspace)")
	flags.StringVar(&a.lspPath, "lsp-path", "", "path to the PolyDB LSP executable (overrides lsp.path and $"+config.EnvLSPPath+")")
	flags.StringVar(&a.logLevel, "log-level", "", `log level ("debug", "info", "warn", "error")`)
	flags.StringVar(&a.logFormat, "log-format", "", `log format ("console", "json")`)
	flags.StringVarP(&a.output, "output", "o", "", `result format ("json", "pretty", "yaml")`)
	flags.StringVarP(&a.workspace, "workspace", "w", "", "workspace root announced to the engine and watched in the shell")
	flags.DurationVar(&a.requestTimeout, "request-timeout", 0, "abandon requests after this long (0 waits indefinitely)")

	rootCmd.AddCommand(
		newQueryCmd(a),
		newSchemaCmd(a),
		newBackupCmd(a),
		newConnectCmd(a),
		newShellCmd(a),
		newVersionCmd(a),
	)
	return rootCmd
}

// persistentPreRunE resolves the configuration and the logger.
func (a *app) persistentPreRunE(cmd *cobra.Command, args []string) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}

	cfg.ApplyEnv(a.lookupEnv)

	flags := cmd.Flags()
	if flags.Changed("lsp-path") {
		cfg.LSP.Path = a.lspPath
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = a.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = a.logFormat
	}
	if flags.Changed("output") {
		cfg.Output = a.output
	}
	if flags.Changed("workspace") {
		cfg.Workspace = a.workspace
	}
	if flags.Changed("request-timeout") {
		cfg.RequestTimeout = config.Duration(a.requestTimeout)
	}

	switch cfg.Output {
	case commands.FormatJSON, commands.FormatPretty, commands.FormatYAML:
	default:
		return fmt.Errorf("invalid output format %q", cfg.Output)
	}

	logger, err := logging.NewTo(a.errOut, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = logger
	if cfg.Source != "" {
		logger.Debug("loaded configuration", zap.String("path", cfg.Source))
	}
	return nil
}

func (a *app) loadConfig() (*config.Config, error) {
	if a.configPath != "" {
		if _, err := os.Stat(a.configPath); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", a.configPath, err)
		}
		return config.Load(a.configPath)
	}

	dir := a.workspace
	if dir == "" {
		dir = "."
	}
	cfg, err := config.Load(config.Discover(dir))
	if err != nil {
		return nil, err
	}
	if cfg.Source != "" && a.workspace == "" && cfg.Workspace == "." {
		cfg.Workspace = filepath.Dir(cfg.Source)
	}
	return cfg, nil
}

func (a *app) notifier() commands.Notifier {
	return &commands.WriterNotifier{Out: a.out, Err: a.errOut}
}

// session activates a host, runs fn and deactivates the host again.
func (a *app) session(ctx context.Context, watch bool, fn func(h *host.Host) error) error {
	opts := []host.Option{host.WithLogger(a.logger), host.WithWatch(watch)}
	if a.launcher != nil {
		opts = append(opts, host.WithLauncher(a.launcher))
	}

	h := host.New(a.cfg, a.notifier(), opts...)
	defer func() {
		if err := h.Deactivate(context.Background()); err != nil {
			a.logger.Warn("shutdown failed", zap.Error(err))
		}
		_ = a.logger.Sync()
	}()

	if err := h.Activate(ctx); err != nil {
		return &surfacedError{err}
	}
	if err := fn(h); err != nil {
		return &surfacedError{err}
	}
	return nil
}

func newQueryCmd(a *app) *cobra.Command {
	var file, lines string

	cmd := &cobra.Command{
		Use:   "query [QUERY]",
		Short: "Execute a query",
		Long:  "Executes QUERY, or the given lines of a query file, on the connected database.",
		Example: `  polydb query "SELECT * FROM orders LIMIT 10"
  polydb query --file reports/monthly.sql --lines 12:30`,
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			if file != "" {
				selected, err := selectFromFile(file, lines)
				if err != nil {
					return err
				}
				query = selected
			}

			return a.session(cmd.Context(), false, func(h *host.Host) error {
				return h.Run(cmd.Context(), commands.ExecuteQuery, &commands.Scripted{Query: query})
			})
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "read the query from a file")
	cmd.Flags().StringVarP(&lines, "lines", "l", "", `line range of --file to run, e.g. "3:7"`)
	return cmd
}

func selectFromFile(path, lines string) (string, error) {
	r, err := workspace.ParseRange(lines)
	if err != nil {
		return "", err
	}

	store := workspace.NewStore()
	doc, err := store.LoadFile(path)
	if err != nil {
		return "", err
	}
	return store.Selection(doc.URI, r)
}

func newSchemaCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Show the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.session(cmd.Context(), false, func(h *host.Host) error {
				return h.Run(cmd.Context(), commands.ShowSchema, &commands.Scripted{})
			})
		},
	}
}

func newBackupCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "backup [PATH]",
		Short: "Create a database backup",
		Long:  "Asks the engine to write a backup to PATH (default backup.sql).",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scripted := &commands.Scripted{Defaults: true}
			if len(args) == 1 {
				scripted.Answers = map[string]string{commands.KeyOutputPath: args[0]}
			}

			return a.session(cmd.Context(), false, func(h *host.Host) error {
				return h.Run(cmd.Context(), commands.CreateBackup, scripted)
			})
		},
	}
}

func newConnectCmd(a *app) *cobra.Command {
	var dbHost, port, database, user string

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Connect the engine to a database",
		Long:  "Connects the engine to a database. Values not given as flags are prompted for.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			term := commands.NewTerminal(cmd.InOrStdin(), cmd.ErrOrStderr())
			term.Preset = map[string]string{
				commands.KeyHost:     dbHost,
				commands.KeyPort:     port,
				commands.KeyDatabase: database,
				commands.KeyUser:     user,
			}

			return a.session(cmd.Context(), false, func(h *host.Host) error {
				return h.Run(cmd.Context(), commands.ConnectDatabase, term)
			})
		},
	}

	cmd.Flags().StringVar(&dbHost, "host", "", "database host")
	cmd.Flags().StringVar(&port, "port", "", "database port")
	cmd.Flags().StringVar(&database, "database", "", "database name")
	cmd.Flags().StringVar(&user, "user", "", "database user")
	return cmd
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		// Version needs no configuration.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "polydb %s\n", version)
			fmt.Fprintf(cmd.OutOrStdout(), "Commit: %s\n", commit)
			fmt.Fprintf(cmd.OutOrStdout(), "Built: %s\n", date)
		},
	}
}
