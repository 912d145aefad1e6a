package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hyperpolymath/poly-db-lsp/internal/commands"
	"github.com/hyperpolymath/poly-db-lsp/internal/host"
	"github.com/hyperpolymath/poly-db-lsp/internal/rpc"
)

const shellHelp = `Commands:
  query <text>           execute a query
  run <file> [A:B]       execute a query file, or lines A to B of it
  schema                 show the database schema
  backup [path]          create a backup (prompts for the path)
  connect                connect to a database (prompts for details)
  status                 show the engine connection state
  start                  start the engine again after it stopped
  help                   show this help
  exit                   leave the shell`

func newShellCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Start an interactive session",
		Long:  "Keeps one engine running, forwards query file changes in the workspace to it and reads commands from standard input.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.session(cmd.Context(), true, func(h *host.Host) error {
				sh := &shell{
					host:     h,
					in:       bufio.NewReader(cmd.InOrStdin()),
					out:      cmd.OutOrStdout(),
					notifier: h.Notifier(),
				}
				return sh.run(cmd.Context())
			})
		},
	}
}

type shell struct {
	host     *host.Host
	in       *bufio.Reader
	out      io.Writer
	notifier commands.Notifier
}

// run reads commands until exit or end of input. Command failures have
// already been shown and do not end the session.
func (s *shell) run(ctx context.Context) error {
	fmt.Fprintln(s.out, `PolyDB shell. Type "help" for commands.`)
	for {
		if ctx.Err() != nil {
			return nil
		}
		fmt.Fprint(s.out, "polydb> ")

		line, err := s.in.ReadString('\n')
		if err != nil && line == "" {
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(s.out)
				return nil
			}
			return err
		}

		verb, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
		rest = strings.TrimSpace(rest)
		if verb == "exit" || verb == "quit" {
			return nil
		}
		s.dispatch(ctx, verb, rest)
	}
}

func (s *shell) dispatch(ctx context.Context, verb, rest string) {
	term := &commands.Terminal{In: s.in, Out: s.out}

	switch verb {
	case "":
	case "help":
		fmt.Fprintln(s.out, shellHelp)
	case "status":
		s.status()
	case "start":
		if s.host.Client().State() != rpc.StateStopped {
			s.notifier.Warn("PolyDB LSP is already " + s.host.Client().State().String())
			return
		}
		_ = s.host.Activate(ctx)
	case "query":
		_ = s.host.Run(ctx, commands.ExecuteQuery, &commands.Scripted{Query: rest})
	case "run":
		file, lines, _ := strings.Cut(rest, " ")
		if file == "" {
			s.notifier.Error("Usage: run <file> [A:B]")
			return
		}
		query, err := selectFromFile(file, strings.TrimSpace(lines))
		if err != nil {
			s.notifier.Error(err.Error())
			return
		}
		_ = s.host.Run(ctx, commands.ExecuteQuery, &commands.Scripted{Query: query})
	case "schema":
		_ = s.host.Run(ctx, commands.ShowSchema, &commands.Scripted{})
	case "backup":
		if rest != "" {
			term.Preset = map[string]string{commands.KeyOutputPath: rest}
		}
		_ = s.host.Run(ctx, commands.CreateBackup, term)
	case "connect":
		_ = s.host.Run(ctx, commands.ConnectDatabase, term)
	default:
		s.notifier.Error(fmt.Sprintf("Unknown command %q. Type \"help\" for commands.", verb))
	}
}

func (s *shell) status() {
	client := s.host.Client()
	fmt.Fprintf(s.out, "state: %s\n", client.State())
	if info := client.ServerInfo(); info != nil && client.State() == rpc.StateRunning {
		fmt.Fprintf(s.out, "server: %s %s\n", info.Name, info.Version)
	}
}
