// Package commands implements the user commands offered on top of the
// engine façade. Each command collects its arguments through an Args
// strategy, issues at most one request and reports the outcome as exactly
// one notification.
package commands

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/hyperpolymath/poly-db-lsp/internal/rpc"
)

// Command ids.
const (
	ExecuteQuery    = "polydb.executeQuery"
	ShowSchema      = "polydb.showSchema"
	CreateBackup    = "polydb.createBackup"
	ConnectDatabase = "polydb.connectDatabase"
)

var (
	// ErrUnknownCommand is returned by Run for ids that are not registered.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrNoSelection is returned when execute-query has nothing to run.
	ErrNoSelection = errors.New("No query selected")
)

// Facade is the part of the engine client the commands use.
type Facade interface {
	ExecuteQuery(ctx context.Context, query string) (*rpc.QueryResult, error)
	GetSchema(ctx context.Context) (*rpc.Schema, error)
	CreateBackup(ctx context.Context, outputPath string) (*rpc.Backup, error)
	Connect(ctx context.Context, params rpc.ConnectParams) (*rpc.ConnectAck, error)
}

// Invocation carries everything a handler needs for one run.
type Invocation struct {
	Facade   Facade
	Args     Args
	Notifier Notifier
	Renderer Renderer
}

// Handler runs a command. The error it returns has already been shown.
type Handler func(ctx context.Context, inv Invocation) error

// Registry maps command ids to handlers.
type Registry struct {
	handlers map[string]Handler
	renderer Renderer
}

// NewRegistry returns a registry holding the built-in commands.
func NewRegistry(renderer Renderer) *Registry {
	r := &Registry{
		handlers: make(map[string]Handler),
		renderer: renderer,
	}
	r.Register(ExecuteQuery, executeQuery)
	r.Register(ShowSchema, showSchema)
	r.Register(CreateBackup, createBackup)
	r.Register(ConnectDatabase, connectDatabase)
	return r
}

// Register installs h under id, replacing any previous handler.
func (r *Registry) Register(id string, h Handler) {
	r.handlers[id] = h
}

// IDs returns the registered ids in sorted order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.handlers))
	for id := range r.handlers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Run executes the command id. A nil error means the command succeeded or
// the user dismissed a prompt.
func (r *Registry) Run(ctx context.Context, id string, facade Facade, args Args, notifier Notifier) error {
	h, ok := r.handlers[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCommand, id)
	}
	return h(ctx, Invocation{
		Facade:   facade,
		Args:     args,
		Notifier: notifier,
		Renderer: r.renderer,
	})
}

// fail reports err under label and returns it.
func fail(n Notifier, label string, err error) error {
	n.Error(fmt.Sprintf("%s: %s", label, rpc.Describe(err)))
	return err
}

func executeQuery(ctx context.Context, inv Invocation) error {
	query, ok := inv.Args.Selection(ctx)
	if !ok {
		return nil
	}
	if strings.TrimSpace(query) == "" {
		inv.Notifier.Error(ErrNoSelection.Error())
		return ErrNoSelection
	}

	result, err := inv.Facade.ExecuteQuery(ctx, query)
	if err != nil {
		return fail(inv.Notifier, "Query failed", err)
	}
	inv.Notifier.Info("Query executed: " + inv.Renderer.renderOrRaw(result.Raw))
	return nil
}

func showSchema(ctx context.Context, inv Invocation) error {
	schema, err := inv.Facade.GetSchema(ctx)
	if err != nil {
		return fail(inv.Notifier, "Failed to retrieve schema", err)
	}
	inv.Notifier.Info("Schema: " + inv.Renderer.renderOrRaw(schema.Raw))
	return nil
}

func createBackup(ctx context.Context, inv Invocation) error {
	outputPath, ok := inv.Args.Input(ctx, Prompt{
		Key:     KeyOutputPath,
		Message: "Enter backup file path",
		Default: "backup.sql",
	})
	if !ok {
		return nil
	}

	backup, err := inv.Facade.CreateBackup(ctx, outputPath)
	if err != nil {
		return fail(inv.Notifier, "Backup failed", err)
	}

	location := backup.Location
	if location == "" {
		location = inv.Renderer.renderOrRaw(backup.Raw)
	}
	inv.Notifier.Info("Backup created: " + location)
	return nil
}

func connectDatabase(ctx context.Context, inv Invocation) error {
	prompts := []Prompt{
		{Key: KeyHost, Message: "Database host", Default: "localhost"},
		{Key: KeyPort, Message: "Database port", Default: "5432"},
		{Key: KeyDatabase, Message: "Database name"},
		{Key: KeyUser, Message: "Username"},
	}

	values := make(map[string]string, len(prompts))
	for _, p := range prompts {
		v, ok := inv.Args.Input(ctx, p)
		if !ok {
			return nil
		}
		values[p.Key] = v
	}

	port, err := strconv.Atoi(strings.TrimSpace(values[KeyPort]))
	if err != nil {
		return fail(inv.Notifier, "Connection failed",
			rpc.Invalid(rpc.OpConnect, "port must be a number, got %q", values[KeyPort]))
	}

	_, err = inv.Facade.Connect(ctx, rpc.ConnectParams{
		Host:     values[KeyHost],
		Port:     port,
		Database: values[KeyDatabase],
		User:     values[KeyUser],
	})
	if err != nil {
		return fail(inv.Notifier, "Connection failed", err)
	}
	inv.Notifier.Info("Connected to database")
	return nil
}
