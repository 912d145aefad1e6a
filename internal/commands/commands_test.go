package commands

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/segmentio/encoding/json"

	"github.com/hyperpolymath/poly-db-lsp/internal/rpc"
)

type fakeFacade struct {
	queries  []string
	backups  []string
	connects []rpc.ConnectParams
	schemas  int

	result json.RawMessage
	backup *rpc.Backup
	err    error
}

func (f *fakeFacade) ExecuteQuery(ctx context.Context, query string) (*rpc.QueryResult, error) {
	f.queries = append(f.queries, query)
	if f.err != nil {
		return nil, f.err
	}
	return &rpc.QueryResult{Raw: f.result}, nil
}

func (f *fakeFacade) GetSchema(ctx context.Context) (*rpc.Schema, error) {
	f.schemas++
	if f.err != nil {
		return nil, f.err
	}
	return &rpc.Schema{Raw: f.result}, nil
}

func (f *fakeFacade) CreateBackup(ctx context.Context, outputPath string) (*rpc.Backup, error) {
	f.backups = append(f.backups, outputPath)
	if f.err != nil {
		return nil, f.err
	}
	return f.backup, nil
}

func (f *fakeFacade) Connect(ctx context.Context, params rpc.ConnectParams) (*rpc.ConnectAck, error) {
	f.connects = append(f.connects, params)
	if f.err != nil {
		return nil, f.err
	}
	return &rpc.ConnectAck{Raw: json.RawMessage("null")}, nil
}

func run(t *testing.T, id string, facade Facade, args Args) (*Recorder, error) {
	t.Helper()
	rec := &Recorder{}
	err := NewRegistry(Renderer{}).Run(context.Background(), id, facade, args, rec)
	return rec, err
}

func expectSingle(t *testing.T, rec *Recorder, level Level, message string) {
	t.Helper()
	got := rec.Notifications()
	if len(got) != 1 {
		t.Fatalf("Expected exactly one notification, got %d: %+v", len(got), got)
	}
	if got[0].Level != level || got[0].Message != message {
		t.Errorf("Expected %s %q, got %s %q", level, message, got[0].Level, got[0].Message)
	}
}

func TestRegistry_IDs(t *testing.T) {
	ids := NewRegistry(Renderer{}).IDs()
	want := []string{ConnectDatabase, CreateBackup, ExecuteQuery, ShowSchema}
	if len(ids) != len(want) {
		t.Fatalf("Expected %d commands, got %v", len(want), ids)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("Expected %s at %d, got %s", want[i], i, ids[i])
		}
	}
}

func TestRegistry_UnknownCommand(t *testing.T) {
	rec, err := run(t, "polydb.dropEverything", &fakeFacade{}, &Scripted{})
	if !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("Expected ErrUnknownCommand, got %v", err)
	}
	if len(rec.Notifications()) != 0 {
		t.Errorf("Expected no notifications, got %+v", rec.Notifications())
	}
}

func TestExecuteQuery(t *testing.T) {
	facade := &fakeFacade{result: json.RawMessage(`{"rows": [1, 2]}`)}
	rec, err := run(t, ExecuteQuery, facade, &Scripted{Query: "SELECT id FROM orders"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(facade.queries) != 1 || facade.queries[0] != "SELECT id FROM orders" {
		t.Errorf("Unexpected queries %v", facade.queries)
	}
	expectSingle(t, rec, LevelInfo, `Query executed: {"rows":[1,2]}`)
}

func TestExecuteQuery_NoSelection(t *testing.T) {
	for _, query := range []string{"", "   \n"} {
		facade := &fakeFacade{}
		rec, err := run(t, ExecuteQuery, facade, &Scripted{Query: query})
		if !errors.Is(err, ErrNoSelection) {
			t.Errorf("Expected ErrNoSelection, got %v", err)
		}
		if len(facade.queries) != 0 {
			t.Errorf("Expected no request for empty selection, got %v", facade.queries)
		}
		expectSingle(t, rec, LevelError, "No query selected")
	}
}

func TestExecuteQuery_NoDocument(t *testing.T) {
	facade := &fakeFacade{}
	rec, err := run(t, ExecuteQuery, facade, &Scripted{NoDocument: true})
	if err != nil {
		t.Errorf("Expected silent return, got %v", err)
	}
	if len(facade.queries) != 0 || len(rec.Notifications()) != 0 {
		t.Errorf("Expected nothing to happen, got queries %v notifications %+v", facade.queries, rec.Notifications())
	}
}

func TestExecuteQuery_Failure(t *testing.T) {
	remote := &rpc.Error{Kind: rpc.KindRemote, Op: rpc.OpExecuteQuery, Message: "relation \"orderz\" does not exist"}
	rec, err := run(t, ExecuteQuery, &fakeFacade{err: remote}, &Scripted{Query: "SELECT * FROM orderz"})
	if !errors.Is(err, remote) {
		t.Errorf("Expected remote error to be returned, got %v", err)
	}
	expectSingle(t, rec, LevelError, `Query failed: relation "orderz" does not exist`)
}

func TestShowSchema(t *testing.T) {
	rec, err := run(t, ShowSchema, &fakeFacade{result: json.RawMessage(`{"tables":["orders"]}`)}, &Scripted{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	expectSingle(t, rec, LevelInfo, `Schema: {"tables":["orders"]}`)
}

func TestShowSchema_NotRunning(t *testing.T) {
	notRunning := &rpc.Error{Kind: rpc.KindConfiguration, Op: rpc.OpGetSchema, Message: "PolyDB LSP is not running", Err: rpc.ErrNotRunning}
	rec, err := run(t, ShowSchema, &fakeFacade{err: notRunning}, &Scripted{})
	if !errors.Is(err, rpc.ErrNotRunning) {
		t.Errorf("Expected ErrNotRunning, got %v", err)
	}
	expectSingle(t, rec, LevelError, "Failed to retrieve schema: PolyDB LSP is not running")
}

func TestCreateBackup(t *testing.T) {
	tests := []struct {
		name    string
		args    *Scripted
		backup  *rpc.Backup
		path    string
		message string
	}{
		{
			name:    "default path",
			args:    &Scripted{Defaults: true},
			backup:  &rpc.Backup{Location: "/var/backups/backup.sql", Raw: json.RawMessage(`"/var/backups/backup.sql"`)},
			path:    "backup.sql",
			message: "Backup created: /var/backups/backup.sql",
		},
		{
			name:    "custom path with opaque result",
			args:    &Scripted{Answers: map[string]string{KeyOutputPath: "nightly.sql"}},
			backup:  &rpc.Backup{Raw: json.RawMessage(`{"bytes": 2048}`)},
			path:    "nightly.sql",
			message: `Backup created: {"bytes":2048}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			facade := &fakeFacade{backup: tt.backup}
			rec, err := run(t, CreateBackup, facade, tt.args)
			if err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			if len(facade.backups) != 1 || facade.backups[0] != tt.path {
				t.Errorf("Expected backup to %q, got %v", tt.path, facade.backups)
			}
			expectSingle(t, rec, LevelInfo, tt.message)
		})
	}
}

func TestCreateBackup_Dismissed(t *testing.T) {
	facade := &fakeFacade{}
	rec, err := run(t, CreateBackup, facade, &Scripted{})
	if err != nil {
		t.Errorf("Expected silent return, got %v", err)
	}
	if len(facade.backups) != 0 || len(rec.Notifications()) != 0 {
		t.Errorf("Expected nothing to happen, got backups %v notifications %+v", facade.backups, rec.Notifications())
	}
}

func TestCreateBackup_Failure(t *testing.T) {
	failure := &rpc.Error{Kind: rpc.KindTransport, Op: rpc.OpCreateBackup, Message: "connection to PolyDB LSP lost"}
	rec, _ := run(t, CreateBackup, &fakeFacade{err: failure}, &Scripted{Defaults: true})
	expectSingle(t, rec, LevelError, "Backup failed: connection to PolyDB LSP lost")
}

func TestConnectDatabase(t *testing.T) {
	facade := &fakeFacade{}
	args := &Scripted{
		Defaults: true,
		Answers:  map[string]string{KeyDatabase: "orders", KeyUser: "svc", KeyPort: "6543"},
	}

	rec, err := run(t, ConnectDatabase, facade, args)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(facade.connects) != 1 {
		t.Fatalf("Expected 1 connect request, got %d", len(facade.connects))
	}
	want := rpc.ConnectParams{Host: "localhost", Port: 6543, Database: "orders", User: "svc"}
	if facade.connects[0] != want {
		t.Errorf("Expected %+v, got %+v", want, facade.connects[0])
	}
	expectSingle(t, rec, LevelInfo, "Connected to database")
}

func TestConnectDatabase_AbortsOnDismissedPrompt(t *testing.T) {
	tests := []struct {
		name    string
		answers map[string]string
	}{
		{"host", map[string]string{KeyHost: ""}},
		{"port", map[string]string{KeyPort: ""}},
		{"database", map[string]string{KeyUser: "svc"}},
		{"user", map[string]string{KeyDatabase: "orders"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			facade := &fakeFacade{}
			rec, err := run(t, ConnectDatabase, facade, &Scripted{Defaults: true, Answers: tt.answers})
			if err != nil {
				t.Errorf("Expected silent return, got %v", err)
			}
			if len(facade.connects) != 0 || len(rec.Notifications()) != 0 {
				t.Errorf("Expected nothing to happen, got connects %v notifications %+v", facade.connects, rec.Notifications())
			}
		})
	}
}

func TestConnectDatabase_NonNumericPort(t *testing.T) {
	facade := &fakeFacade{}
	args := &Scripted{
		Defaults: true,
		Answers:  map[string]string{KeyPort: "postgres", KeyDatabase: "orders", KeyUser: "svc"},
	}

	rec, err := run(t, ConnectDatabase, facade, args)
	if rpc.KindOf(err) != rpc.KindValidation {
		t.Errorf("Expected validation error, got %v", err)
	}
	if len(facade.connects) != 0 {
		t.Errorf("Expected no connect request, got %v", facade.connects)
	}
	expectSingle(t, rec, LevelError, `Connection failed: port must be a number, got "postgres"`)
}

func TestConnectDatabase_Failure(t *testing.T) {
	failure := &rpc.Error{Kind: rpc.KindRemote, Op: rpc.OpConnect, Message: "password authentication failed"}
	args := &Scripted{Defaults: true, Answers: map[string]string{KeyDatabase: "orders", KeyUser: "svc"}}

	rec, _ := run(t, ConnectDatabase, &fakeFacade{err: failure}, args)
	expectSingle(t, rec, LevelError, "Connection failed: password authentication failed")
}

func TestTerminalArgs(t *testing.T) {
	var out strings.Builder
	term := NewTerminal(strings.NewReader("\n5433\norders\n"), &out)

	host, ok := term.Input(context.Background(), Prompt{Key: KeyHost, Message: "Database host", Default: "localhost"})
	if !ok || host != "localhost" {
		t.Errorf("Expected default host, got %q (ok=%v)", host, ok)
	}
	port, ok := term.Input(context.Background(), Prompt{Key: KeyPort, Message: "Database port", Default: "5432"})
	if !ok || port != "5433" {
		t.Errorf("Expected typed port, got %q (ok=%v)", port, ok)
	}
	db, ok := term.Input(context.Background(), Prompt{Key: KeyDatabase, Message: "Database name"})
	if !ok || db != "orders" {
		t.Errorf("Expected database, got %q (ok=%v)", db, ok)
	}
	if _, ok := term.Input(context.Background(), Prompt{Key: KeyUser, Message: "Username"}); ok {
		t.Error("Expected end of input to dismiss the prompt")
	}

	if !strings.Contains(out.String(), "Database host [localhost]: ") {
		t.Errorf("Expected prompt with default, got %q", out.String())
	}
}

func TestTerminalArgs_Preset(t *testing.T) {
	var out strings.Builder
	term := NewTerminal(strings.NewReader(""), &out)
	term.Preset = map[string]string{KeyUser: "svc"}
	term.Query = "SELECT 1"

	if user, ok := term.Input(context.Background(), Prompt{Key: KeyUser, Message: "Username"}); !ok || user != "svc" {
		t.Errorf("Expected preset user, got %q (ok=%v)", user, ok)
	}
	if query, ok := term.Selection(context.Background()); !ok || query != "SELECT 1" {
		t.Errorf("Expected preset query, got %q (ok=%v)", query, ok)
	}
	if out.Len() != 0 {
		t.Errorf("Expected no prompts, got %q", out.String())
	}
}

func TestWriterNotifier(t *testing.T) {
	var out, errOut strings.Builder
	n := &WriterNotifier{Out: &out, Err: &errOut}

	n.Info("Connected to database")
	n.Warn("PolyDB LSP path not configured")
	n.Error("Query failed: timeout")

	if out.String() != "Connected to database\n" {
		t.Errorf("Unexpected stdout %q", out.String())
	}
	if errOut.String() != "warning: PolyDB LSP path not configured\nerror: Query failed: timeout\n" {
		t.Errorf("Unexpected stderr %q", errOut.String())
	}
}
