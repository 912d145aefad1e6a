package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/hyperpolymath/poly-db-lsp/internal/rpc"
)

type collector struct {
	batches chan []rpc.FileChange
}

func newCollector() *collector {
	return &collector{batches: make(chan []rpc.FileChange, 64)}
}

func (c *collector) onChange(batch []rpc.FileChange) {
	c.batches <- batch
}

// waitFor collects batches until path is reported with typ and returns
// every change seen on the way.
func (c *collector) waitFor(t *testing.T, path string, typ rpc.ChangeType) []rpc.FileChange {
	t.Helper()
	var seen []rpc.FileChange
	timeout := time.After(5 * time.Second)
	for {
		select {
		case batch := <-c.batches:
			seen = append(seen, batch...)
			for _, change := range batch {
				if change.Path == path && change.Type == typ {
					return seen
				}
			}
		case <-timeout:
			t.Fatalf("Timed out waiting for %s %s, saw %v", typ, path, seen)
			return nil
		}
	}
}

func startWatcher(t *testing.T, root string, c *collector) *Watcher {
	t.Helper()
	m, err := NewMatcher(nil)
	if err != nil {
		t.Fatalf("NewMatcher failed: %v", err)
	}
	w, err := New(root, m, c.onChange, WithDebounce(30*time.Millisecond), WithLogger(zaptest.NewLogger(t)))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
}

func TestWatcher_ReportsMatchingFiles(t *testing.T) {
	root := t.TempDir()
	c := newCollector()
	w := startWatcher(t, root, c)

	writeFile(t, filepath.Join(root, "notes.txt"), "ignored")
	query := filepath.Join(w.Root(), "orders.sql")
	writeFile(t, query, "SELECT * FROM orders")

	seen := c.waitFor(t, query, rpc.FileCreated)
	for _, change := range seen {
		if filepath.Base(change.Path) == "notes.txt" {
			t.Errorf("Non-matching file was reported: %v", change)
		}
	}
}

func TestWatcher_CoalescesCreateAndWrite(t *testing.T) {
	root := t.TempDir()
	c := newCollector()
	w := startWatcher(t, root, c)

	query := filepath.Join(w.Root(), "report.sql")
	f, err := os.Create(query)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	_, _ = f.WriteString("SELECT 1;")
	_, _ = f.WriteString("SELECT 2;")
	f.Close()

	seen := c.waitFor(t, query, rpc.FileCreated)
	count := 0
	for _, change := range seen {
		if change.Path == query {
			count++
		}
	}
	if count != 1 {
		t.Errorf("Expected one coalesced change for %s, got %d: %v", query, count, seen)
	}
}

func TestWatcher_ReportsDeletes(t *testing.T) {
	root := t.TempDir()
	query := filepath.Join(root, "old.cypher")
	writeFile(t, query, "MATCH (n) RETURN n")

	c := newCollector()
	w := startWatcher(t, root, c)

	if err := os.Remove(filepath.Join(w.Root(), "old.cypher")); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	c.waitFor(t, filepath.Join(w.Root(), "old.cypher"), rpc.FileDeleted)
}

func TestWatcher_WatchesNewDirectories(t *testing.T) {
	root := t.TempDir()
	c := newCollector()
	w := startWatcher(t, root, c)

	dir := filepath.Join(w.Root(), "graphs", "social")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	query := filepath.Join(dir, "friends.cypher")
	writeFile(t, query, "MATCH (a)-[:KNOWS]->(b) RETURN b")

	c.waitFor(t, query, rpc.FileCreated)
}

func TestWatcher_SkipsIgnoredDirectories(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "node_modules", "pkg"), 0o755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}

	c := newCollector()
	w := startWatcher(t, root, c)

	writeFile(t, filepath.Join(w.Root(), "node_modules", "pkg", "index.js"), "module.exports = {}")
	query := filepath.Join(w.Root(), "main.js")
	writeFile(t, query, "db.orders.find()")

	seen := c.waitFor(t, query, rpc.FileCreated)
	for _, change := range seen {
		if change.Path != query {
			t.Errorf("Unexpected change %v", change)
		}
	}
}

func TestWatcher_CloseIsIdempotent(t *testing.T) {
	c := newCollector()
	m, _ := NewMatcher(nil)
	w, err := New(t.TempDir(), m, c.onChange)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("Second Close failed: %v", err)
	}
}

func TestWatcher_CloseWaitsForDelivery(t *testing.T) {
	root := t.TempDir()
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	m, _ := NewMatcher(nil)
	w, err := New(root, m, func([]rpc.FileChange) {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
	}, WithDebounce(10*time.Millisecond))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if err := os.WriteFile(filepath.Join(root, "a.sql"), []byte("SELECT 1"), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for delivery")
	}

	closed := make(chan error, 1)
	go func() { closed <- w.Close() }()

	select {
	case <-closed:
		t.Fatal("Close returned while a delivery was in progress")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-closed:
		if err != nil {
			t.Errorf("Close failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return after delivery finished")
	}
}

func TestNew_MissingRoot(t *testing.T) {
	m, _ := NewMatcher(nil)
	if _, err := New(filepath.Join(t.TempDir(), "missing"), m, func([]rpc.FileChange) {}); err == nil {
		t.Error("Expected error for missing root")
	}
}

func TestMerge(t *testing.T) {
	tests := []struct {
		prev, next rpc.ChangeType
		want       rpc.ChangeType
		keep       bool
	}{
		{0, rpc.FileChanged, rpc.FileChanged, true},
		{rpc.FileCreated, rpc.FileChanged, rpc.FileCreated, true},
		{rpc.FileCreated, rpc.FileDeleted, 0, false},
		{rpc.FileDeleted, rpc.FileCreated, rpc.FileChanged, true},
		{rpc.FileChanged, rpc.FileDeleted, rpc.FileDeleted, true},
		{rpc.FileChanged, rpc.FileChanged, rpc.FileChanged, true},
	}

	for _, tt := range tests {
		got, keep := merge(tt.prev, tt.next)
		if got != tt.want || keep != tt.keep {
			t.Errorf("merge(%s, %s) = (%s, %v), want (%s, %v)", tt.prev, tt.next, got, keep, tt.want, tt.keep)
		}
	}
}
