package rpc

import (
	"context"
	"strings"

	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"
	"go.uber.org/zap"
)

// ExecuteQuery runs query on the connected database.
func (c *Client) ExecuteQuery(ctx context.Context, query string) (*QueryResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, Invalid(OpExecuteQuery, "query must not be empty")
	}

	raw, err := c.call(ctx, OpExecuteQuery, MethodExecuteQuery, ExecuteQueryParams{Query: query})
	if err != nil {
		return nil, err
	}
	return &QueryResult{Raw: raw}, nil
}

// GetSchema retrieves the schema description of the connected database.
func (c *Client) GetSchema(ctx context.Context) (*Schema, error) {
	raw, err := c.call(ctx, OpGetSchema, MethodGetSchema, GetSchemaParams{})
	if err != nil {
		return nil, err
	}
	return &Schema{Raw: raw}, nil
}

// CreateBackup asks the engine to write a backup to outputPath.
func (c *Client) CreateBackup(ctx context.Context, outputPath string) (*Backup, error) {
	if strings.TrimSpace(outputPath) == "" {
		return nil, Invalid(OpCreateBackup, "output path must not be empty")
	}

	raw, err := c.call(ctx, OpCreateBackup, MethodCreateBackup, CreateBackupParams{OutputPath: outputPath})
	if err != nil {
		return nil, err
	}
	return parseBackup(raw), nil
}

// Connect points the engine at a database. All four fields are required.
func (c *Client) Connect(ctx context.Context, params ConnectParams) (*ConnectAck, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}

	raw, err := c.call(ctx, OpConnect, MethodConnect, params)
	if err != nil {
		return nil, err
	}
	return &ConnectAck{Raw: raw}, nil
}

// ChangeType is the kind of change reported for a watched file.
type ChangeType int

const (
	FileCreated ChangeType = iota + 1
	FileChanged
	FileDeleted
)

// String returns a human-readable change type.
func (t ChangeType) String() string {
	switch t {
	case FileCreated:
		return "created"
	case FileChanged:
		return "changed"
	case FileDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// FileChange is one watched file that changed on disk.
type FileChange struct {
	Path string
	Type ChangeType
}

// NotifyFilesChanged sends one workspace/didChangeWatchedFiles notification.
// No response is expected. An empty batch sends nothing.
func (c *Client) NotifyFilesChanged(ctx context.Context, changes []FileChange) error {
	if len(changes) == 0 {
		return nil
	}
	s, err := c.active(OpFilesChanged)
	if err != nil {
		return err
	}

	params := &protocol.DidChangeWatchedFilesParams{
		Changes: make([]*protocol.FileEvent, 0, len(changes)),
	}
	for _, change := range changes {
		params.Changes = append(params.Changes, &protocol.FileEvent{
			Type: fileChangeType(change.Type),
			URI:  protocol.DocumentURI(uri.File(change.Path)),
		})
	}

	if err := s.server.DidChangeWatchedFiles(ctx, params); err != nil {
		return classify(OpFilesChanged, s.causeOf(ctx, err))
	}
	c.logger.Debug("notified watched file changes", zap.Int("count", len(changes)))
	return nil
}

func fileChangeType(t ChangeType) protocol.FileChangeType {
	switch t {
	case FileCreated:
		return protocol.FileChangeTypeCreated
	case FileDeleted:
		return protocol.FileChangeTypeDeleted
	default:
		return protocol.FileChangeTypeChanged
	}
}
