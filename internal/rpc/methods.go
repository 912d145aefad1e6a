package rpc

import (
	"strings"

	"github.com/segmentio/encoding/json"
)

// Custom methods served by the PolyDB LSP engine.
const (
	MethodExecuteQuery = "polydb/executeQuery"
	MethodGetSchema    = "polydb/getSchema"
	MethodCreateBackup = "polydb/createBackup"
	MethodConnect      = "polydb/connect"
)

// ExecuteQueryParams is the payload of polydb/executeQuery.
type ExecuteQueryParams struct {
	Query string `json:"query"`
}

// GetSchemaParams is the payload of polydb/getSchema.
type GetSchemaParams struct{}

// CreateBackupParams is the payload of polydb/createBackup.
type CreateBackupParams struct {
	OutputPath string `json:"outputPath"`
}

// ConnectParams is the payload of polydb/connect.
type ConnectParams struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Database string `json:"database"`
	User     string `json:"user"`
}

func (p ConnectParams) validate() error {
	switch {
	case strings.TrimSpace(p.Host) == "":
		return Invalid(OpConnect, "host is required")
	case p.Port < 1 || p.Port > 65535:
		return Invalid(OpConnect, "port must be between 1 and 65535, got %d", p.Port)
	case strings.TrimSpace(p.Database) == "":
		return Invalid(OpConnect, "database is required")
	case strings.TrimSpace(p.User) == "":
		return Invalid(OpConnect, "user is required")
	}
	return nil
}

// QueryResult is the opaque result of a query.
type QueryResult struct {
	Raw json.RawMessage
}

// Schema is the opaque schema description reported by the engine.
type Schema struct {
	Raw json.RawMessage
}

// Backup identifies a backup created by the engine.
type Backup struct {
	// Location is the path or identifier of the backup when the engine
	// reported one.
	Location string
	Raw      json.RawMessage
}

// ConnectAck acknowledges a polydb/connect request.
type ConnectAck struct {
	Raw json.RawMessage
}

// parseBackup extracts a location from a bare string or from an object
// carrying "path" or "location".
func parseBackup(raw json.RawMessage) *Backup {
	b := &Backup{Raw: raw}

	var location string
	if err := json.Unmarshal(raw, &location); err == nil {
		b.Location = location
		return b
	}

	var obj struct {
		Path     string `json:"path"`
		Location string `json:"location"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		if obj.Path != "" {
			b.Location = obj.Path
		} else {
			b.Location = obj.Location
		}
	}
	return b
}
