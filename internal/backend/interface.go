package backend

import (
	"context"

	"creatorbank/internal/core"
	"creatorbank/internal/earnings"
	"creatorbank/internal/services"
	"creatorbank/internal/tax"
	"creatorbank/internal/worker"
)

// Store is everything the API, the tax engine and the worker need from
// persistence. Both the memory store and the SQLite repository satisfy it.
type Store interface {
	earnings.Store
	tax.Store
	services.Store
	worker.PendingStore

	GetPlatform(ctx context.Context, platformID int64) (core.ConnectedPlatform, error)
	ListTransactions(ctx context.Context, userID int64, page core.Page) ([]core.LedgerTransaction, error)
	Close() error
}

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// BackendResult contains the store instance and optional cleanup function
type BackendResult struct {
	Store   Store
	Cleanup CleanupFunc
}

// Factory creates backends based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	// SQLite specific
	SQLiteDBPath string
}

// BackendType represents the type of backend
type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	MemoryBackend BackendType = "memory"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, MemoryBackend:
		return true
	default:
		return false
	}
}
