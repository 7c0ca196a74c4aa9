package logger

import (
	"go.uber.org/zap"
)

// Standard field names for consistent structured logging across docsync.
// Use these constants instead of raw strings to ensure consistency.
const (
	// Components
	FieldComponent = "component"

	// Sync protocol
	FieldPeer     = "peer"
	FieldHeads    = "heads"
	FieldShared   = "shared_heads"
	FieldNeed     = "need"
	FieldChanges  = "changes"
	FieldRound    = "round"
	FieldActor    = "actor"
	FieldLastSync = "last_sync"

	// Errors
	FieldError = "error"

	// Counts and sizes
	FieldCount = "count"

	// Network
	FieldAddress = "address"
	FieldURL     = "url"
)

// ComponentLogger returns a named logger for a specific component.
// This is the preferred way to get a logger for dependency injection.
//
// Example:
//
//	type Server struct {
//	    logger *zap.SugaredLogger
//	}
//
//	func New() *Server {
//	    return &Server{logger: logger.ComponentLogger("server")}
//	}
func ComponentLogger(component string) *zap.SugaredLogger {
	return Logger.Named(component)
}
