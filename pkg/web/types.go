// Package web exposes the log store over HTTP.
package web

import (
	"time"

	"github.com/dukex/nodelog/pkg/models"
)

// SaveLogRequest is the body of POST /logs. An empty WorkspaceID selects the
// default workspace.
type SaveLogRequest struct {
	WorkspaceID string              `json:"workspace_id,omitempty"`
	Log         *models.NodeLogData `json:"log"                    validate:"required"`
}

// GetLogsRequest is the body of POST /logs/batch.
type GetLogsRequest struct {
	IDs []string `json:"ids" validate:"required,min=1,max=1000,dive,required"`
}

// GetLogsResponse holds the logs found and, per id, the reason a log could not be read.
type GetLogsResponse struct {
	Logs   map[string]*models.LogRecord `json:"logs"`
	Errors map[string]string            `json:"errors,omitempty"`
}

type SignedURLResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

type DeleteExecutionLogsResponse struct {
	ExecutionID string `json:"execution_id"`
	Deleted     int    `json:"deleted"`
	Error       string `json:"error,omitempty"`
}
