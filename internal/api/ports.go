package api

import (
	"context"
	"net/http"

	"github.com/motor-control/mcn/internal/command"
	"github.com/motor-control/mcn/internal/telemetry"
)

// StatePort is the view of the control loop the API needs.
type StatePort interface {
	Snapshot() command.Snapshot
}

// TelemetryPort streams telemetry to an HTTP client.
type TelemetryPort interface {
	Subscribe(ctx context.Context, w http.ResponseWriter, r *http.Request) error
	Stats() telemetry.Stats
}

var (
	_ StatePort     = (*command.Loop)(nil)
	_ TelemetryPort = (*telemetry.Hub)(nil)
)
