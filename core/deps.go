package core

import (
	"time"

	"pkt.systems/kconsole/internal/backend"
	"pkt.systems/kconsole/internal/persist"
	"pkt.systems/kconsole/internal/terminal"
	"pkt.systems/pslog"
)

// ServiceDeps captures optional dependencies for the core service.
type ServiceDeps struct {
	Backend   backend.Client
	Store     persist.KV
	EventSink EventSink
	Scheduler terminal.Scheduler
	Logger    pslog.Logger
	Now       func() time.Time
}
