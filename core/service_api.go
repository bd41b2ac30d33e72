package core

import (
	"context"

	"pkt.systems/kconsole/schema"
)

// Service is the transport-agnostic API of the operator console. Every
// mutation runs on the single event loop started by Run.
type Service interface {
	// Run drains the event loop until ctx ends.
	Run(ctx context.Context) error
	// Close releases the state store when the service opened it.
	Close() error

	Groups(ctx context.Context) ([]schema.DisplayGroup, error)
	ToggleGroupExpansion(ctx context.Context, id schema.ContextID) (bool, error)
	CollapseAll(ctx context.Context) error
	ClearLogs(ctx context.Context) error
	IngestPush(payload []byte)
	SetPushStatus(status schema.PushStatus)

	Terminals(ctx context.Context) ([]schema.TerminalSnapshot, error)
	Terminal(ctx context.Context, channel schema.ChannelKind) (schema.TerminalSnapshot, error)
	SetInput(ctx context.Context, channel schema.ChannelKind, text string) error
	SubmitInput(ctx context.Context, channel schema.ChannelKind, line string) error
	Connect(ctx context.Context, channel schema.ChannelKind) error
	Disconnect(ctx context.Context, channel schema.ChannelKind) error
	BindToTask(ctx context.Context, channel schema.ChannelKind, id schema.TaskID) error

	Tasks(ctx context.Context) ([]schema.Task, error)
	RefreshTasks(ctx context.Context) error
	// Poll refreshes the task registry on the configured interval until ctx ends.
	Poll(ctx context.Context) error
	SubmitTask(ctx context.Context, req schema.SubmitTaskRequest) (schema.Task, error)
	DeleteTask(ctx context.Context, id schema.TaskID) error
	FetchArtifact(ctx context.Context, id schema.TaskID) (schema.Artifact, error)

	Status(ctx context.Context) (schema.ConsoleStatus, error)
	Preferences(ctx context.Context) (schema.Preferences, error)
	ToggleTheme(ctx context.Context) (schema.ThemeName, error)
}
