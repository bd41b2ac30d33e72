package schema

import (
	"io"
	"time"
)

// SubmitTaskRequest carries a build or patch submission.
type SubmitTaskRequest struct {
	Type         string
	Report       []byte
	ReportName   string
	Patch        []byte
	PatchName    string
	TargetTaskID TaskID
}

// Artifact is a downloadable task artifact.
type Artifact struct {
	TaskID      TaskID
	Filename    string
	ContentType string
	Body        io.ReadCloser
}

// PushStatus is the push channel connection state.
type PushStatus string

const (
	PushConnecting   PushStatus = "connecting"
	PushConnected    PushStatus = "connected"
	PushDisconnected PushStatus = "disconnected"
)

// ConsoleStatus summarizes transport health for display.
type ConsoleStatus struct {
	Push          PushStatus `json:"push"`
	LastPoll      time.Time  `json:"last_poll,omitempty"`
	LastPollError string     `json:"last_poll_error,omitempty"`
	Tasks         int        `json:"tasks"`
	Records       int        `json:"records"`
}

// Preferences is the UI preference state exposed to clients.
type Preferences struct {
	Theme    ThemeName   `json:"theme"`
	Expanded []ContextID `json:"expanded"`
}
