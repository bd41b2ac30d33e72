package logx

import (
	"context"

	"pkt.systems/kconsole/schema"
	"pkt.systems/pslog"
)

type contextKey int

const (
	channelKey contextKey = iota
	taskKey
)

// Ctx returns the logger bound to the provided context.
func Ctx(ctx context.Context) pslog.Logger {
	return pslog.Ctx(ctx)
}

// WithChannel annotates the logger with a terminal channel when set.
func WithChannel(log pslog.Logger, channel schema.ChannelKind) pslog.Logger {
	if log == nil {
		log = pslog.Ctx(context.Background())
	}
	if channel != "" {
		log = log.With("channel", channel)
	}
	return log
}

// WithTask annotates the logger with a task id when set.
func WithTask(log pslog.Logger, taskID schema.TaskID) pslog.Logger {
	if log == nil {
		log = pslog.Ctx(context.Background())
	}
	if taskID != "" {
		log = log.With("task", taskID)
	}
	return log
}

// ChannelLogger returns the context logger annotated with channel unless the
// context already carries that channel marker.
func ChannelLogger(ctx context.Context, channel schema.ChannelKind) pslog.Logger {
	log := pslog.Ctx(ctx)
	if current, ok := ctx.Value(channelKey).(schema.ChannelKind); ok && current == channel {
		return log
	}
	return WithChannel(log, channel)
}

// TaskLogger returns the context logger annotated with taskID unless the
// context already carries that task marker.
func TaskLogger(ctx context.Context, taskID schema.TaskID) pslog.Logger {
	log := pslog.Ctx(ctx)
	if current, ok := ctx.Value(taskKey).(schema.TaskID); ok && current == taskID {
		return log
	}
	return WithTask(log, taskID)
}

// ContextWithChannelLogger attaches an annotated logger and the channel marker.
func ContextWithChannelLogger(ctx context.Context, channel schema.ChannelKind) context.Context {
	if ctx == nil || channel == "" {
		return ctx
	}
	log := ChannelLogger(ctx, channel)
	ctx = pslog.ContextWithLogger(ctx, log)
	return context.WithValue(ctx, channelKey, channel)
}

// ContextWithTaskLogger attaches an annotated logger and the task marker.
func ContextWithTaskLogger(ctx context.Context, taskID schema.TaskID) context.Context {
	if ctx == nil || taskID == "" {
		return ctx
	}
	log := TaskLogger(ctx, taskID)
	ctx = pslog.ContextWithLogger(ctx, log)
	return context.WithValue(ctx, taskKey, taskID)
}
