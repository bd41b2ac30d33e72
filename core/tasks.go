package core

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"pkt.systems/kconsole/internal/logx"
	"pkt.systems/kconsole/schema"
)

func (s *service) Tasks(ctx context.Context) ([]schema.Task, error) {
	var out []schema.Task
	err := s.call(ctx, func() { out = s.tasks.Snapshot() })
	return out, err
}

// RefreshTasks fetches the task list off the loop and applies it only if no
// newer refresh has been applied meanwhile.
func (s *service) RefreshTasks(ctx context.Context) error {
	if s.backend == nil {
		return schema.ErrBackendUnavailable
	}
	seq := s.tasks.Begin()
	tasks, fetchErr := s.backend.ListTasks(ctx)
	at := s.now()
	err := s.call(ctx, func() {
		if seq < s.tasks.Applied() || seq < s.pollSeq {
			s.log.Debug("stale refresh discarded", "seq", seq, "applied", s.tasks.Applied())
			return
		}
		s.pollSeq = seq
		s.status.LastPoll = at
		s.statusDirty = true
		if fetchErr != nil {
			s.status.LastPollError = fetchErr.Error()
			return
		}
		s.status.LastPollError = ""
		if s.tasks.Apply(seq, tasks) {
			s.log.Debug("tasks refreshed", "seq", seq, "tasks", len(tasks))
		}
	})
	if fetchErr != nil {
		return fmt.Errorf("refresh tasks: %w", fetchErr)
	}
	return err
}

func (s *service) Poll(ctx context.Context) error {
	if s.backend == nil {
		return schema.ErrBackendUnavailable
	}
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	s.log.Info("task poller started", "interval", s.cfg.PollInterval)
	for {
		if err := s.RefreshTasks(ctx); err != nil && ctx.Err() == nil {
			s.log.Warn("task poll failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// SubmitTask validates req, submits it, and refreshes the registry.
func (s *service) SubmitTask(ctx context.Context, req schema.SubmitTaskRequest) (schema.Task, error) {
	taskType, err := s.validateSubmission(req)
	if err != nil {
		s.log.Warn("task submission rejected", "type", req.Type, "err", err)
		return schema.Task{}, err
	}
	if s.backend == nil {
		return schema.Task{}, schema.ErrBackendUnavailable
	}
	req.Type = string(taskType)
	task, err := s.backend.SubmitTask(ctx, req)
	if err != nil {
		return schema.Task{}, err
	}
	logx.WithTask(s.log, task.ID).Info("task submitted", "type", taskType)
	_ = s.call(ctx, func() {
		s.logs.AppendSystem(schema.LevelInfo, fmt.Sprintf("Task %s submitted (%s).", task.ID, taskType))
	})
	if err := s.RefreshTasks(ctx); err != nil {
		s.log.Warn("task refresh after submit failed", "err", err)
	}
	return task, nil
}

func (s *service) validateSubmission(req schema.SubmitTaskRequest) (schema.TaskType, error) {
	taskType, err := schema.ParseTaskType(req.Type)
	if err != nil {
		return "", err
	}
	switch taskType {
	case schema.TaskKernelBuild:
		if len(req.Report) == 0 {
			return "", schema.ErrMissingReport
		}
		if !json.Valid(req.Report) {
			return "", schema.ErrInvalidReport
		}
	case schema.TaskPatchApply:
		if len(req.Patch) == 0 {
			return "", schema.ErrMissingPatch
		}
		target, err := schema.NormalizeTaskID(string(req.TargetTaskID))
		if err != nil {
			return "", schema.ErrMissingTarget
		}
		if _, ok := s.tasks.Get(target); !ok {
			return "", fmt.Errorf("%w: %s", schema.ErrTaskNotFound, target)
		}
	}
	return taskType, nil
}

// DeleteTask deletes a completed or failed task. Anything else is rejected
// before the backend is called and leaves the registry untouched.
func (s *service) DeleteTask(ctx context.Context, id schema.TaskID) error {
	id, err := schema.NormalizeTaskID(string(id))
	if err != nil {
		return err
	}
	log := logx.WithTask(s.log, id)
	task, ok := s.tasks.Get(id)
	if !ok {
		return schema.ErrTaskNotFound
	}
	if !task.Status.IsTerminal() {
		log.Warn("task delete rejected", "status", task.Status)
		return fmt.Errorf("%w: task %s is %s", schema.ErrTaskNotTerminal, id, task.Status)
	}
	if s.backend == nil {
		return schema.ErrBackendUnavailable
	}
	if err := s.backend.DeleteTask(ctx, id); err != nil {
		return err
	}
	log.Info("task deleted")
	if err := s.RefreshTasks(ctx); err != nil {
		log.Warn("task refresh after delete failed", "err", err)
	}
	return nil
}

// FetchArtifact records the download in the task's log group and opens the
// artifact stream.
func (s *service) FetchArtifact(ctx context.Context, id schema.TaskID) (schema.Artifact, error) {
	id, err := schema.NormalizeTaskID(string(id))
	if err != nil {
		return schema.Artifact{}, err
	}
	if s.backend == nil {
		return schema.Artifact{}, schema.ErrBackendUnavailable
	}
	if err := s.call(ctx, func() {
		s.logs.Append(schema.LogRecord{
			Level:     schema.LevelInfo,
			Message:   fmt.Sprintf("Starting artifact download for task %s.", id),
			ContextID: schema.ContextID(id),
		})
	}); err != nil {
		return schema.Artifact{}, err
	}
	artifact, err := s.backend.FetchArtifact(ctx, id)
	if err != nil {
		logx.WithTask(s.log, id).Warn("artifact download failed", "err", err)
		return schema.Artifact{}, err
	}
	return artifact, nil
}
