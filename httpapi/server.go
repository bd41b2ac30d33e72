package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"pkt.systems/kconsole/core"
	"pkt.systems/kconsole/internal/logx"
	"pkt.systems/kconsole/schema"
)

const (
	maxUploadBytes  = 32 << 20
	maxRequestBytes = 1 << 20
)

// Server serves the console HTTP API.
type Server struct {
	cfg      Config
	service  core.Service
	hub      *Hub
	basePath string
}

// NewServer constructs an HTTP server.
func NewServer(cfg Config, service core.Service, hub *Hub) *Server {
	if hub == nil {
		hub = NewHub(cfg.HubHistory)
	}
	return &Server{
		cfg:      cfg,
		service:  service,
		hub:      hub,
		basePath: normalizeBasePath(cfg.BasePath),
	}
}

// Handler returns an http.Handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/groups", s.handleGroups)
	mux.HandleFunc("POST /api/groups/collapse", s.handleCollapse)
	mux.HandleFunc("POST /api/groups/{id}/toggle", s.handleToggleGroup)
	mux.HandleFunc("POST /api/logs/clear", s.handleClearLogs)

	mux.HandleFunc("GET /api/terminals", s.handleTerminals)
	mux.HandleFunc("GET /api/terminals/{channel}", s.withChannel(s.handleTerminal))
	mux.HandleFunc("PUT /api/terminals/{channel}/input", s.withChannel(s.handleInput))
	mux.HandleFunc("POST /api/terminals/{channel}/submit", s.withChannel(s.handleSubmit))
	mux.HandleFunc("POST /api/terminals/{channel}/connect", s.withChannel(s.handleConnect))
	mux.HandleFunc("POST /api/terminals/{channel}/disconnect", s.withChannel(s.handleDisconnect))
	mux.HandleFunc("POST /api/terminals/{channel}/bind", s.withChannel(s.handleBind))

	mux.HandleFunc("GET /api/tasks", s.handleTasks)
	mux.HandleFunc("POST /api/tasks", s.handleSubmitTask)
	mux.HandleFunc("POST /api/tasks/refresh", s.handleRefresh)
	mux.HandleFunc("DELETE /api/tasks/{id}", s.withTask(s.handleDeleteTask))
	mux.HandleFunc("GET /api/artifacts/{id}", s.withTask(s.handleArtifact))

	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/prefs", s.handlePrefs)
	mux.HandleFunc("POST /api/prefs/theme/toggle", s.handleToggleTheme)
	mux.HandleFunc("GET /api/stream", s.handleStream)

	var handler http.Handler = mux
	if s.basePath != "" {
		base := s.basePath
		handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == base {
				http.Redirect(w, r, base+"/", http.StatusMovedPermanently)
				return
			}
			http.StripPrefix(base, mux).ServeHTTP(w, r)
		})
	}
	return withRequestLogging(handler)
}

func (s *Server) handleGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.service.Groups(r.Context())
	if err != nil {
		s.fail(w, r, "http groups failed", err)
		return
	}
	writeJSON(w, http.StatusOK, groups)
}

func (s *Server) handleToggleGroup(w http.ResponseWriter, r *http.Request) {
	id := schema.NormalizeContextID(r.PathValue("id"))
	expanded, err := s.service.ToggleGroupExpansion(r.Context(), id)
	if err != nil {
		s.fail(w, r, "http group toggle failed", err)
		return
	}
	logx.Ctx(r.Context()).Debug("http group toggled", "group", id, "expanded", expanded)
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "expanded": expanded})
}

func (s *Server) handleCollapse(w http.ResponseWriter, r *http.Request) {
	if err := s.service.CollapseAll(r.Context()); err != nil {
		s.fail(w, r, "http collapse failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearLogs(w http.ResponseWriter, r *http.Request) {
	if err := s.service.ClearLogs(r.Context()); err != nil {
		s.fail(w, r, "http clear logs failed", err)
		return
	}
	logx.Ctx(r.Context()).Info("http logs cleared")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTerminals(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.service.Terminals(r.Context())
	if err != nil {
		s.fail(w, r, "http terminals failed", err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleTerminal(w http.ResponseWriter, r *http.Request, channel schema.ChannelKind) {
	s.writeTerminal(w, r, channel)
}

type inputRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleInput(w http.ResponseWriter, r *http.Request, channel schema.ChannelKind) {
	var req inputRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		s.fail(w, r, "http input decode failed", err)
		return
	}
	if err := s.service.SetInput(r.Context(), channel, req.Text); err != nil {
		s.fail(w, r, "http input failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type submitRequest struct {
	Line string `json:"line"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request, channel schema.ChannelKind) {
	var req submitRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		s.fail(w, r, "http submit decode failed", err)
		return
	}
	if err := s.service.SubmitInput(r.Context(), channel, req.Line); err != nil {
		s.fail(w, r, "http submit failed", err)
		return
	}
	logx.ChannelLogger(r.Context(), channel).Debug("http command queued", "length", len(req.Line))
	s.writeTerminalStatus(w, r, channel, http.StatusAccepted)
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request, channel schema.ChannelKind) {
	if err := s.service.Connect(r.Context(), channel); err != nil {
		s.fail(w, r, "http connect failed", err)
		return
	}
	s.writeTerminal(w, r, channel)
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request, channel schema.ChannelKind) {
	if err := s.service.Disconnect(r.Context(), channel); err != nil {
		s.fail(w, r, "http disconnect failed", err)
		return
	}
	s.writeTerminal(w, r, channel)
}

type bindRequest struct {
	TaskID string `json:"task_id"`
}

func (s *Server) handleBind(w http.ResponseWriter, r *http.Request, channel schema.ChannelKind) {
	var req bindRequest
	if err := decodeJSON(http.MaxBytesReader(w, r.Body, maxRequestBytes), &req); err != nil {
		s.fail(w, r, "http bind decode failed", fmt.Errorf("%w: %v", schema.ErrInvalidRequest, err))
		return
	}
	id, err := schema.NormalizeTaskID(req.TaskID)
	if err != nil {
		s.fail(w, r, "http bind failed", err)
		return
	}
	if err := s.service.BindToTask(r.Context(), channel, id); err != nil {
		s.fail(w, r, "http bind failed", err)
		return
	}
	s.writeTerminal(w, r, channel)
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.service.Tasks(r.Context())
	if err != nil {
		s.fail(w, r, "http tasks failed", err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.service.RefreshTasks(r.Context()); err != nil {
		s.fail(w, r, "http refresh failed", err)
		return
	}
	s.handleTasks(w, r)
}

func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	log := logx.Ctx(r.Context())
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.fail(w, r, "http submit task decode failed", fmt.Errorf("%w: %v", schema.ErrInvalidRequest, err))
		return
	}
	req := schema.SubmitTaskRequest{
		Type:         r.FormValue("task_type"),
		TargetTaskID: schema.TaskID(strings.TrimSpace(r.FormValue("uuid"))),
	}
	var err error
	if req.Report, req.ReportName, err = formFile(r, "report"); err != nil {
		s.fail(w, r, "http submit task decode failed", err)
		return
	}
	if req.Patch, req.PatchName, err = formFile(r, "patch"); err != nil {
		s.fail(w, r, "http submit task decode failed", err)
		return
	}
	task, err := s.service.SubmitTask(r.Context(), req)
	if err != nil {
		s.fail(w, r, "http submit task failed", err)
		return
	}
	log.Info("http task submitted", "task", task.ID, "type", task.Type)
	writeJSON(w, http.StatusAccepted, task)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request, id schema.TaskID) {
	if err := s.service.DeleteTask(r.Context(), id); err != nil {
		s.fail(w, r, "http delete task failed", err)
		return
	}
	logx.TaskLogger(r.Context(), id).Info("http task deleted")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleArtifact(w http.ResponseWriter, r *http.Request, id schema.TaskID) {
	artifact, err := s.service.FetchArtifact(r.Context(), id)
	if err != nil {
		s.fail(w, r, "http artifact failed", err)
		return
	}
	defer func() { _ = artifact.Body.Close() }()
	contentType := artifact.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": artifact.Filename}))
	w.WriteHeader(http.StatusOK)
	n, err := io.Copy(w, artifact.Body)
	log := logx.TaskLogger(r.Context(), id)
	if err != nil {
		log.Warn("http artifact copy failed", "bytes", n, "err", err)
		return
	}
	log.Info("http artifact served", "filename", artifact.Filename, "bytes", n)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.service.Status(r.Context())
	if err != nil {
		s.fail(w, r, "http status failed", err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handlePrefs(w http.ResponseWriter, r *http.Request) {
	prefs, err := s.service.Preferences(r.Context())
	if err != nil {
		s.fail(w, r, "http prefs failed", err)
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}

func (s *Server) handleToggleTheme(w http.ResponseWriter, r *http.Request) {
	theme, err := s.service.ToggleTheme(r.Context())
	if err != nil {
		s.fail(w, r, "http theme toggle failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"theme": theme})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("stream unsupported"))
		return
	}
	log := logx.Ctx(r.Context())

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	lastID := parseUint(r.Header.Get("Last-Event-ID"))

	// Subscribe before the snapshot so no event falls between the two.
	ch, unsubscribe, seq, _ := s.hub.Subscribe()
	defer unsubscribe()

	snapshot := s.buildSnapshot(r.Context())
	_ = writeSSEvent(w, StreamEvent{
		Seq:       seq,
		Type:      EventSnapshot,
		Snapshot:  &snapshot,
		Timestamp: time.Now(),
	})
	flusher.Flush()

	replayCount := 0
	if lastID > 0 && lastID < seq {
		for _, event := range s.hub.Replay(lastID) {
			if event.Seq > seq {
				break
			}
			_ = writeSSEvent(w, event)
			replayCount++
		}
		flusher.Flush()
	}

	notify := r.Context().Done()
	log.Info("http stream opened", "last_id", lastID, "replay", replayCount, "groups", len(snapshot.Groups))
	for {
		select {
		case <-notify:
			log.Info("http stream closed")
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			_ = writeSSEvent(w, event)
			flusher.Flush()
		}
	}
}

func (s *Server) buildSnapshot(ctx context.Context) SnapshotPayload {
	snapshot := SnapshotPayload{}
	log := logx.Ctx(ctx)
	var err error
	if snapshot.Groups, err = s.service.Groups(ctx); err != nil {
		log.Warn("http snapshot groups failed", "err", err)
	}
	if snapshot.Terminals, err = s.service.Terminals(ctx); err != nil {
		log.Warn("http snapshot terminals failed", "err", err)
	}
	if snapshot.Status, err = s.service.Status(ctx); err != nil {
		log.Warn("http snapshot status failed", "err", err)
	}
	if snapshot.Prefs, err = s.service.Preferences(ctx); err != nil {
		log.Warn("http snapshot prefs failed", "err", err)
	}
	return snapshot
}

// withChannel resolves {channel} and binds a channel-annotated logger to the
// request context.
func (s *Server) withChannel(next func(http.ResponseWriter, *http.Request, schema.ChannelKind)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		channel, err := schema.ParseChannel(r.PathValue("channel"))
		if err != nil {
			s.fail(w, r, "http channel invalid", err)
			return
		}
		next(w, r.WithContext(logx.ContextWithChannelLogger(r.Context(), channel)), channel)
	}
}

// withTask resolves {id} and binds a task-annotated logger to the request
// context.
func (s *Server) withTask(next func(http.ResponseWriter, *http.Request, schema.TaskID)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := schema.NormalizeTaskID(r.PathValue("id"))
		if err != nil {
			s.fail(w, r, "http task id invalid", err)
			return
		}
		next(w, r.WithContext(logx.ContextWithTaskLogger(r.Context(), id)), id)
	}
}

func (s *Server) writeTerminal(w http.ResponseWriter, r *http.Request, channel schema.ChannelKind) {
	s.writeTerminalStatus(w, r, channel, http.StatusOK)
}

func (s *Server) writeTerminalStatus(w http.ResponseWriter, r *http.Request, channel schema.ChannelKind, status int) {
	session, err := s.service.Terminal(r.Context(), channel)
	if err != nil {
		s.fail(w, r, "http terminal failed", err)
		return
	}
	writeJSON(w, status, session)
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	status := statusForError(err)
	log := logx.Ctx(r.Context())
	if status >= http.StatusInternalServerError {
		log.Warn(msg, "status", status, "err", err)
	} else {
		log.Debug(msg, "status", status, "err", err)
	}
	writeError(w, status, err)
}

func statusForError(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, schema.ErrTaskNotFound):
		return http.StatusNotFound
	case errors.Is(err, schema.ErrInvalidRequest),
		errors.Is(err, schema.ErrTaskNotTerminal),
		errors.Is(err, schema.ErrEmptyTaskID),
		errors.Is(err, schema.ErrInvalidTaskType),
		errors.Is(err, schema.ErrMissingReport),
		errors.Is(err, schema.ErrInvalidReport),
		errors.Is(err, schema.ErrMissingPatch),
		errors.Is(err, schema.ErrMissingTarget),
		errors.Is(err, schema.ErrInvalidChannel),
		errors.Is(err, schema.ErrReservedChannel):
		return http.StatusBadRequest
	case errors.Is(err, schema.ErrConsoleStopped),
		errors.Is(err, schema.ErrBackendUnavailable),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func formFile(r *http.Request, field string) ([]byte, string, error) {
	file, header, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("%w: %s: %v", schema.ErrInvalidRequest, field, err)
	}
	defer func() { _ = file.Close() }()
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %s: %v", schema.ErrInvalidRequest, field, err)
	}
	return data, header.Filename, nil
}

func decodeJSON(body io.Reader, target any) error {
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

// decodeOptionalJSON accepts an empty body as the zero request.
func decodeOptionalJSON(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	err := decodeJSON(io.LimitReader(r.Body, maxRequestBytes), target)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return fmt.Errorf("%w: %v", schema.ErrInvalidRequest, err)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	data, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func writeSSEvent(w http.ResponseWriter, event StreamEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if event.Seq > 0 {
		_, _ = fmt.Fprintf(w, "id: %d\n", event.Seq)
	}
	_, _ = fmt.Fprintf(w, "event: %s\n", event.Type)
	_, _ = fmt.Fprintf(w, "data: %s\n\n", strings.TrimSpace(string(data)))
	return nil
}

func parseUint(value string) uint64 {
	if value == "" {
		return 0
	}
	parsed, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0
	}
	return parsed
}
