// Package logstream holds the append-only log record sequence shared by the
// push channel and the terminal sessions.
package logstream

import (
	"sync"
	"time"

	"pkt.systems/kconsole/internal/persist"
	"pkt.systems/kconsole/schema"
	"pkt.systems/pslog"
)

// Buffer is an append-only sequence of log records, newest first.
// Records are kept internally in arrival order so append stays O(1).
type Buffer struct {
	mu sync.Mutex
	// pmu serializes store writes so a flush cannot resurrect cleared records.
	pmu     sync.Mutex
	records []schema.LogRecord
	version uint64
	dirty   bool
	store   persist.KV
	log     pslog.Logger
	now     func() time.Time
}

// Option configures a Buffer.
type Option func(*Buffer)

// WithClock overrides the clock used for synthesized records.
func WithClock(now func() time.Time) Option {
	return func(b *Buffer) {
		if now != nil {
			b.now = now
		}
	}
}

// New constructs a buffer, restoring any persisted records from store.
func New(store persist.KV, logger pslog.Logger, opts ...Option) *Buffer {
	b := &Buffer{store: store, log: logger, now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	var persisted []schema.LogRecord
	if persist.LoadJSON(store, persist.KeyLogs, &persisted, logger) {
		b.records = make([]schema.LogRecord, 0, len(persisted))
		for i := len(persisted) - 1; i >= 0; i-- {
			b.records = append(b.records, persisted[i])
		}
		if logger != nil {
			logger.Debug("logstream restored", "records", len(b.records))
		}
	}
	return b
}

// Append adds a record at the logical head.
func (b *Buffer) Append(record schema.LogRecord) {
	if record.Time.IsZero() {
		record.Time = b.now()
	}
	b.mu.Lock()
	b.records = append(b.records, record)
	b.version++
	b.dirty = true
	b.mu.Unlock()
	if b.log != nil {
		b.log.Trace("logstream append", "context", record.ContextID, "level", record.Level)
	}
}

// AppendSystem appends a record owned by the system context.
func (b *Buffer) AppendSystem(level, message string) {
	b.Append(schema.LogRecord{Level: level, Message: message, ContextID: schema.SystemContext})
}

// AppendTerminal appends a record owned by the terminal context.
func (b *Buffer) AppendTerminal(level, message string) {
	b.Append(schema.LogRecord{Level: level, Message: message, ContextID: schema.TerminalContext})
}

// AppendRaw decodes one push payload and appends it. An undecodable payload is
// replaced by a single diagnostic record in the system context.
func (b *Buffer) AppendRaw(payload []byte) (schema.LogRecord, error) {
	record, err := Decode(payload, b.now)
	if err != nil {
		if b.log != nil {
			b.log.Warn("logstream decode failed", "bytes", len(payload), "err", err)
		}
		b.AppendSystem(schema.LevelWarning, "dropped malformed log message: "+err.Error())
		return schema.LogRecord{}, err
	}
	b.Append(record)
	return record, nil
}

// Snapshot returns all records, newest first.
func (b *Buffer) Snapshot() []schema.LogRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]schema.LogRecord, len(b.records))
	for i, record := range b.records {
		out[len(b.records)-1-i] = record
	}
	return out
}

// Len returns the number of stored records.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records)
}

// Version increments on every change.
func (b *Buffer) Version() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.version
}

// Flush writes the records to the store when they changed since the last flush.
// A failed write keeps the in-memory records and retries on the next flush.
func (b *Buffer) Flush() error {
	b.pmu.Lock()
	defer b.pmu.Unlock()
	b.mu.Lock()
	if !b.dirty || b.store == nil {
		b.mu.Unlock()
		return nil
	}
	snapshot := make([]schema.LogRecord, len(b.records))
	for i, record := range b.records {
		snapshot[len(b.records)-1-i] = record
	}
	b.dirty = false
	b.mu.Unlock()
	if err := persist.SaveJSON(b.store, persist.KeyLogs, snapshot, b.log); err != nil {
		b.mu.Lock()
		b.dirty = true
		b.mu.Unlock()
		return err
	}
	return nil
}

// Clear empties the buffer and drops the durable copy.
func (b *Buffer) Clear() error {
	b.pmu.Lock()
	defer b.pmu.Unlock()
	b.mu.Lock()
	count := len(b.records)
	b.records = nil
	b.version++
	b.dirty = false
	b.mu.Unlock()
	if b.log != nil {
		b.log.Info("logstream cleared", "records", count)
	}
	if b.store == nil {
		return nil
	}
	return b.store.Clear(persist.KeyLogs)
}
