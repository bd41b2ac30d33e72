package logstream

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"pkt.systems/kconsole/schema"
)

var errEmptyPayload = errors.New("empty payload")

type wireRecord struct {
	Time    string `json:"time"`
	Level   string `json:"level"`
	Message string `json:"message"`
	TaskID  string `json:"taskId"`
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// Decode parses one push payload. A missing or unparsable timestamp falls back
// to now.
func Decode(payload []byte, now func() time.Time) (schema.LogRecord, error) {
	if now == nil {
		now = time.Now
	}
	if len(strings.TrimSpace(string(payload))) == 0 {
		return schema.LogRecord{}, errEmptyPayload
	}
	var wire wireRecord
	if err := json.Unmarshal(payload, &wire); err != nil {
		return schema.LogRecord{}, fmt.Errorf("decode log record: %w", err)
	}
	return schema.LogRecord{
		Time:      parseTime(wire.Time, now),
		Level:     strings.TrimSpace(wire.Level),
		Message:   wire.Message,
		ContextID: schema.NormalizeContextID(wire.TaskID),
	}, nil
}

func parseTime(value string, now func() time.Time) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return now()
	}
	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed
		}
	}
	return now()
}
