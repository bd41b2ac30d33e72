package format

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"pkt.systems/kconsole/schema"
)

// TimeLayout is the display layout of record timestamps.
const TimeLayout = "2006-01-02 15:04:05"

var embeddedFields = regexp.MustCompile(`time="([^"]+)"\s+level=(\w+)\s+msg="([\s\S]*)"`)

var embeddedTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
}

// Display is the render-time view of a record.
type Display struct {
	Time    time.Time
	Level   string
	Message string
}

// Resolve returns the display fields of a record. Fields embedded in the
// message as time="…" level=… msg="…" override the stored ones; the record is
// not modified.
func Resolve(record schema.LogRecord) Display {
	display := Display{
		Time:    record.Time,
		Level:   strings.ToUpper(strings.TrimSpace(record.Level)),
		Message: record.Message,
	}
	if display.Level == "" {
		display.Level = schema.LevelInfo
	}
	match := embeddedFields.FindStringSubmatch(record.Message)
	if match == nil {
		return display
	}
	for _, layout := range embeddedTimeLayouts {
		if parsed, err := time.Parse(layout, match[1]); err == nil {
			display.Time = parsed
			break
		}
	}
	display.Level = strings.ToUpper(match[2])
	display.Message = match[3]
	return display
}

// PlainRenderer formats groups and records as plain text lines.
type PlainRenderer struct {
	Location *time.Location
}

// NewPlainRenderer returns a renderer using local time.
func NewPlainRenderer() *PlainRenderer {
	return &PlainRenderer{Location: time.Local}
}

// FormatRecord renders one record as a single line per message line.
func (p *PlainRenderer) FormatRecord(record schema.LogRecord) []string {
	display := Resolve(record)
	ts := display.Time
	if p.Location != nil {
		ts = ts.In(p.Location)
	}
	prefix := fmt.Sprintf("[%s] [%s] ", ts.Format(TimeLayout), display.Level)
	lines := splitLines(display.Message)
	if len(lines) == 0 {
		return []string{strings.TrimRight(prefix, " ")}
	}
	return markLines(prefix, lines)
}

// FormatGroup renders a group header followed by its records when expanded
// or when all is set.
func (p *PlainRenderer) FormatGroup(group schema.DisplayGroup, all bool) []string {
	marker := "+"
	if group.Expanded || all {
		marker = "-"
	}
	header := fmt.Sprintf("%s %s (%d)", marker, group.Label, len(group.Records))
	if group.Task != nil {
		header += fmt.Sprintf(" [%s]", group.Task.Status)
	}
	lines := []string{header}
	if !group.Expanded && !all {
		return lines
	}
	for _, record := range group.Records {
		lines = append(lines, markLines("    ", p.FormatRecord(record))...)
	}
	return lines
}

func splitLines(text string) []string {
	text = strings.TrimRight(text, "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

func markLines(marker string, lines []string) []string {
	if marker == "" || len(lines) == 0 {
		return lines
	}
	marked := make([]string, 0, len(lines))
	for _, line := range lines {
		marked = append(marked, marker+line)
	}
	return marked
}
