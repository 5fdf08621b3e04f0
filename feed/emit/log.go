package emit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// LogEmitter writes one log line per event.
//
// Text lines read like an access log: timestamp, level, event name, then
// key=value pairs with Meta keys sorted:
//
//	2024-06-01T12:00:00.000Z INFO  request_served req=4f0c kind=g path=/moss.g bytes=1024 duration_ms=3 status=200
//
// JSON lines carry the same data as one object:
//
//	{"time":"2024-06-01T12:00:00.000Z","level":"info","msg":"request_served","requestID":"4f0c","kind":"g","path":"/moss.g","meta":{"bytes":1024,"status":200}}
//
// An event whose Meta has an "error" key is logged at level error.
// Concurrent calls never interleave within a line.
type LogEmitter struct {
	mu       sync.Mutex
	writer   io.Writer
	jsonMode bool
	now      func() time.Time
}

// NewLogEmitter creates a LogEmitter writing to writer (nil means
// os.Stdout). jsonMode selects JSON lines instead of text.
func NewLogEmitter(writer io.Writer, jsonMode bool) *LogEmitter {
	if writer == nil {
		writer = os.Stdout
	}
	return &LogEmitter{
		writer:   writer,
		jsonMode: jsonMode,
		now:      time.Now,
	}
}

const logTimeFormat = "2006-01-02T15:04:05.000Z07:00"

func levelOf(event Event) string {
	if _, ok := event.Meta["error"]; ok {
		return "error"
	}
	return "info"
}

// Emit implements Emitter.
func (l *LogEmitter) Emit(event Event) {
	ts := l.now().UTC().Format(logTimeFormat)

	var line []byte
	if l.jsonMode {
		line = formatJSON(ts, event)
	} else {
		line = formatText(ts, event)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.writer.Write(line)
}

type jsonLine struct {
	Time      string                 `json:"time"`
	Level     string                 `json:"level"`
	Msg       string                 `json:"msg"`
	RequestID string                 `json:"requestID,omitempty"`
	Kind      string                 `json:"kind,omitempty"`
	Path      string                 `json:"path,omitempty"`
	Meta      map[string]interface{} `json:"meta,omitempty"`
}

func formatJSON(ts string, event Event) []byte {
	data, err := json.Marshal(jsonLine{
		Time:      ts,
		Level:     levelOf(event),
		Msg:       event.Msg,
		RequestID: event.RequestID,
		Kind:      event.Kind,
		Path:      event.Path,
		Meta:      event.Meta,
	})
	if err != nil {
		data, _ = json.Marshal(jsonLine{
			Time:  ts,
			Level: "error",
			Msg:   event.Msg,
			Meta:  map[string]interface{}{"error": "unencodable meta: " + err.Error()},
		})
	}
	return append(data, '\n')
}

func formatText(ts string, event Event) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "%s %-5s %s", ts, strings.ToUpper(levelOf(event)), event.Msg)

	if event.RequestID != "" {
		b.WriteString(" req=" + quoteIfNeeded(event.RequestID))
	}
	if event.Kind != "" {
		b.WriteString(" kind=" + quoteIfNeeded(event.Kind))
	}
	if event.Path != "" {
		b.WriteString(" path=" + quoteIfNeeded(event.Path))
	}

	keys := make([]string, 0, len(event.Meta))
	for k := range event.Meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%s", k, formatValue(event.Meta[k]))
	}

	b.WriteByte('\n')
	return b.Bytes()
}

func formatValue(v interface{}) string {
	switch v := v.(type) {
	case string:
		return quoteIfNeeded(v)
	case time.Duration:
		return v.String()
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	case fmt.Stringer:
		return quoteIfNeeded(v.String())
	case error:
		return quoteIfNeeded(v.Error())
	}
	return quoteIfNeeded(fmt.Sprint(v))
}

// quoteIfNeeded quotes values that would break key=value parsing.
func quoteIfNeeded(s string) string {
	if s == "" || strings.ContainsAny(s, " \t\n\"=") {
		return strconv.Quote(s)
	}
	return s
}
