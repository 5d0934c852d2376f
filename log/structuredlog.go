package log

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"
)

// SecurityEvent is one JSON line describing a decode failure that callers
// classify as possible tampering (bad checksum, foreign opcode id).
type SecurityEvent struct {
	Time   time.Time `json:"time"`
	Source string    `json:"source"`
	Code   string    `json:"code"`
	Name   string    `json:"name"`
	Detail *string   `json:"detail,omitempty"`
	Offset *uint64   `json:"offset,omitempty"` // byte offset of the failing record
}

var fieldOrder = []string{"time", "source", "code", "name", "detail", "offset"}

// Custom JSON marshaling to preserve field order and omit zero/empty values.
func (e SecurityEvent) MarshalJSON() ([]byte, error) {
	buf := &bytes.Buffer{}
	buf.WriteByte('{')
	writeField := func(key string, val []byte) {
		if buf.Len() > 1 {
			buf.WriteByte(',')
		}
		fmt.Fprintf(buf, `"%s":`, key)
		buf.Write(val)
	}
	for _, f := range fieldOrder {
		switch f {
		case "time":
			b, _ := json.Marshal(e.Time)
			writeField(f, b)
		case "source":
			b, _ := json.Marshal(e.Source)
			writeField(f, b)
		case "code":
			b, _ := json.Marshal(e.Code)
			writeField(f, b)
		case "name":
			b, _ := json.Marshal(e.Name)
			writeField(f, b)
		case "detail":
			if e.Detail != nil {
				b, _ := json.Marshal(*e.Detail)
				writeField(f, b)
			}
		case "offset":
			if e.Offset != nil {
				b, _ := json.Marshal(e.Offset)
				writeField(f, b)
			}
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

var (
	eventMu   sync.Mutex
	eventSink io.Writer
)

// SetEventSink directs security events to w. A nil sink routes them through
// the root logger at warn level.
func SetEventSink(w io.Writer) {
	eventMu.Lock()
	defer eventMu.Unlock()
	eventSink = w
}

// Security records a security relevant event. Recognised kv keys are
// "detail", "offset" and "time".
func Security(source, code, name string, kv ...interface{}) {
	ev := SecurityEvent{
		Time:   time.Now().UTC(),
		Source: source,
		Code:   code,
		Name:   name,
	}

	kvMap := toMap(kv...)
	if v, ok := kvMap["detail"]; ok && v != nil {
		d := fmt.Sprint(v)
		ev.Detail = &d
	}
	if v, ok := kvMap["offset"]; ok {
		off := parseUint64(v)
		ev.Offset = &off
	}
	if v, ok := kvMap["time"]; ok {
		if t, ok := v.(time.Time); ok {
			ev.Time = t
		}
	}

	msgBytes, err := json.Marshal(ev)
	if err != nil {
		Error(CLIMonitoring, "Security: failed to marshal event", "err", err)
		return
	}

	eventMu.Lock()
	defer eventMu.Unlock()
	if eventSink == nil {
		Root().Write(LevelWarn, "security", string(msgBytes))
		return
	}
	eventSink.Write(append(msgBytes, '\n'))
}

func toMap(kv ...interface{}) map[string]interface{} {
	m := make(map[string]interface{}, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			m[k] = kv[i+1]
		}
	}
	return m
}

func parseUint64(v interface{}) uint64 {
	switch t := v.(type) {
	case int:
		return uint64(t)
	case int64:
		return uint64(t)
	case float64:
		return uint64(t)
	case uint32:
		return uint64(t)
	case uint64:
		return t
	case string:
		if n, err := strconv.ParseUint(t, 10, 64); err == nil {
			return n
		}
	}
	return 0
}
