package log

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Formatter renders an Entry to bytes.
type Formatter interface {
	Format(entry *Entry) ([]byte, error)
}

// TextFormatter renders entries as "ts LEVEL message key=value ...".
type TextFormatter struct{}

// Format implements Formatter.
func (f *TextFormatter) Format(entry *Entry) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(entry.Timestamp.Format("2006-01-02T15:04:05.000Z07:00"))
	buf.WriteByte(' ')
	buf.WriteString(entry.Level.String())
	buf.WriteByte(' ')
	buf.WriteString(entry.Message)
	for _, fld := range entry.Fields {
		fmt.Fprintf(&buf, " %s=%v", fld.Key, fld.Value)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// JSONFormatter renders entries as single-line JSON objects.
type JSONFormatter struct{}

// Format implements Formatter.
func (f *JSONFormatter) Format(entry *Entry) ([]byte, error) {
	obj := make(map[string]interface{}, len(entry.Fields)+3)
	obj["ts"] = entry.Timestamp.UnixMilli()
	obj["level"] = entry.Level.String()
	obj["msg"] = entry.Message
	for _, fld := range entry.Fields {
		obj[fld.Key] = fld.Value
	}
	b, err := json.Marshal(obj)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}
