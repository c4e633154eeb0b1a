package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/agentuity/go-sessions/session"
	"github.com/agentuity/go-sessions/tui"
	"gopkg.in/yaml.v3"
)

// parseProperties turns key=value pairs into properties. Values that are valid
// JSON are decoded, anything else is kept as a string.
func parseProperties(pairs []string) ([]session.Property, error) {
	props := make([]session.Property, 0, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid property %q, expected key=value", pair)
		}
		var value any = raw
		var decoded any
		if json.Unmarshal([]byte(raw), &decoded) == nil {
			value = decoded
		}
		props = append(props, session.Property{Key: key, Value: value})
	}
	return props, nil
}

func parseHandle(raw string, in io.Reader) (*session.Handle, error) {
	var buf []byte
	if raw == "-" {
		b, err := io.ReadAll(in)
		if err != nil {
			return nil, fmt.Errorf("error reading session from stdin: %w", err)
		}
		buf = b
	} else {
		buf = []byte(raw)
	}
	var handle session.Handle
	if err := json.Unmarshal(buf, &handle); err != nil {
		return nil, fmt.Errorf("invalid session: %w", err)
	}
	return &handle, nil
}

func formatProperties(props []session.Property) string {
	parts := make([]string, 0, len(props))
	for _, p := range props {
		parts = append(parts, fmt.Sprintf("%s=%v", p.Key, p.Value))
	}
	sort.Strings(parts)
	return strings.Join(parts, " ")
}

// toDocuments converts handles to generic values so yaml sees the same fields as JSON.
func toDocuments(handles []*session.Handle) ([]any, error) {
	docs := make([]any, 0, len(handles))
	for _, h := range handles {
		buf, err := json.Marshal(h)
		if err != nil {
			return nil, err
		}
		var doc map[string]any
		if err := json.Unmarshal(buf, &doc); err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func printHandles(w io.Writer, format string, handles []*session.Handle) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(handles)
	case "yaml":
		docs, err := toDocuments(handles)
		if err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(docs); err != nil {
			return err
		}
		return enc.Close()
	case "table", "":
		rows := make([][]string, 0, len(handles))
		for _, h := range handles {
			rows = append(rows, []string{h.Type, h.ID, formatProperties(h.Properties())})
		}
		tui.PrintTable(w, []string{"Type", "Session", "Properties"}, rows)
		return nil
	}
	return fmt.Errorf("unknown format %q", format)
}

func printEvent(w io.Writer, format string, ev *session.Event) error {
	switch format {
	case "json":
		return json.NewEncoder(w).Encode(ev)
	case "yaml":
		buf, err := yaml.Marshal(ev)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "---\n%s", buf)
		return err
	}
	line := fmt.Sprintf("%s %-9s %s", ev.Timestamp.Format(time.RFC3339), ev.Kind, ev.Type)
	if ev.SessionID != "" {
		line += "/" + ev.SessionID
	}
	if ev.PreviousID != "" {
		line += " " + tui.Muted("(was "+ev.PreviousID+")")
	}
	if ev.Detached {
		line += " " + tui.Muted("detached")
	}
	if ev.Error != "" {
		tui.ShowWarning(w, "%s: %s", line, ev.Error)
		return nil
	}
	tui.ShowSuccess(w, "%s", line)
	return nil
}
