// Package sse implements Server-Sent Event parsing (for upstream streams)
// and writing (for the client-facing ingress), per spec.md §6 framing rules.
package sse

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"
)

// Event is a single Server-Sent Event.
type Event struct {
	Event string
	Data  string
	ID    string
}

// Parser reads Server-Sent Events from an upstream response body.
type Parser struct {
	scanner *bufio.Scanner
	err     error
}

// NewParser wraps r for line-oriented SSE parsing.
func NewParser(r io.Reader) *Parser {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Parser{scanner: s}
}

// Next returns the next event, or io.EOF when the stream ends cleanly.
func (p *Parser) Next() (*Event, error) {
	if p.err != nil {
		return nil, p.err
	}

	event := &Event{}
	var dataLines []string

	for p.scanner.Scan() {
		line := p.scanner.Text()

		if line == "" {
			if len(dataLines) > 0 || event.Event != "" {
				event.Data = strings.Join(dataLines, "\n")
				return event, nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue // comment
		}

		idx := strings.Index(line, ":")
		if idx == -1 {
			continue
		}
		field, value := line[:idx], line[idx+1:]
		if len(value) > 0 && value[0] == ' ' {
			value = value[1:]
		}

		switch field {
		case "event":
			event.Event = value
		case "data":
			dataLines = append(dataLines, value)
		case "id":
			event.ID = value
		}
	}

	if err := p.scanner.Err(); err != nil {
		p.err = err
		return nil, err
	}
	if len(dataLines) > 0 || event.Event != "" {
		event.Data = strings.Join(dataLines, "\n")
		p.err = io.EOF
		return event, nil
	}
	p.err = io.EOF
	return nil, io.EOF
}

// IsDone reports whether an event is the OpenAI-style "[DONE]" terminator.
func IsDone(e *Event) bool {
	return e != nil && e.Data == "[DONE]"
}

// Writer writes framed SSE events to a client response sink.
type Writer struct {
	w io.Writer
}

// NewWriter wraps w (typically an http.ResponseWriter) for SSE framing.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteEvent writes one named or anonymous SSE frame.
func (w *Writer) WriteEvent(e Event) error {
	var buf bytes.Buffer
	if e.Event != "" {
		fmt.Fprintf(&buf, "event: %s\n", e.Event)
	}
	if e.ID != "" {
		fmt.Fprintf(&buf, "id: %s\n", e.ID)
	}
	for _, line := range strings.Split(e.Data, "\n") {
		fmt.Fprintf(&buf, "data: %s\n", line)
	}
	buf.WriteString("\n")
	_, err := w.w.Write(buf.Bytes())
	return err
}

// WriteData writes a minimal data-only frame (OpenAI-style chunk framing).
func (w *Writer) WriteData(data string) error {
	return w.WriteEvent(Event{Data: data})
}

// WriteDone writes the OpenAI-style terminal frame.
func (w *Writer) WriteDone() error {
	return w.WriteEvent(Event{Data: "[DONE]"})
}

// WriteRaw writes data as a single newline-delimited JSON line, with no SSE
// framing (Gemini-style streaming, which is NDJSON rather than SSE).
func (w *Writer) WriteRaw(data string) error {
	_, err := fmt.Fprintf(w.w, "%s\n", data)
	return err
}
