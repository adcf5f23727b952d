// Package output renders command results as tables, JSON or YAML.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

// Mode selects the output format.
type Mode string

const (
	// ModeAuto picks a table on a terminal and JSON otherwise.
	ModeAuto  Mode = "auto"
	ModeTable Mode = "table"
	ModeJSON  Mode = "json"
	ModeYAML  Mode = "yaml"
)

// Renderer writes command results in the configured mode.
type Renderer struct {
	out  io.Writer
	err  io.Writer
	mode Mode
}

// NewRenderer creates a renderer. An empty or unknown mode behaves as auto.
func NewRenderer(out, err io.Writer, mode Mode) *Renderer {
	switch mode {
	case ModeTable, ModeJSON, ModeYAML:
	default:
		mode = ModeAuto
	}
	return &Renderer{out: out, err: err, mode: mode}
}

// resolved collapses auto into a concrete mode.
func (r *Renderer) resolved() Mode {
	if r.mode != ModeAuto {
		return r.mode
	}
	if f, ok := r.out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return ModeTable
	}
	return ModeJSON
}

// Object renders a structured value. Table mode falls back to YAML, which
// reads better than a one-column table for nested values.
func (r *Renderer) Object(v any) error {
	switch r.resolved() {
	case ModeJSON:
		enc := json.NewEncoder(r.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	default:
		enc := yaml.NewEncoder(r.out)
		defer func() { _ = enc.Close() }()
		return enc.Encode(v)
	}
}

// Table renders rows under a header. JSON and YAML modes emit the rows as
// a list of objects keyed by the header names.
func (r *Renderer) Table(header []string, rows [][]any) error {
	switch r.resolved() {
	case ModeJSON, ModeYAML:
		objects := make([]map[string]any, len(rows))
		for i, row := range rows {
			obj := make(map[string]any, len(header))
			for j, h := range header {
				if j < len(row) {
					obj[h] = row[j]
				}
			}
			objects[i] = obj
		}
		return r.Object(objects)
	default:
		t := table.NewWriter()
		t.SetOutputMirror(r.out)
		t.SetStyle(table.StyleLight)
		headerRow := make(table.Row, len(header))
		for i, h := range header {
			headerRow[i] = h
		}
		t.AppendHeader(headerRow)
		for _, row := range rows {
			t.AppendRow(table.Row(row))
		}
		t.Render()
		return nil
	}
}

// Printf writes a plain message to the primary output.
func (r *Renderer) Printf(format string, args ...any) {
	fmt.Fprintf(r.out, format, args...)
}

// Warnf writes a warning to the error stream.
func (r *Renderer) Warnf(format string, args ...any) {
	fmt.Fprintf(r.err, "Warning: "+format, args...)
}
