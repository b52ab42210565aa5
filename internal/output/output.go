/*
Copyright 2025 Flant JSC

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package output

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

var ErrUnknownFormat = errors.New("unknown output format")

// ParseFormat accepts text, json and yaml. An empty string means text.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON, FormatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("%w %q, expected one of text, json, yaml", ErrUnknownFormat, s)
	}
}

// Printer renders command results on a writer.
type Printer struct {
	w      io.Writer
	format Format
	pal    palette
}

type Option func(*Printer)

// WithColor forces colored text output on or off.
func WithColor(enabled bool) Option {
	return func(p *Printer) {
		p.pal = newPalette(enabled)
	}
}

// New creates a printer. Text output is colored only when w is a terminal.
func New(w io.Writer, format Format, opts ...Option) *Printer {
	p := &Printer{
		w:      w,
		format: format,
		pal:    newPalette(isTerminal(w)),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Printer) Format() Format {
	return p.format
}

func (p *Printer) Print(v any) error {
	switch p.format {
	case FormatJSON:
		return p.json(v)
	case FormatYAML:
		return p.yaml(v)
	default:
		_, err := io.WriteString(p.w, p.Text(v))
		return err
	}
}

// Error renders a batch level fault as {error: message}.
func (p *Printer) Error(err error) error {
	if p.format == FormatText {
		_, werr := fmt.Fprintln(p.w, p.pal.red("❌ "+err.Error()))
		return werr
	}
	return p.Print(map[string]string{"error": err.Error()})
}

func (p *Printer) json(v any) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode json output: %w", err)
	}
	return nil
}

// yaml goes through the JSON encoding so custom MarshalJSON methods apply
// and field order is kept.
func (p *Printer) yaml(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode yaml output: %w", err)
	}
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return fmt.Errorf("encode yaml output: %w", err)
	}
	blockStyle(&node)

	enc := yaml.NewEncoder(p.w)
	enc.SetIndent(2)
	if err := enc.Encode(&node); err != nil {
		return fmt.Errorf("encode yaml output: %w", err)
	}
	return enc.Close()
}

func blockStyle(n *yaml.Node) {
	n.Style &^= yaml.FlowStyle | yaml.DoubleQuotedStyle | yaml.SingleQuotedStyle
	for _, c := range n.Content {
		blockStyle(c)
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok || os.Getenv("NO_COLOR") != "" {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

type palette struct {
	red, green, yellow, cyan, bold func(a ...interface{}) string
}

func newPalette(enabled bool) palette {
	paint := func(attrs ...color.Attribute) func(a ...interface{}) string {
		c := color.New(attrs...)
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
		return c.SprintFunc()
	}
	return palette{
		red:    paint(color.FgRed),
		green:  paint(color.FgGreen),
		yellow: paint(color.FgYellow),
		cyan:   paint(color.FgCyan),
		bold:   paint(color.Bold),
	}
}
