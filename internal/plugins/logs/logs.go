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

package logs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/afero"

	"github.com/deckhouse/kops-agent/internal/config"
	"github.com/deckhouse/kops-agent/internal/logging"
	"github.com/deckhouse/kops-agent/internal/plugin"
)

const Name = "log_agent"

const (
	ActionAnalyze       plugin.Action = "analyze"
	ActionSearch        plugin.Action = "search"
	ActionExtractErrors plugin.Action = "extract_errors"
	ActionSummary       plugin.Action = "summary"
)

const (
	defaultSearchLines = 100
	defaultHours       = 24
	maxPatternMatches  = 10
	maxErrors          = 100
	maxLineSize        = 1024 * 1024
	hourLayout         = "2006-01-02 15:00"
)

var ErrLogNotFound = errors.New("log file not found")

type namedPattern struct {
	name string
	re   *regexp.Regexp
}

var defaultPatterns = []namedPattern{
	{"errors", regexp.MustCompile(`(?i)ERROR|FATAL|CRITICAL`)},
	{"warnings", regexp.MustCompile(`(?i)WARN`)},
	{"info", regexp.MustCompile(`(?i)INFO`)},
	{"exceptions", regexp.MustCompile(`(?i)Exception|Error`)},
	{"timeouts", regexp.MustCompile(`timeout|TIMEOUT`)},
	{"connections", regexp.MustCompile(`connection|CONNECTION`)},
	{"requests", regexp.MustCompile(`request|REQUEST`)},
}

var (
	errorLine   = regexp.MustCompile(`(?i)ERROR|FATAL|CRITICAL|Exception|failed|timeout`)
	fatalLevel  = regexp.MustCompile(`(?i)FATAL|CRITICAL`)
	errorLevel  = regexp.MustCompile(`(?i)ERROR`)
	warnLevel   = regexp.MustCompile(`(?i)WARN`)
	infoLevel   = regexp.MustCompile(`(?i)INFO`)
	severeLevel = regexp.MustCompile(`(?i)ERROR|FATAL|CRITICAL`)
)

type timestampFormat struct {
	re     *regexp.Regexp
	layout string
	noYear bool
}

var timestampFormats = []timestampFormat{
	{re: regexp.MustCompile(`\d{4}-\d{2}-\d{2}[ T]\d{2}:\d{2}:\d{2}`), layout: "2006-01-02 15:04:05"},
	{re: regexp.MustCompile(`\d{2}/\d{2}/\d{4} \d{2}:\d{2}:\d{2}`), layout: "01/02/2006 15:04:05"},
	{re: regexp.MustCompile(`[A-Z][a-z]{2} [ \d]\d \d{2}:\d{2}:\d{2}`), layout: "Jan _2 15:04:05", noYear: true},
}

// Plugin analyzes plain text log files.
type Plugin struct {
	plugin.Base

	fs     afero.Fs
	logger *logging.Logger
	now    func() time.Time
}

type Option func(*Plugin)

func WithFs(fs afero.Fs) Option {
	return func(p *Plugin) {
		p.fs = fs
	}
}

// WithClock sets the clock used for time windows. Timestamps without a zone are read in its location.
func WithClock(now func() time.Time) Option {
	return func(p *Plugin) {
		p.now = now
	}
}

func New(_ config.Accessor, logger *logging.Logger, opts ...Option) *Plugin {
	p := &Plugin{
		Base: plugin.NewBase(Name, "Analyze logs and extract insights", "1.0.0",
			ActionAnalyze, ActionSearch, ActionExtractErrors, ActionSummary),
		fs:     afero.NewOsFs(),
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Plugin) Info(ctx context.Context) plugin.Info {
	return plugin.Describe(ctx, p)
}

func (p *Plugin) Execute(ctx context.Context, action plugin.Action, opts plugin.Options) (any, error) {
	file, err := opts.RequireString("log_file")
	if err != nil {
		return nil, err
	}

	var result any
	switch action {
	case ActionAnalyze:
		result, err = p.analyze(file, opts.GetMap("patterns"))
	case ActionSearch:
		result, err = p.search(file, opts)
	case ActionExtractErrors:
		result, err = p.extractErrors(file, opts.GetInt("hours", defaultHours))
	case ActionSummary:
		result, err = p.summary(file, opts.GetInt("hours", defaultHours))
	default:
		return nil, p.UnknownAction(action)
	}
	if err != nil {
		p.logger.Error(ctx, "Log processing failed",
			slog.String("action", action.String()),
			slog.String("file", file),
			logging.Err(err),
		)
		return nil, err
	}
	return result, nil
}

type PatternMatches struct {
	Count   int      `json:"count" yaml:"count"`
	Matches []string `json:"matches" yaml:"matches"`
}

type Analysis struct {
	File       string                    `json:"file" yaml:"file"`
	TotalLines int                       `json:"total_lines" yaml:"total_lines"`
	Analysis   map[string]PatternMatches `json:"analysis" yaml:"analysis"`
	Timestamp  string                    `json:"timestamp" yaml:"timestamp"`
}

func (p *Plugin) analyze(file string, custom map[string]any) (*Analysis, error) {
	patterns, err := compilePatterns(custom)
	if err != nil {
		return nil, err
	}

	data, err := p.read(file)
	if err != nil {
		return nil, err
	}
	content := string(data)

	analysis := make(map[string]PatternMatches, len(patterns))
	for _, np := range patterns {
		matches := np.re.FindAllString(content, -1)
		analysis[np.name] = PatternMatches{
			Count:   len(matches),
			Matches: append([]string{}, lo.Slice(matches, 0, maxPatternMatches)...),
		}
	}

	return &Analysis{
		File:       file,
		TotalLines: countLines(content),
		Analysis:   analysis,
		Timestamp:  p.now().UTC().Format(time.RFC3339),
	}, nil
}

type SearchResult struct {
	File    string   `json:"file" yaml:"file"`
	Query   string   `json:"query" yaml:"query"`
	Matches int      `json:"matches" yaml:"matches"`
	Lines   []string `json:"lines" yaml:"lines"`
}

// search returns the last matching lines in file order.
func (p *Plugin) search(file string, opts plugin.Options) (*SearchResult, error) {
	query, err := opts.RequireString("query")
	if err != nil {
		return nil, err
	}
	limit := opts.GetInt("lines", defaultSearchLines)

	var matched []string
	err = p.scan(file, func(line string) {
		if strings.Contains(line, query) {
			matched = append(matched, line)
		}
	})
	if err != nil {
		return nil, err
	}
	if limit >= 0 && len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}

	return &SearchResult{File: file, Query: query, Matches: len(matched), Lines: lo.Ternary(matched == nil, []string{}, matched)}, nil
}

type ErrorEntry struct {
	Line      string     `json:"line" yaml:"line"`
	Timestamp *time.Time `json:"timestamp" yaml:"timestamp"`
	Level     string     `json:"level" yaml:"level"`
}

type ErrorReport struct {
	File        string       `json:"file" yaml:"file"`
	Hours       int          `json:"hours" yaml:"hours"`
	TotalErrors int          `json:"total_errors" yaml:"total_errors"`
	Errors      []ErrorEntry `json:"errors" yaml:"errors"`
}

// extractErrors collects error lines newer than the cutoff. Lines without a timestamp are always kept.
func (p *Plugin) extractErrors(file string, hours int) (*ErrorReport, error) {
	now := p.now()
	cutoff := now.Add(-time.Duration(hours) * time.Hour)

	entries := []ErrorEntry{}
	err := p.scan(file, func(line string) {
		if !errorLine.MatchString(line) {
			return
		}
		ts := extractTimestamp(line, now)
		if ts != nil && ts.Before(cutoff) {
			return
		}
		entries = append(entries, ErrorEntry{Line: strings.TrimSpace(line), Timestamp: ts, Level: errorLevelOf(line)})
	})
	if err != nil {
		return nil, err
	}

	total := len(entries)
	if total > maxErrors {
		entries = entries[total-maxErrors:]
	}
	return &ErrorReport{File: file, Hours: hours, TotalErrors: total, Errors: entries}, nil
}

type Summary struct {
	TotalLines         int            `json:"total_lines" yaml:"total_lines"`
	ErrorCount         int            `json:"error_count" yaml:"error_count"`
	WarningCount       int            `json:"warning_count" yaml:"warning_count"`
	InfoCount          int            `json:"info_count" yaml:"info_count"`
	UniqueErrors       int            `json:"unique_errors" yaml:"unique_errors"`
	HourlyDistribution map[string]int `json:"hourly_distribution" yaml:"hourly_distribution"`
}

type SummaryReport struct {
	File    string  `json:"file" yaml:"file"`
	Hours   int     `json:"hours" yaml:"hours"`
	Summary Summary `json:"summary" yaml:"summary"`
}

func (p *Plugin) summary(file string, hours int) (*SummaryReport, error) {
	now := p.now()
	cutoff := now.Add(-time.Duration(hours) * time.Hour)

	s := Summary{HourlyDistribution: map[string]int{}}
	unique := map[string]struct{}{}
	err := p.scan(file, func(line string) {
		ts := extractTimestamp(line, now)
		if ts != nil && ts.Before(cutoff) {
			return
		}
		s.TotalLines++

		switch {
		case severeLevel.MatchString(line):
			s.ErrorCount++
			unique[strings.TrimSpace(line)] = struct{}{}
		case warnLevel.MatchString(line):
			s.WarningCount++
		case infoLevel.MatchString(line):
			s.InfoCount++
		}

		if ts != nil {
			s.HourlyDistribution[ts.Format(hourLayout)]++
		}
	})
	if err != nil {
		return nil, err
	}
	s.UniqueErrors = len(unique)

	return &SummaryReport{File: file, Hours: hours, Summary: s}, nil
}

func (p *Plugin) open(file string) (afero.File, error) {
	f, err := p.fs.Open(file)
	if err != nil {
		if exists, _ := afero.Exists(p.fs, file); !exists {
			return nil, fmt.Errorf("%w: %s", ErrLogNotFound, file)
		}
		return nil, fmt.Errorf("open %s: %w", file, err)
	}
	return f, nil
}

func (p *Plugin) read(file string) ([]byte, error) {
	f, err := p.open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", file, err)
	}
	return data, nil
}

func (p *Plugin) scan(file string, fn func(line string)) error {
	f, err := p.open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		fn(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read %s: %w", file, err)
	}
	return nil
}

// compilePatterns returns the custom patterns sorted by name, or the defaults when none are given.
func compilePatterns(custom map[string]any) ([]namedPattern, error) {
	if len(custom) == 0 {
		return defaultPatterns, nil
	}
	names := lo.Keys(custom)
	sort.Strings(names)

	patterns := make([]namedPattern, 0, len(names))
	for _, name := range names {
		re, err := regexp.Compile(fmt.Sprint(custom[name]))
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", name, err)
		}
		patterns = append(patterns, namedPattern{name: name, re: re})
	}
	return patterns, nil
}

// extractTimestamp finds the first known timestamp in line, read in the location of now.
func extractTimestamp(line string, now time.Time) *time.Time {
	for _, f := range timestampFormats {
		m := f.re.FindString(line)
		if m == "" {
			continue
		}
		ts, err := time.ParseInLocation(f.layout, strings.Replace(m, "T", " ", 1), now.Location())
		if err != nil {
			continue
		}
		if f.noYear {
			ts = ts.AddDate(now.Year(), 0, 0)
		}
		return &ts
	}
	return nil
}

func errorLevelOf(line string) string {
	switch {
	case fatalLevel.MatchString(line):
		return "fatal"
	case errorLevel.MatchString(line):
		return "error"
	case warnLevel.MatchString(line):
		return "warning"
	case infoLevel.MatchString(line):
		return "info"
	default:
		return "unknown"
	}
}

func countLines(content string) int {
	if content == "" {
		return 0
	}
	n := strings.Count(content, "\n")
	if !strings.HasSuffix(content, "\n") {
		n++
	}
	return n
}
