// Package errlog appends non-planning failures to a rolling JSONL log under
// the orchestrator home. The log is part of the error contract: every
// surfaced infrastructure failure lands here with its command and context,
// newest last, bounded to a fixed entry count.
package errlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DefaultMaxEntries bounds the log; oldest entries roll off first.
const DefaultMaxEntries = 500

// Entry is one logged failure.
type Entry struct {
	Timestamp  time.Time         `json:"timestamp"`
	Command    string            `json:"command"`
	Subcommand string            `json:"subcommand,omitempty"`
	Kind       string            `json:"kind"`
	Message    string            `json:"message"`
	Context    map[string]string `json:"context,omitempty"`
}

// Log is a bounded JSONL file. Safe for concurrent use within a process;
// cross-process appends rely on the rewrite being atomic (temp + rename).
type Log struct {
	mu         sync.Mutex
	path       string
	maxEntries int
}

// New opens (lazily) the log at path.
func New(path string) *Log {
	return &Log{path: path, maxEntries: DefaultMaxEntries}
}

// Append records an entry, stamping the timestamp when unset and trimming
// the file to the newest maxEntries lines.
func (l *Log) Append(e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	lines, err := l.readLines()
	if err != nil {
		return err
	}

	encoded, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding error entry: %w", err)
	}
	lines = append(lines, string(encoded))
	if len(lines) > l.maxEntries {
		lines = lines[len(lines)-l.maxEntries:]
	}

	return l.writeLines(lines)
}

// Read returns all entries, oldest first. Unparseable lines are skipped.
func (l *Log) Read() ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	lines, err := l.readLines()
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(lines))
	for _, line := range lines {
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err == nil {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func (l *Log) readLines() ([]string, error) {
	f, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening error log: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, scanner.Err()
}

func (l *Log) writeLines(lines []string) error {
	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".errors-*.jsonl")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	for _, line := range lines {
		if _, err := w.WriteString(line + "\n"); err != nil {
			tmp.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), l.path)
}
