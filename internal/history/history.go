// Append-only ledger of generated images and the prompts behind them
package history

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Separator sits between the prompt and the bracketed file path on each line
const Separator = " :: ["

// Entry is one parsed history line
type Entry struct {
	Prompt string `yaml:"prompt"`
	Path   string `yaml:"path"`
}

// FormatLine renders a history line including the trailing newline
func FormatLine(prompt, path string) string {
	return fmt.Sprintf("%s :: [%s]\n", prompt, path)
}

// Log appends lines to the history file. Safe for concurrent use.
type Log struct {
	path string
	mu   sync.Mutex
	file *os.File
}

func NewLog(path string) *Log {
	return &Log{path: path}
}

func (l *Log) Path() string {
	return l.path
}

// Append writes one line and flushes it to the OS before returning
func (l *Log) Append(prompt, path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		if dir := filepath.Dir(l.path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("failed to create history directory: %w", err)
			}
		}
		f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open history file: %w", err)
		}
		l.file = f
	}

	if _, err := l.file.WriteString(FormatLine(prompt, path)); err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}
	return nil
}

func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// Read parses the history file. A missing file yields no entries. Lines that
// do not carry the separator are kept with an empty path.
func Read(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open history file: %w", err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		entries = append(entries, ParseLine(line))
	}
	if err := scanner.Err(); err != nil {
		return entries, fmt.Errorf("failed to read history file: %w", err)
	}
	return entries, nil
}

// ParseLine splits on the last separator so prompts may contain it
func ParseLine(line string) Entry {
	idx := strings.LastIndex(line, Separator)
	if idx < 0 || !strings.HasSuffix(line, "]") {
		return Entry{Prompt: line}
	}
	return Entry{
		Prompt: line[:idx],
		Path:   line[idx+len(Separator) : len(line)-1],
	}
}
