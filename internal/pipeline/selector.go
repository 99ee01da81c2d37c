package pipeline

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Isagog/copertinefull/internal/edition"
)

// SelectorKind distinguishes the ways a run picks its dates.
type SelectorKind int

// Selector kinds.
const (
	SelectSingle SelectorKind = iota
	SelectWindow
	SelectFile
)

func (k SelectorKind) String() string {
	switch k {
	case SelectSingle:
		return "date"
	case SelectWindow:
		return "window"
	case SelectFile:
		return "file"
	default:
		return fmt.Sprintf("SelectorKind(%d)", int(k))
	}
}

// Selector names the dates of a run.
type Selector struct {
	Kind SelectorKind
	// Date is the YYYY-MM-DD value for SelectSingle.
	Date string
	// Days is the trailing window length for SelectWindow, today included.
	Days int
	// Path is the newline-delimited date file for SelectFile.
	Path string
}

// SingleDate selects one YYYY-MM-DD date.
func SingleDate(date string) Selector { return Selector{Kind: SelectSingle, Date: date} }

// Window selects the last days days, ending today.
func Window(days int) Selector { return Selector{Kind: SelectWindow, Days: days} }

// DateFile selects the dates listed in path, one per line.
func DateFile(path string) Selector { return Selector{Kind: SelectFile, Path: path} }

// Batch reports whether the selector may yield many dates.
func (s Selector) Batch() bool { return s.Kind != SelectSingle }

// Resolve expands the selector into distinct dates. Malformed dates are
// logged and skipped. An unreadable date file is an error.
func (s Selector) Resolve(today time.Time, logger *zap.Logger) ([]time.Time, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch s.Kind {
	case SelectSingle:
		d, err := edition.ParseISODate(strings.TrimSpace(s.Date))
		if err != nil {
			logger.Warn("Skipping malformed date", zap.String("date", s.Date), zap.Error(err))
			return nil, nil
		}
		return []time.Time{d}, nil
	case SelectWindow:
		if s.Days <= 0 {
			return nil, fmt.Errorf("window must be at least one day, got %d", s.Days)
		}
		today = edition.MidnightUTC(today)
		dates := make([]time.Time, 0, s.Days)
		for i := s.Days - 1; i >= 0; i-- {
			dates = append(dates, today.AddDate(0, 0, -i))
		}
		return dates, nil
	case SelectFile:
		return readDateFile(s.Path, logger)
	default:
		return nil, fmt.Errorf("unknown selector kind %d", int(s.Kind))
	}
}

func readDateFile(path string, logger *zap.Logger) ([]time.Time, error) {
	if path == "" {
		return nil, errors.New("date file path is required")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open date file: %w", err)
	}
	defer func() { _ = f.Close() }()

	var dates []time.Time
	seen := make(map[string]struct{})
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		d, err := edition.ParseISODate(text)
		if err != nil {
			logger.Warn("Skipping malformed date",
				zap.String("path", path), zap.Int("line", line), zap.String("date", text), zap.Error(err))
			continue
		}
		key := edition.BusinessKey(d)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		dates = append(dates, d)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read date file: %w", err)
	}
	return dates, nil
}
