package history

// This file contains the local run history: the pointer to the latest
// started run and the lookup of replay logs left behind by earlier runs.

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	// RunFile holds the plain text id of the latest started run.
	RunFile = "testomatio.run"
	// LatestDebugLink always points at the newest replay log.
	LatestDebugLink = "testomatio.debug.latest.json"

	debugLogPrefix = "testomatio.debug."
	debugLogSuffix = ".json"

	// MaxRunAge is how long a run pointer is considered current.
	MaxRunAge = time.Hour
)

// ErrNoRun is returned when no current run pointer exists.
var ErrNoRun = errors.New("no current run")

// RunPointer is the run file as loaded. CreatedAt is its modification time.
type RunPointer struct {
	RunID     string
	CreatedAt time.Time
}

// Entry is one replay log found on disk.
type Entry struct {
	Path string
	Time time.Time
	Size int64
}

// Dir returns the directory history files are kept in.
func Dir() string {
	return os.TempDir()
}

// SaveRun writes the run id to dir.
func SaveRun(dir, runID string) error {
	if err := os.WriteFile(filepath.Join(dir, RunFile), []byte(runID+"\n"), 0o644); err != nil {
		return fmt.Errorf("failed to write run pointer: %w", err)
	}
	return nil
}

// LoadRun returns the run pointer of dir if it was written less than
// MaxRunAge before now.
func LoadRun(dir string, now time.Time) (RunPointer, error) {
	path := filepath.Join(dir, RunFile)
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return RunPointer{}, ErrNoRun
		}
		return RunPointer{}, fmt.Errorf("failed to read run pointer: %w", err)
	}
	if now.Sub(info.ModTime()) > MaxRunAge {
		return RunPointer{}, ErrNoRun
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return RunPointer{}, fmt.Errorf("failed to read run pointer: %w", err)
	}
	id := strings.TrimSpace(string(data))
	if id == "" {
		return RunPointer{}, ErrNoRun
	}
	return RunPointer{RunID: id, CreatedAt: info.ModTime()}, nil
}

// ClearRun removes the run pointer; a missing file is not an error.
func ClearRun(dir string) error {
	err := os.Remove(filepath.Join(dir, RunFile))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove run pointer: %w", err)
	}
	return nil
}

// DebugLogPath returns the replay log path for a run started at t.
func DebugLogPath(dir string, t time.Time) string {
	return filepath.Join(dir, debugLogPrefix+strconv.FormatInt(t.UnixMilli(), 10)+debugLogSuffix)
}

// LinkLatestDebugLog points LatestDebugLink at path, falling back to a copy
// where symlinks are not available.
func LinkLatestDebugLog(path string) error {
	link := filepath.Join(filepath.Dir(path), LatestDebugLink)
	_ = os.Remove(link)
	if err := os.Symlink(filepath.Base(path), link); err == nil {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := os.WriteFile(link, data, 0o644); err != nil {
		return fmt.Errorf("failed to copy latest debug log: %w", err)
	}
	return nil
}

// LoadEntries lists the replay logs of dir, newest first.
func LoadEntries(logger zerolog.Logger, dir string) ([]Entry, error) {
	matches, err := filepath.Glob(filepath.Join(dir, debugLogPrefix+"*"+debugLogSuffix))
	if err != nil {
		return nil, fmt.Errorf("failed to list debug logs: %w", err)
	}

	var entries []Entry
	for _, path := range matches {
		ms, ok := parseDebugLogName(filepath.Base(path))
		if !ok {
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			logger.Warn().Err(err).Str("path", path).Msg("Failed to stat debug log")
			continue
		}
		entries = append(entries, Entry{
			Path: path,
			Time: time.UnixMilli(ms),
			Size: info.Size(),
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Time.After(entries[j].Time)
	})
	return entries, nil
}

// LatestDebugLog returns the newest replay log of dir.
func LatestDebugLog(logger zerolog.Logger, dir string) (string, error) {
	link := filepath.Join(dir, LatestDebugLink)
	if _, err := os.Stat(link); err == nil {
		return link, nil
	}

	entries, err := LoadEntries(logger, dir)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", fmt.Errorf("no debug logs found in %s", dir)
	}
	return entries[0].Path, nil
}

func parseDebugLogName(name string) (int64, bool) {
	if !strings.HasPrefix(name, debugLogPrefix) || !strings.HasSuffix(name, debugLogSuffix) {
		return 0, false
	}
	ms, err := strconv.ParseInt(strings.TrimSuffix(strings.TrimPrefix(name, debugLogPrefix), debugLogSuffix), 10, 64)
	if err != nil {
		return 0, false
	}
	return ms, true
}
