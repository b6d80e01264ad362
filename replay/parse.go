package replay

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/testomatio/reporter/model"
	"github.com/testomatio/reporter/pipe"
)

const (
	// maxLineSize bounds a single log line.
	maxLineSize = 16 * 1024 * 1024
	// reportedErrors is how many malformed lines are logged one by one.
	reportedErrors = 3
)

// ParseResult is the content of a replay log.
type ParseResult struct {
	EnvVars      map[string]string
	RunParams    *model.RunParams
	FinishParams *model.FinishParams
	RunID        string
	// Tests with a rid, merged per rid, in the order first seen
	Tests []model.TestData
	// Tests without a rid, as logged
	Unidentified []model.TestData
	Lines        int
	ParseErrors  int
}

// AllTests returns the merged tests followed by the unidentified ones.
func (r *ParseResult) AllTests() []model.TestData {
	out := make([]model.TestData, 0, len(r.Tests)+len(r.Unidentified))
	out = append(out, r.Tests...)
	return append(out, r.Unidentified...)
}

// ParseDebugFile reads a replay log line by line. Malformed lines are
// counted and skipped.
func ParseDebugFile(logger zerolog.Logger, path string) (*ParseResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open debug log: %w", err)
	}
	defer f.Close()

	res := &ParseResult{}
	byRid := make(map[string]int)
	addTest := func(t model.TestData) {
		if t.Rid == "" {
			res.Unidentified = append(res.Unidentified, t)
			return
		}
		if i, ok := byRid[t.Rid]; ok {
			res.Tests[i] = mergeTest(res.Tests[i], t)
			return
		}
		byRid[t.Rid] = len(res.Tests)
		res.Tests = append(res.Tests, t)
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		res.Lines++

		if err := parseLine(res, line, addTest); err != nil {
			res.ParseErrors++
			if res.ParseErrors <= reportedErrors {
				logger.Warn().Err(err).Int("line", lineNo).Msg("Skipping malformed debug log line")
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read debug log: %w", err)
	}

	if res.ParseErrors > reportedErrors {
		logger.Warn().
			Int("errors", res.ParseErrors).
			Int("not_shown", res.ParseErrors-reportedErrors).
			Msg("More malformed debug log lines skipped")
	}
	return res, nil
}

func parseLine(res *ParseResult, line string, addTest func(model.TestData)) error {
	var entry model.LogEntry
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		return err
	}

	if entry.Data == model.LogDataVariables {
		if res.EnvVars == nil {
			res.EnvVars = make(map[string]string)
		}
		for k, v := range entry.EnvVars {
			res.EnvVars[k] = v
		}
		return nil
	}

	switch entry.Action {
	case model.LogActionCreateRun:
		var params model.RunParams
		if len(entry.Params) > 0 {
			if err := json.Unmarshal(entry.Params, &params); err != nil {
				return fmt.Errorf("invalid createRun params: %w", err)
			}
		}
		res.RunParams = &params
	case model.LogActionAddTest:
		if entry.Test == nil {
			return fmt.Errorf("addTest without test")
		}
		addTest(*entry.Test)
	case model.LogActionAddTestsBatch:
		for _, t := range entry.Tests {
			addTest(t)
		}
	case model.LogActionFinishRun:
		var params model.FinishParams
		if len(entry.Params) > 0 {
			if err := json.Unmarshal(entry.Params, &params); err != nil {
				return fmt.Errorf("invalid finishRun params: %w", err)
			}
		}
		res.FinishParams = &params
		if entry.RunID != "" {
			res.RunID = entry.RunID
		}
	default:
		return fmt.Errorf("unknown action %q", entry.Action)
	}
	return nil
}

// mergeTest merges like the reporting service does for a resent rid, with
// identical files and artifacts kept once.
func mergeTest(prev, next model.TestData) model.TestData {
	out := pipe.MergeTest(prev, next)
	out.Files = dedup(out.Files)
	out.Artifacts = dedup(out.Artifacts)
	return out
}

func dedup(items []string) []string {
	if len(items) < 2 {
		return items
	}
	seen := make(map[string]bool, len(items))
	out := items[:0]
	for _, it := range items {
		if seen[it] {
			continue
		}
		seen[it] = true
		out = append(out, it)
	}
	return out
}
