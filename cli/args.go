package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/testomatio/reporter/history"
)

func removeFirstDashDash(in []string) []string {
	if len(in) > 0 && in[0] == "--" {
		return in[1:]
	}
	return in
}

// parseReplayArgs splits the replay arguments. Flag parsing is done here so
// that negative indexes are not mistaken for flags.
func parseReplayArgs(in []string) (arg string, dryRun bool, err error) {
	for _, a := range removeFirstDashDash(in) {
		switch {
		case a == "--dry-run" || a == "-dry-run":
			dryRun = true
		case strings.HasPrefix(a, "-") && !isIndex(a):
			return "", false, fmt.Errorf("unknown flag: %s", a)
		case arg != "":
			return "", false, fmt.Errorf("unexpected argument: %s", a)
		default:
			arg = a
		}
	}
	return arg, dryRun, nil
}

// isIndex reports whether arg selects a debug log by position: "0" for the
// latest, "-1" for the one before, and so on.
func isIndex(arg string) bool {
	n, err := strconv.ParseInt(arg, 10, 64)
	return err == nil && n <= 0
}

// resolveDebugLog maps a replay argument to a file. Non-index arguments are
// taken as paths.
func resolveDebugLog(entries []history.Entry, arg string) (string, error) {
	if arg == "" {
		arg = "0"
	}
	parsed, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return arg, nil
	}
	if parsed > 0 {
		return "", fmt.Errorf("invalid index: %s (use 0 for last, -1 for second-to-last, -2 for third-to-last, etc.)", arg)
	}
	if len(entries) == 0 {
		return "", fmt.Errorf("no debug logs found, record one with TESTOMATIO_DEBUG=1")
	}
	index := int(-parsed)
	if index >= len(entries) {
		return "", fmt.Errorf("index %s out of range (only %d debug logs available)", arg, len(entries))
	}
	return entries[index].Path, nil
}
