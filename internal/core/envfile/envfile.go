// Package envfile contains pure functions for parsing dotenv-style
// environment files. This is part of the Functional Core - no I/O.
package envfile

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// ErrInvalidLine is returned for a line that is not a comment, blank,
	// or KEY=VALUE pair.
	ErrInvalidLine = errors.New("invalid env file line")

	// ErrInvalidKey is returned for keys that are not valid shell
	// identifiers.
	ErrInvalidKey = errors.New("invalid env variable name")
)

// LineError wraps a parse error with its line number.
type LineError struct {
	Line int
	Text string
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %s: %q", e.Line, e.Err, e.Text)
}

func (e *LineError) Unwrap() error {
	return e.Err
}

// =============================================================================
// Parsing
// =============================================================================

// Parse parses dotenv content into a key/value map.
//
// Supported syntax:
//   - blank lines and lines starting with # are ignored
//   - KEY=VALUE with an optional "export " prefix
//   - single or double quotes around the value are stripped
//   - inline values keep embedded = characters after the first
//
// Later assignments win, matching shell sourcing semantics.
func Parse(content string) (map[string]string, error) {
	vars := make(map[string]string)

	lines := strings.Split(content, "\n")
	for i, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		line = strings.TrimPrefix(line, "export ")

		eq := strings.Index(line, "=")
		if eq < 0 {
			return nil, &LineError{Line: i + 1, Text: raw, Err: ErrInvalidLine}
		}

		key := strings.TrimSpace(line[:eq])
		if !validKey(key) {
			return nil, &LineError{Line: i + 1, Text: raw, Err: ErrInvalidKey}
		}

		vars[key] = unquote(strings.TrimSpace(line[eq+1:]))
	}

	return vars, nil
}

// Merge overlays the given maps left to right; later maps win.
func Merge(maps ...map[string]string) map[string]string {
	merged := make(map[string]string)
	for _, m := range maps {
		for k, v := range m {
			merged[k] = v
		}
	}
	return merged
}

// Render serializes a variable map back to dotenv content with keys
// sorted, one KEY=VALUE per line.
func Render(vars map[string]string) string {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(vars[k])
		b.WriteString("\n")
	}
	return b.String()
}

// validKey reports whether key is a valid shell identifier.
func validKey(key string) bool {
	if key == "" {
		return false
	}
	for i, c := range key {
		alpha := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '_'
		digit := c >= '0' && c <= '9'
		if i == 0 && !alpha {
			return false
		}
		if !alpha && !digit {
			return false
		}
	}
	return true
}

// unquote strips one layer of matching single or double quotes.
func unquote(val string) string {
	if len(val) >= 2 {
		if (val[0] == '"' && val[len(val)-1] == '"') ||
			(val[0] == '\'' && val[len(val)-1] == '\'') {
			return val[1 : len(val)-1]
		}
	}
	return val
}
