// Package util provides small string helpers shared by the command layer.
package util

import (
	"errors"
	"strings"
)

// ErrUnterminatedQuote is returned by SplitArgs for a line with an open quote.
var ErrUnterminatedQuote = errors.New("unterminated quote")

// TrimQuotes removes leading and trailing double quotes from a string.
func TrimQuotes(s string) string {
	return strings.Trim(s, `"`)
}

// FixEscapeQuotes replaces escaped double quotes ("") with single double quotes (").
func FixEscapeQuotes(s string) string {
	return strings.ReplaceAll(s, `""`, `"`)
}

// SplitArgs splits a command line on whitespace. A double-quoted run is one
// argument and "" inside it stands for a literal quote.
//
//	:PERFORMER:RENAME: d1 "Anna ""The Lead"" K"  ->  [:PERFORMER:RENAME: d1 Anna "The Lead" K]
func SplitArgs(line string) ([]string, error) {
	var (
		args    []string
		cur     strings.Builder
		inQuote bool
		started bool
	)
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case inQuote && c == '"':
			if i+1 < len(line) && line[i+1] == '"' {
				cur.WriteByte('"')
				i++
				continue
			}
			inQuote = false
		case c == '"':
			inQuote = true
			started = true
		case !inQuote && (c == ' ' || c == '\t'):
			if started {
				args = append(args, cur.String())
				cur.Reset()
				started = false
			}
		default:
			cur.WriteByte(c)
			started = true
		}
	}
	if inQuote {
		return nil, ErrUnterminatedQuote
	}
	if started {
		args = append(args, cur.String())
	}
	return args, nil
}
