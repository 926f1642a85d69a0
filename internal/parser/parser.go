// Package parser turns command argument vectors into typed edit requests.
// It has no dependencies on engine state.
package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/OCAP2/choreograph/internal/util"
	"github.com/OCAP2/choreograph/pkg/core"
)

// ErrBadArgs wraps every parse failure.
var ErrBadArgs = errors.New("bad arguments")

var colorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

func badArgs(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrBadArgs, fmt.Sprintf(format, args...))
}

func clean(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = util.FixEscapeQuotes(util.TrimQuotes(strings.TrimSpace(a)))
	}
	return out
}

func want(args []string, n int, usage string) error {
	if len(args) != n {
		return badArgs("want %s, got %d argument(s)", usage, len(args))
	}
	return nil
}

// parseFloat accepts integers and decimals ("1500", "1500.5") and rejects
// NaN and infinities.
func parseFloat(s string) (float64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, badArgs("%q is not a number", s)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, badArgs("%q is not a finite number", s)
	}
	return f, nil
}

// parseIntFromFloat parses a string that may be an integer or float into
// int64, rounding decimals to the nearest integer.
func parseIntFromFloat(s string) (int64, error) {
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, nil
	}
	f, err := parseFloat(s)
	if err != nil {
		return 0, err
	}
	if f > math.MaxInt64 || f < math.MinInt64 {
		return 0, badArgs("%q is out of range", s)
	}
	return int64(math.Round(f)), nil
}

// ParseTime parses a single time argument in milliseconds.
func ParseTime(args []string) (float64, error) {
	args = clean(args)
	if err := want(args, 1, "<ms>"); err != nil {
		return 0, err
	}
	return parseFloat(args[0])
}

// ParseDuration parses a single duration argument in whole milliseconds.
func ParseDuration(args []string) (int64, error) {
	args = clean(args)
	if err := want(args, 1, "<ms>"); err != nil {
		return 0, err
	}
	return parseIntFromFloat(args[0])
}

// ParseID parses a single non-empty identifier.
func ParseID(args []string) (string, error) {
	args = clean(args)
	if err := want(args, 1, "<id>"); err != nil {
		return "", err
	}
	if args[0] == "" {
		return "", badArgs("empty id")
	}
	return args[0], nil
}

// ParseMove parses "<performer> <x> <y>".
func ParseMove(args []string) (core.PerformerID, core.Position, error) {
	args = clean(args)
	if err := want(args, 3, "<performer> <x> <y>"); err != nil {
		return "", core.Position{}, err
	}
	if args[0] == "" {
		return "", core.Position{}, badArgs("empty performer id")
	}
	x, err := parseFloat(args[1])
	if err != nil {
		return "", core.Position{}, err
	}
	y, err := parseFloat(args[2])
	if err != nil {
		return "", core.Position{}, err
	}
	return core.PerformerID(args[0]), core.Position{X: x, Y: y}, nil
}

// ParseRetime parses "<keyframe> <ms>".
func ParseRetime(args []string) (core.KeyframeID, int64, error) {
	args = clean(args)
	if err := want(args, 2, "<keyframe> <ms>"); err != nil {
		return "", 0, err
	}
	if args[0] == "" {
		return "", 0, badArgs("empty keyframe id")
	}
	ts, err := parseIntFromFloat(args[1])
	if err != nil {
		return "", 0, err
	}
	return core.KeyframeID(args[0]), ts, nil
}

// ParseRename parses "<performer> <name...>". The remaining arguments are
// joined with single spaces. An empty name is allowed.
func ParseRename(args []string) (core.PerformerID, string, error) {
	args = clean(args)
	if len(args) < 1 || args[0] == "" {
		return "", "", badArgs("want <performer> <name>")
	}
	return core.PerformerID(args[0]), strings.Join(args[1:], " "), nil
}

// ParseColor parses "<performer> <#rrggbb>". The color is returned lower-cased.
func ParseColor(args []string) (core.PerformerID, string, error) {
	args = clean(args)
	if err := want(args, 2, "<performer> <#rrggbb>"); err != nil {
		return "", "", err
	}
	if args[0] == "" {
		return "", "", badArgs("empty performer id")
	}
	if !colorPattern.MatchString(args[1]) {
		return "", "", badArgs("%q is not a #rrggbb color", args[1])
	}
	return core.PerformerID(args[0]), strings.ToLower(args[1]), nil
}

// ParseFormation accepts either one JSON object mapping performer ids to
// {"x":..,"y":..} or a list of "id:x,y" pairs.
//
//	{"d1":{"x":100,"y":200}}
//	d1:100,200 d2:300,200
func ParseFormation(args []string) (map[core.PerformerID]core.Position, error) {
	args = clean(args)
	if len(args) == 0 {
		return nil, badArgs("want a formation")
	}
	if strings.HasPrefix(args[0], "{") {
		return parseFormationJSON(strings.Join(args, " "))
	}

	out := make(map[core.PerformerID]core.Position, len(args))
	for _, a := range args {
		id, xy, ok := strings.Cut(a, ":")
		if !ok || id == "" {
			return nil, badArgs("%q is not id:x,y", a)
		}
		xs, ys, ok := strings.Cut(xy, ",")
		if !ok {
			return nil, badArgs("%q is not id:x,y", a)
		}
		x, err := parseFloat(xs)
		if err != nil {
			return nil, err
		}
		y, err := parseFloat(ys)
		if err != nil {
			return nil, err
		}
		out[core.PerformerID(id)] = core.Position{X: x, Y: y}
	}
	return out, nil
}

func parseFormationJSON(s string) (map[core.PerformerID]core.Position, error) {
	var raw map[string]struct {
		X *float64 `json:"x"`
		Y *float64 `json:"y"`
	}
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return nil, fmt.Errorf("%w: formation json: %w", ErrBadArgs, err)
	}
	out := make(map[core.PerformerID]core.Position, len(raw))
	for id, p := range raw {
		if id == "" || p.X == nil || p.Y == nil {
			return nil, badArgs("formation entry %q needs x and y", id)
		}
		out[core.PerformerID(id)] = core.Position{X: *p.X, Y: *p.Y}
	}
	return out, nil
}
