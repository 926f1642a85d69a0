package session

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/OCAP2/choreograph/internal/dispatcher"
	"github.com/OCAP2/choreograph/internal/util"
)

// CmdExec queues a whole command line for the session's worker goroutine.
const CmdExec = ":EXEC:"

// normalize turns "keyframe:add" or ":KEYFRAME:ADD:" into ":KEYFRAME:ADD:".
func normalize(cmd string) string {
	cmd = strings.ToUpper(strings.Trim(cmd, ":"))
	return ":" + cmd + ":"
}

// ExecLine splits a command line and dispatches it. Blank lines and
// comments return (nil, nil).
func (s *Session) ExecLine(ctx context.Context, line string) (any, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return nil, nil
	}
	fields, err := util.SplitArgs(line)
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}
	cmd := normalize(fields[0])
	res, err := s.Exec(ctx, cmd, fields[1:]...)
	if err != nil {
		return nil, err
	}
	if s.onResult != nil {
		s.onResult(cmd, res)
	}
	return res, nil
}

// RunScript executes r one line at a time and stops at the first failing
// command.
func (s *Session) RunScript(ctx context.Context, r io.Reader) error {
	sc := bufio.NewScanner(r)
	n := 0
	for sc.Scan() {
		n++
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := s.ExecLine(ctx, sc.Text()); err != nil {
			return fmt.Errorf("line %d: %w", n, err)
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("reading script: %w", err)
	}
	return nil
}

// EnableQueue registers CmdExec behind a blocking queue of the given size so
// lines from a concurrent reader run one at a time on a single goroutine.
// Failures are logged by the dispatcher.
func (s *Session) EnableQueue(size int) {
	s.disp.Register(CmdExec, func(ctx context.Context, e dispatcher.Event) (any, error) {
		return s.ExecLine(ctx, strings.Join(e.Args, " "))
	}, dispatcher.Buffered(size), dispatcher.Blocking())
}

// Enqueue hands a raw line to the queue enabled by EnableQueue.
func (s *Session) Enqueue(ctx context.Context, line string) error {
	_, err := s.disp.Dispatch(ctx, dispatcher.Event{Command: CmdExec, Args: []string{line}})
	return err
}
