package batch

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// AutoConfirm approves every plan. Used for --yes.
type AutoConfirm struct{}

func (AutoConfirm) Confirm(context.Context, Plan) (bool, error) { return true, nil }

// LinePrompt asks for y/yes on a line-oriented stream. One buffered reader
// serves every call. A read abandoned by a cancelled context stays pending
// and answers the next call.
type LinePrompt struct {
	In  io.Reader
	Out io.Writer

	mu      sync.Mutex
	r       *bufio.Reader
	pending chan lineAnswer
}

type lineAnswer struct {
	line string
	err  error
}

var _ Confirmer = (*LinePrompt)(nil)

// Confirm prints the plan and reads one line. EOF or a cancelled context
// decline.
func (p *LinePrompt) Confirm(ctx context.Context, plan Plan) (bool, error) {
	fmt.Fprintf(p.Out, "Run directories to clean under %s:\n", plan.Root)
	for _, name := range plan.Pending {
		fmt.Fprintf(p.Out, "  - %s\n", name)
	}
	if len(plan.Skipped) > 0 {
		fmt.Fprintf(p.Out, "Already clean, skipping %d.\n", len(plan.Skipped))
	}
	fmt.Fprintf(p.Out, "This deletes files permanently. Proceed with %d director%s? [y/N]: ",
		len(plan.Pending), plural(len(plan.Pending)))

	ch := p.readLine()
	select {
	case <-ctx.Done():
		fmt.Fprintln(p.Out)
		return false, ctx.Err()
	case a := <-ch:
		p.mu.Lock()
		p.pending = nil
		p.mu.Unlock()
		if a.err != nil && a.line == "" {
			fmt.Fprintln(p.Out)
			if a.err == io.EOF {
				return false, nil
			}
			return false, a.err
		}
		return Affirmative(a.line), nil
	}
}

// readLine returns the channel of the outstanding read, starting one if
// none is pending.
func (p *LinePrompt) readLine() chan lineAnswer {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.r == nil {
		p.r = bufio.NewReader(p.In)
	}
	if p.pending == nil {
		ch := make(chan lineAnswer, 1)
		go func(r *bufio.Reader) {
			line, err := r.ReadString('\n')
			ch <- lineAnswer{line, err}
		}(p.r)
		p.pending = ch
	}
	return p.pending
}

// Affirmative reports whether s is y or yes, ignoring case and surrounding
// space.
func Affirmative(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "y", "yes":
		return true
	}
	return false
}

func plural(n int) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}
