package handlers

import (
	"context"
	"fmt"

	"github.com/3leaps/lagsearch/pkg/executor"
	"github.com/3leaps/lagsearch/pkg/search"
)

// ExecutorChecker fails when the configured executor cannot start sessions:
// an unknown kind, or a process worker command that does not resolve.
type ExecutorChecker struct {
	Kind    string
	Command string
}

func (c ExecutorChecker) CheckHealth(ctx context.Context) error {
	switch c.Kind {
	case "", executor.KindNative:
		return nil
	case executor.KindProcess:
		_, err := executor.ResolveWorker(c.Command)
		return err
	default:
		return fmt.Errorf("unknown executor kind %q", c.Kind)
	}
}

// JobsChecker reports the controller as not ready once MaxActive jobs are
// live. MaxActive 0 means no limit.
type JobsChecker struct {
	Controller *search.Controller
	MaxActive  int
}

func (c JobsChecker) CheckHealth(ctx context.Context) error {
	if c.Controller == nil {
		return fmt.Errorf("search controller not initialized")
	}
	if c.MaxActive <= 0 {
		return nil
	}
	if n := ActiveJobs(c.Controller); n >= c.MaxActive {
		return fmt.Errorf("%d active search jobs, limit %d", n, c.MaxActive)
	}
	return nil
}

// ActiveJobs counts jobs that have not reached a terminal state.
func ActiveJobs(c *search.Controller) int {
	n := 0
	for _, s := range c.List() {
		if !s.Status.Terminal() {
			n++
		}
	}
	return n
}
