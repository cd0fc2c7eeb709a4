package guard

import (
	"context"
	"fmt"
	"time"
)

// StartEvent is delivered to observers once the task process is running.
type StartEvent struct {
	RunID   string
	PID     int
	Command string
	Started time.Time
}

// Observer receives lifecycle notifications for a guarded invocation.
// OnStart is only called when the task actually launched; OnFinish is called
// for every invocation after the lock has been released. Errors are logged
// and never change the exit status.
type Observer interface {
	OnStart(ctx context.Context, ev StartEvent) error
	OnFinish(ctx context.Context, res Result) error
}

func observerName(o Observer) string {
	if s, ok := o.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%T", o)
}
