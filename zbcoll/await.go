package zbcoll

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// PollInterval is the pause between two Progress calls in AwaitIdle.
var PollInterval = 100 * time.Microsecond

// AwaitIdle progresses ep until none of objs is busy. It returns the first
// object error it observes, or the context error if ctx ends first.
func AwaitIdle(ctx context.Context, ep *Endpoint, objs ...*Object) error {
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()
	for {
		ep.Progress()
		idle := true
		for _, o := range objs {
			if err := o.Err(); err != nil {
				return err
			}
			if o.Busy() {
				idle = false
			}
		}
		if idle {
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.Wrapf(ctx.Err(), "%d objects still busy", busyCount(objs))
		case <-ticker.C:
		}
	}
}

func busyCount(objs []*Object) int {
	n := 0
	for _, o := range objs {
		if o.Busy() {
			n++
		}
	}
	return n
}
