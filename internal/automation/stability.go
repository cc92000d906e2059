package automation

import (
	"context"
	"errors"
	"time"
)

// ErrNeverStabilized reports that a response kept changing past the poll
// bound. It is a per-query timeout, not a session failure.
var ErrNeverStabilized = errors.New("response did not stabilize within poll bound")

// WaitStable polls read at interval until the returned string's length is
// unchanged for stablePolls consecutive polls, and returns the final value.
// At most maxPolls polls are made.
//
// Length comparison, not equality: streamed responses re-render markdown as
// they grow, and comparing lengths tolerates cosmetic reflows while still
// detecting growth.
func WaitStable(ctx context.Context, interval time.Duration, stablePolls, maxPolls int, read func(context.Context) (string, error)) (string, error) {
	if stablePolls < 1 {
		stablePolls = 1
	}

	var (
		last      = -1
		unchanged = 0
	)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for poll := 0; poll < maxPolls; poll++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}

		v, err := read(ctx)
		if err != nil {
			return "", err
		}

		if len(v) == last {
			unchanged++
			if unchanged >= stablePolls {
				return v, nil
			}
		} else {
			unchanged = 0
		}
		last = len(v)
	}
	return "", ErrNeverStabilized
}
