// Package wait blocks until captured output satisfies a condition.
package wait

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/sleepiecappy/riverflow/internal/buffer"
)

var ErrTimeout = errors.New("timeout")

type Config struct {
	// Pattern is a regular expression matched against each line's text.
	Pattern string
	// Settle returns once no line has arrived for this long, after at
	// least one did. Zero disables it.
	Settle  time.Duration
	Timeout time.Duration
	// Since is the first sequence number considered.
	Since uint64
	// Strip, when set, is applied to the text before matching.
	Strip func(string) string
}

// Result holds the lines seen while waiting. Match is set when Pattern
// matched.
type Result struct {
	Lines []buffer.Line
	Match *buffer.Line
	Next  uint64
}

// ForLine waits on buf until a line matching cfg.Pattern is appended, the
// output settles, ctx ends or cfg.Timeout elapses. A clear of the buffer
// restarts the scan at its first line.
func ForLine(ctx context.Context, buf *buffer.Buffer, cfg Config) (Result, error) {
	var re *regexp.Regexp
	if cfg.Pattern != "" {
		var err error
		re, err = regexp.Compile(cfg.Pattern)
		if err != nil {
			return Result{}, fmt.Errorf("invalid pattern: %w", err)
		}
	}
	if re == nil && cfg.Settle <= 0 {
		return Result{}, errors.New("wait needs a pattern or a settle duration")
	}

	changed, unsubscribe := buf.Subscribe()
	defer unsubscribe()

	var deadline <-chan time.Time
	if cfg.Timeout > 0 {
		timer := time.NewTimer(cfg.Timeout)
		defer timer.Stop()
		deadline = timer.C
	}
	var settle <-chan time.Time
	var settleTimer *time.Timer
	if cfg.Settle > 0 {
		settleTimer = time.NewTimer(cfg.Settle)
		settleTimer.Stop()
		defer settleTimer.Stop()
	}

	res := Result{Next: cfg.Since}
	epoch := buf.Epoch()
	for {
		if e := buf.Epoch(); e != epoch {
			epoch = e
			res.Next = 0
		}
		fresh := buf.Since(res.Next)
		for i := range fresh {
			line := fresh[i]
			res.Lines = append(res.Lines, line)
			res.Next = line.Seq + 1
			if re == nil {
				continue
			}
			text := line.Text
			if cfg.Strip != nil {
				text = cfg.Strip(text)
			}
			if re.MatchString(text) {
				res.Match = &line
				return res, nil
			}
		}
		if len(fresh) > 0 && settleTimer != nil {
			settleTimer.Reset(cfg.Settle)
			settle = settleTimer.C
		}

		select {
		case <-changed:
		case <-settle:
			return res, nil
		case <-deadline:
			if re != nil {
				return res, fmt.Errorf("%w waiting for pattern %q", ErrTimeout, cfg.Pattern)
			}
			return res, fmt.Errorf("%w waiting for output to settle", ErrTimeout)
		case <-ctx.Done():
			return res, ctx.Err()
		}
	}
}
