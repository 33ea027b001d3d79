package reconcile

import (
	"context"
	"errors"
	"time"
)

var errNoSource = errors.New("engine has no snapshot source")

// Poll takes one snapshot and processes it. A snapshot error skips the whole
// batch, sweep included, so a flaky enumeration never disconnects anything.
func (e *Engine) Poll(ctx context.Context) (BatchResult, error) {
	if e.source == nil {
		return BatchResult{}, errNoSource
	}
	windows, err := e.source.Detect(ctx)
	if err != nil {
		e.log.Warn().Err(err).Msg("snapshot failed, skipping poll")
		return BatchResult{}, err
	}
	return e.ProcessBatch(ctx, windows), nil
}

// Run polls until ctx is cancelled. onBatch, if set, is called after every
// successful poll.
func (e *Engine) Run(ctx context.Context, onBatch func(BatchResult)) error {
	if e.source == nil {
		return errNoSource
	}
	defer e.Wait()

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}
		if res, err := e.Poll(ctx); err == nil && onBatch != nil {
			onBatch(res)
		}
		timer.Reset(e.interval())
	}
}

func (e *Engine) interval() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settings.PollInterval
}
