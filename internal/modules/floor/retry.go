// README: Bounded retry around ApplyTransition for callers outside the core.
package floor

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"floortwin/internal/modules/order"
	"floortwin/internal/types"
)

const DefaultRetryAttempts = 3

// ApplyTransitionWithRetry retries ApplyTransition on ErrConflict only, with
// exponential backoff, up to attempts tries. Validation failures are final.
func (s *Service) ApplyTransitionWithRetry(ctx context.Context, orderID types.ID, to order.Status, attempts int) (*Outcome, error) {
	if attempts <= 0 {
		attempts = DefaultRetryAttempts
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 10 * time.Millisecond
	eb.MaxInterval = 200 * time.Millisecond
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(attempts-1)), ctx)

	var out *Outcome
	err := backoff.RetryNotify(func() error {
		res, err := s.ApplyTransition(ctx, orderID, to)
		if err == nil {
			out = res
			return nil
		}
		if errors.Is(err, ErrConflict) {
			return err
		}
		return backoff.Permanent(err)
	}, b, func(err error, wait time.Duration) {
		s.log.WithError(err).WithField("order_id", orderID).
			Debugf("transition conflict, retrying in %s", wait)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
