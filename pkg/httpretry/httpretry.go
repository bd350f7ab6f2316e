// Package httpretry retries a single HTTP round trip on timeout with
// exponential backoff and jitter. The shape of the backoff loop is
// grounded on the teacher's pkg/database retryWithBackoff, which retries
// SQLITE_BUSY errors on a SQL driver.Conn the same way; here it wraps an
// *http.Client POST instead of a SQL statement.
package httpretry

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/go-bookloader/bookloader/pkg/bookerrors"
)

// Do runs req with client, retrying up to maxRetries times when the
// request fails because its context deadline was exceeded. baseDelay is
// the first backoff; it doubles after every retry, with no upper bound.
// Non-timeout errors (connection refused, DNS failure, ...)
// are not retried: the spec only calls for retrying NetworkTimeout.
func Do(ctx context.Context, client *http.Client, newRequest func(ctx context.Context) (*http.Request, error), maxRetries int, baseDelay time.Duration) (*http.Response, error) {
	delay := baseDelay
	var lastErr error
	attempts := 0

	for attempt := 0; attempt <= maxRetries; attempt++ {
		req, err := newRequest(ctx)
		if err != nil {
			return nil, pkgerrors.Wrap(err, "build request")
		}

		resp, err := client.Do(req)
		attempts++
		if err == nil {
			return resp, nil
		}

		lastErr = err
		if !isTimeout(err) || attempt == maxRetries {
			break
		}

		jitter := time.Duration(rand.Int63n(int64(delay) / 4))
		wait := delay + jitter

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}

		delay *= 2
	}

	return nil, bookerrors.NewACSMFulfillmentError(bookerrors.ACSMNetworkTimeout, "request failed after %d attempts: %v", attempts, lastErr)
}

func isTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return errors.Is(err, context.DeadlineExceeded)
}
