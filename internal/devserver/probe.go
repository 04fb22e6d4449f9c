package devserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
)

// probeTarget waits for a proxy target to answer any HTTP request. Any status code
// counts as reachable; only transport errors are retried.
func probeTarget(ctx context.Context, client *http.Client, target string, maxElapsed time.Duration) error {
	log := zerolog.Ctx(ctx)

	operation := func() (int, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, target, nil)
		if err != nil {
			return 0, backoff.Permanent(err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return 0, err
		}
		_ = resp.Body.Close()
		return resp.StatusCode, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond
	bo.MaxInterval = 5 * time.Second

	status, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(bo),
		backoff.WithMaxElapsedTime(maxElapsed),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Debug().Err(err).Str("target", target).Dur("retry_in", next).Msg("Proxy target not ready")
		}),
	)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrTargetUnreachable, target, err)
	}

	log.Debug().Str("target", target).Int("status", status).Msg("Proxy target reachable")
	return nil
}
