package platform

import (
	"context"
	"time"
)

// SendWithRetry 首次失败后最多重试 retries 次，每次间隔固定 delay
func SendWithRetry(ctx context.Context, retries int, delay time.Duration, send func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt <= retries; attempt++ {
		if err = send(ctx); err == nil {
			return nil
		}
		if attempt == retries {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}
