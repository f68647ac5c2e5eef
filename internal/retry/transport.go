package retry

import (
	"context"
	"io"
	"net/http"
	"time"

	"golang.org/x/xerrors"
)

// Transport retries a request according to RetryOn, sleeping as RetryStrategy
// says between attempts. Requests with a body are replayed through GetBody,
// which http.NewRequest sets for in-memory bodies.
type Transport struct {
	Base          http.RoundTripper
	RetryStrategy Strategy
	RetryOn       *On
}

type contextKey string

const retryCountContextKey contextKey = "retryCountKey"

func getRetryCount(ctx context.Context) uint {
	v := ctx.Value(retryCountContextKey)

	i, ok := v.(uint)
	if !ok {
		return 0
	}

	return i
}

func setRetryCount(ctx context.Context, retryCount uint) context.Context {
	return context.WithValue(ctx, retryCountContextKey, retryCount)
}

func (t *Transport) RoundTrip(request *http.Request) (*http.Response, error) {
	retryCount := getRetryCount(request.Context())
	sleep, exceeded := t.retryStrategy().Sleep(retryCount)
	replayable := request.Body == nil || request.Body == http.NoBody || request.GetBody != nil

	response, err := t.base().RoundTrip(request)
	if err != nil {
		if !exceeded && replayable && t.RetryOn != nil && t.RetryOn.CheckError(err) {
			return t.retry(request, retryCount, sleep)
		}
		return nil, err
	}
	if !exceeded && replayable && t.RetryOn != nil && t.RetryOn.CheckResponse(response) {
		_, _ = io.Copy(io.Discard, response.Body)
		_ = response.Body.Close()
		return t.retry(request, retryCount, sleep)
	}
	return response, nil
}

func (t *Transport) retry(request *http.Request, retryCount uint, sleep time.Duration) (*http.Response, error) {
	timer := time.NewTimer(sleep)
	select {
	case <-request.Context().Done():
		timer.Stop()
		return nil, request.Context().Err()
	case <-timer.C:
	}

	next := request.Clone(setRetryCount(request.Context(), retryCount+1))
	if request.GetBody != nil {
		body, err := request.GetBody()
		if err != nil {
			return nil, xerrors.Errorf("failed to rewind request body: %w", err)
		}
		next.Body = body
	}
	return t.RoundTrip(next)
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *Transport) retryStrategy() Strategy {
	if t.RetryStrategy != nil {
		return t.RetryStrategy
	}
	return NewNever()
}
