package retry_test

import (
	"bytes"
	"change-detector/internal/retry"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

type transportMock struct {
	fakeRoundTrip func(*http.Request) (*http.Response, error)
}

func (m *transportMock) RoundTrip(request *http.Request) (*http.Response, error) {
	return m.fakeRoundTrip(request)
}

func newClient(base http.RoundTripper, maxRetryCount uint) *http.Client {
	return &http.Client{
		Transport: &retry.Transport{
			Base:          base,
			RetryStrategy: retry.NewExponentialBackOff(time.Millisecond, 10*time.Millisecond, maxRetryCount, nil),
			RetryOn:       retry.NewDefaultRetryOn(),
		},
	}
}

func TestTransport_ReplaysBody(t *testing.T) {
	var mu sync.Mutex
	var bodies []string
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(body))
		mu.Unlock()
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	request, err := http.NewRequest(http.MethodPost, server.URL, bytes.NewReader([]byte("payload")))
	if err != nil {
		t.Fatal(err)
	}

	response, err := newClient(http.DefaultTransport, 5).Do(request)
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", response.StatusCode)
	}
	mu.Lock()
	defer mu.Unlock()
	if diff := cmp.Diff([]string{"payload", "payload", "payload"}, bodies); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestTransport_GivesUp(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	response, err := newClient(http.DefaultTransport, 2).Get(server.URL)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusBadGateway {
		t.Errorf("Expected the last 502 to be returned, got %d", response.StatusCode)
	}
	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Errorf("Expected 3 attempts, got %d", got)
	}
}

func TestTransport_DoesNotRetryDeterministicFailures(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	response, err := newClient(http.DefaultTransport, 5).Get(server.URL)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	defer response.Body.Close()

	if got := atomic.LoadInt32(&attempts); got != 1 {
		t.Errorf("Expected 1 attempt, got %d", got)
	}
}

func TestTransport_TemporaryError(t *testing.T) {
	var attempts int32
	base := &transportMock{
		fakeRoundTrip: func(request *http.Request) (*http.Response, error) {
			if atomic.AddInt32(&attempts, 1) == 1 {
				return nil, &temporaryError{"fake"}
			}
			return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody}, nil
		},
	}

	response, err := newClient(base, 5).Get("http://example.invalid/")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK || atomic.LoadInt32(&attempts) != 2 {
		t.Errorf("Expected success on the second attempt, got %d after %d", response.StatusCode, attempts)
	}
}

func TestTransport_ContextCanceledWhileWaiting(t *testing.T) {
	base := &transportMock{
		fakeRoundTrip: func(request *http.Request) (*http.Response, error) {
			return nil, &temporaryError{"fake"}
		},
	}
	client := &http.Client{
		Transport: &retry.Transport{
			Base:          base,
			RetryStrategy: retry.NewExponentialBackOff(time.Hour, time.Hour, 5, func(i int64) int64 { return i }),
			RetryOn:       retry.NewDefaultRetryOn(),
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://example.invalid/", nil)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := client.Do(request); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected %v, got %v", context.DeadlineExceeded, err)
	}
}
