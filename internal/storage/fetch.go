package storage

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/xerrors"
)

// Fetcher reads inputs addressed by a local path, an s3://bucket/key URL or
// an http(s):// URL.
type Fetcher struct {
	httpClient *http.Client
	maxBytes   int64
	file       Storage

	s3Once sync.Once
	s3     Storage
	s3Err  error
	openS3 func(ctx context.Context) (Storage, error)
}

// NewFetcher creates a Fetcher. Reads longer than maxBytes fail. The S3
// backend is only opened on the first s3:// location.
func NewFetcher(httpClient *http.Client, maxBytes int64) *Fetcher {
	file, _ := NewFileStorage(context.Background(), FileConfig{})
	return &Fetcher{
		httpClient: httpClient,
		maxBytes:   maxBytes,
		file:       file,
		openS3: func(ctx context.Context) (Storage, error) {
			return NewS3Storage(ctx, S3Config{})
		},
	}
}

func (f *Fetcher) Fetch(ctx context.Context, location string) ([]byte, error) {
	var data []byte
	var err error
	switch {
	case strings.HasPrefix(location, "s3://"):
		f.s3Once.Do(func() {
			f.s3, f.s3Err = f.openS3(ctx)
		})
		if f.s3Err != nil {
			return nil, f.s3Err
		}
		data, err = f.s3.Get(ctx, location)
	case strings.HasPrefix(location, "http://"), strings.HasPrefix(location, "https://"):
		data, err = f.fetchHTTP(ctx, location)
	default:
		data, err = f.file.Get(ctx, location)
	}
	if err != nil {
		return nil, err
	}

	if f.maxBytes > 0 && int64(len(data)) > f.maxBytes {
		return nil, xerrors.Errorf("%s is %d bytes, limit is %d bytes", location, len(data), f.maxBytes)
	}
	return data, nil
}

func (f *Fetcher) fetchHTTP(ctx context.Context, url string) ([]byte, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, xerrors.Errorf("failed to create request: %w", err)
	}

	response, err := f.httpClient.Do(request)
	if err != nil {
		return nil, xerrors.Errorf("failed to send request: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, xerrors.Errorf("failed to fetch %s: %s", url, response.Status)
	}

	var body io.Reader = response.Body
	if f.maxBytes > 0 {
		body = io.LimitReader(response.Body, f.maxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, xerrors.Errorf("failed to read response: %w", err)
	}
	return data, nil
}
