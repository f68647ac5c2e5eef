package client

import (
	"bytes"
	"change-detector/internal/failure"
	"change-detector/internal/retry"
	"change-detector/internal/routes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"golang.org/x/xerrors"
)

type Image struct {
	Name     string
	Data     []byte
	MIMEType string
}

// Params are the optional comparison parameters. Nil or zero fields fall
// back to the server defaults.
type Params struct {
	Threshold     *uint8
	GridCols      int
	GridRows      int
	MinRegionArea *int
}

// APIError is a non-200 answer from compare-server. errors.Is matches its
// failure.Kind.
type APIError struct {
	StatusCode int
	Kind       failure.Kind
	Reason     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("compare-server returned %d (%s): %s", e.StatusCode, e.Kind, e.Reason)
}

func (e *APIError) Unwrap() error {
	if e.Kind == "" {
		return nil
	}
	return e.Kind
}

type Client struct {
	endpoint   string
	httpClient *http.Client
}

// New creates a client for the compare-server at endpoint. Gateway errors and
// connect failures are retried with exponential backoff.
func New(endpoint string, timeout time.Duration, maxRetryCount uint) *Client {
	return NewWithHTTPClient(endpoint, &http.Client{
		Timeout: timeout, // retry.Transport does not have perTryTimeout
		Transport: &retry.Transport{
			Base:          http.DefaultTransport,
			RetryStrategy: retry.NewExponentialBackOff(100*time.Millisecond, 5*time.Second, maxRetryCount, nil),
			RetryOn:       retry.NewDefaultRetryOn(),
		},
	})
}

func NewWithHTTPClient(endpoint string, httpClient *http.Client) *Client {
	return &Client{
		endpoint:   strings.TrimSuffix(endpoint, "/"),
		httpClient: httpClient,
	}
}

func (c *Client) Healthz(ctx context.Context) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/healthz", nil)
	if err != nil {
		return xerrors.Errorf("failed to create request: %w", err)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return xerrors.Errorf("failed to send request: %w", err)
	}
	defer response.Body.Close()
	_, _ = io.Copy(io.Discard, response.Body)

	if response.StatusCode != http.StatusOK {
		return xerrors.Errorf("compare-server is not healthy: %s", response.Status)
	}
	return nil
}

func (c *Client) Compare(ctx context.Context, before Image, after Image, params Params) (*routes.CompareResponse, error) {
	body, contentType, err := encodeForm(before, after, params)
	if err != nil {
		return nil, xerrors.Errorf("failed to encode request: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/compare", bytes.NewReader(body))
	if err != nil {
		return nil, xerrors.Errorf("failed to create request: %w", err)
	}
	request.Header.Set("Content-Type", contentType)

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, xerrors.Errorf("failed to send request: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		apiError := &APIError{StatusCode: response.StatusCode}
		var errorResponse routes.ErrorResponse
		if err := json.NewDecoder(response.Body).Decode(&errorResponse); err == nil {
			apiError.Kind = failure.Kind(errorResponse.Error)
			apiError.Reason = errorResponse.Reason
		} else {
			apiError.Reason = response.Status
		}
		return nil, apiError
	}

	var result routes.CompareResponse
	if err := json.NewDecoder(response.Body).Decode(&result); err != nil {
		return nil, xerrors.Errorf("failed to decode response: %w", err)
	}
	return &result, nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func encodeForm(before Image, after Image, params Params) ([]byte, string, error) {
	var buffer bytes.Buffer
	writer := multipart.NewWriter(&buffer)

	for _, f := range []struct {
		field string
		image Image
	}{{"before", before}, {"after", after}} {
		mimeType := f.image.MIMEType
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}

		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, f.field, quoteEscaper.Replace(f.image.Name)))
		header.Set("Content-Type", mimeType)
		part, err := writer.CreatePart(header)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(f.image.Data); err != nil {
			return nil, "", err
		}
	}

	fields := map[string]string{}
	if params.Threshold != nil {
		fields["threshold"] = strconv.Itoa(int(*params.Threshold))
	}
	if params.GridCols > 0 || params.GridRows > 0 {
		fields["gridCols"] = strconv.Itoa(params.GridCols)
		fields["gridRows"] = strconv.Itoa(params.GridRows)
	}
	if params.MinRegionArea != nil {
		fields["minRegionArea"] = strconv.Itoa(*params.MinRegionArea)
	}
	for _, key := range []string{"threshold", "gridCols", "gridRows", "minRegionArea"} {
		if v, ok := fields[key]; ok {
			if err := writer.WriteField(key, v); err != nil {
				return nil, "", err
			}
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return buffer.Bytes(), writer.FormDataContentType(), nil
}
