package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrRenderTimeout indicates the rendering request exceeded the configured timeout.
	ErrRenderTimeout = errors.New("gotenberg: timeout")
	// ErrInvalidResponse indicates Gotenberg returned a non-success status code.
	ErrInvalidResponse = errors.New("gotenberg: invalid response")
	// ErrEmptyDocument indicates the generated PDF was below the minimum expected size.
	ErrEmptyDocument = errors.New("gotenberg: pdf below minimum size")
)

// Client wraps interactions with the Gotenberg API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	retries    int
	timeout    time.Duration
	minSize    int
}

// NewClient constructs a new client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		retries: 2,
		timeout: 10 * time.Second,
		minSize: 64,
	}
}

// Ping checks if the remote Gotenberg service is available.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/health", c.baseURL), nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("gotenberg returned status %d", resp.StatusCode)
	}
	return nil
}

// RenderHTML converts raw HTML into a PDF document using Gotenberg. 5xx answers and network
// failures are retried; 4xx answers are not.
func (c *Client) RenderHTML(ctx context.Context, html string) ([]byte, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("files", "index.html")
	if err != nil {
		return nil, err
	}
	if _, err := io.WriteString(part, html); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	payload := body.Bytes()
	contentType := writer.FormDataContentType()

	attempts := c.retries + 1
	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, retry, err := c.post(ctx, payload, contentType)
		if err == nil {
			return data, nil
		}
		if !retry {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("render pdf failed after %d attempts: %w", attempts, lastErr)
}

func (c *Client) post(ctx context.Context, payload []byte, contentType string) ([]byte, bool, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.baseURL+"/forms/chromium/convert/html", bytes.NewReader(payload))
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, classifyNetError(err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	data, readErr := io.ReadAll(resp.Body)
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, true, fmt.Errorf("%w: status %d", ErrInvalidResponse, resp.StatusCode)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, false, fmt.Errorf("%w: status %d", ErrInvalidResponse, resp.StatusCode)
	}
	if readErr != nil {
		return nil, true, readErr
	}
	if len(data) < c.minSize {
		return nil, true, ErrEmptyDocument
	}
	return data, false, nil
}

func classifyNetError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrRenderTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrRenderTimeout, err)
	}
	return err
}
