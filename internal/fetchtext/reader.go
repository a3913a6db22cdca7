package fetchtext

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	readerTimeout = 30 * time.Second
	// maxTextBytes caps how much of a response is read; article text beyond
	// this adds nothing to synthesis.
	maxTextBytes = 1 << 20
)

// ReaderClient calls a jina-style reader service: GET {base}/{url} answers
// with the extracted article text as plain text.
type ReaderClient struct {
	baseURL    string
	key        string
	httpClient *http.Client
}

func NewReaderClient(baseURL, key string) *ReaderClient {
	return &ReaderClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		key:        key,
		httpClient: &http.Client{Timeout: readerTimeout},
	}
}

// Extract fetches the reader's rendition of the page behind articleURL.
func (c *ReaderClient) Extract(ctx context.Context, articleURL string) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+articleURL, nil)
	if err != nil {
		return Result{}, fmt.Errorf("reader: create request: %w", err)
	}
	if c.key != "" {
		req.Header.Set("Authorization", "Bearer "+c.key)
	}
	req.Header.Set("Accept", "text/plain")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("reader: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Result{}, fmt.Errorf("reader: status %d: %s", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTextBytes))
	if err != nil {
		return Result{}, fmt.Errorf("reader: read response: %w", err)
	}
	return Result{
		Text:        strings.TrimSpace(string(body)),
		Method:      MethodPrimary,
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}
