// Package qdrant is a vectorindex.Backend over the Qdrant REST API.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/starford/ragsync/internal/apperr"
	"github.com/starford/ragsync/internal/models"
	"github.com/starford/ragsync/internal/vectorindex"
)

// Config configures a Client.
type Config struct {
	URL     string
	APIKey  string
	Timeout time.Duration // per request
}

// Client is a minimal REST client to Qdrant. Collections map one to one to
// indexes.
type Client struct {
	url     string
	apiKey  string
	timeout time.Duration
	http    *http.Client
}

var _ vectorindex.Backend = (*Client)(nil)

// New creates a Client.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		url:     strings.TrimRight(cfg.URL, "/"),
		apiKey:  cfg.APIKey,
		timeout: timeout,
		http:    &http.Client{},
	}
}

func distance(m models.Metric) string {
	switch m {
	case models.MetricEuclidean:
		return "Euclid"
	case models.MetricDotProduct:
		return "Dot"
	default:
		return "Cosine"
	}
}

// Exists reports whether the collection exists.
func (c *Client) Exists(ctx context.Context, name string) (bool, error) {
	status, err := c.do(ctx, http.MethodGet, c.collection(name), nil, nil)
	switch {
	case status == http.StatusNotFound:
		return false, nil
	case err != nil:
		return false, err
	}
	return true, nil
}

// Create creates the collection.
func (c *Client) Create(ctx context.Context, desc models.IndexDescriptor) error {
	if desc.Dimension <= 0 {
		return errors.New("qdrant: invalid dimension")
	}
	body := map[string]any{
		"vectors": map[string]any{
			"size":     desc.Dimension,
			"distance": distance(desc.Metric),
		},
	}
	_, err := c.do(ctx, http.MethodPut, c.collection(desc.Name), body, nil)
	return err
}

// Delete drops the collection.
func (c *Client) Delete(ctx context.Context, name string) error {
	status, err := c.do(ctx, http.MethodDelete, c.collection(name), nil, nil)
	if status == http.StatusNotFound {
		return fmt.Errorf("qdrant: collection %s: %w", name, apperr.ErrNotFound)
	}
	return err
}

// Upsert writes points and waits for them to be applied.
func (c *Client) Upsert(ctx context.Context, name string, records []vectorindex.Record) error {
	points := make([]map[string]any, len(records))
	for i, r := range records {
		points[i] = map[string]any{
			"id":     r.Chunk.ID,
			"vector": r.Vector,
			"payload": map[string]any{
				"content":  r.Chunk.Content,
				"metadata": r.Chunk.Metadata,
			},
		}
	}
	_, err := c.do(ctx, http.MethodPut, c.collection(name)+"/points?wait=true", map[string]any{"points": points}, nil)
	return err
}

// Query runs a nearest-neighbour search.
func (c *Client) Query(ctx context.Context, name string, vector []float32, k int) ([]models.ScoredChunk, error) {
	if k <= 0 {
		k = vectorindex.DefaultTopK
	}
	req := map[string]any{
		"vector":       vector,
		"limit":        k,
		"with_payload": true,
	}
	var resp struct {
		Result []struct {
			ID      any     `json:"id"`
			Score   float64 `json:"score"`
			Payload struct {
				Content  string         `json:"content"`
				Metadata map[string]any `json:"metadata"`
			} `json:"payload"`
		} `json:"result"`
	}
	if _, err := c.do(ctx, http.MethodPost, c.collection(name)+"/points/search", req, &resp); err != nil {
		return nil, err
	}
	hits := make([]models.ScoredChunk, 0, len(resp.Result))
	for _, r := range resp.Result {
		hits = append(hits, models.ScoredChunk{
			Chunk: models.Chunk{
				ID:       fmt.Sprint(r.ID),
				Content:  r.Payload.Content,
				Metadata: r.Payload.Metadata,
			},
			Score: r.Score,
		})
	}
	return hits, nil
}

// Count returns the exact number of points.
func (c *Client) Count(ctx context.Context, name string) (int, error) {
	var resp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	if _, err := c.do(ctx, http.MethodPost, c.collection(name)+"/points/count", map[string]any{"exact": true}, &resp); err != nil {
		return 0, err
	}
	return resp.Result.Count, nil
}

func (c *Client) collection(name string) string {
	return fmt.Sprintf("%s/collections/%s", c.url, url.PathEscape(name))
}

// do sends a JSON request and decodes the response into out when non-nil.
// It returns the HTTP status when a response was received.
func (c *Client) do(ctx context.Context, method, endpoint string, body, out any) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("qdrant: marshal: %w", err)
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, rdr)
	if err != nil {
		return 0, fmt.Errorf("qdrant: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return 0, fmt.Errorf("qdrant: %s %s: %w: %w", method, endpoint, apperr.ErrTimeout, err)
		}
		return 0, fmt.Errorf("qdrant: %s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, fmt.Errorf("qdrant: %s %s failed: %s: %s", method, endpoint, resp.Status, strings.TrimSpace(string(raw)))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("qdrant: decode: %w", err)
		}
	}
	return resp.StatusCode, nil
}
