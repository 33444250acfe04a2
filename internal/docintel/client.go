// Package docintel is a client for the Azure Document Intelligence
// "prebuilt-read" OCR model. Submissions are asynchronous: the service returns
// an Operation-Location that is polled until the analysis finishes.
package docintel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/starford/ragsync/internal/apperr"
)

const (
	defaultAPIVersion   = "2023-07-31"
	defaultPollInterval = time.Second
	defaultTimeout      = 2 * time.Minute
	modelID             = "prebuilt-read"
)

// Page is one analyzed page.
type Page struct {
	Number int      `json:"pageNumber"`
	Width  float64  `json:"width"`
	Height float64  `json:"height"`
	Unit   string   `json:"unit"`
	Lines  []string `json:"-"`
}

// Config configures a Client.
type Config struct {
	Endpoint     string
	Key          string
	APIVersion   string
	PollInterval time.Duration
	Timeout      time.Duration // whole analysis, submit through last poll
	HTTPClient   *http.Client
}

// Client submits documents for analysis.
type Client struct {
	cfg  Config
	http *http.Client
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, errors.New("docintel: endpoint is required")
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	if cfg.APIVersion == "" {
		cfg.APIVersion = defaultAPIVersion
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{cfg: cfg, http: hc}, nil
}

// AnalyzeFile uploads a document and returns its pages.
func (c *Client) AnalyzeFile(ctx context.Context, r io.Reader) ([]Page, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("docintel: read input: %w", err)
	}
	return c.analyze(ctx, "application/octet-stream", data)
}

// AnalyzeURL asks the service to fetch and analyze a remote document.
func (c *Client) AnalyzeURL(ctx context.Context, url string) ([]Page, error) {
	body, err := json.Marshal(map[string]string{"urlSource": url})
	if err != nil {
		return nil, fmt.Errorf("docintel: marshal: %w", err)
	}
	return c.analyze(ctx, "application/json", body)
}

type analyzeResult struct {
	Status string `json:"status"`
	Error  *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	AnalyzeResult struct {
		Pages []struct {
			Page
			Lines []struct {
				Content string `json:"content"`
			} `json:"lines"`
		} `json:"pages"`
	} `json:"analyzeResult"`
}

func (c *Client) analyze(ctx context.Context, contentType string, body []byte) ([]Page, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/formrecognizer/documentModels/%s:analyze?api-version=%s",
		c.cfg.Endpoint, modelID, c.cfg.APIVersion)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("docintel: create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	c.auth(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, wrapCtx(ctx, fmt.Errorf("docintel: submit: %w", err))
	}
	raw, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return nil, fmt.Errorf("docintel: submit: %s: %s", resp.Status, strings.TrimSpace(string(raw)))
	}
	opURL := resp.Header.Get("Operation-Location")
	if opURL == "" {
		return nil, errors.New("docintel: submit: missing Operation-Location")
	}

	wait := retryAfter(resp.Header, c.cfg.PollInterval)
	for {
		select {
		case <-ctx.Done():
			return nil, wrapCtx(ctx, fmt.Errorf("docintel: poll: %w", ctx.Err()))
		case <-time.After(wait):
		}

		res, hdr, err := c.poll(ctx, opURL)
		if err != nil {
			return nil, err
		}
		switch strings.ToLower(res.Status) {
		case "succeeded":
			return toPages(res), nil
		case "failed":
			if res.Error != nil {
				return nil, fmt.Errorf("docintel: analysis failed: %s: %s", res.Error.Code, res.Error.Message)
			}
			return nil, errors.New("docintel: analysis failed")
		}
		wait = retryAfter(hdr, c.cfg.PollInterval)
	}
}

func (c *Client) poll(ctx context.Context, opURL string) (*analyzeResult, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, opURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("docintel: create poll request: %w", err)
	}
	c.auth(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, wrapCtx(ctx, fmt.Errorf("docintel: poll: %w", err))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, nil, fmt.Errorf("docintel: poll: %s: %s", resp.Status, strings.TrimSpace(string(raw)))
	}
	var res analyzeResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, nil, fmt.Errorf("docintel: decode poll response: %w", err)
	}
	return &res, resp.Header, nil
}

func (c *Client) auth(req *http.Request) {
	if c.cfg.Key != "" {
		req.Header.Set("Ocp-Apim-Subscription-Key", c.cfg.Key)
	}
}

func toPages(res *analyzeResult) []Page {
	pages := make([]Page, 0, len(res.AnalyzeResult.Pages))
	for _, p := range res.AnalyzeResult.Pages {
		page := p.Page
		page.Lines = make([]string, 0, len(p.Lines))
		for _, l := range p.Lines {
			page.Lines = append(page.Lines, l.Content)
		}
		pages = append(pages, page)
	}
	return pages
}

func retryAfter(h http.Header, fallback time.Duration) time.Duration {
	if secs, err := strconv.Atoi(h.Get("Retry-After")); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

func wrapCtx(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", apperr.ErrTimeout, err)
	}
	return err
}
