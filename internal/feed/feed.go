package feed

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/angeloszaimis/proxypool/internal/circuitbreaker"
	"github.com/angeloszaimis/proxypool/internal/registry"
)

const (
	DefaultTimeout          = 30 * time.Second
	DefaultBreakerThreshold = 3
	DefaultBreakerTimeout   = 2 * time.Minute

	maxFeedBytes = 32 << 20
)

type Config struct {
	MetaURL          string
	HTTPListURL      string
	HTTPSListURL     string
	Timeout          time.Duration
	BreakerThreshold int
	BreakerTimeout   time.Duration
}

type Client struct {
	cfg      Config
	http     *http.Client
	breakers *circuitbreaker.Registry
	logger   *slog.Logger
}

func New(cfg Config, clk clock.Clock, logger *slog.Logger) (*Client, error) {
	if cfg.MetaURL == "" || cfg.HTTPListURL == "" || cfg.HTTPSListURL == "" {
		return nil, errors.New("feed: meta, http and https urls are required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.BreakerThreshold <= 0 {
		cfg.BreakerThreshold = DefaultBreakerThreshold
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = DefaultBreakerTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		cfg:      cfg,
		http:     &http.Client{},
		breakers: circuitbreaker.NewRegistry(cfg.BreakerThreshold, cfg.BreakerTimeout, clk),
		logger:   logger,
	}, nil
}

// FetchChangeToken returns the upstream generation timestamp as a string.
func (c *Client) FetchChangeToken(ctx context.Context) (string, error) {
	body, err := c.get(ctx, "meta", c.cfg.MetaURL)
	if err != nil {
		return "", err
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var meta map[string]any
	if err := dec.Decode(&meta); err != nil {
		return "", &FetchError{Source: "meta", Err: fmt.Errorf("decode: %w", err)}
	}

	var token string
	switch ts := meta["timestamp"].(type) {
	case json.Number:
		token = ts.String()
	case string:
		token = strings.TrimSpace(ts)
	}
	if token == "" {
		return "", &FetchError{Source: "meta", Err: errors.New("missing timestamp")}
	}

	return token, nil
}

// FetchCandidates returns every proxy offered upstream, normalized and
// deduplicated across both lists. A failure of either list fails the call so
// a partial view is never reconciled against the registry.
func (c *Client) FetchCandidates(ctx context.Context) ([]string, error) {
	httpBody, err := c.get(ctx, "http list", c.cfg.HTTPListURL)
	if err != nil {
		return nil, err
	}
	httpsBody, err := c.get(ctx, "https list", c.cfg.HTTPSListURL)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	candidates := make([]string, 0)
	skipped := 0
	for _, body := range [][]byte{httpBody, httpsBody} {
		for _, line := range parseList(body) {
			key, err := registry.NormalizeURL(line)
			if err != nil {
				skipped++
				continue
			}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			candidates = append(candidates, key)
		}
	}

	if skipped > 0 {
		c.logger.Debug("skipped unusable feed entries", slog.Int("count", skipped))
	}
	if len(candidates) == 0 {
		return nil, &FetchError{Source: "lists", Err: errors.New("no candidates")}
	}

	c.logger.Info("fetched candidates", slog.Int("count", len(candidates)))
	return candidates, nil
}

func parseList(body []byte) []string {
	var lines []string
	scanner := bufio.NewScanner(bytes.NewReader(body))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

func (c *Client) get(ctx context.Context, source, endpoint string) ([]byte, error) {
	var body []byte
	err := c.breakers.For(endpoint).Do(func() error {
		ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return err
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unexpected status %d", resp.StatusCode)
		}

		body, err = io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
		return err
	})
	if err != nil {
		return nil, &FetchError{Source: source, Err: err}
	}

	return body, nil
}

// BreakerStates reports the breaker state of each feed endpoint seen so far.
func (c *Client) BreakerStates() map[string]string {
	states := c.breakers.States()
	out := make(map[string]string, len(states))
	for endpoint, state := range states {
		out[endpoint] = state.String()
	}
	return out
}
