package prober

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/angeloszaimis/proxypool/internal/registry"
)

const (
	DefaultTimeout      = 5 * time.Second
	DefaultConcurrency  = 500
	DefaultPoolSize     = 2000
	DefaultPerHostLimit = 500

	maxBodyBytes = 1 << 20
)

var xssiPrefix = []byte(")]}'")

type Config struct {
	TargetURL         string
	Timeout           time.Duration
	Concurrency       int
	PoolSize          int
	PerHostLimit      int
	DeepCheckInterval time.Duration
}

type proxyKey struct{}

type Prober struct {
	cfg       Config
	transport *http.Transport
	client    *http.Client
	logger    *slog.Logger
}

func New(cfg Config, logger *slog.Logger) (*Prober, error) {
	target, err := url.Parse(cfg.TargetURL)
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		return nil, fmt.Errorf("invalid probe target %q", cfg.TargetURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DefaultPoolSize
	}
	if cfg.PerHostLimit <= 0 {
		cfg.PerHostLimit = DefaultPerHostLimit
	}
	if cfg.DeepCheckInterval <= 0 {
		cfg.DeepCheckInterval = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	dialer := &net.Dialer{
		Timeout:   cfg.Timeout,
		KeepAlive: 30 * time.Second,
	}

	// The proxy for each request travels in its context so one transport,
	// and one connection pool, serves every candidate.
	transport := &http.Transport{
		Proxy: func(req *http.Request) (*url.URL, error) {
			u, _ := req.Context().Value(proxyKey{}).(*url.URL)
			return u, nil
		},
		DialContext:           dialer.DialContext,
		TLSClientConfig:       &tls.Config{InsecureSkipVerify: true},
		TLSHandshakeTimeout:   cfg.Timeout,
		ResponseHeaderTimeout: cfg.Timeout,
		MaxIdleConns:          cfg.PoolSize,
		MaxIdleConnsPerHost:   cfg.PerHostLimit,
		MaxConnsPerHost:       cfg.PerHostLimit,
		IdleConnTimeout:       90 * time.Second,
	}

	return &Prober{
		cfg:       cfg,
		transport: transport,
		client: &http.Client{
			Transport: transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: logger,
	}, nil
}

func (p *Prober) Concurrency() int {
	return p.cfg.Concurrency
}

// Test sends one request to the probe target through the proxy at rawURL.
func (p *Prober) Test(ctx context.Context, rawURL string) Result {
	key, err := registry.NormalizeURL(rawURL)
	if err != nil {
		return Result{URL: rawURL, Err: &ProbeError{URL: rawURL, Kind: KindInvalidURL, Err: err}}
	}
	res := Result{URL: key, Protocol: registry.ProtocolOf(key)}

	proxyURL, err := url.Parse(key)
	if err != nil {
		res.Err = &ProbeError{URL: key, Kind: KindInvalidURL, Err: err}
		return res
	}

	ctx, cancel := context.WithTimeout(context.WithValue(ctx, proxyKey{}, proxyURL), p.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.TargetURL, nil)
	if err != nil {
		res.Err = &ProbeError{URL: key, Kind: KindInvalidURL, Err: err}
		return res
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		res.Err = &ProbeError{URL: key, Kind: classify(ctx, err), Err: err}
		return res
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		res.Err = &ProbeError{URL: key, Kind: KindStatus, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
		return res
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		res.Err = &ProbeError{URL: key, Kind: classify(ctx, err), Err: err}
		return res
	}
	res.Latency = time.Since(start)

	if !wellFormed(body) {
		res.Err = &ProbeError{URL: key, Kind: KindMalformed, Err: errors.New("response body is not valid json")}
		return res
	}

	res.Success = true
	return res
}

// wellFormed accepts guarded JSON as served by the default target: once the
// )]}' prefix is seen the payload only has to open an array or object, since
// those payloads may use sparse arrays. Unguarded bodies must be strict JSON.
func wellFormed(body []byte) bool {
	body = bytes.TrimSpace(body)
	if rest, guarded := bytes.CutPrefix(body, xssiPrefix); guarded {
		rest = bytes.TrimSpace(rest)
		return len(rest) > 0 && (rest[0] == '[' || rest[0] == '{')
	}
	return len(body) > 0 && json.Valid(body)
}

func classify(ctx context.Context, err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindConnect
}

// Close drops idle pooled connections.
func (p *Prober) Close() {
	p.transport.CloseIdleConnections()
}
