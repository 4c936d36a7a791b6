// Package scratchapi implements crawler.Probe against the Scratch REST API
// using a Colly collector.
package scratchapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/followcrawl/internal/crawler"
	"github.com/JakeFAU/followcrawl/internal/probe"
)

const (
	defaultPageSize = 40
	defaultTimeout  = 15 * time.Second
)

// Config controls collector behavior.
type Config struct {
	BaseURL       string
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	// PageSize is the limit requested per following page.
	PageSize int
	// MaxFollowing truncates long following lists. Zero reads them all.
	MaxFollowing int
}

// Probe implements crawler.Probe with the Colly collector.
type Probe struct {
	cfg           Config
	base          *url.URL
	baseCollector *colly.Collector
	logger        *zap.Logger
}

type account struct {
	Username string `json:"username"`
}

type response struct {
	status int
	body   []byte
}

// New builds a Probe.
func New(cfg Config, logger *zap.Logger) (*Probe, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", cfg.BaseURL)
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxFollowing < 0 {
		return nil, errors.New("max following must be >= 0")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := colly.NewCollector(colly.Async(false))
	c.WithTransport(newHTTPTransport())

	return &Probe{
		cfg:           cfg,
		base:          base,
		baseCollector: c,
		logger:        logger,
	}, nil
}

// Exists reports whether the account profile resolves.
func (p *Probe) Exists(ctx context.Context, username crawler.Username) (bool, error) {
	target := p.userURL(username, nil)
	resp, err := p.get(ctx, target)
	if err != nil {
		return false, err
	}
	switch {
	case resp.status == http.StatusNotFound:
		return false, nil
	case resp.status >= 200 && resp.status < 300:
		return true, nil
	default:
		return false, &probe.StatusError{Op: probe.OpExists, URL: target, Code: resp.status}
	}
}

// Following pages through the accounts username follows until a short page
// or the configured cap.
func (p *Probe) Following(ctx context.Context, username crawler.Username) ([]crawler.Username, error) {
	var out []crawler.Username
	for offset := 0; ; offset += p.cfg.PageSize {
		page, err := p.followingPage(ctx, username, offset)
		if err != nil {
			return nil, fmt.Errorf("following page at offset %d: %w", offset, err)
		}
		for _, a := range page {
			if a.Username != "" {
				out = append(out, crawler.Username(a.Username))
			}
		}
		if p.cfg.MaxFollowing > 0 && len(out) >= p.cfg.MaxFollowing {
			return out[:p.cfg.MaxFollowing], nil
		}
		if len(page) < p.cfg.PageSize {
			return out, nil
		}
	}
}

func (p *Probe) followingPage(ctx context.Context, username crawler.Username, offset int) ([]account, error) {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(p.cfg.PageSize))
	query.Set("offset", strconv.Itoa(offset))
	target := p.userURL(username, query, "following")

	resp, err := p.get(ctx, target)
	if err != nil {
		return nil, err
	}
	switch {
	case resp.status == http.StatusNotFound:
		return nil, nil
	case resp.status < 200 || resp.status >= 300:
		return nil, &probe.StatusError{Op: probe.OpFollowing, URL: target, Code: resp.status}
	}

	var page []account
	if err := json.Unmarshal(resp.body, &page); err != nil {
		return nil, fmt.Errorf("decode following page: %w", err)
	}
	return page, nil
}

func (p *Probe) userURL(username crawler.Username, query url.Values, segments ...string) string {
	u := p.base.JoinPath(append([]string{"users", string(username)}, segments...)...)
	u.RawQuery = query.Encode()
	return u.String()
}

func (p *Probe) buildCollector(result *response, fetchErr *error) *colly.Collector {
	collector := p.baseCollector.Clone()
	if p.cfg.UserAgent != "" {
		collector.UserAgent = p.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !p.cfg.RespectRobots
	// The same profile is requested once for Exists and again for Following.
	collector.AllowURLRevisit = true
	// 404 is an answer, not a failure.
	collector.ParseHTTPErrorResponse = true
	collector.SetRequestTimeout(p.cfg.Timeout)

	collector.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "application/json")
	})
	collector.OnResponse(func(r *colly.Response) {
		*result = response{
			status: r.StatusCode,
			body:   append([]byte(nil), r.Body...),
		}
	})
	collector.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
	return collector
}

func (p *Probe) get(ctx context.Context, target string) (response, error) {
	var (
		result   response
		fetchErr error
	)
	collector := p.buildCollector(&result, &fetchErr)

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return response{}, fmt.Errorf("scratch api request canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return response{}, fmt.Errorf("colly visit failed: %w", err)
		}
		if fetchErr != nil {
			return response{}, fmt.Errorf("colly response failed: %w", fetchErr)
		}
		p.logger.Debug("scratch api response", zap.String("url", target), zap.Int("status", result.status))
		return result, nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
