// Package headless implements crawler.Probe by rendering Scratch profile
// pages in headless Chrome via chromedp.
package headless

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/followcrawl/internal/crawler"
	"github.com/JakeFAU/followcrawl/internal/probe"
)

const (
	defaultProfileURL = "https://scratch.mit.edu/users"
	defaultNavTimeout = 45 * time.Second
	defaultScrollWait = 500 * time.Millisecond
	defaultMaxScrolls = 50

	followingItemSelector = ".user.thumb.item"
)

// loadMoreScript clicks the "load more" control when present, scrolls to the
// bottom and reports how many follow tiles are rendered.
var loadMoreScript = fmt.Sprintf(`(() => {
  const more = document.querySelector('[data-control="load-more"], .load-more-button');
  if (more) { more.click(); }
  window.scrollTo(0, document.body.scrollHeight);
  return document.querySelectorAll(%q).length;
})()`, followingItemSelector)

var extractLinksScript = fmt.Sprintf(`Array.from(document.querySelectorAll(%q)).map(item => {
  const link = item.querySelector('a[href*="/users/"]');
  return link ? link.getAttribute('href') : '';
})`, followingItemSelector)

// Config controls the behavior of the headless probe.
type Config struct {
	ProfileURL        string
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	MaxScrolls        int
	ScrollWait        time.Duration
}

// Probe implements crawler.Probe using chromedp and headless Chrome.
type Probe struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger
}

// New creates a headless probe backed by chromedp. Chrome is started lazily
// on the first call.
func New(cfg Config, logger *zap.Logger) (*Probe, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.ProfileURL == "" {
		cfg.ProfileURL = defaultProfileURL
	}
	if _, err := url.Parse(cfg.ProfileURL); err != nil {
		return nil, fmt.Errorf("parse profile url: %w", err)
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavTimeout
	}
	if cfg.MaxScrolls <= 0 {
		cfg.MaxScrolls = defaultMaxScrolls
	}
	if cfg.ScrollWait <= 0 {
		cfg.ScrollWait = defaultScrollWait
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Probe{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      logger,
	}, nil
}

// Close shuts the browser down.
func (p *Probe) Close() {
	p.allocCancel()
}

// Exists loads the profile page and reports whether it resolved.
func (p *Probe) Exists(ctx context.Context, username crawler.Username) (bool, error) {
	target := profileURL(p.cfg.ProfileURL, username, "")
	status, err := p.visit(ctx, target, nil)
	if err != nil {
		return false, err
	}
	switch {
	case status == http.StatusNotFound:
		return false, nil
	case status >= 200 && status < 300:
		return true, nil
	default:
		return false, &probe.StatusError{Op: probe.OpExists, URL: target, Code: status}
	}
}

// Following renders the following tab, expanding it until no new tiles
// appear, and returns the linked usernames in page order.
func (p *Probe) Following(ctx context.Context, username crawler.Username) ([]crawler.Username, error) {
	target := profileURL(p.cfg.ProfileURL, username, "following")
	var hrefs []string
	status, err := p.visit(ctx, target, chromedp.ActionFunc(func(ctx context.Context) error {
		return p.expandAndCollect(ctx, &hrefs)
	}))
	if err != nil {
		return nil, err
	}
	switch {
	case status == http.StatusNotFound:
		return nil, nil
	case status < 200 || status >= 300:
		return nil, &probe.StatusError{Op: probe.OpFollowing, URL: target, Code: status}
	}
	return usernamesFromLinks(hrefs), nil
}

// visit navigates to target and, when the document loaded successfully,
// runs then on the same tab. It returns the document status.
func (p *Probe) visit(ctx context.Context, target string, then chromedp.Action) (int, error) {
	if err := p.acquire(ctx); err != nil {
		return 0, err
	}
	defer p.release()

	taskCtx, taskCancel := chromedp.NewContext(p.allocator)
	defer taskCancel()
	stop := context.AfterFunc(ctx, taskCancel)
	defer stop()

	taskCtx, cancel := context.WithTimeout(taskCtx, p.cfg.NavigationTimeout)
	defer cancel()

	meta := newResponseMeta()
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	var finalURL string
	err := chromedp.Run(taskCtx,
		p.networkSetupAction(),
		chromedp.Navigate(target),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Location(&finalURL),
	)
	if err != nil {
		if ctx.Err() != nil {
			return 0, fmt.Errorf("headless visit canceled: %w", ctx.Err())
		}
		return 0, fmt.Errorf("chromedp run: %w", err)
	}

	status, documentURL := meta.snapshotWithFallbacks(target, finalURL)
	p.logger.Debug("headless page loaded",
		zap.String("url", documentURL),
		zap.Int("status", status),
	)
	if then == nil || status < 200 || status >= 300 {
		return status, nil
	}
	if err := chromedp.Run(taskCtx, then); err != nil {
		if ctx.Err() != nil {
			return 0, fmt.Errorf("headless visit canceled: %w", ctx.Err())
		}
		return 0, fmt.Errorf("chromedp follow-up: %w", err)
	}
	return status, nil
}

func (p *Probe) expandAndCollect(ctx context.Context, hrefs *[]string) error {
	last := -1
	for range p.cfg.MaxScrolls {
		var count int
		if err := chromedp.Evaluate(loadMoreScript, &count).Do(ctx); err != nil {
			return fmt.Errorf("expand following list: %w", err)
		}
		if count <= last {
			break
		}
		last = count
		if err := chromedp.Sleep(p.cfg.ScrollWait).Do(ctx); err != nil {
			return fmt.Errorf("wait for following list: %w", err)
		}
	}
	if err := chromedp.Evaluate(extractLinksScript, hrefs).Do(ctx); err != nil {
		return fmt.Errorf("extract following links: %w", err)
	}
	return nil
}

func (p *Probe) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if p.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(p.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (p *Probe) acquire(ctx context.Context) error {
	if p.limiter == nil {
		return nil
	}
	select {
	case p.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (p *Probe) release() {
	if p.limiter == nil {
		return
	}
	select {
	case <-p.limiter:
	default:
	}
}

// responseMeta remembers the status of the top-level document response.
type responseMeta struct {
	mu     sync.RWMutex
	status int
	url    string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	// Redirect hops arrive first; the last document response wins.
	m.status = int(event.Response.Status)
	m.url = event.Response.URL
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, string) {
	m.mu.RLock()
	status, documentURL := m.status, m.url
	m.mu.RUnlock()

	switch {
	case documentURL != "":
	case finalURL != "":
		documentURL = finalURL
	default:
		documentURL = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	return status, documentURL
}

func profileURL(base string, username crawler.Username, tab string) string {
	out := strings.TrimRight(base, "/") + "/" + url.PathEscape(string(username)) + "/"
	if tab != "" {
		out += tab + "/"
	}
	return out
}

// usernamesFromLinks pulls usernames out of profile links such as
// "/users/griffpatch/", dropping blanks and repeats.
func usernamesFromLinks(hrefs []string) []crawler.Username {
	out := make([]crawler.Username, 0, len(hrefs))
	seen := make(map[string]struct{}, len(hrefs))
	for _, href := range hrefs {
		name := usernameFromLink(href)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, crawler.Username(name))
	}
	return out
}

func usernameFromLink(href string) string {
	u, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+1 < len(parts); i++ {
		if parts[i] == "users" {
			return parts[i+1]
		}
	}
	return ""
}
