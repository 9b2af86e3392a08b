package browser

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// ErrPoolExhausted is returned by Acquire when no usable browser process is
// available. The pool stays unhealthy until Reinitialize succeeds.
var ErrPoolExhausted = errors.New("browser pool exhausted")

// Options configures a Pool
type Options struct {
	Capacity      int
	Headless      bool
	Bin           string
	NoSandbox     bool
	ProxyServer   string
	ProxyUsername string
	ProxyPassword string
	Logger        *log.Logger
}

// Stats is a snapshot of pool usage
type Stats struct {
	Capacity int  `json:"capacity"`
	Active   int  `json:"active"`
	Healthy  bool `json:"healthy"`
	Restarts int  `json:"restarts"`
}

// Pool owns one long-lived browser process and hands out isolated incognito
// contexts from it, at most Capacity at a time.
type Pool struct {
	opts   Options
	logger *log.Logger
	sem    *semaphore.Weighted
	fp     *Generator

	mu       sync.RWMutex
	launcher *launcher.Launcher
	browser  *rod.Browser
	healthy  bool
	closed   bool
	restarts int
	active   atomic.Int32

	// open creates a context once a slot is held; replaced in tests
	open func(ctx context.Context) (*Context, error)
}

// NewPool creates a pool. Call Start to launch the browser.
func NewPool(opts Options) *Pool {
	if opts.Capacity < 1 {
		opts.Capacity = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	p := &Pool{
		opts:   opts,
		logger: logger,
		sem:    semaphore.NewWeighted(int64(opts.Capacity)),
		fp:     NewGenerator(0),
	}
	p.open = p.openContext
	return p
}

// Start launches the browser process
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.launchLocked(ctx)
}

func (p *Pool) launchLocked(ctx context.Context) error {
	if p.closed {
		return errors.New("browser pool is closed")
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	l := launcher.New().
		Headless(p.opts.Headless).
		Set("disable-blink-features", "AutomationControlled").
		Set("disable-dev-shm-usage").
		Set("disable-gpu").
		Set("disable-extensions").
		Set("disable-background-timer-throttling").
		Set("disable-renderer-backgrounding").
		Set("disable-backgrounding-occluded-windows").
		Set("no-first-run").
		Set("lang", DefaultLocale)

	if bin := p.binary(); bin != "" {
		p.logger.Printf("🔍 Using browser at: %s", bin)
		l = l.Bin(bin)
	}
	if p.opts.NoSandbox {
		l = l.NoSandbox(true)
	}
	if p.opts.ProxyServer != "" {
		l = l.Proxy(p.opts.ProxyServer)
	}

	u, err := l.Launch()
	if err != nil {
		p.healthy = false
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	b := rod.New().ControlURL(u)
	if err := b.Connect(); err != nil {
		l.Kill()
		p.healthy = false
		return fmt.Errorf("failed to connect to browser: %w", err)
	}

	p.launcher = l
	p.browser = b
	p.healthy = true
	p.logger.Println("✅ Browser initialized successfully")
	return nil
}

func (p *Pool) binary() string {
	if p.opts.Bin != "" {
		if _, err := os.Stat(p.opts.Bin); err == nil {
			return p.opts.Bin
		}
		p.logger.Printf("⚠️  Browser binary %s not found, falling back to lookup", p.opts.Bin)
	}
	if path, ok := launcher.LookPath(); ok {
		return path
	}
	return ""
}

// Acquire blocks until a slot is free, then returns a fresh isolated context
// with its own fingerprint. It fails with ctx's error when ctx ends first and
// with ErrPoolExhausted when the browser process is gone.
func (p *Pool) Acquire(ctx context.Context) (*Context, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	c, err := p.open(ctx)
	if err != nil {
		p.sem.Release(1)
		return nil, err
	}
	p.active.Add(1)
	return c, nil
}

func (p *Pool) openContext(ctx context.Context) (*Context, error) {
	p.mu.RLock()
	b, healthy, closed := p.browser, p.healthy, p.closed
	p.mu.RUnlock()

	if closed || b == nil || !healthy {
		return nil, ErrPoolExhausted
	}

	if _, err := (proto.BrowserGetVersion{}).Call(b.Context(ctx)); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.markUnhealthy(b, err)
		return nil, fmt.Errorf("%w: %v", ErrPoolExhausted, err)
	}

	incognito, err := b.Incognito()
	if err != nil {
		p.markUnhealthy(b, err)
		return nil, fmt.Errorf("%w: %v", ErrPoolExhausted, err)
	}

	c := &Context{
		ID:          uuid.NewString(),
		Fingerprint: p.fp.Generate(),
		browser:     incognito,
	}

	if p.opts.ProxyUsername != "" {
		c.authCtx, c.stopAuth = context.WithCancel(context.Background())
		c.auth = &proxyAuth{username: p.opts.ProxyUsername, password: p.opts.ProxyPassword}
	}

	return c, nil
}

// proxyAuth answers the Fetch domain for a page: paused requests resume
// unchanged and proxy challenges get the configured credentials
type proxyAuth struct {
	username string
	password string
}

// watch enables auth interception on page and serves its events until the
// page's context ends
func (a *proxyAuth) watch(page *rod.Page) error {
	if err := (proto.FetchEnable{HandleAuthRequests: true}).Call(page); err != nil {
		return fmt.Errorf("failed to enable proxy auth: %w", err)
	}
	go page.EachEvent(
		func(e *proto.FetchRequestPaused) { _ = a.resume(page, e) },
		func(e *proto.FetchAuthRequired) { _ = a.answer(page, e) },
	)()
	return nil
}

func (a *proxyAuth) resume(c proto.Client, e *proto.FetchRequestPaused) error {
	return proto.FetchContinueRequest{RequestID: e.RequestID}.Call(c)
}

func (a *proxyAuth) answer(c proto.Client, e *proto.FetchAuthRequired) error {
	resp := &proto.FetchAuthChallengeResponse{
		Response: proto.FetchAuthChallengeResponseResponseProvideCredentials,
		Username: a.username,
		Password: a.password,
	}
	// Only proxies get credentials; a site asking for basic auth is declined
	if e.AuthChallenge == nil || e.AuthChallenge.Source != proto.FetchAuthChallengeSourceProxy {
		resp = &proto.FetchAuthChallengeResponse{Response: proto.FetchAuthChallengeResponseResponseCancelAuth}
	}
	return proto.FetchContinueWithAuth{RequestID: e.RequestID, AuthChallengeResponse: resp}.Call(c)
}

func (p *Pool) markUnhealthy(b *rod.Browser, cause error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.browser == b && p.healthy {
		p.healthy = false
		p.logger.Printf("❌ Browser process unusable: %v", cause)
	}
}

// Release disposes a context and frees its slot. Releasing nil or an already
// released context does nothing.
func (p *Pool) Release(c *Context) {
	if c == nil || !c.released.CompareAndSwap(false, true) {
		return
	}
	if c.stopAuth != nil {
		c.stopAuth()
	}
	if c.browser != nil {
		if err := c.browser.Close(); err != nil {
			p.logger.Printf("⚠️  Failed to dispose browser context %s: %v", c.ID, err)
		}
	}
	p.active.Add(-1)
	p.sem.Release(1)
}

// Reinitialize kills the current browser process, if any, and launches a
// new one. Contexts handed out before the restart become unusable.
func (p *Pool) Reinitialize(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.shutdownLocked()
	p.restarts++
	p.logger.Printf("🔄 Restarting browser (restart #%d)", p.restarts)
	return p.launchLocked(ctx)
}

// Close shuts the browser down. Acquire fails afterwards.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	p.shutdownLocked()
	return nil
}

func (p *Pool) shutdownLocked() {
	if p.browser != nil {
		if err := p.browser.Close(); err != nil {
			p.logger.Printf("⚠️  Browser close failed: %v", err)
		}
		p.browser = nil
	}
	if p.launcher != nil {
		p.launcher.Kill()
		p.launcher.Cleanup()
		p.launcher = nil
	}
	p.healthy = false
}

// Stats returns a snapshot of pool usage
func (p *Pool) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Stats{
		Capacity: p.opts.Capacity,
		Active:   int(p.active.Load()),
		Healthy:  p.healthy,
		Restarts: p.restarts,
	}
}

// Context is one isolated browser context. Pages created from it share
// cookies and storage with each other and with nothing else.
type Context struct {
	ID          string
	Fingerprint Fingerprint

	browser  *rod.Browser
	auth     *proxyAuth
	authCtx  context.Context
	stopAuth context.CancelFunc
	released atomic.Bool
}

// NewPage opens a blank page in the context with the fingerprint applied
func (c *Context) NewPage(ctx context.Context) (*rod.Page, error) {
	if c.browser == nil || c.released.Load() {
		return nil, errors.New("browser context is not usable")
	}

	page, err := c.browser.Context(ctx).Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("failed to open page: %w", err)
	}

	if c.auth != nil {
		if err := c.auth.watch(page.Context(c.authCtx)); err != nil {
			_ = page.Close()
			return nil, err
		}
	}

	if err := c.Fingerprint.Apply(page); err != nil {
		_ = page.Close()
		return nil, err
	}
	return page, nil
}
