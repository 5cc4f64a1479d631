// Package browser supervises a pool of headless browser instances and
// implements the automation driver on top of chromedp.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rendercrawl/rendercrawl/internal/crawler"
)

// DriverConfig controls how browser instances are launched and how pages
// are considered loaded.
type DriverConfig struct {
	UserAgent string
	// SettleDelay is how long to wait after the load event before taking
	// the rendered DOM snapshot, approximating network idle.
	SettleDelay time.Duration
}

// ChromedpDriver launches headless Chrome instances via chromedp.
type ChromedpDriver struct {
	cfg    DriverConfig
	logger *zap.Logger
}

// NewChromedpDriver builds a driver with the given config.
func NewChromedpDriver(cfg DriverConfig, logger *zap.Logger) *ChromedpDriver {
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = 500 * time.Millisecond
	}
	return &ChromedpDriver{cfg: cfg, logger: logger}
}

// Launch starts a fresh Chrome process. An empty warmup run forces launch
// errors to surface here rather than on the first navigation.
func (d *ChromedpDriver) Launch(ctx context.Context) (crawler.Instance, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
	)
	if d.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(d.cfg.UserAgent))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}
	id := uuid.NewString()
	d.logger.Debug("browser instance launched", zap.String("instance_id", id))
	return &chromedpInstance{
		id:            id,
		cfg:           d.cfg,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
		logger:        d.logger.With(zap.String("instance_id", id)),
	}, nil
}

type chromedpInstance struct {
	id            string
	cfg           DriverConfig
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
	logger        *zap.Logger
}

func (i *chromedpInstance) ID() string { return i.id }

// NewPageContext opens a tab bound to a dedicated CDP browser context, the
// incognito-style sandbox: no cookies, cache, or storage are shared with any
// other page context, and nothing survives disposal.
func (i *chromedpInstance) NewPageContext(ctx context.Context) (crawler.PageContext, error) {
	c := chromedp.FromContext(i.browserCtx)
	if c == nil || c.Browser == nil {
		return nil, errors.New("browser instance not running")
	}
	exec := cdp.WithExecutor(ctx, c.Browser)

	bctxID, err := target.CreateBrowserContext().WithDisposeOnDetach(true).Do(exec)
	if err != nil {
		return nil, fmt.Errorf("create browser context: %w", err)
	}
	targetID, err := target.CreateTarget("about:blank").WithBrowserContextID(bctxID).Do(exec)
	if err != nil {
		_ = target.DisposeBrowserContext(bctxID).Do(exec)
		return nil, fmt.Errorf("create target: %w", err)
	}

	tabCtx, tabCancel := chromedp.NewContext(i.browserCtx, chromedp.WithTargetID(targetID))
	return &chromedpPage{
		inst:      i,
		bctxID:    bctxID,
		tabCtx:    tabCtx,
		tabCancel: tabCancel,
	}, nil
}

// Terminate tears down the browser process and every context it holds.
func (i *chromedpInstance) Terminate() {
	i.browserCancel()
	i.allocCancel()
	i.logger.Debug("browser instance terminated")
}

type chromedpPage struct {
	inst      *chromedpInstance
	bctxID    cdp.BrowserContextID
	tabCtx    context.Context
	tabCancel context.CancelFunc
	closeOnce sync.Once
}

// Navigate drives the page to url and reports the task outcome. The timeout
// races the navigation: a deadline hit yields TIMEOUT with the partial
// measurements captured so far, any other driver error yields FAILED.
func (p *chromedpPage) Navigate(ctx context.Context, url string, timeout time.Duration) crawler.Result {
	navCtx, cancel := context.WithTimeout(p.tabCtx, timeout)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()

	meta := &documentMeta{}
	chromedp.ListenTarget(navCtx, meta.capture)

	start := time.Now()
	var html string
	err := chromedp.Run(navCtx,
		network.Enable(),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(p.inst.cfg.SettleDelay),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	elapsed := time.Since(start)

	result := crawler.Result{
		URL:           url,
		Status:        crawler.StatusSuccess,
		InitialBytes:  meta.initialBytes(),
		RenderedBytes: int64(len(html)),
		ElapsedSec:    elapsed.Seconds(),
	}
	if err != nil {
		result.Error = err.Error()
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			result.Status = crawler.StatusTimeout
			p.inst.logger.Warn("navigation timed out", zap.String("url", url), zap.Duration("timeout", timeout))
		} else {
			result.Status = crawler.StatusFailed
			p.inst.logger.Warn("navigation failed", zap.String("url", url), zap.Error(err))
		}
	}
	return result
}

// Close destroys the tab and disposes its browser context so no state can
// leak into a later page.
func (p *chromedpPage) Close() {
	p.closeOnce.Do(func() {
		p.tabCancel()
		c := chromedp.FromContext(p.inst.browserCtx)
		if c == nil || c.Browser == nil {
			return
		}
		disposeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		exec := cdp.WithExecutor(disposeCtx, c.Browser)
		if err := target.DisposeBrowserContext(p.bctxID).Do(exec); err != nil {
			p.inst.logger.Debug("dispose browser context", zap.Error(err))
		}
	})
}

// documentMeta sizes the document response before script execution. The
// loading-finished event carries the encoded (on-the-wire) length; the
// Content-Length header is the fallback when the event is missed.
type documentMeta struct {
	mu           sync.Mutex
	docRequestID network.RequestID
	encodedLen   int64
	headerLen    int64
}

func (m *documentMeta) capture(ev any) {
	switch e := ev.(type) {
	case *network.EventResponseReceived:
		if e.Type != network.ResourceTypeDocument || e.Response == nil {
			return
		}
		m.mu.Lock()
		if m.docRequestID == "" {
			m.docRequestID = e.RequestID
			// HTTP/2 responses arrive with lowercase header names.
			for k, v := range e.Response.Headers {
				if strings.EqualFold(k, "Content-Length") {
					if n, err := strconv.ParseInt(fmt.Sprint(v), 10, 64); err == nil {
						m.headerLen = n
					}
					break
				}
			}
		}
		m.mu.Unlock()
	case *network.EventLoadingFinished:
		m.mu.Lock()
		if e.RequestID == m.docRequestID && m.docRequestID != "" {
			m.encodedLen = int64(e.EncodedDataLength)
		}
		m.mu.Unlock()
	}
}

func (m *documentMeta) initialBytes() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.encodedLen > 0 {
		return m.encodedLen
	}
	return m.headerLen
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
