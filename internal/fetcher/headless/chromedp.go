// Package headless contains fetchers that execute JavaScript via browsers.
package headless

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/tickercrawl/internal/crawler"
)

const (
	// DefaultTableSelector matches the history table itself.
	DefaultTableSelector = "table"
	// DefaultRowSelector matches the body rows of a history table.
	DefaultRowSelector = "table tbody tr"
	// DefaultScrollPasses is how many times the page is scrolled to the
	// bottom so lazily loaded rows are rendered before extraction.
	DefaultScrollPasses = 25
	// DefaultScrollPause is the wait between scroll passes.
	DefaultScrollPause = 200 * time.Millisecond

	defaultNavTimeout = 45 * time.Second
	scrollScript      = `window.scrollTo(0, document.body.scrollHeight);`
)

// Config controls the behavior of the headless fetcher.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	ScrollPasses      int
	ScrollPause       time.Duration
	TableSelector     string
	RowSelector       string
	Headers           http.Header
}

// Fetcher implements crawler.Fetcher using chromedp and headless Chrome.
type Fetcher struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewChromedp creates a headless fetcher backed by chromedp.
func NewChromedp(cfg Config) (*Fetcher, error) {
	cfg, err := normalize(cfg)
	if err != nil {
		return nil, err
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Fetcher{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

func normalize(cfg Config) (Config, error) {
	if cfg.MaxParallel < 0 {
		return cfg, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.ScrollPasses < 0 {
		return cfg, fmt.Errorf("scroll passes must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavTimeout
	}
	if cfg.ScrollPasses == 0 {
		cfg.ScrollPasses = DefaultScrollPasses
	}
	if cfg.ScrollPause <= 0 {
		cfg.ScrollPause = DefaultScrollPause
	}
	if strings.TrimSpace(cfg.TableSelector) == "" {
		cfg.TableSelector = DefaultTableSelector
	}
	if strings.TrimSpace(cfg.RowSelector) == "" {
		cfg.RowSelector = DefaultRowSelector
	}
	return cfg, nil
}

// Close cancels the allocator context.
func (f *Fetcher) Close() {
	f.allocCancel()
}

// Fetch loads locator in a headless browser, scrolls until the history
// table has rendered, and returns its price rows in page order. A page that
// never renders a history table fails with crawler.ErrNoTable.
func (f *Fetcher) Fetch(ctx context.Context, locator string) ([]crawler.RawRow, error) {
	if err := f.acquire(ctx); err != nil {
		return nil, err
	}
	defer f.release()

	taskCtx, taskCancel := chromedp.NewContext(f.allocator)
	defer taskCancel()
	// Propagate caller cancellation into the browser tab.
	stop := context.AfterFunc(ctx, taskCancel)
	defer stop()

	taskCtx, cancel := context.WithTimeout(taskCtx, f.navTimeout())
	defer cancel()

	meta := &responseMeta{}
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	result, err := f.runHeadless(taskCtx, locator)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("headless fetch canceled: %w", ctx.Err())
		}
		return nil, err
	}
	return result.rows(locator, meta.status())
}

// extraction is what the extract script evaluates to.
type extraction struct {
	Table bool       `json:"table"`
	Cells [][]string `json:"cells"`
}

func (e extraction) rows(locator string, status int) ([]crawler.RawRow, error) {
	if status >= http.StatusBadRequest {
		return nil, fmt.Errorf("headless fetch %s: status %d", locator, status)
	}
	if !e.Table {
		return nil, fmt.Errorf("headless fetch %s: %w", locator, crawler.ErrNoTable)
	}
	return rowsFromCells(e.Cells), nil
}

func (f *Fetcher) runHeadless(ctx context.Context, locator string) (extraction, error) {
	var result extraction
	if err := chromedp.Run(ctx, f.actions(locator, &result)...); err != nil {
		return extraction{}, fmt.Errorf("chromedp run: %w", err)
	}
	return result, nil
}

func (f *Fetcher) actions(locator string, result *extraction) []chromedp.Action {
	actions := []chromedp.Action{
		f.networkSetupAction(),
		chromedp.Navigate(locator),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	for range f.cfg.ScrollPasses {
		actions = append(actions,
			chromedp.Evaluate(scrollScript, nil),
			chromedp.Sleep(f.cfg.ScrollPause),
		)
	}
	return append(actions, chromedp.Evaluate(extractScript(f.cfg.TableSelector, f.cfg.RowSelector), result))
}

// extractScript returns a JS expression that evaluates to whether a table
// matched tableSelector and the trimmed cell texts of every row matched by
// rowSelector.
func extractScript(tableSelector, rowSelector string) string {
	table, _ := json.Marshal(tableSelector)
	rows, _ := json.Marshal(rowSelector)
	return fmt.Sprintf(
		`({table: document.querySelector(%s) !== null, cells: Array.from(document.querySelectorAll(%s)).map(tr => Array.from(tr.querySelectorAll("td")).map(td => td.innerText.trim()))})`,
		table, rows,
	)
}

func rowsFromCells(cells [][]string) []crawler.RawRow {
	rows := make([]crawler.RawRow, 0, len(cells))
	for _, c := range cells {
		if row, ok := crawler.RowFromCells(c); ok {
			rows = append(rows, row)
		}
	}
	return rows
}

func (f *Fetcher) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(f.cfg.Headers) > 0 {
			if err := network.SetExtraHTTPHeaders(toNetworkHeaders(f.cfg.Headers)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

func (f *Fetcher) acquire(ctx context.Context) error {
	if f.limiter == nil {
		return nil
	}
	select {
	case f.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (f *Fetcher) release() {
	if f.limiter == nil {
		return
	}
	select {
	case <-f.limiter:
	default:
	}
}

func (f *Fetcher) navTimeout() time.Duration {
	if f.cfg.NavigationTimeout > 0 {
		return f.cfg.NavigationTimeout
	}
	return defaultNavTimeout
}

// responseMeta remembers the status of the main document response.
type responseMeta struct {
	mu   sync.Mutex
	code int
}

func (m *responseMeta) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	m.mu.Lock()
	m.code = int(resp.Response.Status)
	m.mu.Unlock()
}

func (m *responseMeta) status() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.code
}

func toNetworkHeaders(h http.Header) network.Headers {
	headers := network.Headers{}
	for key, values := range h {
		if len(values) == 0 {
			continue
		}
		if len(values) == 1 {
			headers[key] = values[0]
		} else {
			headers[key] = append([]string(nil), values...)
		}
	}
	return headers
}
