// Package collyfetcher implements crawler.Fetcher for server-rendered history tables using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/tickercrawl/internal/crawler"
)

const (
	// DefaultTableSelector matches the history table itself.
	DefaultTableSelector = "table"
	// DefaultRowSelector matches the body rows of a history table.
	DefaultRowSelector = "table tbody tr"
)

const defaultTimeout = 15 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	TableSelector string
	RowSelector   string
	Headers       http.Header
}

// Fetcher implements crawler.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

// page accumulates what the collector callbacks saw during one visit.
type page struct {
	rows      []crawler.RawRow
	tableSeen bool
	err       error
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnHTML(string, colly.HTMLCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.TableSelector == "" {
		cfg.TableSelector = DefaultTableSelector
	}
	if cfg.RowSelector == "" {
		cfg.RowSelector = DefaultRowSelector
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	c := colly.NewCollector(colly.Async(false))
	c.WithTransport(newHTTPTransport())
	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
	}
}

// Fetch visits locator and returns the price rows of its history table in
// page order. Rows with fewer cells than a price row are skipped. A page
// without a history table fails with crawler.ErrNoTable; a table with no
// rows is an empty success.
func (f *Fetcher) Fetch(ctx context.Context, locator string) ([]crawler.RawRow, error) {
	state := &page{}
	collector := f.buildCollector(state)
	if err := f.runCollector(ctx, collector, locator, state); err != nil {
		return nil, err
	}
	if !state.tableSeen {
		return nil, fmt.Errorf("colly fetch %s: %w", locator, crawler.ErrNoTable)
	}
	return state.rows, nil
}

func (f *Fetcher) buildCollector(state *page) *colly.Collector {
	collector := f.baseCollector.Clone()
	// Each entity is visited at most once per run, but a rerun after a
	// failure revisits the same locator through the same base collector.
	collector.AllowURLRevisit = true
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !f.cfg.RespectRobots
	collector.SetRequestTimeout(f.cfg.Timeout)

	f.configureCollectorHooks(collector, state)
	return collector
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, state *page) {
	hooks.OnRequest(func(r *colly.Request) {
		f.copyHeaders(r)
	})

	hooks.OnHTML(f.cfg.TableSelector, func(*colly.HTMLElement) {
		state.tableSeen = true
	})

	hooks.OnHTML(f.cfg.RowSelector, func(e *colly.HTMLElement) {
		cells := e.ChildTexts("td")
		for i := range cells {
			cells[i] = strings.TrimSpace(cells[i])
		}
		if row, ok := crawler.RowFromCells(cells); ok {
			state.rows = append(state.rows, row)
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			state.err = fmt.Errorf("status %d: %w", r.StatusCode, err)
			return
		}
		state.err = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, state *page) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if state.err != nil {
			return fmt.Errorf("colly response failed: %w", state.err)
		}
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

func (f *Fetcher) copyHeaders(r *colly.Request) {
	for key, values := range f.cfg.Headers {
		for _, v := range values {
			r.Headers.Add(key, v)
		}
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
