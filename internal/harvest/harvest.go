// Package harvest builds the entity list by walking a paginated ticker
// listing. Each listing row is registered as a pending entity; the "next"
// link is followed until it disappears or the page limit is reached.
package harvest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/tickercrawl/internal/crawler"
)

const (
	// DefaultTableSelector matches the listing table.
	DefaultTableSelector = "table"
	// DefaultRowSelector matches one listing row: symbol, then company.
	DefaultRowSelector = "table tbody tr"
	// DefaultNextSelector matches the link to the following listing page.
	DefaultNextSelector = "a[rel=next]"
	// DefaultMaxPages caps a harvest that never runs out of "next" links.
	DefaultMaxPages = 2048

	defaultTimeout = 15 * time.Second
)

// Registrar turns a listing row into a pending entity. bootstrap.Loader
// satisfies it.
type Registrar interface {
	Register(ctx context.Context, store crawler.EntityStore, symbol, company string) (bool, error)
}

// Config controls a harvest.
type Config struct {
	StartURL      string
	TableSelector string
	RowSelector   string
	NextSelector  string
	MaxPages      int
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	Headers       http.Header
}

// Result counts what a harvest visited and registered.
type Result struct {
	Pages    int `json:"pages"`
	Entities int `json:"entities"`
}

// Harvester walks a listing with a colly collector.
type Harvester struct {
	cfg       Config
	registrar Registrar
	base      *colly.Collector
	logger    *zap.Logger
}

// listing is what one page contributed.
type listing struct {
	rows      [][]string
	next      string
	tableSeen bool
	err       error
}

// New constructs a Harvester. Zero values in cfg select the defaults.
func New(cfg Config, registrar Registrar, logger *zap.Logger) (*Harvester, error) {
	if strings.TrimSpace(cfg.StartURL) == "" {
		return nil, errors.New("harvest start url is required")
	}
	if registrar == nil {
		return nil, errors.New("harvest registrar is required")
	}
	if cfg.MaxPages < 0 {
		return nil, fmt.Errorf("max pages must be >= 0, got %d", cfg.MaxPages)
	}
	if cfg.TableSelector == "" {
		cfg.TableSelector = DefaultTableSelector
	}
	if cfg.RowSelector == "" {
		cfg.RowSelector = DefaultRowSelector
	}
	if cfg.NextSelector == "" {
		cfg.NextSelector = DefaultNextSelector
	}
	if cfg.MaxPages == 0 {
		cfg.MaxPages = DefaultMaxPages
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Harvester{
		cfg:       cfg,
		registrar: registrar,
		base:      colly.NewCollector(colly.Async(false)),
		logger:    logger.Named("harvest"),
	}, nil
}

// Run walks the listing from the start URL and registers every row in store.
// A page without a listing table stops the walk with crawler.ErrNoTable; the
// entities registered before it are kept.
func (h *Harvester) Run(ctx context.Context, store crawler.EntityStore) (Result, error) {
	var res Result
	seen := map[string]bool{}
	next := h.cfg.StartURL
	for next != "" && res.Pages < h.cfg.MaxPages {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("harvest canceled: %w", err)
		}
		if seen[next] {
			h.logger.Warn("listing links back to a visited page", zap.String("url", next))
			break
		}
		seen[next] = true

		page, err := h.visit(ctx, next)
		if err != nil {
			return res, err
		}
		res.Pages++
		for _, cells := range page.rows {
			company := ""
			if len(cells) > 1 {
				company = cells[1]
			}
			ok, err := h.registrar.Register(ctx, store, cells[0], company)
			if err != nil {
				return res, fmt.Errorf("register from %s: %w", next, err)
			}
			if ok {
				res.Entities++
			}
		}
		h.logger.Debug("listing page harvested", zap.String("url", next), zap.Int("rows", len(page.rows)))
		next = page.next
	}
	h.logger.Info("harvest finished", zap.Int("pages", res.Pages), zap.Int("entities", res.Entities))
	return res, nil
}

func (h *Harvester) visit(ctx context.Context, url string) (*listing, error) {
	page := &listing{}
	collector := h.base.Clone()
	collector.AllowURLRevisit = true
	if h.cfg.UserAgent != "" {
		collector.UserAgent = h.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !h.cfg.RespectRobots
	collector.SetRequestTimeout(h.cfg.Timeout)

	collector.OnRequest(func(r *colly.Request) {
		for key, values := range h.cfg.Headers {
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
	})
	collector.OnHTML(h.cfg.TableSelector, func(*colly.HTMLElement) {
		page.tableSeen = true
	})
	collector.OnHTML(h.cfg.RowSelector, func(e *colly.HTMLElement) {
		cells := e.ChildTexts("td")
		for i := range cells {
			cells[i] = strings.TrimSpace(cells[i])
		}
		if len(cells) > 0 && cells[0] != "" {
			page.rows = append(page.rows, cells)
		}
	})
	collector.OnHTML(h.cfg.NextSelector, func(e *colly.HTMLElement) {
		if page.next != "" {
			return
		}
		if href := e.Attr("href"); href != "" {
			page.next = e.Request.AbsoluteURL(href)
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			page.err = fmt.Errorf("status %d: %w", r.StatusCode, err)
			return
		}
		page.err = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("harvest canceled: %w", ctx.Err())
	case err := <-done:
		if page.err != nil {
			return nil, fmt.Errorf("harvest %s: %w", url, page.err)
		}
		if err != nil {
			return nil, fmt.Errorf("harvest %s: %w", url, err)
		}
	}
	if !page.tableSeen {
		return nil, fmt.Errorf("harvest %s: %w", url, crawler.ErrNoTable)
	}
	return page, nil
}
