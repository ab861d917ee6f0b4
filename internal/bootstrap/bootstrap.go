// Package bootstrap seeds the entity store from ticker CSV exports.
package bootstrap

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/tickercrawl/internal/crawler"
)

// DefaultLocatorTemplate points at the daily history page of a ticker.
const DefaultLocatorTemplate = "https://finance.yahoo.com/quote/{symbol}/history?p={symbol}"

const symbolPlaceholder = "{symbol}"

// Loader turns CSV rows of Symbol,Company into pending entities.
type Loader struct {
	template string
	logger   *zap.Logger
}

// New constructs a Loader. An empty template selects DefaultLocatorTemplate.
func New(template string, logger *zap.Logger) (*Loader, error) {
	if template == "" {
		template = DefaultLocatorTemplate
	}
	if !strings.Contains(template, symbolPlaceholder) {
		return nil, fmt.Errorf("locator template %q must contain %s", template, symbolPlaceholder)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{template: template, logger: logger.Named("bootstrap")}, nil
}

// Locator derives the fetch address for symbol.
func (l *Loader) Locator(symbol string) string {
	return strings.ReplaceAll(l.template, symbolPlaceholder, url.PathEscape(symbol))
}

// Load reads CSV rows from r and Puts one entity per row. The first column is
// the symbol, the second the company name; extra columns are ignored. A header
// row whose first cell is "symbol" is skipped, as are rows with a blank
// symbol. It returns how many rows were submitted to the store; the store
// ignores locators it already has.
func (l *Loader) Load(ctx context.Context, r io.Reader, store crawler.EntityStore) (int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	count := 0
	for line := 1; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return count, fmt.Errorf("read csv line %d: %w", line, err)
		}
		symbol := strings.TrimSpace(record[0])
		if line == 1 && strings.EqualFold(symbol, "symbol") {
			continue
		}
		company := ""
		if len(record) > 1 {
			company = record[1]
		}
		ok, err := l.Register(ctx, store, symbol, company)
		if err != nil {
			return count, err
		}
		if ok {
			count++
		}
	}
	l.logger.Info("entities loaded", zap.Int("count", count))
	return count, nil
}

// Register Puts one pending entity for symbol. A blank symbol is skipped and
// reported as false.
func (l *Loader) Register(ctx context.Context, store crawler.EntityStore, symbol, company string) (bool, error) {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return false, nil
	}
	entity := crawler.Entity{Symbol: symbol, DisplayName: strings.TrimSpace(company), Locator: l.Locator(symbol)}
	if err := store.Put(ctx, entity); err != nil {
		return false, fmt.Errorf("put %s: %w", symbol, err)
	}
	return true, nil
}

// LoadFiles loads every file matching pattern in lexical order.
func (l *Loader) LoadFiles(ctx context.Context, pattern string, store crawler.EntityStore) (int, error) {
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return 0, fmt.Errorf("glob %q: %w", pattern, err)
	}
	if len(paths) == 0 {
		return 0, fmt.Errorf("no files match %q", pattern)
	}
	sort.Strings(paths)

	total := 0
	for _, path := range paths {
		n, err := l.loadFile(ctx, path, store)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (l *Loader) loadFile(ctx context.Context, path string, store crawler.EntityStore) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			l.logger.Warn("close csv", zap.String("path", path), zap.Error(cerr))
		}
	}()
	n, err := l.Load(ctx, f, store)
	if err != nil {
		return n, fmt.Errorf("%s: %w", path, err)
	}
	return n, nil
}
