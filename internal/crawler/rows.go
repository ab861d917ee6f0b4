package crawler

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// DateFormat is the canonical layout records are stored with. It sorts
// lexically, so string range filters behave like date range filters.
const DateFormat = "2006-01-02"

var dateLayouts = []string{
	DateFormat,
	"Jan 2, 2006",
	"January 2, 2006",
	"01/02/2006",
	"2006/01/02",
}

var (
	errEmpty       = errors.New("empty value")
	errNotNumber   = errors.New("not a number")
	errNegative    = errors.New("must not be negative")
	errUnknownDate = errors.New("unrecognized date format")
)

// ParseDate normalizes a fetched date cell to DateFormat. The common table
// layouts are tried first; anything else goes through dateparse in strict
// mode, which rejects day/month ambiguity.
func ParseDate(raw string) (string, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", errEmpty
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.Format(DateFormat), nil
		}
	}
	t, err := dateparse.ParseStrict(value)
	if err != nil {
		return "", errUnknownDate
	}
	return t.Format(DateFormat), nil
}

func parseNumber(raw string) (float64, error) {
	value := strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	if value == "" {
		return 0, errEmpty
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, errNotNumber
	}
	return f, nil
}

// ParseRows validates every row and converts it to a Record. Nothing is
// returned unless all rows are valid.
func ParseRows(symbol string, rows []RawRow) ([]Record, error) {
	out := make([]Record, 0, len(rows))
	for i, row := range rows {
		rec, err := parseRow(symbol, i, row)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func parseRow(symbol string, index int, row RawRow) (Record, error) {
	invalid := func(field, value string, err error) error {
		return &ValidationError{Symbol: symbol, Row: index, Field: field, Value: value, Err: err}
	}
	date, err := ParseDate(row.Date)
	if err != nil {
		return Record{}, invalid("date", row.Date, err)
	}
	rec := Record{Symbol: symbol, Date: date}
	prices := []struct {
		field string
		raw   string
		dst   *float64
	}{
		{"open", row.Open, &rec.Open},
		{"high", row.High, &rec.High},
		{"low", row.Low, &rec.Low},
		{"close", row.Close, &rec.Close},
		{"adjusted_close", row.AdjClose, &rec.AdjClose},
	}
	for _, p := range prices {
		v, err := parseNumber(p.raw)
		if err != nil {
			return Record{}, invalid(p.field, p.raw, err)
		}
		*p.dst = v
	}
	volume, err := parseNumber(row.Volume)
	if err != nil {
		return Record{}, invalid("volume", row.Volume, err)
	}
	if volume < 0 {
		return Record{}, invalid("volume", row.Volume, errNegative)
	}
	rec.Volume = volume
	return rec, nil
}

// ParseRange normalizes inclusive range bounds for ForEntityRange.
func ParseRange(start, end string) (string, string, error) {
	from, err := ParseDate(start)
	if err != nil {
		return "", "", &ValidationError{Row: -1, Field: "start_date", Value: start, Err: err}
	}
	to, err := ParseDate(end)
	if err != nil {
		return "", "", &ValidationError{Row: -1, Field: "end_date", Value: end, Err: err}
	}
	return from, to, nil
}

// HistoryColumns is the number of cells in a price row of a history table:
// date, open, high, low, close, adjusted close and volume, in that order.
const HistoryColumns = 7

// RowFromCells maps the cell texts of one table row to a RawRow. Rows with
// fewer cells (dividend and split annotations) are reported as not ok.
func RowFromCells(cells []string) (RawRow, bool) {
	if len(cells) < HistoryColumns {
		return RawRow{}, false
	}
	return RawRow{
		Date:     cells[0],
		Open:     cells[1],
		High:     cells[2],
		Low:      cells[3],
		Close:    cells[4],
		AdjClose: cells[5],
		Volume:   cells[6],
	}, true
}
