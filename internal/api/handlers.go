package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/tickercrawl/internal/crawler"
)

const (
	defaultEntityLimit = 100
	maxEntityLimit     = 1000
	queryTimeout       = 10 * time.Second
)

// getProgress handles GET /v1/progress. The estimate is recomputed on every
// call; sub-values that cannot be computed are null with a reason.
func (s *Server) getProgress(w http.ResponseWriter, r *http.Request) {
	if s.estimator == nil {
		writeError(w, http.StatusServiceUnavailable, "estimator unavailable")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
	defer cancel()

	report, err := s.estimator.Report(ctx)
	if err != nil {
		s.logger.Error("progress report failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to compute progress")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"progress": report,
		"summary":  report.String(),
	})
}

// listEntities handles GET /v1/entities?status=&limit=&offset=. Status is
// one of all (default), pending or done.
func (s *Server) listEntities(w http.ResponseWriter, r *http.Request) {
	if s.entities == nil {
		writeError(w, http.StatusServiceUnavailable, "entity store unavailable")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultEntityLimit, maxEntityLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
	defer cancel()

	var entities []crawler.Entity
	switch strings.ToLower(strings.TrimSpace(r.URL.Query().Get("status"))) {
	case "", "all":
		entities, err = s.entities.List(ctx)
	case "pending":
		entities, err = s.entities.Pending(ctx)
	case "done":
		entities, err = s.entities.List(ctx)
		entities = doneOnly(entities)
	default:
		writeError(w, http.StatusBadRequest, "invalid status")
		return
	}
	if err != nil {
		s.logger.Error("list entities failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list entities")
		return
	}
	total := len(entities)
	writeJSON(w, http.StatusOK, map[string]any{
		"entities": page(entities, limit, offset),
		"total":    total,
	})
}

// listRecords handles GET /v1/entities/{symbol}/records?start=&end=. Both
// bounds are inclusive and must be given together.
func (s *Server) listRecords(w http.ResponseWriter, r *http.Request) {
	if s.records == nil {
		writeError(w, http.StatusServiceUnavailable, "record store unavailable")
		return
	}
	symbol := strings.TrimSpace(chi.URLParam(r, "symbol"))
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}
	q := r.URL.Query()
	start, end := q.Get("start"), q.Get("end")
	if (start == "") != (end == "") {
		writeError(w, http.StatusBadRequest, "start and end must be given together")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), queryTimeout)
	defer cancel()

	var (
		records []crawler.Record
		err     error
	)
	if start == "" {
		records, err = s.records.ForEntity(ctx, symbol)
	} else {
		records, err = s.records.ForEntityRange(ctx, symbol, start, end)
	}
	if err != nil {
		var verr *crawler.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, verr.Error())
			return
		}
		s.logger.Error("list records failed", zap.String("symbol", symbol), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list records")
		return
	}
	if records == nil {
		records = []crawler.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"symbol":  symbol,
		"records": records,
	})
}

func doneOnly(in []crawler.Entity) []crawler.Entity {
	out := in[:0]
	for _, e := range in {
		if e.Done {
			out = append(out, e)
		}
	}
	return out
}

func page[T any](in []T, limit, offset int) []T {
	if offset >= len(in) {
		return []T{}
	}
	end := min(offset+limit, len(in))
	return in[offset:end]
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}
