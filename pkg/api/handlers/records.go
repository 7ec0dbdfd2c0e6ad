package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/neuroguard/neuroguard/pkg/api/models"
	"github.com/neuroguard/neuroguard/pkg/api/response"
	"github.com/neuroguard/neuroguard/pkg/apperrors"
	"github.com/neuroguard/neuroguard/pkg/logger"
	"github.com/neuroguard/neuroguard/pkg/record"
)

const (
	defaultSearchLimit = 50
	maxSearchLimit     = 1000
)

// RecordReader is the read side of the record store.
type RecordReader interface {
	Get(ctx context.Context, id uint64) (*record.Record, error)
	Search(ctx context.Context, q record.Query) ([]*record.Record, error)
	Count(ctx context.Context) (int, error)
}

// RecordHandler serves record lookups and searches.
type RecordHandler struct {
	store  RecordReader
	logger logger.Logger
}

// NewRecordHandler creates a record handler.
func NewRecordHandler(store RecordReader, log logger.Logger) *RecordHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &RecordHandler{store: store, logger: log}
}

// GetRecord handles GET /api/v1/records/{id}.
func (h *RecordHandler) GetRecord(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		writeError(h.logger, w, r, "get_record", apperrors.Validation("id", "must be a positive integer", raw))
		return
	}

	rec, err := h.store.Get(r.Context(), id)
	if err != nil {
		writeError(h.logger, w, r, "get_record", err)
		return
	}
	response.JSON(w, http.StatusOK, rec)
}

// SearchRecords handles GET /api/v1/records?kind=&keywords=a,b&limit=.
// Without a limit the newest 50 matches are returned.
func (h *RecordHandler) SearchRecords(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r)
	if err != nil {
		writeError(h.logger, w, r, "search_records", err)
		return
	}

	recs, err := h.store.Search(r.Context(), q)
	if err != nil {
		writeError(h.logger, w, r, "search_records", err)
		return
	}
	if recs == nil {
		recs = []*record.Record{}
	}
	response.JSON(w, http.StatusOK, models.RecordListResponse{Records: recs, Count: len(recs)})
}

func parseQuery(r *http.Request) (record.Query, error) {
	values := r.URL.Query()
	q := record.Query{
		Kind:  record.Kind(strings.TrimSpace(values.Get("kind"))),
		Limit: defaultSearchLimit,
	}

	for _, raw := range values["keywords"] {
		q.Keywords = append(q.Keywords, strings.Split(raw, ",")...)
	}

	if raw := values.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > maxSearchLimit {
			return q, apperrors.Validation("limit", "must be an integer between 1 and 1000", raw)
		}
		q.Limit = limit
	}
	return q, nil
}
