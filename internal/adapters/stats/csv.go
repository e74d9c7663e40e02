package stats

import (
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/okian/popstats/internal/domain/model"
	"github.com/okian/popstats/pkg/logger"
)

// CSVSource reads a CSV report whose header row names the id and views columns.
type CSVSource struct {
	httpSource
	idColumn    string
	viewsColumn string
}

// Default CSV column names.
const (
	DefaultIDColumn    = "post_id"
	DefaultViewsColumn = "views"
)

// NewCSVSource creates a CSV source. Empty column names fall back to the defaults.
func NewCSVSource(endpoint, idColumn, viewsColumn string, opts ...Option) *CSVSource {
	if idColumn == "" {
		idColumn = DefaultIDColumn
	}
	if viewsColumn == "" {
		viewsColumn = DefaultViewsColumn
	}
	return &CSVSource{
		httpSource:  newHTTPSource(endpoint, append([]Option{withAccept("text/csv")}, opts...)...),
		idColumn:    strings.ToLower(idColumn),
		viewsColumn: strings.ToLower(viewsColumn),
	}
}

func withAccept(v string) Option {
	return func(s *httpSource) { s.accept = v }
}

// Fetch implements Source.
func (s *CSVSource) Fetch(ctx context.Context, params model.FetchParams) ([]model.PopularityEntry, error) {
	body, err := s.get(ctx, params)
	if err != nil {
		return nil, err
	}
	entries, err := s.parse(body, params.Limit)
	if err != nil {
		return nil, err
	}
	s.log.Debug(ctx, "csv report fetched", logger.Int("entries", len(entries)))
	return entries, nil
}

func (s *CSVSource) parse(body []byte, limit int) ([]model.PopularityEntry, error) {
	r := csv.NewReader(bytes.NewReader(body))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, errors.Wrapf(ErrProviderError, "read header: %v", err)
	}
	idIdx, viewsIdx := -1, -1
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case s.idColumn:
			idIdx = i
		case s.viewsColumn:
			viewsIdx = i
		}
	}
	if idIdx < 0 || viewsIdx < 0 {
		return nil, errors.Wrapf(ErrProviderError, "header %v lacks %q or %q", header, s.idColumn, s.viewsColumn)
	}

	var entries []model.PopularityEntry
	for line := 2; ; line++ {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(ErrProviderError, "line %d: %v", line, err)
		}
		if idIdx >= len(row) || viewsIdx >= len(row) {
			return nil, errors.Wrapf(ErrProviderError, "line %d: short row", line)
		}
		id := strings.TrimSpace(row[idIdx])
		if !validID(id) {
			continue
		}
		views, err := strconv.ParseInt(strings.TrimSpace(row[viewsIdx]), 10, 64)
		if err != nil {
			return nil, errors.Wrapf(ErrProviderError, "line %d: views: %v", line, err)
		}
		entries = append(entries, model.PopularityEntry{ItemID: id, Views: views})
		if limit > 0 && len(entries) == limit {
			break
		}
	}
	return entries, nil
}
