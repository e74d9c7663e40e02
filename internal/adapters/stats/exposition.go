package stats

import (
	"bytes"
	"context"
	"sort"
	"strconv"

	"github.com/pkg/errors"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/okian/popstats/internal/domain/model"
	"github.com/okian/popstats/pkg/logger"
)

// Label names read from the exposition.
const (
	DefaultMetric = "item_views"
	ItemLabel     = "item_id"
	WindowLabel   = "window"
)

// ExpositionSource reads per item view counts from a Prometheus text exposition.
// Series carrying a window label must match "<days>d" for the requested lookback.
type ExpositionSource struct {
	httpSource
	metric string
}

// NewExpositionSource creates an exposition source reading family metric.
func NewExpositionSource(endpoint, metric string, opts ...Option) *ExpositionSource {
	if metric == "" {
		metric = DefaultMetric
	}
	accept := string(expfmt.NewFormat(expfmt.TypeTextPlain))
	return &ExpositionSource{
		httpSource: newHTTPSource(endpoint, append([]Option{withAccept(accept)}, opts...)...),
		metric:     metric,
	}
}

// Fetch implements Source.
func (s *ExpositionSource) Fetch(ctx context.Context, params model.FetchParams) ([]model.PopularityEntry, error) {
	body, err := s.get(ctx, params)
	if err != nil {
		return nil, err
	}

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrapf(ErrProviderError, "parse exposition: %v", err)
	}

	// An absent family means the provider has no data for the window.
	mf, ok := families[s.metric]
	if !ok {
		return []model.PopularityEntry{}, nil
	}

	window := strconv.Itoa(params.LookbackDays) + "d"
	entries := make([]model.PopularityEntry, 0, len(mf.GetMetric()))
	for _, m := range mf.GetMetric() {
		id, w, hasWindow := labels(m)
		if !validID(id) || (hasWindow && w != window) {
			continue
		}
		entries = append(entries, model.PopularityEntry{ItemID: id, Views: int64(value(m))})
	}

	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Views > entries[j].Views })
	if params.Limit > 0 && len(entries) > params.Limit {
		entries = entries[:params.Limit]
	}
	s.log.Debug(ctx, "exposition fetched",
		logger.String("metric", s.metric), logger.Int("entries", len(entries)))
	return entries, nil
}

func labels(m *dto.Metric) (id, window string, hasWindow bool) {
	for _, lp := range m.GetLabel() {
		switch lp.GetName() {
		case ItemLabel:
			id = lp.GetValue()
		case WindowLabel:
			window, hasWindow = lp.GetValue(), true
		}
	}
	return id, window, hasWindow
}

func value(m *dto.Metric) float64 {
	switch {
	case m.GetGauge() != nil:
		return m.GetGauge().GetValue()
	case m.GetCounter() != nil:
		return m.GetCounter().GetValue()
	case m.GetUntyped() != nil:
		return m.GetUntyped().GetValue()
	}
	return 0
}
