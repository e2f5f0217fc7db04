package metrics

import (
	"context"
	"maps"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

type otelInstruments struct {
	meter otelmetric.Meter

	int64CountersMtx sync.Mutex
	int64Counters    map[string]otelmetric.Int64Counter
	int64HistosMtx   sync.Mutex
	int64Histos      map[string]otelmetric.Int64Histogram
	int64GaugesMtx   sync.Mutex
	int64Gauges      map[string]*syncInt64Gauge
}

// otelHandler shares instruments with every handler derived through WithTags;
// only the default tags differ.
type otelHandler struct {
	*otelInstruments
	defaultTags map[string]string
}

func (h *otelHandler) attrs(tags map[string]string) attribute.Set {
	kvs := make([]attribute.KeyValue, 0, len(h.defaultTags)+len(tags))
	for k, v := range h.defaultTags {
		if _, ok := tags[k]; ok {
			continue
		}
		kvs = append(kvs, attribute.String(k, v))
	}
	for k, v := range tags {
		kvs = append(kvs, attribute.String(k, v))
	}
	return attribute.NewSet(kvs...)
}

type otelInt64Histogram struct {
	h    *otelHandler
	inst otelmetric.Int64Histogram
}

func (o *otelInt64Histogram) Record(ctx context.Context, value int64, tags map[string]string) {
	o.inst.Record(ctx, value, otelmetric.WithAttributeSet(o.h.attrs(tags)))
}

var _ Int64Histogram = (*otelInt64Histogram)(nil)

type otelInt64Counter struct {
	h    *otelHandler
	inst otelmetric.Int64Counter
}

func (o *otelInt64Counter) Add(ctx context.Context, value int64, tags map[string]string) {
	o.inst.Add(ctx, value, otelmetric.WithAttributeSet(o.h.attrs(tags)))
}

var _ Int64Counter = (*otelInt64Counter)(nil)

// syncInt64Gauge keeps the last observed value per attribute set and reports
// them from the meter callback.
type syncInt64Gauge struct {
	mtx    sync.Mutex
	values map[attribute.Distinct]gaugeValue
	gauge  otelmetric.Int64ObservableGauge
}

type gaugeValue struct {
	value int64
	attrs attribute.Set
}

func (s *syncInt64Gauge) observe(value int64, attrs attribute.Set) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.values[attrs.Equivalent()] = gaugeValue{value: value, attrs: attrs}
}

func (s *syncInt64Gauge) collect(observer otelmetric.Observer) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	for _, v := range s.values {
		observer.ObserveInt64(s.gauge, v.value, otelmetric.WithAttributeSet(v.attrs))
	}
}

type otelInt64Gauge struct {
	h *otelHandler
	g *syncInt64Gauge
}

func (o *otelInt64Gauge) Observe(_ context.Context, value int64, tags map[string]string) {
	o.g.observe(value, o.h.attrs(tags))
}

var _ Int64Gauge = (*otelInt64Gauge)(nil)

func newSyncInt64Gauge(meter otelmetric.Meter, name string, description string, unit Unit) *syncInt64Gauge {
	g, err := meter.Int64ObservableGauge(name, otelmetric.WithDescription(description), otelmetric.WithUnit(string(unit)))
	if err != nil {
		panic(err)
	}

	return &syncInt64Gauge{gauge: g, values: make(map[attribute.Distinct]gaugeValue)}
}

func (h *otelHandler) Int64Histogram(name string, description string, unit Unit) Int64Histogram {
	h.int64HistosMtx.Lock()
	defer h.int64HistosMtx.Unlock()

	name = strings.ToLower(name)

	c, ok := h.int64Histos[name]
	var err error
	if !ok {
		c, err = h.meter.Int64Histogram(name, otelmetric.WithDescription(description), otelmetric.WithUnit(string(unit)))
		if err != nil {
			panic(err)
		}
		h.int64Histos[name] = c
	}

	return &otelInt64Histogram{h: h, inst: c}
}

func (h *otelHandler) Int64Counter(name string, description string, unit Unit) Int64Counter {
	h.int64CountersMtx.Lock()
	defer h.int64CountersMtx.Unlock()

	name = strings.ToLower(name)

	c, ok := h.int64Counters[name]
	var err error
	if !ok {
		c, err = h.meter.Int64Counter(name, otelmetric.WithDescription(description), otelmetric.WithUnit(string(unit)))
		if err != nil {
			panic(err)
		}
		h.int64Counters[name] = c
	}

	return &otelInt64Counter{h: h, inst: c}
}

func (h *otelHandler) Int64Gauge(name string, description string, unit Unit) Int64Gauge {
	h.int64GaugesMtx.Lock()
	defer h.int64GaugesMtx.Unlock()

	name = strings.ToLower(name)

	if g, ok := h.int64Gauges[name]; ok {
		return &otelInt64Gauge{h: h, g: g}
	}

	newGauge := newSyncInt64Gauge(h.meter, name, description, unit)

	_, err := h.meter.RegisterCallback(func(ctx context.Context, observer otelmetric.Observer) error {
		newGauge.collect(observer)
		return nil
	}, newGauge.gauge)

	if err != nil {
		panic(err)
	}

	h.int64Gauges[name] = newGauge

	return &otelInt64Gauge{h: h, g: newGauge}
}

func (h *otelHandler) WithTags(tags map[string]string) Handler {
	merged := maps.Clone(h.defaultTags)
	if merged == nil {
		merged = make(map[string]string, len(tags))
	}
	maps.Copy(merged, tags)
	return &otelHandler{otelInstruments: h.otelInstruments, defaultTags: merged}
}

func NewOtelHandler(_ context.Context, provider otelmetric.MeterProvider, name string) Handler {
	return &otelHandler{
		otelInstruments: &otelInstruments{
			meter:         provider.Meter(name),
			int64Counters: make(map[string]otelmetric.Int64Counter),
			int64Histos:   make(map[string]otelmetric.Int64Histogram),
			int64Gauges:   make(map[string]*syncInt64Gauge),
		},
	}
}

var _ Handler = (*otelHandler)(nil)
