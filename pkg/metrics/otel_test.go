package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type OtelHandlerTestSuite struct {
	suite.Suite
	reader  *sdkmetric.ManualReader
	handler Handler
}

func (s *OtelHandlerTestSuite) SetupTest() {
	s.reader = sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(s.reader))
	s.handler = NewOtelHandler(context.Background(), provider, "test")
}

func (s *OtelHandlerTestSuite) collect(name string) metricdata.Metrics {
	var rm metricdata.ResourceMetrics
	s.Require().NoError(s.reader.Collect(context.Background(), &rm))
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m
			}
		}
	}
	s.FailNow("metric not collected", name)
	return metricdata.Metrics{}
}

func attr(set attribute.Set, key string) string {
	v, ok := set.Value(attribute.Key(key))
	if !ok {
		return ""
	}
	return v.AsString()
}

func (s *OtelHandlerTestSuite) TestCounter() {
	ctx := context.Background()
	c := s.handler.Int64Counter("Presence_Test_Counter", "counter", Dimensionless)
	c.Add(ctx, 2, map[string]string{"status": "online"})
	c.Add(ctx, 3, map[string]string{"status": "online"})
	c.Add(ctx, 1, nil)

	m := s.collect("presence_test_counter")
	s.Equal("1", m.Unit)

	sum, ok := m.Data.(metricdata.Sum[int64])
	s.Require().True(ok)
	s.Require().Len(sum.DataPoints, 2)

	byStatus := map[string]int64{}
	for _, dp := range sum.DataPoints {
		byStatus[attr(dp.Attributes, "status")] = dp.Value
	}
	s.Equal(map[string]int64{"online": 5, "": 1}, byStatus)
}

func (s *OtelHandlerTestSuite) TestHistogram() {
	ctx := context.Background()
	h := s.handler.Int64Histogram("presence_test_latency", "latency", Milliseconds)
	h.Record(ctx, 12, nil)
	h.Record(ctx, 30, nil)

	m := s.collect("presence_test_latency")
	s.Equal("ms", m.Unit)

	hist, ok := m.Data.(metricdata.Histogram[int64])
	s.Require().True(ok)
	s.Require().Len(hist.DataPoints, 1)
	s.Equal(uint64(2), hist.DataPoints[0].Count)
	s.Equal(int64(42), hist.DataPoints[0].Sum)
}

func (s *OtelHandlerTestSuite) TestGaugeKeepsLastValue() {
	ctx := context.Background()
	g := s.handler.Int64Gauge("presence_test_gauge", "gauge", Dimensionless)
	g.Observe(ctx, 3, nil)
	g.Observe(ctx, 5, nil)

	gauge, ok := s.collect("presence_test_gauge").Data.(metricdata.Gauge[int64])
	s.Require().True(ok)
	s.Require().Len(gauge.DataPoints, 1)
	s.Equal(int64(5), gauge.DataPoints[0].Value)

	// The same name returns the registered gauge.
	s.handler.Int64Gauge("presence_test_gauge", "gauge", Dimensionless).Observe(ctx, 8, nil)
	gauge = s.collect("presence_test_gauge").Data.(metricdata.Gauge[int64])
	s.Require().Len(gauge.DataPoints, 1)
	s.Equal(int64(8), gauge.DataPoints[0].Value)
}

func (s *OtelHandlerTestSuite) TestWithTags() {
	ctx := context.Background()
	tagged := s.handler.WithTags(map[string]string{"session_id": "abc", "source": "default"})
	tagged.Int64Counter("presence_test_tagged", "tagged", Dimensionless).Add(ctx, 1, map[string]string{"source": "call"})

	sum := s.collect("presence_test_tagged").Data.(metricdata.Sum[int64])
	s.Require().Len(sum.DataPoints, 1)
	dp := sum.DataPoints[0]
	s.Equal(2, dp.Attributes.Len())
	s.Equal("abc", attr(dp.Attributes, "session_id"))
	s.Equal("call", attr(dp.Attributes, "source"))
}

func (s *OtelHandlerTestSuite) TestInstrumentor() {
	ctx := context.Background()
	m := New(s.handler)
	m.RecordPollFailure(ctx, 40*time.Millisecond, "transport", true)
	m.RecordChange(ctx, "Offline", "InGame")

	failures := s.collect(pollFailureCounterName).Data.(metricdata.Sum[int64])
	s.Require().Len(failures.DataPoints, 1)
	s.Equal("transport", attr(failures.DataPoints[0].Attributes, "reason"))
	s.Equal("true", attr(failures.DataPoints[0].Attributes, "fatal"))

	changes := s.collect(changeCounterName).Data.(metricdata.Sum[int64])
	s.Require().Len(changes.DataPoints, 1)
	s.Equal("Offline", attr(changes.DataPoints[0].Attributes, "previous"))
	s.Equal("InGame", attr(changes.DataPoints[0].Attributes, "current"))
}

func TestOtelHandler(t *testing.T) {
	suite.Run(t, new(OtelHandlerTestSuite))
}
