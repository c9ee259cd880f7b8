package telemetry

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// ExportFormat selects the serialization used by MetricsCollector.Export.
type ExportFormat string

const (
	FormatJSON          ExportFormat = "json"
	FormatCSV           ExportFormat = "csv"
	FormatPrometheus    ExportFormat = "prometheus"
	FormatOpenTelemetry ExportFormat = "opentelemetry"
)

// TrendInterval buckets a performance trend series.
type TrendInterval string

const (
	IntervalMinute TrendInterval = "minute"
	IntervalHour   TrendInterval = "hour"
	IntervalDay    TrendInterval = "day"
	IntervalWeek   TrendInterval = "week"
	IntervalMonth  TrendInterval = "month"
)

func (i TrendInterval) duration() time.Duration {
	switch i {
	case IntervalMinute:
		return time.Minute
	case IntervalHour:
		return time.Hour
	case IntervalDay:
		return 24 * time.Hour
	case IntervalWeek:
		return 7 * 24 * time.Hour
	case IntervalMonth:
		return 30 * 24 * time.Hour
	default:
		return time.Hour
	}
}

// TimeRange bounds a metrics query. A zero value means unbounded.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

func (r TimeRange) contains(t time.Time) bool {
	if !r.Start.IsZero() && t.Before(r.Start) {
		return false
	}
	if !r.End.IsZero() && t.After(r.End) {
		return false
	}
	return true
}

// ExecutionRecord is one completed tool invocation, as reported by the
// Chain Engine to RecordExecution.
type ExecutionRecord struct {
	ToolID     string
	UserID     string
	Success    bool
	DurationMs float64
	ErrorCode  string
	Timestamp  time.Time
}

// toolRing is the bounded per-tool history the collector keeps executions in.
type toolRing struct {
	mu            sync.RWMutex
	executions    []ExecutionRecord
	cacheHits     int64
	cacheMisses   int64
	timeSavedMs   float64
}

func (r *toolRing) append(rec ExecutionRecord, maxPerTool int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executions = append(r.executions, rec)
	if over := len(r.executions) - maxPerTool; over > 0 {
		r.executions = r.executions[over:]
	}
}

// ToolMetrics is the aggregate returned by GetToolMetrics.
type ToolMetrics struct {
	ToolID           string             `json:"tool_id"`
	TotalExecutions  int                `json:"total_executions"`
	SuccessCount     int                `json:"success_count"`
	FailureCount     int                `json:"failure_count"`
	SuccessRate      float64            `json:"success_rate"`
	P50DurationMs    float64            `json:"p50_duration_ms"`
	P90DurationMs    float64            `json:"p90_duration_ms"`
	P99DurationMs    float64            `json:"p99_duration_ms"`
	CacheHitRate     float64            `json:"cache_hit_rate"`
	AvgTimeSavedMs   float64            `json:"avg_time_saved_ms"`
	ErrorDistribution map[string]int    `json:"error_distribution,omitempty"`
}

// SystemMetrics is the system-wide rollup returned by GetSystemMetrics.
type SystemMetrics struct {
	TotalExecutions  int            `json:"total_executions"`
	UniqueTools      int            `json:"unique_tools"`
	UniqueUsers      int            `json:"unique_users"`
	OverallHitRate   float64        `json:"overall_cache_hit_rate"`
	MostUsed         []ToolCount    `json:"most_used,omitempty"`
	Slowest          []ToolDuration `json:"slowest,omitempty"`
	LeastReliable    []ToolRate     `json:"least_reliable,omitempty"`
	PeakUsageByHour  map[int]int    `json:"peak_usage_by_hour,omitempty"`
}

// ToolCount pairs a tool with an execution count, used for top-K rollups.
type ToolCount struct {
	ToolID string `json:"tool_id"`
	Count  int    `json:"count"`
}

// ToolDuration pairs a tool with an average duration.
type ToolDuration struct {
	ToolID        string  `json:"tool_id"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
}

// ToolRate pairs a tool with a failure rate.
type ToolRate struct {
	ToolID      string  `json:"tool_id"`
	FailureRate float64 `json:"failure_rate"`
}

// TrendPoint is one bucket of a performance trend series.
type TrendPoint struct {
	BucketStart  time.Time `json:"bucket_start"`
	Count        int       `json:"count"`
	AvgDurationMs float64  `json:"avg_duration_ms"`
	SuccessRate  float64   `json:"success_rate"`
}

const defaultMaxMetricsPerTool = 10000
const topK = 5

// MetricsCollector aggregates per-execution metrics and computes
// percentiles, trends, and system-wide rollups. Collection is in-memory;
// an optional file sink mirrors each raw event as JSON lines.
type MetricsCollector struct {
	mu              sync.RWMutex
	byTool          map[string]*toolRing
	users           map[string]struct{}
	maxMetricsPerTool int

	sink     io.Writer
	sinkFile *os.File
}

// NewMetricsCollector creates a collector with the given per-tool ring size.
// A maxMetricsPerTool <= 0 uses the default.
func NewMetricsCollector(maxMetricsPerTool int) *MetricsCollector {
	if maxMetricsPerTool <= 0 {
		maxMetricsPerTool = defaultMaxMetricsPerTool
	}
	return &MetricsCollector{
		byTool:            make(map[string]*toolRing),
		users:             make(map[string]struct{}),
		maxMetricsPerTool: maxMetricsPerTool,
	}
}

// WithSink attaches a file sink; every recorded execution is appended as a
// JSON line, mirroring the pack telemetry persistence pattern.
func (c *MetricsCollector) WithSink(path string) (*MetricsCollector, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating metrics directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening metrics file: %w", err)
	}
	c.mu.Lock()
	c.sink = f
	c.sinkFile = f
	c.mu.Unlock()
	return c, nil
}

// CloseSink closes the file sink if open.
func (c *MetricsCollector) CloseSink() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sinkFile != nil {
		return c.sinkFile.Close()
	}
	return nil
}

func (c *MetricsCollector) ringFor(toolID string) *toolRing {
	c.mu.RLock()
	r, ok := c.byTool[toolID]
	c.mu.RUnlock()
	if ok {
		return r
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.byTool[toolID]; ok {
		return r
	}
	r = &toolRing{}
	c.byTool[toolID] = r
	return r
}

// RecordExecution appends a completed execution to the tool's bounded ring.
func (c *MetricsCollector) RecordExecution(rec ExecutionRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	c.ringFor(rec.ToolID).append(rec, c.maxMetricsPerTool)

	if rec.UserID != "" {
		c.mu.Lock()
		c.users[rec.UserID] = struct{}{}
		c.mu.Unlock()
	}

	c.mu.RLock()
	sink := c.sink
	c.mu.RUnlock()
	if sink != nil {
		data, _ := json.Marshal(rec)
		c.mu.Lock()
		fmt.Fprintln(sink, string(data))
		c.mu.Unlock()
	}
}

// RecordCacheHit notes a cache hit for toolID and the time saved by it.
func (c *MetricsCollector) RecordCacheHit(toolID string, timeSavedMs float64) {
	r := c.ringFor(toolID)
	r.mu.Lock()
	r.cacheHits++
	r.timeSavedMs += timeSavedMs
	r.mu.Unlock()
}

// RecordCacheMiss notes a cache miss for toolID.
func (c *MetricsCollector) RecordCacheMiss(toolID string) {
	r := c.ringFor(toolID)
	r.mu.Lock()
	r.cacheMisses++
	r.mu.Unlock()
}

// GetToolMetrics computes the aggregate for one tool, optionally bounded to
// a time range. Percentiles are exact (sorted) over the selected executions.
func (c *MetricsCollector) GetToolMetrics(toolID string, rng TimeRange) ToolMetrics {
	r := c.ringFor(toolID)
	r.mu.RLock()
	execs := make([]ExecutionRecord, 0, len(r.executions))
	for _, e := range r.executions {
		if rng.contains(e.Timestamp) {
			execs = append(execs, e)
		}
	}
	hits, misses, saved := r.cacheHits, r.cacheMisses, r.timeSavedMs
	r.mu.RUnlock()

	m := ToolMetrics{ToolID: toolID, ErrorDistribution: make(map[string]int)}
	m.TotalExecutions = len(execs)
	if m.TotalExecutions == 0 {
		return m
	}

	durations := make([]float64, len(execs))
	for i, e := range execs {
		durations[i] = e.DurationMs
		if e.Success {
			m.SuccessCount++
		} else {
			m.FailureCount++
			if e.ErrorCode != "" {
				m.ErrorDistribution[e.ErrorCode]++
			}
		}
	}
	m.SuccessRate = float64(m.SuccessCount) / float64(m.TotalExecutions)

	sort.Float64s(durations)
	m.P50DurationMs = percentile(durations, 0.50)
	m.P90DurationMs = percentile(durations, 0.90)
	m.P99DurationMs = percentile(durations, 0.99)

	total := hits + misses
	if total > 0 {
		m.CacheHitRate = float64(hits) / float64(total)
	}
	if hits > 0 {
		m.AvgTimeSavedMs = saved / float64(hits)
	}
	return m
}

// percentile returns the p-th percentile (0..1) of a sorted slice using
// linear interpolation between the two closest ranks.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}
	idx := p * float64(len(sorted)-1)
	lo := int(idx)
	hi := lo + 1
	if hi >= len(sorted) {
		return sorted[lo]
	}
	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// GetSystemMetrics computes the system-wide rollup across all tools.
func (c *MetricsCollector) GetSystemMetrics(rng TimeRange) SystemMetrics {
	c.mu.RLock()
	toolIDs := make([]string, 0, len(c.byTool))
	for id := range c.byTool {
		toolIDs = append(toolIDs, id)
	}
	uniqueUsers := len(c.users)
	c.mu.RUnlock()

	sys := SystemMetrics{UniqueUsers: uniqueUsers, PeakUsageByHour: make(map[int]int)}

	var totalHits, totalMisses int64
	counts := make([]ToolCount, 0, len(toolIDs))
	durations := make([]ToolDuration, 0, len(toolIDs))
	rates := make([]ToolRate, 0, len(toolIDs))

	for _, id := range toolIDs {
		r := c.ringFor(id)
		r.mu.RLock()
		var n, fail int
		var durSum float64
		for _, e := range r.executions {
			if !rng.contains(e.Timestamp) {
				continue
			}
			n++
			durSum += e.DurationMs
			if !e.Success {
				fail++
			}
			sys.PeakUsageByHour[e.Timestamp.Hour()]++
		}
		totalHits += r.cacheHits
		totalMisses += r.cacheMisses
		r.mu.RUnlock()

		if n == 0 {
			continue
		}
		sys.TotalExecutions += n
		counts = append(counts, ToolCount{ToolID: id, Count: n})
		durations = append(durations, ToolDuration{ToolID: id, AvgDurationMs: durSum / float64(n)})
		rates = append(rates, ToolRate{ToolID: id, FailureRate: float64(fail) / float64(n)})
	}
	sys.UniqueTools = len(counts)

	sort.Slice(counts, func(i, j int) bool { return counts[i].Count > counts[j].Count })
	sort.Slice(durations, func(i, j int) bool { return durations[i].AvgDurationMs > durations[j].AvgDurationMs })
	sort.Slice(rates, func(i, j int) bool { return rates[i].FailureRate > rates[j].FailureRate })

	sys.MostUsed = topN(counts, topK)
	sys.Slowest = topND(durations, topK)
	sys.LeastReliable = topNR(rates, topK)

	if total := totalHits + totalMisses; total > 0 {
		sys.OverallHitRate = float64(totalHits) / float64(total)
	}
	return sys
}

func topN(s []ToolCount, k int) []ToolCount {
	if len(s) > k {
		return s[:k]
	}
	return s
}
func topND(s []ToolDuration, k int) []ToolDuration {
	if len(s) > k {
		return s[:k]
	}
	return s
}
func topNR(s []ToolRate, k int) []ToolRate {
	if len(s) > k {
		return s[:k]
	}
	return s
}

// GetPerformanceTrends buckets executions into a time series. toolID empty
// means across all tools.
func (c *MetricsCollector) GetPerformanceTrends(toolID string, interval TrendInterval, rng TimeRange) []TrendPoint {
	bucketDur := interval.duration()

	c.mu.RLock()
	var ids []string
	if toolID != "" {
		ids = []string{toolID}
	} else {
		for id := range c.byTool {
			ids = append(ids, id)
		}
	}
	c.mu.RUnlock()

	buckets := make(map[int64]*TrendPoint)
	for _, id := range ids {
		r := c.ringFor(id)
		r.mu.RLock()
		for _, e := range r.executions {
			if !rng.contains(e.Timestamp) {
				continue
			}
			key := e.Timestamp.Unix() / int64(bucketDur.Seconds())
			b, ok := buckets[key]
			if !ok {
				b = &TrendPoint{BucketStart: time.Unix(key*int64(bucketDur.Seconds()), 0).UTC()}
				buckets[key] = b
			}
			prevAvg := b.AvgDurationMs
			b.Count++
			b.AvgDurationMs = prevAvg + (e.DurationMs-prevAvg)/float64(b.Count)
			if e.Success {
				b.SuccessRate = b.SuccessRate + (1-b.SuccessRate)/float64(b.Count)
			} else {
				b.SuccessRate = b.SuccessRate + (0-b.SuccessRate)/float64(b.Count)
			}
		}
		r.mu.RUnlock()
	}

	points := make([]TrendPoint, 0, len(buckets))
	for _, b := range buckets {
		points = append(points, *b)
	}
	sort.Slice(points, func(i, j int) bool { return points[i].BucketStart.Before(points[j].BucketStart) })
	return points
}

// ClearOldMetrics drops executions older than the cutoff and returns the
// number of records removed.
func (c *MetricsCollector) ClearOldMetrics(olderThan time.Time) int {
	c.mu.RLock()
	rings := make([]*toolRing, 0, len(c.byTool))
	for _, r := range c.byTool {
		rings = append(rings, r)
	}
	c.mu.RUnlock()

	removed := 0
	for _, r := range rings {
		r.mu.Lock()
		kept := r.executions[:0]
		for _, e := range r.executions {
			if e.Timestamp.Before(olderThan) {
				removed++
				continue
			}
			kept = append(kept, e)
		}
		r.executions = kept
		r.mu.Unlock()
	}
	return removed
}

// Export renders all current tool metrics in the requested format.
func (c *MetricsCollector) Export(format ExportFormat, rng TimeRange) (string, error) {
	c.mu.RLock()
	ids := make([]string, 0, len(c.byTool))
	for id := range c.byTool {
		ids = append(ids, id)
	}
	c.mu.RUnlock()
	sort.Strings(ids)

	all := make([]ToolMetrics, 0, len(ids))
	for _, id := range ids {
		all = append(all, c.GetToolMetrics(id, rng))
	}

	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(all, "", "  ")
		return string(data), err
	case FormatCSV:
		return exportCSV(all), nil
	case FormatPrometheus:
		return exportPrometheus(all), nil
	case FormatOpenTelemetry:
		return exportOTel(all)
	default:
		return "", fmt.Errorf("unsupported export format: %s", format)
	}
}

func exportCSV(all []ToolMetrics) string {
	var b strings.Builder
	b.WriteString("tool_id,total_executions,success_rate,p50_ms,p90_ms,p99_ms,cache_hit_rate\n")
	for _, m := range all {
		fmt.Fprintf(&b, "%s,%d,%.4f,%.2f,%.2f,%.2f,%.4f\n",
			m.ToolID, m.TotalExecutions, m.SuccessRate, m.P50DurationMs, m.P90DurationMs, m.P99DurationMs, m.CacheHitRate)
	}
	return b.String()
}

func exportPrometheus(all []ToolMetrics) string {
	var b strings.Builder
	b.WriteString("# HELP toolrun_tool_executions_total Total executions per tool\n")
	b.WriteString("# TYPE toolrun_tool_executions_total counter\n")
	for _, m := range all {
		fmt.Fprintf(&b, "toolrun_tool_executions_total{tool_id=%q} %d\n", m.ToolID, m.TotalExecutions)
	}
	b.WriteString("# HELP toolrun_tool_duration_ms Execution duration percentiles per tool\n")
	b.WriteString("# TYPE toolrun_tool_duration_ms summary\n")
	for _, m := range all {
		fmt.Fprintf(&b, "toolrun_tool_duration_ms{tool_id=%q,quantile=\"0.5\"} %.4f\n", m.ToolID, m.P50DurationMs)
		fmt.Fprintf(&b, "toolrun_tool_duration_ms{tool_id=%q,quantile=\"0.9\"} %.4f\n", m.ToolID, m.P90DurationMs)
		fmt.Fprintf(&b, "toolrun_tool_duration_ms{tool_id=%q,quantile=\"0.99\"} %.4f\n", m.ToolID, m.P99DurationMs)
	}
	return b.String()
}

// otelDataPoint and otelMetric mirror the minimal subset of the OTLP metrics JSON model needed
// to round-trip gauge-style points without depending on the full protobuf SDK.
type otelDataPoint struct {
	Attributes []map[string]string `json:"attributes"`
	AsDouble   float64             `json:"asDouble"`
}

type otelMetric struct {
	Name string          `json:"name"`
	Gauge struct {
		DataPoints []otelDataPoint `json:"dataPoints"`
	} `json:"gauge"`
}

func exportOTel(all []ToolMetrics) (string, error) {
	metric := otelMetric{Name: "toolrun.tool.p99_duration_ms"}
	for _, m := range all {
		metric.Gauge.DataPoints = append(metric.Gauge.DataPoints, otelDataPoint{
			Attributes: []map[string]string{{"tool_id": m.ToolID}},
			AsDouble:   m.P99DurationMs,
		})
	}
	data, err := json.MarshalIndent(map[string]any{
		"resourceMetrics": []map[string]any{
			{"scopeMetrics": []map[string]any{{"metrics": []otelMetric{metric}}}},
		},
	}, "", "  ")
	return string(data), err
}

// defaultCollector is the process-wide collector, initialized lazily.
var defaultCollector *MetricsCollector
var collectorInitOnce sync.Once

func initDefaultCollector() {
	defaultCollector = NewMetricsCollector(0)
	if path := os.Getenv("TOOLRUN_METRICS_PATH"); path != "" {
		_, _ = defaultCollector.WithSink(path)
	}
}

// DefaultCollector returns the process-wide metrics collector.
func DefaultCollector() *MetricsCollector {
	collectorInitOnce.Do(initDefaultCollector)
	return defaultCollector
}
