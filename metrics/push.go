package metrics

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/golang/protobuf/proto"
	"github.com/golang/snappy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/prometheus/prompb"
)

// DefaultTimeout bounds a single remote write request.
const DefaultTimeout = 30 * time.Second

// PushConfig configures a PushRegistry.
type PushConfig struct {
	// URL is the base URL of the remote write endpoint; /api/v1/write is appended.
	URL string `yaml:"url"`
	// Prefix is prepended to every metric name, followed by an underscore.
	Prefix string `yaml:"prefix"`
	// Job and Instance become labels on every series.
	Job      string `yaml:"job"`
	Instance string `yaml:"instance"`
	// Timeout defaults to DefaultTimeout.
	Timeout time.Duration `yaml:"timeout"`
}

// PushRegistry keeps the latest value of every series in memory until Push
// sends them all in one remote write request.
type PushRegistry struct {
	url      string
	client   *http.Client
	prefix   string
	job      string
	instance string
	now      func() time.Time

	mu     sync.Mutex
	series map[string]*series
}

type series struct {
	name   string
	labels prometheus.Labels
	value  float64
}

// NewPushRegistry creates a registry that pushes to cfg.URL.
func NewPushRegistry(cfg PushConfig) *PushRegistry {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &PushRegistry{
		url:      strings.TrimSuffix(cfg.URL, "/") + "/api/v1/write",
		client:   &http.Client{Timeout: timeout},
		prefix:   cfg.Prefix,
		job:      cfg.Job,
		instance: cfg.Instance,
		now:      time.Now,
		series:   make(map[string]*series),
	}
}

func (r *PushRegistry) NewGauge(opts prometheus.GaugeOpts) (Gauge, error) {
	return &pushMetric{reg: r, name: r.fqName(opts.Namespace, opts.Subsystem, opts.Name)}, nil
}

func (r *PushRegistry) NewGaugeVec(opts prometheus.GaugeOpts, labels []string) (GaugeVec, error) {
	return gaugeVec{&pushVec{reg: r, name: r.fqName(opts.Namespace, opts.Subsystem, opts.Name), labels: labels}}, nil
}

func (r *PushRegistry) NewCounter(opts prometheus.CounterOpts) (Counter, error) {
	return &pushMetric{reg: r, name: r.fqName(opts.Namespace, opts.Subsystem, opts.Name)}, nil
}

func (r *PushRegistry) NewCounterVec(opts prometheus.CounterOpts, labels []string) (CounterVec, error) {
	return &pushVec{reg: r, name: r.fqName(opts.Namespace, opts.Subsystem, opts.Name), labels: labels}, nil
}

func (r *PushRegistry) fqName(namespace, subsystem, name string) string {
	name = prometheus.BuildFQName(namespace, subsystem, name)
	if r.prefix != "" {
		name = r.prefix + "_" + name
	}
	return name
}

// update applies fn to the stored value of the series.
func (r *PushRegistry) update(name string, labels prometheus.Labels, fn func(float64) float64) {
	key := seriesKey(name, labels)

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.series[key]
	if !ok {
		s = &series{name: name, labels: labels}
		r.series[key] = s
	}
	s.value = fn(s.value)
}

// Len returns the number of buffered series.
func (r *PushRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.series)
}

// Push sends every buffered series, stamped with the current time. Nothing
// is sent when no metric has been updated.
func (r *PushRegistry) Push(ctx context.Context) error {
	req := r.writeRequest()
	if len(req.Timeseries) == 0 {
		return nil
	}

	data, err := proto.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshaling write request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(snappy.Encode(nil, data)))
	if err != nil {
		return fmt.Errorf("creating HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Encoding", "snappy")
	httpReq.Header.Set("Content-Type", "application/x-protobuf")
	httpReq.Header.Set("X-Prometheus-Remote-Write-Version", "0.1.0")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

func (r *PushRegistry) writeRequest() *prompb.WriteRequest {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := make([]string, 0, len(r.series))
	for k := range r.series {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	ts := r.now().UnixMilli()
	req := &prompb.WriteRequest{Timeseries: make([]prompb.TimeSeries, 0, len(keys))}
	for _, k := range keys {
		s := r.series[k]
		req.Timeseries = append(req.Timeseries, prompb.TimeSeries{
			Labels:  r.labels(s),
			Samples: []prompb.Sample{{Value: s.value, Timestamp: ts}},
		})
	}
	return req
}

// labels returns the series labels sorted by name, as remote write expects.
func (r *PushRegistry) labels(s *series) []prompb.Label {
	out := make([]prompb.Label, 0, len(s.labels)+3)
	out = append(out, prompb.Label{Name: "__name__", Value: s.name})
	if r.job != "" {
		out = append(out, prompb.Label{Name: "job", Value: r.job})
	}
	if r.instance != "" {
		out = append(out, prompb.Label{Name: "instance", Value: r.instance})
	}
	for k, v := range s.labels {
		out = append(out, prompb.Label{Name: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func seriesKey(name string, labels prometheus.Labels) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var b strings.Builder
	b.WriteString(name)
	for _, k := range keys {
		b.WriteString("," + k + "=" + labels[k])
	}
	return b.String()
}

// pushMetric serves as both Gauge and Counter.
type pushMetric struct {
	reg    *PushRegistry
	name   string
	labels prometheus.Labels
}

func (m *pushMetric) Set(v float64) {
	m.reg.update(m.name, m.labels, func(float64) float64 { return v })
}

func (m *pushMetric) Inc() {
	m.Add(1)
}

func (m *pushMetric) Add(v float64) {
	if v < 0 {
		panic("metrics: counter cannot decrease")
	}
	m.reg.update(m.name, m.labels, func(old float64) float64 { return old + v })
}

type pushVec struct {
	reg    *PushRegistry
	name   string
	labels []string
}

func (v *pushVec) with(labels prometheus.Labels) *pushMetric {
	return &pushMetric{reg: v.reg, name: v.name, labels: labels}
}

func (v *pushVec) With(labels prometheus.Labels) Counter {
	return v.with(labels)
}

// gaugeVec gives pushVec a With that returns Gauge.
type gaugeVec struct{ *pushVec }

func (v gaugeVec) With(labels prometheus.Labels) Gauge {
	return v.with(labels)
}
