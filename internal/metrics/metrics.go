// Package metrics holds the Prometheus collectors for a navguard process.
//
// All methods are safe on a nil *Metrics so callers can leave metrics
// unwired in tests and one-shot commands.
package metrics

import (
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all navguard collectors.
type Metrics struct {
	Decisions    *prometheus.CounterVec
	Attempts     *prometheus.CounterVec
	Upgrades     prometheus.Counter
	PinVerdicts  *prometheus.CounterVec
	NetworkInUse prometheus.Gauge
	LoadDuration prometheus.Histogram
}

// New registers the collectors on reg. A nil reg uses a fresh registry so
// repeated construction in tests never collides.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		Decisions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "navguard_decisions_total",
				Help: "Navigation decisions by verdict and deciding stage",
			},
			[]string{"verdict", "stage"},
		),
		Attempts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "navguard_attempts_total",
				Help: "Load attempts by outcome",
			},
			[]string{"outcome"},
		),
		Upgrades: f.NewCounter(prometheus.CounterOpts{
			Name: "navguard_upgrades_total",
			Help: "Secure upgrades issued",
		}),
		PinVerdicts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "navguard_pin_verdicts_total",
				Help: "Certificate pin evaluations by verdict",
			},
			[]string{"verdict"},
		),
		NetworkInUse: f.NewGauge(prometheus.GaugeOpts{
			Name: "navguard_network_in_use",
			Help: "Requests currently on the network",
		}),
		LoadDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "navguard_load_duration_seconds",
			Help:    "Duration of network loads",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// Decision counts one navigation decision.
func (m *Metrics) Decision(verdict, stage string) {
	if m == nil {
		return
	}
	if stage == "" {
		stage = "none"
	}
	m.Decisions.WithLabelValues(verdict, stage).Inc()
}

// Attempt counts one attempt outcome.
func (m *Metrics) Attempt(outcome string) {
	if m == nil {
		return
	}
	m.Attempts.WithLabelValues(outcome).Inc()
}

// Upgrade counts one secure upgrade.
func (m *Metrics) Upgrade() {
	if m == nil {
		return
	}
	m.Upgrades.Inc()
}

// PinVerdict counts one pin evaluation.
func (m *Metrics) PinVerdict(verdict string) {
	if m == nil {
		return
	}
	m.PinVerdicts.WithLabelValues(verdict).Inc()
}

// NetworkStart marks a request as on the network and returns the function
// that ends it.
func (m *Metrics) NetworkStart() func() {
	if m == nil {
		return func() {}
	}
	start := time.Now()
	m.NetworkInUse.Inc()
	return func() {
		m.NetworkInUse.Dec()
		m.LoadDuration.Observe(time.Since(start).Seconds())
	}
}

// Sample is one flattened metric value.
type Sample struct {
	Name   string
	Labels map[string]string
	Value  float64
}

// Snapshot gathers g into a flat, name-sorted list. Histograms report their
// sample count.
func Snapshot(g prometheus.Gatherer) ([]Sample, error) {
	families, err := g.Gather()
	if err != nil {
		return nil, err
	}
	var out []Sample
	for _, fam := range families {
		for _, m := range fam.GetMetric() {
			s := Sample{Name: fam.GetName(), Labels: map[string]string{}}
			for _, lp := range m.GetLabel() {
				s.Labels[lp.GetName()] = lp.GetValue()
			}
			switch {
			case m.GetCounter() != nil:
				s.Value = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				s.Value = m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				s.Value = float64(m.GetHistogram().GetSampleCount())
			default:
				continue
			}
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
