// Package metrics exports collective endpoint state to Prometheus.
package metrics

import (
	"sync"
	"time"

	"github.com/luca-patrignani/zbcoll/zbcoll"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "zbcoll"

// Source is the endpoint state the collector reads. *zbcoll.Endpoint
// implements it; both methods are safe to call from the scrape goroutine.
type Source interface {
	LocalAddr() zbcoll.Addr
	Counters() zbcoll.Counters
	GroupsInUse() int
}

var (
	packetsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "packets_total"),
		"Zero-buffer packets by outcome.",
		[]string{"endpoint", "outcome"}, nil,
	)
	groupsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "groups_in_use"),
		"Group ids currently held by the endpoint.",
		[]string{"endpoint"}, nil,
	)

	operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "operation",
			Name:      "duration_seconds",
			Help:      "Time from issue to completion of collective operations.",
			Buckets:   prometheus.ExponentialBuckets(50e-6, 4, 10),
		},
		[]string{"endpoint", "op", "success"},
	)
)

// Collector reports the counters of every added endpoint at scrape time.
type Collector struct {
	mu      sync.Mutex
	sources []Source
}

func NewCollector(sources ...Source) *Collector {
	return &Collector{sources: sources}
}

// Add starts reporting s.
func (c *Collector) Add(s Source) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sources = append(c.sources, s)
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- packetsDesc
	ch <- groupsDesc
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.Lock()
	sources := append([]Source(nil), c.sources...)
	c.mu.Unlock()
	for _, s := range sources {
		ep := string(s.LocalAddr())
		cnt := s.Counters()
		for _, v := range []struct {
			outcome string
			value   uint64
		}{
			{"discarded", cnt.Discarded},
			{"errored", cnt.Errored},
			{"acked", cnt.Acked},
			{"received", cnt.Received},
		} {
			ch <- prometheus.MustNewConstMetric(packetsDesc, prometheus.CounterValue, float64(v.value), ep, v.outcome)
		}
		ch <- prometheus.MustNewConstMetric(groupsDesc, prometheus.GaugeValue, float64(s.GroupsInUse()), ep)
	}
}

// Register adds c and the operation histogram to reg.
func Register(reg prometheus.Registerer, c *Collector) error {
	if err := reg.Register(c); err != nil {
		return err
	}
	return reg.Register(operationDuration)
}

// ObserveOperation records the duration of one completed operation.
func ObserveOperation(endpoint zbcoll.Addr, op string, d time.Duration, err error) {
	success := "true"
	if err != nil {
		success = "false"
	}
	operationDuration.WithLabelValues(string(endpoint), op, success).Observe(d.Seconds())
}
