package metrics

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/luca-patrignani/zbcoll/zbcoll"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakeSource struct {
	addr     zbcoll.Addr
	counters zbcoll.Counters
	groups   int
}

func (f fakeSource) LocalAddr() zbcoll.Addr    { return f.addr }
func (f fakeSource) Counters() zbcoll.Counters { return f.counters }
func (f fakeSource) GroupsInUse() int          { return f.groups }

func TestCollector(t *testing.T) {
	c := NewCollector(fakeSource{
		addr:     "a",
		counters: zbcoll.Counters{Discarded: 1, Errored: 2, Acked: 30, Received: 29},
		groups:   3,
	})
	if n := testutil.CollectAndCount(c); n != 5 {
		t.Fatalf("%d metrics, want 5", n)
	}
	c.Add(fakeSource{addr: "b"})
	if n := testutil.CollectAndCount(c, "zbcoll_groups_in_use"); n != 2 {
		t.Fatalf("%d group gauges, want 2", n)
	}

	expected := `
# HELP zbcoll_packets_total Zero-buffer packets by outcome.
# TYPE zbcoll_packets_total counter
zbcoll_packets_total{endpoint="a",outcome="acked"} 30
zbcoll_packets_total{endpoint="a",outcome="discarded"} 1
zbcoll_packets_total{endpoint="a",outcome="errored"} 2
zbcoll_packets_total{endpoint="a",outcome="received"} 29
zbcoll_packets_total{endpoint="b",outcome="acked"} 0
zbcoll_packets_total{endpoint="b",outcome="discarded"} 0
zbcoll_packets_total{endpoint="b",outcome="errored"} 0
zbcoll_packets_total{endpoint="b",outcome="received"} 0
`
	if err := testutil.CollectAndCompare(c, strings.NewReader(expected), "zbcoll_packets_total"); err != nil {
		t.Fatal(err)
	}
}

func TestRegister(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	c := NewCollector()
	if err := Register(reg, c); err != nil {
		t.Fatal(err)
	}
	if err := Register(reg, c); err == nil {
		t.Fatal("expected an error registering twice")
	}
	ObserveOperation("a", "barrier", time.Millisecond, nil)
	ObserveOperation("a", "barrier", time.Second, errors.New("failed"))
	if n := testutil.CollectAndCount(operationDuration); n != 2 {
		t.Fatalf("%d histogram series, want 2", n)
	}
}
