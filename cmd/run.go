package main

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/luca-patrignani/zbcoll/loopback"
	"github.com/luca-patrignani/zbcoll/metrics"
	"github.com/luca-patrignani/zbcoll/network"
	"github.com/luca-patrignani/zbcoll/zbcoll"
	"github.com/pkg/errors"
)

// result summarizes the repetitions of one collective.
type result struct {
	Op    string
	Reps  int
	Total time.Duration
	// Value is the last value left in the first data slot.
	Value uint64
}

// report is what a run prints.
type report struct {
	Title    string
	GroupID  int
	Results  []result
	Counters zbcoll.Counters
}

// rankValue is the reduce contribution of rank.
func rankValue(rank int) uint64 {
	return uint64(rank + 1)
}

// expectedReduce folds the contributions of n ranks.
func expectedReduce(comb zbcoll.Combinator, n int) uint64 {
	acc := rankValue(0)
	for r := 1; r < n; r++ {
		acc = comb(acc, rankValue(r))
	}
	return acc
}

// drive runs getgroup once and then every collective sc.Reps times on obj,
// checking broadcast and reduce results.
func drive(ctx context.Context, ep *zbcoll.Endpoint, obj *zbcoll.Object, sc scenario) (int, []result, error) {
	ctx, cancel := context.WithTimeout(ctx, sc.Timeout)
	defer cancel()

	comb := zbcoll.Combinators[sc.Combinator]
	obj.SetCombinator(comb)
	ranks := []int{obj.Rank()}
	if obj.Rank() < 0 {
		ranks = make([]int, obj.Count())
		for i := range ranks {
			ranks[i] = i
		}
	}
	data := make([]uint64, len(ranks))

	run := func(op string, start func() error) (time.Duration, error) {
		if sc.Shuffle {
			obj.Shuffle(nil)
		}
		t0 := time.Now()
		if err := start(); err != nil {
			return 0, errors.Wrap(err, op)
		}
		err := zbcoll.AwaitIdle(ctx, ep, obj)
		d := time.Since(t0)
		metrics.ObserveOperation(ep.LocalAddr(), op, d, err)
		return d, errors.Wrap(err, op)
	}

	d, err := run("getgroup", obj.GetGroup)
	if err != nil {
		return 0, nil, err
	}
	grpid, _ := obj.GroupID()
	results := []result{{Op: "getgroup", Reps: 1, Total: d, Value: uint64(grpid)}}

	ops := []struct {
		name  string
		fill  func(rank int) uint64
		start func() error
		check func() error
	}{
		{
			name:  "barrier",
			start: obj.Barrier,
		},
		{
			name:  "broadcast",
			fill:  func(rank int) uint64 { return uint64(1000 + rank) },
			start: func() error { return obj.Broadcast(data) },
			check: func() error {
				for i, v := range data {
					if v != 1000 {
						return errors.Errorf("broadcast: rank %d holds %d, want 1000", ranks[i], v)
					}
				}
				return nil
			},
		},
		{
			name:  "reduce",
			fill:  rankValue,
			start: func() error { return obj.Reduce(data) },
			check: func() error {
				exp := expectedReduce(comb, obj.Count())
				for i, v := range data {
					if v != exp {
						return errors.Errorf("reduce %s: rank %d holds %d, want %d", sc.Combinator, ranks[i], v, exp)
					}
				}
				return nil
			},
		},
	}
	for _, op := range ops {
		res := result{Op: op.name}
		for range sc.Reps {
			if op.fill != nil {
				for i, r := range ranks {
					data[i] = op.fill(r)
				}
			}
			d, err := run(op.name, op.start)
			if err != nil {
				return grpid, results, err
			}
			if op.check != nil {
				if err := op.check(); err != nil {
					return grpid, results, err
				}
			}
			res.Reps++
			res.Total += d
		}
		res.Value = data[0]
		results = append(results, res)
	}
	return grpid, results, nil
}

// runSim simulates every rank on one loopback endpoint.
func runSim(ctx context.Context, sc scenario, logger *slog.Logger, collector *metrics.Collector) (report, error) {
	fabric := loopback.NewFabric()
	ep := zbcoll.NewEndpoint(fabric.Attach(), zbcoll.WithRadix(sc.Radix), zbcoll.WithLogger(logger))
	if collector != nil {
		collector.Add(ep)
	}
	obj, err := ep.AllocSim(sc.Ranks)
	if err != nil {
		return report{}, err
	}
	defer obj.Free()
	grpid, results, err := drive(ctx, ep, obj, sc)
	return report{
		Title:    fmt.Sprintf("simulated group of %d ranks", sc.Ranks),
		GroupID:  grpid,
		Results:  results,
		Counters: ep.Counters(),
	}, err
}

// runNet runs every rank as its own HTTP peer inside this process.
func runNet(ctx context.Context, sc scenario, logger *slog.Logger, collector *metrics.Collector, opts ...network.PeerOption) (report, error) {
	n := sc.Ranks
	listeners, addresses := network.CreateListeners(n)
	type outcome struct {
		rank     int
		grpid    int
		results  []result
		counters zbcoll.Counters
		err      error
	}
	peerOpts := append(slices.Clone(opts), network.WithLogger(logger))
	done := make(chan outcome, n)
	for i := 0; i < n; i++ {
		go func() {
			peer := network.NewPeer(listeners[i], peerOpts...)
			defer peer.Close()
			ep := zbcoll.NewEndpoint(peer, zbcoll.WithRadix(sc.Radix), zbcoll.WithLogger(logger))
			if collector != nil {
				collector.Add(ep)
			}
			o := outcome{rank: i}
			obj, err := ep.Alloc(addresses)
			if err != nil {
				o.err = err
				done <- o
				return
			}
			defer obj.Free()
			o.grpid, o.results, o.err = drive(ctx, ep, obj, sc)
			if o.err == nil {
				// wait for the slowest rank before closing the peer
				o.err = finalBarrier(ctx, ep, obj, sc.Timeout)
			}
			o.counters = ep.Counters()
			done <- o
		}()
	}
	rep := report{Title: fmt.Sprintf("%d HTTP peers", n)}
	var firstErr error
	for range n {
		o := <-done
		if o.err != nil && firstErr == nil {
			firstErr = errors.Wrapf(o.err, "rank %d", o.rank)
		}
		if o.rank == 0 {
			rep.GroupID = o.grpid
			rep.Results = o.results
		}
		rep.Counters = addCounters(rep.Counters, o.counters)
	}
	return rep, firstErr
}

func finalBarrier(ctx context.Context, ep *zbcoll.Endpoint, obj *zbcoll.Object, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := obj.Barrier(); err != nil {
		return err
	}
	return zbcoll.AwaitIdle(ctx, ep, obj)
}

func addCounters(a, b zbcoll.Counters) zbcoll.Counters {
	return zbcoll.Counters{
		Discarded: a.Discarded + b.Discarded,
		Errored:   a.Errored + b.Errored,
		Acked:     a.Acked + b.Acked,
		Received:  a.Received + b.Received,
	}
}
