package loopback_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/luca-patrignani/zbcoll/loopback"
	"github.com/luca-patrignani/zbcoll/zbcoll"
	"github.com/pkg/errors"
)

type delivery struct {
	Src  zbcoll.Addr
	Bits uint64
	Ack  bool
	Err  bool
}

type recorder struct {
	got []delivery
}

func (r *recorder) SendComplete(bits uint64, err error) {
	r.got = append(r.got, delivery{Bits: bits, Ack: err == nil, Err: err != nil})
}

func (r *recorder) Receive(src zbcoll.Addr, bits uint64) {
	r.got = append(r.got, delivery{Src: src, Bits: bits})
}

func TestSendDelivers(t *testing.T) {
	fabric := loopback.NewFabric()
	eps, addrs := fabric.AttachN(2)
	if addrs[0] == addrs[1] {
		t.Fatal("duplicate addresses")
	}
	if err := eps[0].Send(addrs[1], 42); err != nil {
		t.Fatal(err)
	}
	if eps[0].Pending() != 1 || eps[1].Pending() != 1 {
		t.Fatalf("pending = %d, %d", eps[0].Pending(), eps[1].Pending())
	}

	var a, b recorder
	eps[0].Progress(&a)
	eps[1].Progress(&b)
	if diff := cmp.Diff([]delivery{{Bits: 42, Ack: true}}, a.got); diff != "" {
		t.Fatalf("sender (-want, +got):\n%s", diff)
	}
	if diff := cmp.Diff([]delivery{{Src: addrs[0], Bits: 42}}, b.got); diff != "" {
		t.Fatalf("receiver (-want, +got):\n%s", diff)
	}
	if eps[0].Pending() != 0 || eps[1].Pending() != 0 {
		t.Fatal("events left after progress")
	}
}

func TestDetach(t *testing.T) {
	fabric := loopback.NewFabric()
	eps, addrs := fabric.AttachN(2)
	fabric.Detach(addrs[1])

	if err := eps[0].Send(addrs[1], 7); err != nil {
		t.Fatal(err)
	}
	var r recorder
	eps[0].Progress(&r)
	if diff := cmp.Diff([]delivery{{Bits: 7, Err: true}}, r.got); diff != "" {
		t.Fatalf("completion (-want, +got):\n%s", diff)
	}
	if err := eps[1].Send(addrs[0], 7); !errors.Is(err, zbcoll.ErrUnreachable) {
		t.Fatalf("send from detached endpoint: expected ErrUnreachable, got %v", err)
	}
}

func TestRealGroup(t *testing.T) {
	const n = 7
	fabric := loopback.NewFabric()
	tps, addrs := fabric.AttachN(n)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	fatal := make(chan error, n)
	for i := range n {
		go func() {
			fatal <- func() error {
				ep := zbcoll.NewEndpoint(tps[i], zbcoll.WithRadix(3))
				obj, err := ep.Alloc(addrs)
				if err != nil {
					return err
				}
				defer obj.Free()
				if obj.Rank() != i {
					return fmt.Errorf("rank %d, want %d", obj.Rank(), i)
				}
				// stagger the ranks so that some start late
				deadline := time.Now().Add(time.Duration(i) * 2 * time.Millisecond)
				for time.Now().Before(deadline) {
					ep.Progress()
				}

				if err := obj.GetGroup(); err != nil {
					return err
				}
				if err := zbcoll.AwaitIdle(ctx, ep, obj); err != nil {
					return errors.Wrapf(err, "rank %d getgroup", i)
				}
				if id, ok := obj.GroupID(); !ok || id != 0 {
					return fmt.Errorf("rank %d: group id %d (%v)", i, id, ok)
				}

				for rep := range 5 {
					if err := obj.Barrier(); err != nil {
						return err
					}
					if err := zbcoll.AwaitIdle(ctx, ep, obj); err != nil {
						return errors.Wrapf(err, "rank %d barrier %d", i, rep)
					}
				}

				data := []uint64{uint64(1000 + i)}
				if err := obj.Broadcast(data); err != nil {
					return err
				}
				if err := zbcoll.AwaitIdle(ctx, ep, obj); err != nil {
					return errors.Wrapf(err, "rank %d broadcast", i)
				}
				if data[0] != 1000 {
					return fmt.Errorf("rank %d: broadcast %d", i, data[0])
				}

				obj.SetCombinator(zbcoll.Sum)
				data[0] = uint64(i + 1)
				if err := obj.Reduce(data); err != nil {
					return err
				}
				if err := zbcoll.AwaitIdle(ctx, ep, obj); err != nil {
					return errors.Wrapf(err, "rank %d reduce", i)
				}
				if data[0] != n*(n+1)/2 {
					return fmt.Errorf("rank %d: sum %d", i, data[0])
				}

				// keep serving late peers until they are done
				if err := obj.Barrier(); err != nil {
					return err
				}
				if err := zbcoll.AwaitIdle(ctx, ep, obj); err != nil {
					return errors.Wrapf(err, "rank %d final barrier", i)
				}
				if c := ep.Counters(); c.Discarded != 0 || c.Errored != 0 {
					return fmt.Errorf("rank %d: counters %+v", i, c)
				}
				return nil
			}()
		}()
	}
	for range n {
		if err := <-fatal; err != nil {
			t.Fatal(err)
		}
	}
}
