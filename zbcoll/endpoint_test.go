package zbcoll

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

type sent struct {
	dst  Addr
	bits uint64
}

// recorder is a Transport that keeps every word and never completes.
type recorder struct {
	addr Addr
	sent []sent
}

func (r *recorder) LocalAddr() Addr { return r.addr }

func (r *recorder) Send(dst Addr, bits uint64) error {
	r.sent = append(r.sent, sent{dst: dst, bits: bits})
	return nil
}

func (r *recorder) Progress(Handler) {}

func TestReceiveDiscards(t *testing.T) {
	for name, tc := range map[string]struct {
		disabled  bool
		bits      uint64
		expCount  Counters
		expReject *packet
	}{
		"rejected by target": {
			bits:     packet{grpid: rejectID}.pack(),
			expCount: Counters{Discarded: 1},
		},
		"disabled counts raw receive": {
			disabled: true,
			bits:     packet{grpid: 7, data: 9}.pack(),
			expCount: Counters{Received: 1},
		},
		"unknown group": {
			bits:      packet{sim: true, src: 3, dst: 1, grpid: 7, data: 9}.pack(),
			expCount:  Counters{Discarded: 1},
			expReject: &packet{sim: true, src: 1, dst: 3, grpid: rejectID},
		},
		"negotiation before getgroup": {
			bits:      packet{sim: true, src: 3, dst: 1, grpid: NegotiationID, data: 1 << 43}.pack(),
			expReject: &packet{sim: true, src: 1, dst: 3, grpid: NegotiationID},
		},
		"stale negotiation rejection": {
			bits:     packet{grpid: NegotiationID}.pack(),
			expCount: Counters{Discarded: 1},
		},
	} {
		t.Run(name, func(t *testing.T) {
			tp := &recorder{addr: "self"}
			ep := NewEndpoint(tp, WithDisabled(tc.disabled))
			ep.receive("peer", tc.bits)
			if diff := cmp.Diff(tc.expCount, ep.Counters()); diff != "" {
				t.Fatalf("counters (-want, +got):\n%s", diff)
			}
			if tc.expReject == nil {
				if len(tp.sent) != 0 {
					t.Fatalf("unexpected reply %+v", tp.sent)
				}
				return
			}
			if len(tp.sent) != 1 {
				t.Fatalf("expected one reply, got %d", len(tp.sent))
			}
			if diff := cmp.Diff(*tc.expReject, unpack(tp.sent[0].bits), cmp.AllowUnexported(packet{})); diff != "" {
				t.Fatalf("reply (-want, +got):\n%s", diff)
			}
		})
	}
}

func TestReceiveFromStranger(t *testing.T) {
	tp := &recorder{addr: "b"}
	ep := NewEndpoint(tp)
	obj, err := ep.Alloc([]Addr{"a", "b", "c", "d"})
	if err != nil {
		t.Fatal(err)
	}
	if err := obj.GetGroup(); err != nil {
		t.Fatal(err)
	}
	// rank 1 has parent 0 and child 3; rank 2 is a sibling
	ep.receive("c", packet{grpid: NegotiationID, data: 1}.pack())
	if got := ep.Counters(); got.Discarded != 1 || got.Received != 0 {
		t.Fatalf("counters = %+v", got)
	}
	last := unpack(tp.sent[len(tp.sent)-1].bits)
	if tp.sent[len(tp.sent)-1].dst != "c" || last.grpid != NegotiationID || last.data != 0 {
		t.Fatalf("expected negotiation rejection to c, got %+v to %s", last, tp.sent[len(tp.sent)-1].dst)
	}

	n := len(tp.sent)
	ep.receive("d", packet{grpid: NegotiationID, data: ep.freeMask(false)}.pack())
	if got := ep.Counters(); got.Received != 1 {
		t.Fatalf("child contribution not received: %+v", got)
	}
	if len(tp.sent) != n+1 || tp.sent[n].dst != "a" {
		t.Fatalf("expected subtree mask sent to parent, got %+v", tp.sent[n:])
	}

	// parent rejects, the subtree mask is sent again
	ep.receive("a", packet{grpid: NegotiationID}.pack())
	if len(tp.sent) != n+2 || tp.sent[n+1].dst != "a" || tp.sent[n+1].bits != tp.sent[n].bits {
		t.Fatalf("expected mask resent to parent, got %+v", tp.sent[n:])
	}

	ep.receive("a", packet{grpid: NegotiationID, data: 1 << 4}.pack())
	if obj.Busy() {
		t.Fatal("getgroup still busy after release from parent")
	}
	if id, ok := obj.GroupID(); !ok || id != 4 {
		t.Fatalf("group id = %d, %v", id, ok)
	}
	if got := unpack(tp.sent[len(tp.sent)-1].bits); tp.sent[len(tp.sent)-1].dst != "d" || got.data != 1<<4 {
		t.Fatalf("expected release forwarded to child, got %+v", got)
	}
	if ep.GroupsInUse() != 1 {
		t.Fatalf("groups in use = %d", ep.GroupsInUse())
	}
	obj.Free()
	if ep.GroupsInUse() != 0 {
		t.Fatalf("groups in use after free = %d", ep.GroupsInUse())
	}
}
