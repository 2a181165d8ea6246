package zbcoll

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestPacketLayout(t *testing.T) {
	for name, tc := range map[string]struct {
		p      packet
		expRaw uint64
	}{
		"real data": {
			p:      packet{grpid: 3, data: 0x2a},
			expRaw: 3<<54 | 0x2a,
		},
		"real negotiation": {
			p:      packet{grpid: NegotiationID, data: 1 << 53},
			expRaw: NegotiationID<<54 | 1<<53,
		},
		"sim ranks": {
			p:      packet{sim: true, src: 31, dst: 7, grpid: 1, data: 5},
			expRaw: 1<<60 | 1<<54 | 7<<49 | 31<<44 | 5,
		},
		"reject": {
			p:      packet{sim: true, src: 2, dst: 0, grpid: rejectID},
			expRaw: 1<<60 | rejectID<<54 | 2<<44,
		},
	} {
		t.Run(name, func(t *testing.T) {
			raw := tc.p.pack()
			if raw != tc.expRaw {
				t.Fatalf("pack = %#x, want %#x", raw, tc.expRaw)
			}
			if diff := cmp.Diff(tc.p, unpack(raw), cmp.AllowUnexported(packet{})); diff != "" {
				t.Fatalf("unpack (-want, +got):\n%s", diff)
			}
		})
	}
}

func TestPacketTruncatesData(t *testing.T) {
	p := packet{grpid: 0, data: ^uint64(0)}
	if got := unpack(p.pack()); got.data != 1<<54-1 || got.grpid != 0 || got.sim {
		t.Fatalf("real packet leaked data into header: %+v", got)
	}
	p = packet{sim: true, src: 1, dst: 2, data: ^uint64(0)}
	if got := unpack(p.pack()); got.data != 1<<44-1 || got.src != 1 || got.dst != 2 {
		t.Fatalf("sim packet leaked data into header: %+v", got)
	}
}

func TestMaxGroups(t *testing.T) {
	if got := MaxGroups(false); got != 53 {
		t.Fatalf("MaxGroups(false) = %d", got)
	}
	if got := MaxGroups(true); got != 43 {
		t.Fatalf("MaxGroups(true) = %d", got)
	}
	for _, sim := range []bool{false, true} {
		max := MaxGroups(sim)
		if max >= NegotiationID+1 {
			t.Fatalf("sim=%v: %d ids collide with the negotiation id", sim, max)
		}
		if max+1 > DataBits(sim) {
			t.Fatalf("sim=%v: mask of %d ids and sentinel exceeds %d data bits", sim, max, DataBits(sim))
		}
	}
}

func TestPickRoundRobin(t *testing.T) {
	ep := &Endpoint{grpmsk: ^uint64(0)}
	mask := ep.freeMask(true)
	if mask != 1<<44-1 {
		t.Fatalf("free mask = %#x", mask)
	}
	for name, tc := range map[string]struct {
		next int
		mask uint64
		exp  uint64
	}{
		"first":          {next: 0, mask: mask, exp: 1},
		"cursor":         {next: 5, mask: mask, exp: 1 << 5},
		"skip used":      {next: 5, mask: mask &^ (1 << 5), exp: 1 << 6},
		"wrap":           {next: 42, mask: 1<<43 | 1<<3, exp: 1 << 3},
		"cursor past":    {next: 50, mask: mask, exp: 1 << 7},
		"none available": {next: 9, mask: 1 << 43, exp: 1 << 43},
	} {
		t.Run(name, func(t *testing.T) {
			ep.next = tc.next
			if got := ep.pick(tc.mask, true); got != tc.exp {
				t.Fatalf("pick = %#x, want %#x", got, tc.exp)
			}
		})
	}
}
