package zbcoll

import (
	"math/bits"

	"github.com/pkg/errors"
)

// MaxGroups returns the number of group ids that can be held at once.
// Negotiation carries a bitmap of free ids plus one sentinel bit in the data
// field, so simulated objects, whose packets also carry src and dst ranks,
// get fewer ids.
func MaxGroups(sim bool) int {
	return DataBits(sim) - 1
}

// arena is the per-rank state shared by objects linked into one simulated
// group. An unlinked object owns an arena with itself as only member.
type arena struct {
	base *Object
	// members[r] is the object that hosts rank r on this endpoint.
	members []*Object
	refs    int
	// claimed is the group id adopted on this endpoint, -1 if none.
	claimed int
}

func newArena(o *Object) *arena {
	a := &arena{
		base:    o,
		members: make([]*Object, o.count),
		refs:    1,
		claimed: -1,
	}
	for r, st := range o.states {
		if st != nil {
			a.members[r] = o
		}
	}
	return a
}

// size counts the distinct objects sharing the arena.
func (a *arena) size() int {
	seen := make(map[*Object]struct{})
	for _, o := range a.members {
		if o != nil {
			seen[o] = struct{}{}
		}
	}
	return len(seen)
}

func (a *arena) holds(id int) bool {
	for _, o := range a.members {
		if o != nil && o.grpid == id {
			return true
		}
	}
	return false
}

// target resolves the object and rank state a packet is addressed to.
func (a *arena) target(p packet) (*Object, *rankState) {
	base := a.base
	if p.sim != base.sim {
		return nil, nil
	}
	if !p.sim {
		return base, base.states[base.rank]
	}
	if p.src >= base.count || p.dst >= base.count {
		return nil, nil
	}
	o := a.members[p.dst]
	if o == nil || o.states[p.dst] == nil {
		return nil, nil
	}
	return o, o.states[p.dst]
}

// sender resolves the object that sent p.
func (a *arena) sender(p packet) *Object {
	if !p.sim {
		return a.base
	}
	if p.src >= len(a.members) {
		return nil
	}
	return a.members[p.src]
}

func (ep *Endpoint) claim(id int, a *arena) {
	ep.grpmsk &^= 1 << uint(id)
	ep.grptbl[id] = a
	ep.inUse.Add(1)
}

func (ep *Endpoint) release(id int) {
	if ep.grptbl[id] == nil {
		return
	}
	ep.grpmsk |= 1 << uint(id)
	ep.grptbl[id] = nil
	ep.inUse.Add(-1)
}

// joinNegotiation serializes getgroup per endpoint. Linked objects may join
// the negotiation started by any one of them.
func (ep *Endpoint) joinNegotiation(a *arena) error {
	switch neg := ep.grptbl[NegotiationID]; {
	case neg == nil:
		ep.grptbl[NegotiationID] = a
		ep.refcnt = 1
		a.claimed = -1
	case neg == a && ep.refcnt < a.size():
		ep.refcnt++
	default:
		return errors.Wrap(ErrAgain, "another group is negotiating")
	}
	return nil
}

// endNegotiation drops one reference on the negotiation slot. The last
// reference frees the slot and returns an adopted id nobody kept.
func (ep *Endpoint) endNegotiation(a *arena) {
	if ep.grptbl[NegotiationID] != a {
		return
	}
	ep.refcnt--
	if ep.refcnt > 0 {
		return
	}
	ep.grptbl[NegotiationID] = nil
	if a.claimed >= 0 && !a.holds(a.claimed) {
		if ep.grptbl[a.claimed] == a {
			ep.release(a.claimed)
		}
		a.claimed = -1
	}
}

// freeMask is the local getgroup contribution: the free ids usable by o and
// the sentinel bit.
func (ep *Endpoint) freeMask(sim bool) uint64 {
	max := uint(MaxGroups(sim))
	return ep.grpmsk&(1<<max-1) | 1<<max
}

// pick chooses the group id at the root from the reduced free mask, starting
// at the round-robin cursor. It returns a one-hot mask, or the sentinel
// alone when no id is free everywhere.
func (ep *Endpoint) pick(mask uint64, sim bool) uint64 {
	max := MaxGroups(sim)
	for k := 0; k < max; k++ {
		id := (ep.next + k) % max
		if mask&(1<<uint(id)) != 0 {
			return 1 << uint(id)
		}
	}
	return 1 << uint(max)
}

// adopt records the id chosen by the root.
func (o *Object) adopt(mask uint64) {
	max := uint(MaxGroups(o.sim))
	ids := mask & (1<<max - 1)
	if ids == 0 {
		if o.err == nil {
			o.err = errors.Wrapf(ErrBusy, "all %d group ids in use", max)
		}
		return
	}
	id := bits.TrailingZeros64(ids)
	o.claimed = id
	a := o.arena
	if a.claimed == id {
		return
	}
	ep := o.ep
	ep.claim(id, a)
	a.claimed = id
	ep.next = (id + 1) % int(max)
	o.log.Debug("adopted group id", "grpid", id)
}
