package zbcoll

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/google/uuid"
	"github.com/luca-patrignani/zbcoll/tree"
	"github.com/pkg/errors"
)

type mode int

const (
	modeReal mode = iota
	modeAllSim
	modeSimRank
)

type opKind int

const (
	opNone opKind = iota
	opGetGroup
	opBarrier
	opBroadcast
	opReduce
)

func (k opKind) String() string {
	switch k {
	case opGetGroup:
		return "getgroup"
	case opBarrier:
		return "barrier"
	case opBroadcast:
		return "broadcast"
	case opReduce:
		return "reduce"
	}
	return "none"
}

// rankState is the protocol state of one group rank.
type rankState struct {
	rank     int
	parent   int
	children []int
	contribs int
	started  bool
	acc      uint64
	// early holds child contributions received before the local start.
	early []uint64
	slot  *uint64
}

func (st *rankState) reset() {
	st.contribs = 0
	st.started = false
	st.early = st.early[:0]
	st.slot = nil
}

// Object is one collective group as seen from an endpoint: the participant
// list, the tree relatives of the ranks it hosts and the state of the
// operation in flight.
type Object struct {
	ep    *Endpoint
	id    uuid.UUID
	log   *slog.Logger
	mode  mode
	sim   bool
	count int
	addrs []Addr
	// rank is the hosted group rank, -1 when every rank is simulated.
	rank   int
	states []*rankState

	grpid   int
	claimed int
	busy    int
	err     error
	op      opKind
	combine Combinator

	callback func(*Object, any)
	cbctx    any

	order []int
	arena *arena
	freed bool
}

// Alloc creates an object spanning the real endpoints in addrs. Ranks are
// positions in addrs and rank 0 is the root. An empty list yields a
// single-member object that can only send to itself.
func (ep *Endpoint) Alloc(addrs []Addr) (*Object, error) {
	if len(addrs) == 0 {
		addrs = []Addr{ep.local}
	}
	rank := slices.Index(addrs, ep.local)
	if rank < 0 {
		return nil, errors.Wrapf(ErrPeerNotFound, "%s among %d addresses", ep.local, len(addrs))
	}
	return ep.newObject(modeReal, slices.Clone(addrs), rank), nil
}

// AllocSim creates an object hosting all count ranks on this endpoint.
func (ep *Endpoint) AllocSim(count int) (*Object, error) {
	if err := checkSimCount(count); err != nil {
		return nil, err
	}
	return ep.newObject(modeAllSim, ep.simAddrs(count), -1), nil
}

// AllocSimRank creates an object hosting rank of a simulated group of count
// ranks. The objects for the other ranks are joined to the rank 0 object
// with SimLink.
func (ep *Endpoint) AllocSimRank(count, rank int) (*Object, error) {
	if err := checkSimCount(count); err != nil {
		return nil, err
	}
	if rank < 0 || rank >= count {
		return nil, errors.Wrapf(ErrInvalid, "simulated rank %d outside [0, %d)", rank, count)
	}
	return ep.newObject(modeSimRank, ep.simAddrs(count), rank), nil
}

func checkSimCount(count int) error {
	if count > SimMax {
		return errors.Wrapf(ErrSimTooLarge, "%d ranks, maximum %d", count, SimMax)
	}
	if count < 1 {
		return errors.Wrapf(ErrInvalid, "simulation of %d ranks", count)
	}
	return nil
}

func (ep *Endpoint) simAddrs(count int) []Addr {
	addrs := make([]Addr, count)
	for i := range addrs {
		addrs[i] = Addr(fmt.Sprintf("%s/sim/%d", ep.local, i))
	}
	return addrs
}

func (ep *Endpoint) newObject(m mode, addrs []Addr, rank int) *Object {
	o := &Object{
		ep:      ep,
		id:      uuid.New(),
		mode:    m,
		sim:     m != modeReal,
		count:   len(addrs),
		addrs:   addrs,
		rank:    rank,
		states:  make([]*rankState, len(addrs)),
		grpid:   NegotiationID,
		claimed: -1,
		combine: BitwiseAnd,
	}
	o.log = ep.log.With("object", o.id.String())
	for r := range o.states {
		if m == modeAllSim || r == rank {
			o.states[r] = ep.newRankState(r, o.count)
		}
	}
	o.arena = newArena(o)
	o.log.Debug("allocated", "ranks", o.count, "rank", rank, "sim", o.sim)
	return o
}

func (ep *Endpoint) newRankState(rank, total int) *rankState {
	rels := tree.Relatives(ep.radix, rank, total)
	return &rankState{
		rank:     rank,
		parent:   rels[0],
		children: rels[1:],
	}
}

// Free releases the group id of the object. A linked object detaches from
// its siblings at once, later packets for its rank are discarded; the group
// id is released when every linked object has been freed.
func (o *Object) Free() {
	if o == nil || o.freed {
		return
	}
	o.freed = true
	a := o.arena
	for r, m := range a.members {
		if m == o {
			a.members[r] = nil
		}
	}
	o.grpid = NegotiationID
	a.refs--
	if a.refs > 0 {
		return
	}
	ep := o.ep
	if ep.grptbl[NegotiationID] == a {
		ep.grptbl[NegotiationID] = nil
		ep.refcnt = 0
	}
	if a.claimed >= 0 && ep.grptbl[a.claimed] == a {
		ep.release(a.claimed)
	}
	a.claimed = -1
	o.log.Debug("freed")
}

// SetCallback installs fn, run by Progress with ctx each time an operation
// on the object completes.
func (o *Object) SetCallback(fn func(*Object, any), ctx any) {
	o.callback = fn
	o.cbctx = ctx
}

// SetCombinator sets the function Reduce combines contributions with.
func (o *Object) SetCombinator(c Combinator) {
	if c == nil {
		c = BitwiseAnd
	}
	o.combine = c
}

func (o *Object) Busy() bool {
	return o.busy > 0
}

// Err returns the error of the last operation, nil while it is in flight or
// if it succeeded.
func (o *Object) Err() error {
	return o.err
}

// GroupID returns the negotiated group id.
func (o *Object) GroupID() (int, bool) {
	if o.grpid == NegotiationID {
		return 0, false
	}
	return o.grpid, true
}

func (o *Object) ID() uuid.UUID {
	return o.id
}

// Count returns the number of participants.
func (o *Object) Count() int {
	return o.count
}

// Rank returns the hosted group rank, or -1 if the object simulates every
// rank.
func (o *Object) Rank() int {
	return o.rank
}

func (o *Object) Simulated() bool {
	return o.sim
}

func (o *Object) Addrs() []Addr {
	return slices.Clone(o.addrs)
}

// Relatives returns the tree relatives of rank as computed at allocation,
// parent first. It returns nil for ranks not hosted by the object.
func (o *Object) Relatives(rank int) []int {
	if rank < 0 || rank >= o.count || o.states[rank] == nil {
		return nil
	}
	st := o.states[rank]
	return append([]int{st.parent}, st.children...)
}

// hosted returns the ranks the object drives, in processing order.
func (o *Object) hosted() []int {
	if o.mode != modeAllSim {
		return []int{o.rank}
	}
	if o.order != nil {
		return o.order
	}
	ranks := make([]int, o.count)
	for i := range ranks {
		ranks[i] = i
	}
	return ranks
}
