package zbcoll

import (
	"github.com/luca-patrignani/zbcoll/tree"
	"github.com/pkg/errors"
)

// GetGroup starts the negotiation of a group id shared by every participant.
// Each participant calls it once; the id is available from GroupID after
// the completion callback. Negotiations are serialized per endpoint.
func (o *Object) GetGroup() error {
	ep := o.ep
	if ep.disabled {
		return nil
	}
	if o.freed {
		return errors.Wrap(ErrInvalid, "object freed")
	}
	if o.busy > 0 {
		return errors.Wrap(ErrAgain, "getgroup")
	}
	if o.grpid != NegotiationID {
		return errors.Wrapf(ErrInvalid, "group id %d already assigned", o.grpid)
	}
	if err := ep.joinNegotiation(o.arena); err != nil {
		return err
	}
	o.claimed = -1
	mask := ep.freeMask(o.sim)
	o.begin(opGetGroup, nil, func(int) uint64 { return mask })
	return nil
}

// Barrier returns to every participant once all of them have entered it.
func (o *Object) Barrier() error {
	if o.ep.disabled {
		return nil
	}
	if err := o.check(opBarrier, nil); err != nil {
		return err
	}
	o.begin(opBarrier, nil, func(int) uint64 { return 0 })
	return nil
}

// Broadcast distributes the value held by group rank 0. data has one slot
// per hosted rank, indexed by group rank for objects simulating every rank;
// on completion every slot holds the root value.
func (o *Object) Broadcast(data []uint64) error {
	if o.ep.disabled {
		return nil
	}
	if err := o.check(opBroadcast, data); err != nil {
		return err
	}
	o.begin(opBroadcast, data, func(i int) uint64 { return data[i] })
	return nil
}

// Reduce combines the slots of every participant with the object Combinator
// and leaves the result in every slot. data is laid out as for Broadcast.
func (o *Object) Reduce(data []uint64) error {
	if o.ep.disabled {
		return nil
	}
	if err := o.check(opReduce, data); err != nil {
		return err
	}
	o.begin(opReduce, data, func(i int) uint64 { return data[i] })
	return nil
}

func (o *Object) check(op opKind, data []uint64) error {
	if o.freed {
		return errors.Wrap(ErrInvalid, "object freed")
	}
	if o.busy > 0 {
		return errors.Wrapf(ErrAgain, "%s", op)
	}
	if o.grpid == NegotiationID {
		return errors.Wrapf(ErrInvalid, "%s requires a group id", op)
	}
	if op != opBarrier && len(data) != o.slots() {
		return errors.Wrapf(ErrInvalid, "%s needs %d data slots, got %d", op, o.slots(), len(data))
	}
	return nil
}

func (o *Object) slots() int {
	if o.mode == modeAllSim {
		return o.count
	}
	return 1
}

// slotIndex maps a group rank to its position in the caller data.
func (o *Object) slotIndex(rank int) int {
	if o.mode == modeAllSim {
		return rank
	}
	return 0
}

// begin starts op on every hosted rank. local returns the contribution of
// the rank owning a data slot.
func (o *Object) begin(op opKind, data []uint64, local func(slot int) uint64) {
	if o.err != nil {
		for _, st := range o.states {
			if st != nil {
				st.reset()
			}
		}
	}
	o.err = nil
	o.op = op
	ranks := o.hosted()
	o.busy = len(ranks)
	o.log.Debug("start", "op", op, "ranks", len(ranks))
	mask := dataMask(o.sim)
	for _, r := range ranks {
		if o.busy == 0 {
			// a send failed and terminated the operation
			return
		}
		st := o.states[r]
		i := o.slotIndex(r)
		if data != nil {
			st.slot = &data[i]
		}
		o.start(st, local(i)&mask)
	}
}

func (o *Object) start(st *rankState, v uint64) {
	st.started = true
	st.acc = v
	for _, e := range st.early {
		st.acc = o.fold(st.acc, e)
	}
	st.early = st.early[:0]
	st.contribs++
	o.advance(st)
}

// fold combines an upstream contribution into the accumulator.
func (o *Object) fold(acc, v uint64) uint64 {
	switch o.op {
	case opGetGroup:
		return acc & v
	case opReduce:
		return o.combine(acc, v) & dataMask(o.sim)
	}
	return acc
}

// up handles a contribution from a child.
func (o *Object) up(st *rankState, v uint64) {
	st.contribs++
	if !st.started {
		st.early = append(st.early, v)
		return
	}
	st.acc = o.fold(st.acc, v)
	o.advance(st)
}

// advance sends the accumulated value to the parent once every child has
// reported, and turns the data flow around at the root.
func (o *Object) advance(st *rankState) {
	if st.contribs < 1+len(st.children) {
		return
	}
	if st.parent != tree.NoParent {
		_ = o.send(st.rank, st.parent, st.acc)
		return
	}
	var v uint64
	switch o.op {
	case opGetGroup:
		v = o.ep.pick(st.acc, o.sim)
	case opReduce:
		v = st.acc
	case opBroadcast:
		v = *st.slot & dataMask(o.sim)
	}
	o.down(st, v)
}

// down handles the value released by the parent, or produced by the root.
func (o *Object) down(st *rankState, v uint64) {
	if st.slot != nil {
		*st.slot = v
	}
	if o.op == opGetGroup {
		o.adopt(v)
	}
	for _, c := range st.children {
		if err := o.send(st.rank, c, v); err != nil {
			return
		}
	}
	o.done(st)
}

func (o *Object) done(st *rankState) {
	st.reset()
	if o.busy == 0 {
		return
	}
	o.busy--
	if o.busy > 0 {
		return
	}
	o.finish()
}

func (o *Object) finish() {
	ep := o.ep
	if o.op == opGetGroup {
		if o.err == nil && o.claimed >= 0 {
			o.grpid = o.claimed
		}
		ep.endNegotiation(o.arena)
	}
	ep.ready = append(ep.ready, o)
}

// fail terminates the operation in flight with err.
func (o *Object) fail(err error) {
	if o.busy == 0 {
		// the operation already completed, keep the error for Err
		if o.err == nil {
			o.err = err
		}
		o.log.Warn("error after completion", "op", o.op, errAttr(err))
		return
	}
	o.err = err
	o.busy = 0
	for _, st := range o.states {
		if st != nil {
			st.reset()
		}
	}
	if o.op == opGetGroup {
		o.claimed = -1
		o.ep.endNegotiation(o.arena)
	}
	o.ep.ready = append(o.ep.ready, o)
}

// renegotiate re-sends the subtree mask after the parent rejected it.
func (o *Object) renegotiate(st *rankState) {
	if o.op != opGetGroup || o.busy == 0 || !st.started || st.parent == tree.NoParent {
		o.ep.discard(o.addrs[st.rank], packet{sim: o.sim, dst: st.rank, grpid: NegotiationID}, "unexpected negotiation rejection")
		return
	}
	o.log.Debug("rejected, resending mask", "rank", st.rank, "mask", st.acc)
	_ = o.send(st.rank, st.parent, st.acc)
}

// relation returns 0 if the packet came from the parent of st, i > 0 if it
// came from child i-1, and -1 otherwise.
func (o *Object) relation(st *rankState, src Addr, p packet) int {
	is := func(rank int) bool {
		if rank < 0 {
			return false
		}
		if o.sim {
			return p.src == rank
		}
		return o.addrs[rank] == src
	}
	if is(st.parent) {
		return 0
	}
	for i, c := range st.children {
		if is(c) {
			return i + 1
		}
	}
	return -1
}

// send delivers one word from rank src to rank dst. A transport error
// terminates the operation in flight.
func (o *Object) send(src, dst int, data uint64) error {
	ep := o.ep
	p := packet{sim: o.sim, src: src, dst: dst, grpid: o.grpid, data: data}
	to := ep.local
	if !o.sim {
		to = o.addrs[dst]
	}
	if err := ep.tp.Send(to, p.pack()); err != nil {
		ep.err.Add(1)
		err = errors.Wrapf(err, "send rank %d to rank %d", src, dst)
		o.log.Warn("send failed", errAttr(err))
		o.fail(err)
		return err
	}
	return nil
}

// Send transmits a raw word from rank src to rank dst, bypassing the
// protocol. An out of range dst only increments the error counter.
func (o *Object) Send(src, dst int, payload uint64) {
	if dst < 0 || dst >= o.count || src < 0 || src >= o.count {
		o.ep.err.Add(1)
		o.log.Warn("raw send out of range", "src", src, "dst", dst, "ranks", o.count)
		return
	}
	_ = o.send(src, dst, payload)
}
