package zbcoll

import (
	"crypto/cipher"
	"math/big"
	"slices"

	"github.com/pkg/errors"
	"go.dedis.ch/kyber/v4/suites"
	"go.dedis.ch/kyber/v4/util/random"
)

var suite = suites.MustFind("Ed25519")

// SimLink joins obj, hosting one simulated rank, to root, the object hosting
// rank 0 of the same simulated group. Once every rank is linked the objects
// run collectives together, each one called independently. Linking root to
// itself is a no-op.
func SimLink(root, obj *Object) error {
	if root == obj {
		return nil
	}
	if root == nil || obj == nil {
		return errors.Wrap(ErrInvalid, "simlink of nil object")
	}
	if root.ep != obj.ep {
		return errors.Wrap(ErrInvalid, "simlink across endpoints")
	}
	if !slices.Equal(root.addrs, obj.addrs) {
		return errors.Wrap(ErrInvalid, "address lists do not match")
	}
	if root.mode != modeSimRank || root.rank != 0 {
		return errors.Wrapf(ErrInvalid, "root hosts rank %d, want simulated rank 0", root.rank)
	}
	if obj.mode != modeSimRank || obj.rank <= 0 || obj.rank >= obj.count {
		return errors.Wrapf(ErrInvalid, "rank %d cannot be linked", obj.rank)
	}
	a := root.arena
	if a.members[obj.rank] != nil {
		return errors.Wrapf(ErrInvalid, "rank %d already linked", obj.rank)
	}
	if obj.arena.base != obj || obj.arena.refs != 1 {
		return errors.Wrapf(ErrInvalid, "rank %d already linked to another root", obj.rank)
	}
	if root.busy > 0 || obj.busy > 0 {
		return errors.Wrap(ErrAgain, "simlink during an operation")
	}
	if root.grpid != NegotiationID || obj.grpid != NegotiationID {
		return errors.Wrap(ErrInvalid, "simlink after getgroup")
	}
	a.members[obj.rank] = obj
	a.refs++
	obj.arena = a
	obj.log.Debug("linked", "rank", obj.rank, "root", root.id.String())
	return nil
}

// SetOrder sets the order in which an object simulating every rank starts
// them. A nil order restores rank order.
func (o *Object) SetOrder(order []int) error {
	if order == nil {
		o.order = nil
		return nil
	}
	if o.mode != modeAllSim {
		return errors.Wrap(ErrInvalid, "processing order needs every rank simulated")
	}
	if len(order) != o.count {
		return errors.Wrapf(ErrInvalid, "order of %d ranks, want %d", len(order), o.count)
	}
	seen := make([]bool, o.count)
	for _, r := range order {
		if r < 0 || r >= o.count || seen[r] {
			return errors.Wrapf(ErrInvalid, "order is not a permutation: %v", order)
		}
		seen[r] = true
	}
	o.order = slices.Clone(order)
	return nil
}

// Order returns the processing order of the hosted ranks.
func (o *Object) Order() []int {
	return slices.Clone(o.hosted())
}

// Shuffle draws a random processing order from stream, or from a fresh
// suite stream when stream is nil. It has no effect unless every rank is
// simulated.
func (o *Object) Shuffle(stream cipher.Stream) {
	if o.mode != modeAllSim {
		return
	}
	if stream == nil {
		stream = suite.RandomStream()
	}
	order := make([]int, o.count)
	for i := range order {
		order[i] = i
	}
	for i := len(order) - 1; i > 0; i-- {
		j := int(random.Int(big.NewInt(int64(i+1)), stream).Int64())
		order[i], order[j] = order[j], order[i]
	}
	o.order = order
}
