// Package loopback is an in-memory zbcoll.Transport. A Fabric connects any
// number of endpoints living in one process; words are delivered when the
// receiving endpoint is progressed.
package loopback

import (
	"fmt"
	"sync"

	"github.com/luca-patrignani/zbcoll/zbcoll"
	"github.com/pkg/errors"
)

type event struct {
	send bool
	src  zbcoll.Addr
	bits uint64
	err  error
}

// Fabric routes words between its endpoints. It is safe for concurrent use.
type Fabric struct {
	mu        sync.Mutex
	endpoints map[zbcoll.Addr]*Endpoint
	seq       int
}

func NewFabric() *Fabric {
	return &Fabric{endpoints: make(map[zbcoll.Addr]*Endpoint)}
}

// Endpoint is one attachment point of a Fabric.
type Endpoint struct {
	fabric *Fabric
	addr   zbcoll.Addr
	queue  []event
}

// Attach creates an endpoint with a fresh address.
func (f *Fabric) Attach() *Endpoint {
	f.mu.Lock()
	defer f.mu.Unlock()
	addr := zbcoll.Addr(fmt.Sprintf("loop:%d", f.seq))
	f.seq++
	e := &Endpoint{fabric: f, addr: addr}
	f.endpoints[addr] = e
	return e
}

// AttachN creates n endpoints and returns them with their addresses.
func (f *Fabric) AttachN(n int) ([]*Endpoint, []zbcoll.Addr) {
	eps := make([]*Endpoint, n)
	addrs := make([]zbcoll.Addr, n)
	for i := range eps {
		eps[i] = f.Attach()
		addrs[i] = eps[i].addr
	}
	return eps, addrs
}

// Detach removes addr from the fabric. Later sends to it fail with
// zbcoll.ErrUnreachable.
func (f *Fabric) Detach(addr zbcoll.Addr) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.endpoints, addr)
}

func (e *Endpoint) LocalAddr() zbcoll.Addr {
	return e.addr
}

func (e *Endpoint) Send(dst zbcoll.Addr, bits uint64) error {
	f := e.fabric
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.endpoints[e.addr]; !ok {
		return errors.Wrapf(zbcoll.ErrUnreachable, "%s is detached", e.addr)
	}
	to, ok := f.endpoints[dst]
	if !ok {
		e.queue = append(e.queue, event{send: true, bits: bits, err: errors.Wrapf(zbcoll.ErrUnreachable, "%s", dst)})
		return nil
	}
	to.queue = append(to.queue, event{src: e.addr, bits: bits})
	e.queue = append(e.queue, event{send: true, bits: bits})
	return nil
}

// Progress hands every queued event to h. Events queued by h itself are
// delivered on the next call.
func (e *Endpoint) Progress(h zbcoll.Handler) {
	f := e.fabric
	f.mu.Lock()
	queue := e.queue
	e.queue = nil
	f.mu.Unlock()
	for _, ev := range queue {
		if ev.send {
			h.SendComplete(ev.bits, ev.err)
		} else {
			h.Receive(ev.src, ev.bits)
		}
	}
}

// Pending returns the number of undelivered events.
func (e *Endpoint) Pending() int {
	f := e.fabric
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(e.queue)
}
