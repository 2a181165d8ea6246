package zbcoll

import (
	"log/slog"
	"sync/atomic"
)

// Config holds the tunables of an Endpoint.
type Config struct {
	// Radix is the fan-out of the spanning tree built over every object.
	Radix int
	// Disabled turns collective operations into no-ops and makes every
	// received word count as a raw receive. Used for low-level transport tests.
	Disabled bool
	Logger   *slog.Logger
}

// DefaultRadix is the tree fan-out used when none is configured.
const DefaultRadix = 2

type endpointOption func(Config) Config

func WithRadix(radix int) endpointOption {
	return func(c Config) Config {
		c.Radix = radix
		return c
	}
}

func WithDisabled(disabled bool) endpointOption {
	return func(c Config) Config {
		c.Disabled = disabled
		return c
	}
}

func WithLogger(logger *slog.Logger) endpointOption {
	return func(c Config) Config {
		c.Logger = logger
		return c
	}
}

// Counters is a snapshot of the endpoint packet counters.
type Counters struct {
	Discarded uint64
	Errored   uint64
	Acked     uint64
	Received  uint64
}

// Endpoint is the collective engine bound to one transport endpoint. It owns
// the group table shared by every Object allocated on it.
//
// Endpoint methods and the methods of its objects must be called from a
// single goroutine. Counters and GroupsInUse may be read from any goroutine.
type Endpoint struct {
	tp       Transport
	local    Addr
	radix    int
	disabled bool
	log      *slog.Logger

	// grpmsk has bit i set while group id i is free.
	grpmsk uint64
	// grptbl[NegotiationID] is the arena currently negotiating.
	grptbl [MapBits]*arena
	refcnt int
	next   int
	inUse  atomic.Int64

	dsc atomic.Uint64
	err atomic.Uint64
	ack atomic.Uint64
	rcv atomic.Uint64

	ready []*Object
}

// NewEndpoint attaches a collective engine to tp.
func NewEndpoint(tp Transport, opts ...endpointOption) *Endpoint {
	cfg := Config{Radix: DefaultRadix}
	for _, opt := range opts {
		cfg = opt(cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	log := cfg.Logger.With("endpoint", string(tp.LocalAddr()))
	if cfg.Radix < 1 {
		log.Warn("invalid tree radix, using 1", "radix", cfg.Radix)
		cfg.Radix = 1
	}
	return &Endpoint{
		tp:       tp,
		local:    tp.LocalAddr(),
		radix:    cfg.Radix,
		disabled: cfg.Disabled,
		log:      log,
		grpmsk:   ^uint64(0),
	}
}

func (ep *Endpoint) LocalAddr() Addr {
	return ep.local
}

func (ep *Endpoint) Radix() int {
	return ep.radix
}

// SetDisabled toggles the low-level test mode, see Config.Disabled.
func (ep *Endpoint) SetDisabled(disabled bool) {
	ep.disabled = disabled
}

func (ep *Endpoint) Disabled() bool {
	return ep.disabled
}

// Counters returns the current packet counters.
func (ep *Endpoint) Counters() Counters {
	return Counters{
		Discarded: ep.dsc.Load(),
		Errored:   ep.err.Load(),
		Acked:     ep.ack.Load(),
		Received:  ep.rcv.Load(),
	}
}

func (ep *Endpoint) ResetCounters() {
	ep.dsc.Store(0)
	ep.err.Store(0)
	ep.ack.Store(0)
	ep.rcv.Store(0)
}

// GroupsInUse returns the number of group ids currently held on this endpoint.
func (ep *Endpoint) GroupsInUse() int {
	return int(ep.inUse.Load())
}

// Progress delivers transport completions, advancing every in-flight
// operation, then runs the callback of each object whose operation
// finished. Callbacks may start new operations.
func (ep *Endpoint) Progress() {
	h := handler{ep: ep}
	for {
		ep.tp.Progress(h)
		if len(ep.ready) == 0 {
			return
		}
		o := ep.ready[0]
		ep.ready[0] = nil
		ep.ready = ep.ready[1:]
		o.log.Debug("operation complete", "op", o.op, errAttr(o.err))
		if o.callback != nil {
			o.callback(o, o.cbctx)
		}
	}
}

type handler struct {
	ep *Endpoint
}

func (h handler) SendComplete(bits uint64, err error) {
	h.ep.sendComplete(bits, err)
}

func (h handler) Receive(src Addr, bits uint64) {
	h.ep.receive(src, bits)
}

func (ep *Endpoint) sendComplete(bits uint64, err error) {
	if err == nil {
		ep.ack.Add(1)
		return
	}
	ep.err.Add(1)
	p := unpack(bits)
	ep.log.Warn("send failed", "grpid", p.grpid, "src", p.src, "dst", p.dst, errAttr(err))
	if p.grpid > NegotiationID {
		return
	}
	a := ep.grptbl[p.grpid]
	if a == nil {
		return
	}
	o := a.sender(p)
	if o == nil {
		return
	}
	o.fail(err)
}

func (ep *Endpoint) receive(src Addr, bits uint64) {
	p := unpack(bits)
	if p.grpid > NegotiationID {
		ep.discard(src, p, "rejected by target")
		return
	}
	if ep.disabled {
		ep.rcv.Add(1)
		return
	}
	a := ep.grptbl[p.grpid]
	if p.grpid == NegotiationID {
		if a == nil {
			if p.data == 0 {
				ep.discard(src, p, "stale negotiation rejection")
				return
			}
			// not negotiating yet, the sender retries
			ep.log.Debug("reject: negotiation conflict", "src", string(src), "simsrc", p.src)
			ep.reject(src, p, NegotiationID)
			return
		}
	} else if a == nil {
		ep.discard(src, p, "unknown group id")
		ep.reject(src, p, rejectID)
		return
	}
	o, st := a.target(p)
	if st == nil {
		ep.discard(src, p, "bad simulation rank")
		return
	}
	if p.grpid == NegotiationID && p.data == 0 {
		o.renegotiate(st)
		return
	}
	rel := o.relation(st, src, p)
	if rel < 0 {
		ep.discard(src, p, "initiator not in tree")
		if p.grpid == NegotiationID {
			ep.reject(src, p, NegotiationID)
		} else {
			ep.reject(src, p, rejectID)
		}
		return
	}
	if rel == 0 && !st.started {
		ep.discard(src, p, "release without arrival")
		return
	}
	ep.rcv.Add(1)
	if rel == 0 {
		o.log.Debug("down", "rank", st.rank, "from", st.parent, "data", p.data)
		o.down(st, p.data)
		return
	}
	o.log.Debug("up", "rank", st.rank, "from", st.children[rel-1], "contribs", st.contribs+1)
	o.up(st, p.data)
}

func (ep *Endpoint) discard(src Addr, p packet, reason string) {
	ep.dsc.Add(1)
	ep.log.Warn("discard", "src", string(src), "simsrc", p.src, "simdst", p.dst, "grpid", p.grpid, "reason", reason)
}

// reject answers p with an empty word. Simulated replies swap src and dst
// so they reach the sending rank.
func (ep *Endpoint) reject(src Addr, p packet, grpid int) {
	r := packet{sim: p.sim, src: p.dst, dst: p.src, grpid: grpid}
	to := src
	if p.sim {
		to = ep.local
	}
	if err := ep.tp.Send(to, r.pack()); err != nil {
		ep.err.Add(1)
		ep.log.Warn("reject send failed", "dst", string(to), errAttr(err))
	}
}
