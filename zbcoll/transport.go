package zbcoll

// Addr is the fabric address of one transport endpoint.
type Addr string

// Transport is the point-to-point reliable send primitive the engine runs
// on. Implementations must be safe for concurrent use; the engine itself
// calls them from a single goroutine.
type Transport interface {
	// LocalAddr returns the address other endpoints use to reach this one.
	LocalAddr() Addr
	// Send queues a 64-bit word for dst. It must not block on delivery;
	// the outcome is reported later through Handler.SendComplete. A non-nil
	// error means the word was not queued and no completion will follow.
	Send(dst Addr, bits uint64) error
	// Progress hands every pending completion and received word to h.
	Progress(h Handler)
}

// Handler consumes transport completions.
type Handler interface {
	SendComplete(bits uint64, err error)
	Receive(src Addr, bits uint64)
}
