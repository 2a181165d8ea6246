package network

import (
	"bytes"
	"context"
	"crypto/tls"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/luca-patrignani/zbcoll/zbcoll"
	"github.com/pkg/errors"
	"go.dedis.ch/protobuf"
)

// DefaultTimeout bounds a single Send, retries included.
const DefaultTimeout = 5 * time.Second

const retryInterval = 10 * time.Millisecond

// maxFrame is larger than any encoded frame.
const maxFrame = 1 << 10

// frame is the body of one POST: a single zero-buffer word and the
// transport address of its sender.
type frame struct {
	Sender string
	Bits   uint64
}

type event struct {
	send bool
	src  zbcoll.Addr
	bits uint64
	err  error
}

// Peer is a zbcoll.Transport over HTTP. Each word is POSTed to the
// destination peer; received words and send completions are queued until
// the owning endpoint calls Progress.
type Peer struct {
	addr    zbcoll.Addr
	scheme  string
	server  *http.Server
	client  *http.Client
	timeout time.Duration
	log     *slog.Logger

	mu     sync.Mutex
	events []event
	sends  sync.WaitGroup
	closed atomic.Bool
}

// NewPeer serves on l and returns the transport bound to its address.
func NewPeer(l net.Listener, opts ...PeerOption) *Peer {
	cfg := peerConfig{timeout: DefaultTimeout}
	for _, opt := range opts {
		cfg = opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	p := &Peer{
		addr:    zbcoll.Addr(l.Addr().String()),
		scheme:  "http",
		client:  &http.Client{},
		timeout: cfg.timeout,
	}
	p.log = cfg.logger.With("peer", string(p.addr))
	if cfg.tlsConfig != nil {
		p.scheme = "https"
		p.client.Transport = &http.Transport{TLSClientConfig: cfg.tlsConfig}
		l = tls.NewListener(l, cfg.tlsConfig)
	}
	p.server = &http.Server{Handler: p, ReadHeaderTimeout: p.timeout}
	go func() {
		err := p.server.Serve(l)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			p.log.Error("serve", "err", err.Error())
		}
	}()
	return p
}

func (p *Peer) LocalAddr() zbcoll.Addr {
	return p.addr
}

// Send POSTs bits to dst in the background. The completion, an ack on 202
// Accepted or an error otherwise, is reported by a later Progress.
func (p *Peer) Send(dst zbcoll.Addr, bits uint64) error {
	if p.closed.Load() {
		return errors.Wrapf(zbcoll.ErrUnreachable, "%s is closed", p.addr)
	}
	body, err := protobuf.Encode(&frame{Sender: string(p.addr), Bits: bits})
	if err != nil {
		return errors.Wrap(err, "encode frame")
	}
	p.sends.Add(1)
	go func() {
		defer p.sends.Done()
		err := p.post(dst, body)
		if err != nil {
			p.log.Debug("post failed", "dst", string(dst), "err", err.Error())
		}
		p.push(event{send: true, bits: bits, err: err})
	}()
	return nil
}

// post retries connection errors until the timeout so that peers may start
// in any order.
func (p *Peer) post(dst zbcoll.Addr, body []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	url := p.scheme + "://" + string(dst)
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return errors.Wrapf(zbcoll.ErrUnreachable, "%s: %v", dst, err)
		}
		req.Header.Set("Content-Type", "application/octet-stream")
		resp, err := p.client.Do(req)
		if err == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusAccepted {
				return nil
			}
			return errors.Wrapf(zbcoll.ErrUnreachable, "%s answered %s", dst, resp.Status)
		}
		select {
		case <-ctx.Done():
			return errors.Wrapf(zbcoll.ErrUnreachable, "%s: %v", dst, err)
		case <-time.After(retryInterval):
		}
	}
}

func (p *Peer) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if p.closed.Load() {
		rw.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	body, err := io.ReadAll(io.LimitReader(req.Body, maxFrame))
	if err != nil {
		rw.WriteHeader(http.StatusBadRequest)
		return
	}
	var f frame
	if err := protobuf.Decode(body, &f); err != nil || f.Sender == "" {
		p.log.Warn("bad frame", "remote", req.RemoteAddr, "err", err.Error())
		rw.WriteHeader(http.StatusBadRequest)
		return
	}
	p.push(event{src: zbcoll.Addr(f.Sender), bits: f.Bits})
	rw.WriteHeader(http.StatusAccepted)
}

func (p *Peer) push(ev event) {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
}

// Progress hands every queued receive and completion to h.
func (p *Peer) Progress(h zbcoll.Handler) {
	p.mu.Lock()
	events := p.events
	p.events = nil
	p.mu.Unlock()
	for _, ev := range events {
		if ev.send {
			h.SendComplete(ev.bits, ev.err)
		} else {
			h.Receive(ev.src, ev.bits)
		}
	}
}

// Close stops the server and waits for the sends in flight.
func (p *Peer) Close() error {
	p.closed.Store(true)
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	err := p.server.Shutdown(ctx)
	p.sends.Wait()
	return err
}

// CreateListeners opens n listeners on free localhost ports and returns them
// with their addresses.
func CreateListeners(n int) ([]net.Listener, []zbcoll.Addr) {
	listeners := make([]net.Listener, n)
	addresses := make([]zbcoll.Addr, n)
	for i := 0; i < n; i++ {
		l, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			panic(err)
		}
		listeners[i] = l
		addresses[i] = zbcoll.Addr(l.Addr().String())
	}
	return listeners, addresses
}
