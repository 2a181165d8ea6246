// Package discovery finds the other processes of a local multi-process run.
// Each process serves its transport address on the first free port of a
// localhost range and scans the rest of the range for the others.
package discovery

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/pkg/errors"
)

type Entry struct {
	Info string
	Port uint16
}

type Discover struct {
	Entries   chan Entry
	info      string
	port      uint16
	startPort uint16
	endPort   uint16
	attempts  uint
	interval  time.Duration
	server    *http.Server
	log       *slog.Logger
	client    http.Client
	done      chan struct{}
	closeOnce sync.Once
}

type handler struct {
	info string
}

func (h handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_, _ = io.WriteString(w, h.info)
}

func NewWithPortRange(info string, startPort, endPort uint16, attempts uint) (*Discover, error) {
	return NewWithOptions(info,
		WithPortRange(startPort, endPort),
		WithAttempts(attempts),
	)
}

// NewWithOptions starts serving info and scanning. Every entry found is sent
// on Entries; each scan attempt walks the whole range once.
func NewWithOptions(info string, opts ...option) (*Discover, error) {
	cfg := config{
		startPort: 9000,
		endPort:   9010,
		attempts:  1,
		interval:  time.Second,
	}
	for _, opt := range opts {
		cfg = opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	d := &Discover{
		info:      info,
		startPort: cfg.startPort,
		endPort:   cfg.endPort,
		attempts:  cfg.attempts,
		interval:  cfg.interval,
		log:       cfg.logger,
		client:    http.Client{Timeout: time.Second},
		done:      make(chan struct{}),
	}
	if d.startPort > d.endPort {
		return nil, errors.Errorf("empty port range %d-%d", d.startPort, d.endPort)
	}
	d.Entries = make(chan Entry, int(d.endPort-d.startPort)+1)

	var l net.Listener
	var err error
	for port := d.startPort; ; port++ {
		l, err = net.Listen("tcp", fmt.Sprintf("localhost:%d", port))
		if err == nil {
			d.port = port
			break
		}
		if port == d.endPort {
			return nil, errors.Wrapf(err, "no free port in %d-%d", d.startPort, d.endPort)
		}
	}
	d.log = d.log.With("discovery", d.port)
	d.server = &http.Server{
		Handler:           handler{info: info},
		ReadHeaderTimeout: time.Second,
	}
	go func() {
		if err := d.server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.log.Error("serve", "err", err.Error())
		}
	}()
	go func() {
		for i := range d.attempts {
			if i > 0 {
				select {
				case <-d.done:
					return
				case <-time.After(d.interval):
				}
			}
			d.search()
		}
	}()
	return d, nil
}

// Port returns the port info is served on.
func (d *Discover) Port() uint16 {
	return d.port
}

func (d *Discover) search() {
	for port := d.startPort; ; port++ {
		if port != d.port {
			if info, err := d.fetch(port); err == nil {
				select {
				case d.Entries <- Entry{Info: info, Port: port}:
				case <-d.done:
					return
				}
			}
		}
		if port == d.endPort {
			return
		}
	}
}

func (d *Discover) fetch(port uint16) (string, error) {
	resp, err := d.client.Get(fmt.Sprintf("http://localhost:%d", port))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.Wrapf(err, "read from port %d", port)
	}
	return string(buf), nil
}

// Collect waits until the infos of n-1 other processes have been found and
// returns them sorted, together with the local one.
func (d *Discover) Collect(ctx context.Context, n int) ([]string, error) {
	found := map[string]struct{}{d.info: {}}
	for len(found) < n {
		select {
		case <-ctx.Done():
			return nil, errors.Wrapf(ctx.Err(), "found %d of %d peers", len(found), n)
		case e := <-d.Entries:
			if _, ok := found[e.Info]; !ok {
				d.log.Debug("found", "info", e.Info, "port", e.Port)
			}
			found[e.Info] = struct{}{}
		}
	}
	infos := make([]string, 0, n)
	for i := range found {
		infos = append(infos, i)
	}
	slices.Sort(infos)
	return infos, nil
}

func (d *Discover) Close() error {
	d.closeOnce.Do(func() { close(d.done) })
	return d.server.Shutdown(context.Background())
}
