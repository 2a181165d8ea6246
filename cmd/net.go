package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/luca-patrignani/zbcoll/discovery"
	"github.com/luca-patrignani/zbcoll/metrics"
	"github.com/luca-patrignani/zbcoll/network"
	"github.com/luca-patrignani/zbcoll/zbcoll"
	"github.com/pkg/errors"
)

// peerSetup tells a peer process how to find the others.
type peerSetup struct {
	Listen string
	// Peers lists the other processes; empty means port-range discovery.
	Peers    []string
	PortLow  uint16
	PortHigh uint16
}

// guessIpAddress takes a base IP address and a partial address string,
// and fills in the missing octets from the base address.
func guessIpAddress(baseAddress net.IP, partialAddr string) (net.IP, error) {
	ip := make(net.IP, len(baseAddress))
	copy(ip, baseAddress)
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	octets := strings.Split(partialAddr, ".")
	if len(octets) == 1 && octets[0] == "" {
		return ip, nil
	}
	if len(octets) > len(ip) {
		return nil, errors.Errorf("%q has more octets than %s", partialAddr, baseAddress)
	}
	for i := 0; i < len(octets); i++ {
		octet, err := strconv.ParseUint(octets[i], 10, 8)
		if err != nil {
			return nil, errors.Wrapf(err, "octet %q", octets[i])
		}
		ip[len(ip)-len(octets)+i] = byte(octet)
	}
	return ip, nil
}

// splitHostPort splits an address into host and port, using defaultPort if no port is specified.
func splitHostPort(addr string, defaultPort int) (string, string, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		host, port, err = net.SplitHostPort(addr + ":" + strconv.Itoa(defaultPort))
		if err != nil {
			return "", "", err
		}
	}
	return host, port, nil
}

// resolvePeers completes the partial peer addresses from the local one.
func resolvePeers(local string, partial []string) ([]zbcoll.Addr, error) {
	localHost, localPort, err := net.SplitHostPort(local)
	if err != nil {
		return nil, err
	}
	port, err := strconv.Atoi(localPort)
	if err != nil {
		return nil, err
	}
	base := net.ParseIP(localHost)
	if base == nil {
		return nil, errors.Errorf("local address %s is not an IP", local)
	}
	addrs := []zbcoll.Addr{zbcoll.Addr(local)}
	for _, p := range partial {
		host, peerPort, err := splitHostPort(p, port)
		if err != nil {
			return nil, errors.Wrapf(err, "peer %q", p)
		}
		ip, err := guessIpAddress(base, host)
		if err != nil {
			return nil, errors.Wrapf(err, "peer %q", p)
		}
		addrs = append(addrs, zbcoll.Addr(net.JoinHostPort(ip.String(), peerPort)))
	}
	return addrs, nil
}

func parsePortRange(s string) (uint16, uint16, error) {
	lo, hi, found := strings.Cut(s, "-")
	if !found {
		hi = lo
	}
	low, err := strconv.ParseUint(strings.TrimSpace(lo), 10, 16)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "port range %q", s)
	}
	high, err := strconv.ParseUint(strings.TrimSpace(hi), 10, 16)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "port range %q", s)
	}
	if low > high {
		return 0, 0, errors.Errorf("empty port range %q", s)
	}
	return uint16(low), uint16(high), nil
}

// runPeer runs this process as one rank of a multi-process group. Ranks are
// the sorted order of the transport addresses.
func runPeer(ctx context.Context, sc scenario, setup peerSetup, logger *slog.Logger, collector *metrics.Collector, opts ...network.PeerOption) (report, error) {
	l, err := net.Listen("tcp", setup.Listen)
	if err != nil {
		return report{}, errors.Wrapf(err, "listen on %s", setup.Listen)
	}
	local := l.Addr().String()
	logger.Info("listening", "address", local)

	var addrs []zbcoll.Addr
	if len(setup.Peers) > 0 {
		if addrs, err = resolvePeers(local, setup.Peers); err != nil {
			_ = l.Close()
			return report{}, err
		}
	} else {
		d, err := discovery.NewWithOptions(local,
			discovery.WithPortRange(setup.PortLow, setup.PortHigh),
			discovery.WithAttempts(uint(sc.Timeout/time.Second)+1),
			discovery.WithLogger(logger),
		)
		if err != nil {
			_ = l.Close()
			return report{}, err
		}
		// the others may still be scanning
		defer d.Close()
		found, err := d.Collect(ctx, sc.Ranks)
		if err != nil {
			_ = l.Close()
			return report{}, err
		}
		for _, f := range found {
			addrs = append(addrs, zbcoll.Addr(f))
		}
	}
	slices.Sort(addrs)
	addrs = slices.Compact(addrs)

	peer := network.NewPeer(l, append(slices.Clone(opts), network.WithLogger(logger))...)
	defer peer.Close()
	ep := zbcoll.NewEndpoint(peer, zbcoll.WithRadix(sc.Radix), zbcoll.WithLogger(logger))
	if collector != nil {
		collector.Add(ep)
	}
	obj, err := ep.Alloc(addrs)
	if err != nil {
		return report{}, err
	}
	defer obj.Free()
	logger.Info("joined group", "rank", obj.Rank(), "ranks", obj.Count())

	sc.Ranks = obj.Count()
	grpid, results, err := drive(ctx, ep, obj, sc)
	if err == nil {
		err = finalBarrier(ctx, ep, obj, sc.Timeout)
	}
	return report{
		Title:    fmt.Sprintf("rank %d of %d at %s", obj.Rank(), obj.Count(), local),
		GroupID:  grpid,
		Results:  results,
		Counters: ep.Counters(),
	}, err
}
