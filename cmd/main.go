package main

import (
	"context"
	"crypto/x509"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/pterm/pterm"

	"github.com/luca-patrignani/zbcoll/metrics"
	"github.com/luca-patrignani/zbcoll/network"
)

const usage = `usage: zbcoll <mode> [flags]

modes:
  sim   simulate every rank on one in-memory endpoint
  net   run every rank as an HTTP peer in this process
  peer  run one rank of a multi-process group

run "zbcoll <mode> -h" for the flags of a mode`

type cliOptions struct {
	mode        string
	sc          scenario
	setup       peerSetup
	metricsAddr string
	tls         bool
	plain       bool
	verbose     bool
}

func parseArgs(args []string, output io.Writer) (cliOptions, error) {
	if len(args) < 1 {
		return cliOptions{}, errors.New(usage)
	}
	opts := cliOptions{mode: args[0]}
	def := defaultScenario()
	switch opts.mode {
	case "sim":
	case "net", "peer":
		def.Ranks = 4
	default:
		return cliOptions{}, errors.Errorf("unknown mode %q\n%s", opts.mode, usage)
	}

	fs := flag.NewFlagSet(opts.mode, flag.ContinueOnError)
	fs.SetOutput(output)
	ranks := fs.Int("n", def.Ranks, "number of ranks")
	radix := fs.Int("radix", def.Radix, "fan-out of the collective tree")
	reps := fs.Int("reps", def.Reps, "repetitions of each collective")
	comb := fs.String("combinator", def.Combinator, "reduce combinator: and|or|min|max|sum")
	shuffle := fs.Bool("shuffle", def.Shuffle, "randomize the processing order of simulated ranks")
	timeout := fs.Duration("timeout", def.Timeout, "time limit of each phase")
	config := fs.String("config", "", "TOML scenario file, flags override it")
	fs.StringVar(&opts.setup.Listen, "listen", "127.0.0.1:0", "peer mode: transport listen address")
	ports := fs.String("ports", "9000-9010", "peer mode: discovery port range")
	peers := fs.String("peers", "", "peer mode: comma-separated addresses of the other peers, partial IPs are completed from -listen")
	fs.StringVar(&opts.metricsAddr, "metrics", "", "serve Prometheus metrics on this address")
	fs.BoolVar(&opts.tls, "tls", false, "net mode: HTTPS with a self-signed certificate")
	fs.BoolVar(&opts.plain, "plain", false, "plain log output")
	fs.BoolVar(&opts.verbose, "v", false, "debug logging")
	if err := fs.Parse(args[1:]); err != nil {
		return cliOptions{}, err
	}
	if fs.NArg() > 0 {
		return cliOptions{}, errors.Errorf("unexpected arguments %v", fs.Args())
	}

	opts.sc = def
	if *config != "" {
		sc, err := loadScenario(*config, def)
		if err != nil {
			return cliOptions{}, err
		}
		opts.sc = sc
	}
	var err error
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "n":
			opts.sc.Ranks = *ranks
		case "radix":
			opts.sc.Radix = *radix
		case "reps":
			opts.sc.Reps = *reps
		case "combinator":
			opts.sc.Combinator = strings.ToLower(*comb)
		case "shuffle":
			opts.sc.Shuffle = *shuffle
		case "timeout":
			opts.sc.Timeout = *timeout
		case "peers":
			for _, p := range strings.Split(*peers, ",") {
				if p = strings.TrimSpace(p); p != "" {
					opts.setup.Peers = append(opts.setup.Peers, p)
				}
			}
		}
	})
	if opts.tls && opts.mode != "net" {
		return cliOptions{}, errors.Errorf("-tls is only supported in net mode")
	}
	opts.setup.PortLow, opts.setup.PortHigh, err = parsePortRange(*ports)
	if err != nil {
		return cliOptions{}, err
	}
	return opts, opts.sc.validate()
}

func newLogger(plain, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	if plain {
		return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			TimeFormat: "15:04:05.000",
		}))
	}
	logger := pterm.DefaultLogger
	if verbose {
		logger.Level = pterm.LogLevelDebug
	}
	return slog.New(pterm.NewSlogHandler(&logger))
}

func serveMetrics(addr string, collector *metrics.Collector, logger *slog.Logger) (*http.Server, error) {
	reg := prometheus.NewRegistry()
	if err := metrics.Register(reg, collector); err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "err", err.Error())
		}
	}()
	return srv, nil
}

// tlsOptions makes every peer of this process share one self-signed
// certificate.
func tlsOptions() ([]network.PeerOption, error) {
	cert, pem, err := network.GenerateSelfSignedCert("127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(pem)
	return []network.PeerOption{network.WithCertificate(cert), network.WithLimitedCAs(pool)}, nil
}

func run(ctx context.Context, opts cliOptions, logger *slog.Logger, collector *metrics.Collector) (report, error) {
	var peerOpts []network.PeerOption
	if opts.tls {
		var err error
		if peerOpts, err = tlsOptions(); err != nil {
			return report{}, err
		}
	}
	switch opts.mode {
	case "net":
		return runNet(ctx, opts.sc, logger, collector, peerOpts...)
	case "peer":
		return runPeer(ctx, opts.sc, opts.setup, logger, collector, peerOpts...)
	}
	return runSim(ctx, opts.sc, logger, collector)
}

func main() {
	opts, err := parseArgs(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger := newLogger(opts.plain, opts.verbose)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var collector *metrics.Collector
	if opts.metricsAddr != "" {
		collector = metrics.NewCollector()
		srv, err := serveMetrics(opts.metricsAddr, collector, logger)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		defer srv.Close()
	}
	if !opts.plain {
		printBanner()
	}
	var spinner *pterm.SpinnerPrinter
	if !opts.plain && !opts.verbose {
		spinner, _ = pterm.DefaultSpinner.Start(fmt.Sprintf("running %s mode with %d ranks ...", opts.mode, opts.sc.Ranks))
	}
	rep, err := run(ctx, opts, logger, collector)
	if spinner != nil {
		if err != nil {
			spinner.Fail()
		} else {
			spinner.Success()
		}
	}
	printReport(rep, err)
	if collector != nil && err == nil {
		pterm.Info.Printfln("serving metrics on %s until interrupted", opts.metricsAddr)
		<-ctx.Done()
	}
	if err != nil {
		stop()
		os.Exit(1)
	}
}
