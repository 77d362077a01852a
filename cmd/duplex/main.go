package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/Mindburn-Labs/duplex/pkg/action"
	"github.com/Mindburn-Labs/duplex/pkg/config"
	"github.com/Mindburn-Labs/duplex/pkg/environment"
	"github.com/Mindburn-Labs/duplex/pkg/history"
	"github.com/Mindburn-Labs/duplex/pkg/invoke"
	"github.com/Mindburn-Labs/duplex/pkg/jsonrpc"
	"github.com/Mindburn-Labs/duplex/pkg/observability"
	"github.com/Mindburn-Labs/duplex/pkg/peer"
	"github.com/Mindburn-Labs/duplex/pkg/registry"

	_ "github.com/lib/pq" // Postgres driver for DUPLEX_HISTORY_DSN
)

func main() {
	os.Exit(Run(os.Args, os.Stdin, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing
func Run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}

	switch args[1] {
	case "validate":
		return runValidateCmd(args[2:], stdout, stderr)
	case "specs":
		return runSpecsCmd(args[2:], stdout, stderr)
	case "receive":
		return runReceiveCmd(args[2:], stdin, stdout, stderr)
	case "call":
		return runCallCmd(args[2:], stdout, stderr)
	case "version":
		_, _ = fmt.Fprintf(stdout, "duplex protocol %s\n", registry.ProtocolVersion)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "Usage: duplex <command> [flags]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "Commands:")
	_, _ = fmt.Fprintln(w, "  validate [manifest]               load and compile an action manifest")
	_, _ = fmt.Fprintln(w, "  specs [manifest]                  list declared actions")
	_, _ = fmt.Fprintln(w, "  receive [manifest]                answer one wire message read from stdin")
	_, _ = fmt.Fprintln(w, "  call [manifest] <method> [json]   run a request through an in-process backend")
	_, _ = fmt.Fprintln(w, "  version                           print the protocol version")
}

func loadSpecs(path string) (*registry.Manifest, *registry.Specs, error) {
	m, err := registry.LoadManifest(path)
	if err != nil {
		return nil, nil, err
	}
	specs := registry.NewSpecs()
	if err := m.Register(specs); err != nil {
		return nil, nil, err
	}
	return m, specs, nil
}

func manifestArg(cmd *flag.FlagSet, cfg *config.Config) string {
	if cmd.NArg() > 0 {
		return cmd.Arg(0)
	}
	return cfg.ManifestPath
}

func runValidateCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("validate", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	cfg := config.Load()

	m, specs, err := loadSpecs(manifestArg(cmd, cfg))
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "%s: %d actions OK\n", m.Name, specs.Len())
	return 0
}

func runSpecsCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("specs", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	asJSON := cmd.Bool("json", false, "print as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	cfg := config.Load()

	_, specs, err := loadSpecs(manifestArg(cmd, cfg))
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	type row struct {
		Method    string           `json:"method"`
		Kind      action.Kind      `json:"kind"`
		Initiator action.Initiator `json:"initiator"`
		Async     bool             `json:"async"`
	}
	var rows []row
	for _, s := range specs.List() {
		rows = append(rows, row{Method: s.Method, Kind: s.Kind, Initiator: s.Initiator, Async: s.Async})
	}
	if *asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rows); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	}
	for _, r := range rows {
		async := ""
		if r.Async {
			async = "async"
		}
		_, _ = fmt.Fprintf(stdout, "%-24s %-20s %-9s %s\n", r.Method, r.Kind, r.Initiator, async)
	}
	return 0
}

// endpoint is the runtime assembled from config for receive and call.
type endpoint struct {
	cfg       *config.Config
	specs     *registry.Specs
	telemetry *observability.Provider
	recorder  *history.Recorder
	closers   []func() error
}

func openEndpoint(ctx context.Context, cfg *config.Config, manifest string, stderr io.Writer) (*endpoint, error) {
	slog.SetDefault(slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})))

	_, specs, err := loadSpecs(manifest)
	if err != nil {
		return nil, err
	}
	ep := &endpoint{cfg: cfg, specs: specs}

	otel := observability.DefaultConfig()
	otel.Enabled = cfg.TelemetryEnabled
	otel.OTLPEndpoint = cfg.OTLPEndpoint
	ep.telemetry, err = observability.New(ctx, otel)
	if err != nil {
		return nil, err
	}
	ep.closers = append(ep.closers, func() error { return ep.telemetry.Shutdown(context.Background()) })

	if cfg.HistoryDSN != "" {
		store, closeStore, err := history.Open(ctx, cfg.HistoryDSN)
		if err != nil {
			ep.close()
			return nil, err
		}
		ep.recorder = history.NewRecorder(store)
		ep.closers = append(ep.closers, closeStore)
	}
	return ep, nil
}

func (ep *endpoint) peerOptions() []peer.Option {
	opts := []peer.Option{
		peer.WithMaxConcurrency(ep.cfg.BatchConcurrency),
		peer.WithRateLimit(ep.cfg.RateLimitRPS, ep.cfg.RateLimitBurst),
		peer.WithTelemetry(ep.telemetry),
	}
	if ep.recorder != nil {
		opts = append(opts, peer.WithObserver(ep.recorder.Observer()))
	}
	return opts
}

func (ep *endpoint) close() {
	for i := len(ep.closers) - 1; i >= 0; i-- {
		if err := ep.closers[i](); err != nil {
			slog.Warn("shutdown", "error", err)
		}
	}
}

func runReceiveCmd(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("receive", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	remote := cmd.String("remote", "stdin", "remote key used for rate limiting")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	cfg := config.Load()
	ctx := context.Background()

	ep, err := openEndpoint(ctx, cfg, manifestArg(cmd, cfg), stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer ep.close()

	var p *peer.Peer
	switch action.Side(cfg.Side) {
	case action.SideBackend:
		p = environment.NewBackend(ep.specs, nil, environment.WithPeerOptions(ep.peerOptions()...)).Peer()
	case action.SideFrontend:
		p = peer.New(environment.NewFrontend(ep.specs, nil, nil), ep.peerOptions()...)
	default:
		_, _ = fmt.Fprintf(stderr, "Error: DUPLEX_SIDE must be frontend or backend, got %q\n", cfg.Side)
		return 2
	}

	raw, err := io.ReadAll(stdin)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error reading stdin: %v\n", err)
		return 1
	}
	reply := p.Receive(peer.WithRemote(ctx, *remote), raw)
	if reply == nil {
		return 0
	}
	data, err := jsonrpc.Encode(reply)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintln(stdout, string(data))
	return 0
}

func runCallCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("call", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	manifest := cmd.String("manifest", "", "action manifest (default $DUPLEX_MANIFEST)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if cmd.NArg() < 1 {
		_, _ = fmt.Fprintln(stderr, "Usage: duplex call [-manifest file] <method> [params-json]")
		return 2
	}
	cfg := config.Load()
	if *manifest == "" {
		*manifest = cfg.ManifestPath
	}
	ctx := context.Background()

	var input any
	if cmd.NArg() > 1 {
		v, err := jsonrpc.DecodeValue([]byte(cmd.Arg(1)))
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: params: %v\n", err)
			return 2
		}
		input = v
	}

	ep, err := openEndpoint(ctx, cfg, *manifest, stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer ep.close()

	backend := environment.NewBackend(ep.specs, nil, environment.WithPeerOptions(ep.peerOptions()...))
	transports := peer.NewTransportRegistry()
	_ = transports.Register("loopback", peer.NewLoopback(backend.Peer()))
	transport, err := transports.Lookup(cfg.Transport)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v (available: %v)\n", err, transports.Names())
		return 2
	}
	frontend := environment.NewFrontend(ep.specs, nil, transport)

	var opts []invoke.Option
	if ep.recorder != nil {
		opts = append(opts, invoke.WithObserver(ep.recorder.Observer()))
	}
	ev, err := invoke.Request(ctx, frontend, frontend, cmd.Arg(0), input, opts...)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	data, err := json.Marshal(ev.Output())
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintln(stdout, string(data))
	return 0
}
