// Command gfeed serves a directory of BRL-CAD geometry files over HTTP,
// with an RSS feed and HTML/text listings of its contents.
//
// Usage:
//
//	gfeed [flags] [data-dir]
//
// Examples:
//
//	gfeed -addr :8080 /srv/geometry
//	gfeed -config gfeed.yaml -json-logs
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/dshills/gfeed/feed"
	"github.com/dshills/gfeed/feed/emit"
	"github.com/dshills/gfeed/feed/store"
)

// DSNEnv overrides store.dsn so credentials can stay out of config files.
const DSNEnv = "GFEED_STORE_DSN"

// Args represents parsed command-line arguments.
type Args struct {
	// ConfigFile is an optional YAML configuration file
	ConfigFile string
	// Addr overrides the listen address
	Addr string
	// DataDir overrides the data directory (flag or positional argument)
	DataDir string
	// BaseURL overrides the public base URL
	BaseURL string
	// Prefix overrides the mount prefix
	Prefix string
	// JSONLogs switches request logs to JSON lines
	JSONLogs bool
	// Watch enables filesystem watching of the data directory
	Watch bool
	// set records which flags were given explicitly
	set map[string]bool
	// Err is any error encountered during parsing
	Err error
}

// parseArgs parses command-line arguments and returns an Args struct.
// If parsing fails, the Err field will contain the error.
func parseArgs(osArgs []string) Args {
	fs := flag.NewFlagSet("gfeed", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	configFile := fs.String("config", "", "path to config YAML file")
	addr := fs.String("addr", "", "listen address (default :8080)")
	dataDir := fs.String("data", "", "directory of geometry files (default .)")
	baseURL := fs.String("base-url", "", "public base URL for links (default: derived from requests)")
	prefix := fs.String("prefix", "", "URL path the server is mounted under")
	jsonLogs := fs.Bool("json-logs", false, "write request logs as JSON lines")
	watch := fs.Bool("watch", false, "watch the data directory for changes")

	if err := fs.Parse(osArgs); err != nil {
		return Args{Err: fmt.Errorf("flag parsing error: %w", err)}
	}

	args := Args{
		ConfigFile: *configFile,
		Addr:       *addr,
		DataDir:    *dataDir,
		BaseURL:    *baseURL,
		Prefix:     *prefix,
		JSONLogs:   *jsonLogs,
		Watch:      *watch,
		set:        map[string]bool{},
	}
	fs.Visit(func(f *flag.Flag) { args.set[f.Name] = true })

	switch rest := fs.Args(); len(rest) {
	case 0:
	case 1:
		if args.set["data"] {
			return Args{Err: fmt.Errorf("data directory given twice: -data %s and %s", *dataDir, rest[0])}
		}
		args.DataDir = rest[0]
		args.set["data"] = true
	default:
		return Args{Err: fmt.Errorf("unexpected arguments: %v", rest[1:])}
	}

	return args
}

// buildConfig loads the config file (if any) and applies flag and
// environment overrides.
func buildConfig(args Args, getenv func(string) string) (feed.Config, error) {
	cfg := feed.DefaultConfig()
	if args.ConfigFile != "" {
		loaded, err := feed.LoadConfig(args.ConfigFile)
		if err != nil {
			return feed.Config{}, err
		}
		cfg = loaded
	}

	if args.set["addr"] {
		cfg.Listen = args.Addr
	}
	if args.set["data"] {
		cfg.DataDir = args.DataDir
	}
	if args.set["base-url"] {
		cfg.BaseURL = args.BaseURL
	}
	if args.set["prefix"] {
		cfg.Prefix = args.Prefix
	}
	if args.set["json-logs"] {
		cfg.Log.JSON = args.JSONLogs
	}
	if args.set["watch"] {
		cfg.Watch = args.Watch
	}
	if dsn := getenv(DSNEnv); dsn != "" {
		cfg.Store.DSN = dsn
	}

	if err := cfg.Validate(); err != nil {
		return feed.Config{}, err
	}
	return cfg, nil
}

// app holds everything a running server owns.
type app struct {
	cfg      feed.Config
	server   *feed.Server
	catalog  *feed.Catalog
	watcher  *feed.Watcher
	ledger   store.Store
	registry *prometheus.Registry
	tracer   *sdktrace.TracerProvider
	handler  http.Handler
}

// newApp wires store, emitters, metrics, catalog and server from cfg.
// Request logs go to logOut.
func newApp(cfg feed.Config, logOut io.Writer) (*app, error) {
	a := &app{cfg: cfg}

	ledger, err := store.Open(cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	a.ledger = ledger

	emitters := []emit.Emitter{emit.NewLogEmitter(logOut, cfg.Log.JSON)}
	if cfg.Tracing.Enabled {
		tp, err := newTracerProvider(cfg.Tracing.ServiceName, logOut)
		if err != nil {
			a.closeStore()
			return nil, err
		}
		a.tracer = tp
		emitters = append(emitters, emit.NewOTelEmitter(tp.Tracer("gfeed")))
	}
	emitter := emit.NewMultiEmitter(emitters...)

	var metrics *feed.PrometheusMetrics
	if cfg.Metrics.Enabled {
		a.registry = prometheus.NewRegistry()
		a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = feed.NewPrometheusMetrics(a.registry)
	}

	catalogOpts := append(cfg.CatalogOptions(),
		feed.WithCatalogEmitter(emitter),
		feed.WithCatalogMetrics(metrics),
	)
	a.catalog = feed.NewCatalog(cfg.DataDir, catalogOpts...)

	opts, err := cfg.ServerOptions()
	if err != nil {
		a.closeStore()
		return nil, err
	}
	opts = append(opts, feed.WithEmitter(emitter), feed.WithMetrics(metrics))
	if ledger != nil {
		opts = append(opts, feed.WithStore(ledger))
	}

	srv, err := feed.NewServer(a.catalog, opts...)
	if err != nil {
		a.closeStore()
		return nil, err
	}
	a.server = srv

	if cfg.Watch {
		w, err := feed.NewWatcher(a.catalog, 0, emitter)
		if err != nil {
			a.closeStore()
			return nil, err
		}
		a.watcher = w
	}

	a.handler = a.routes()
	return a, nil
}

func newTracerProvider(serviceName string, out io.Writer) (*sdktrace.TracerProvider, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(out))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", serviceName))),
	), nil
}

// routes builds the top-level mux: the feed server under its prefix, plus
// /metrics and /healthz.
func (a *app) routes() http.Handler {
	mux := http.NewServeMux()

	var feedHandler http.Handler = a.server
	if a.tracer != nil {
		feedHandler = otelhttp.NewHandler(a.server, "gfeed", otelhttp.WithTracerProvider(a.tracer))
	}
	if prefix := strings.TrimRight(a.cfg.Prefix, "/"); prefix == "" {
		mux.Handle("/", feedHandler)
	} else {
		mux.Handle(prefix, feedHandler)
		mux.Handle(prefix+"/", feedHandler)
	}

	if a.registry != nil {
		mux.Handle(a.cfg.Metrics.Path, promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	}
	mux.HandleFunc("/healthz", a.healthz)
	return mux
}

// healthz reports 200 when the data directory is readable and the ledger,
// if any, answers a ping.
func (a *app) healthz(w http.ResponseWriter, r *http.Request) {
	if info, err := os.Stat(a.catalog.Dir()); err != nil || !info.IsDir() {
		http.Error(w, feed.ErrDataDirMissing.Error(), http.StatusServiceUnavailable)
		return
	}
	if p, ok := a.ledger.(interface{ Ping(context.Context) error }); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, "ok")
}

// run serves on ln until ctx is canceled, then shuts down gracefully.
func (a *app) run(ctx context.Context, ln net.Listener) error {
	if a.watcher != nil {
		if err := a.watcher.Start(ctx); err != nil {
			log.Printf("Watcher disabled: %v", err)
		}
	}

	httpServer := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// close releases the watcher, tracer and store.
func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.watcher != nil {
		if err := a.watcher.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("watcher: %w", err))
		}
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer: %w", err))
		}
	}
	if a.ledger != nil {
		if err := a.ledger.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (a *app) closeStore() {
	if a.ledger != nil {
		_ = a.ledger.Close()
	}
}

func main() {
	args := parseArgs(os.Args[1:])
	if args.Err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", args.Err)
		os.Exit(2)
	}

	cfg, err := buildConfig(args, os.Getenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	a, err := newApp(cfg, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		_ = a.close(context.Background())
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("Serving %s on %s (prefix %q)", a.catalog.Dir(), ln.Addr(), cfg.Prefix)
	if cfg.Metrics.Enabled {
		log.Printf("Prometheus metrics: %s", cfg.Metrics.Path)
	}

	runErr := a.run(ctx, ln)
	log.Println("Shutting down...")

	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := errors.Join(runErr, a.close(closeCtx)); err != nil {
		log.Printf("Error: %v", err)
		os.Exit(1)
	}
}
