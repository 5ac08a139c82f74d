// Command opsdeck runs operations tooling (docker, kubectl, terraform,
// ansible) through a supervised command runner, from the command line,
// a browser dashboard or an MCP client.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/deixis/opsdeck"
	"github.com/deixis/opsdeck/internal/config"
	opslog "github.com/deixis/opsdeck/internal/log"
	opsmcp "github.com/deixis/opsdeck/internal/mcp"
	"github.com/deixis/opsdeck/internal/ops"
	"github.com/deixis/opsdeck/internal/runner"
	"github.com/deixis/opsdeck/internal/transcript"
	"github.com/deixis/opsdeck/internal/web"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/time/rate"
)

func main() {
	log.SetFlags(0)
	log.SetPrefix("opsdeck: ")

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "run":
		err = runMain(args)
	case "op":
		err = opMain(args)
	case "say":
		err = sayMain(args)
	case "ops":
		err = opsMain(args)
	case "tools":
		err = toolsMain(args)
	case "serve":
		err = serveMain(args)
	case "mcp":
		err = mcpMain(args)
	case "version":
		fmt.Println(opsdeck.Version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "opsdeck: unknown command %q\n", cmd)
		usage()
		os.Exit(2)
	}

	if err != nil {
		log.Fatal(err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: opsdeck <command> [flags] [arguments]

Commands:
  run         Run a shell command line: opsdeck run -- <command>
  op          Run a named operation: opsdeck op docker.pull image=nginx
  say         Run the operation matching a phrase: opsdeck say show docker containers
  ops         List the named operations
  tools       Report which external tools are installed
  serve       Start the web dashboard
  mcp         Start the MCP server
  version     Print the version
  help        Show this help

Use "opsdeck <command> -h" for command-specific flags.`)
}

// --- run ---

func runMain(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	dirFlag := fs.String("dir", "", "working directory (default: current directory)")
	timeoutFlag := fs.Duration("timeout", 0, "override configured timeout (e.g. 30s)")
	jsonFlag := fs.Bool("json", false, "output the result as JSON")
	verboseFlag := fs.Bool("v", false, "log executions to stderr")
	_ = fs.Parse(args)

	command := strings.Join(fs.Args(), " ")
	if command == "" {
		return errors.New("run: missing command")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	eng, err := newEngine(*verboseFlag)
	if err != nil {
		return err
	}
	dir := *dirFlag
	if dir == "" {
		dir = "."
	}
	// Raw commands run relative to where they were typed, not the config root.
	if dir, err = filepath.Abs(dir); err != nil {
		return fmt.Errorf("run: %w", err)
	}
	entry := eng.ExecRaw(ctx, runner.Request{Command: command, Dir: dir, Timeout: *timeoutFlag}, "cli")
	return report(entry, *jsonFlag)
}

// --- op ---

func opMain(args []string) error {
	fs := flag.NewFlagSet("op", flag.ExitOnError)
	dirFlag := fs.String("dir", "", "working directory relative to the workspace")
	timeoutFlag := fs.Duration("timeout", 0, "override the operation timeout (e.g. 10m)")
	jsonFlag := fs.Bool("json", false, "output the result as JSON")
	dryRunFlag := fs.Bool("dry-run", false, "print the command line without running it")
	verboseFlag := fs.Bool("v", false, "log executions to stderr")
	_ = fs.Parse(args)

	if fs.NArg() == 0 {
		return errors.New("op: missing operation name (see opsdeck ops)")
	}
	opArgs, err := parseArgs(fs.Args()[1:])
	if err != nil {
		return fmt.Errorf("op: %w", err)
	}
	d := ops.Descriptor{
		Operation: fs.Arg(0),
		Args:      opArgs,
		Dir:       *dirFlag,
		Timeout:   *timeoutFlag,
		Source:    "cli",
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	eng, err := newEngine(*verboseFlag)
	if err != nil {
		return err
	}

	if *dryRunFlag {
		req, err := eng.Preview(d)
		if err != nil {
			return fmt.Errorf("op: %w", err)
		}
		fmt.Println(req.Command)
		return nil
	}

	entry, err := eng.Execute(ctx, d)
	if err != nil {
		return fmt.Errorf("op: %w", err)
	}
	return report(entry, *jsonFlag)
}

// parseArgs turns key=value tokens into operation arguments.
func parseArgs(tokens []string) (map[string]string, error) {
	out := make(map[string]string, len(tokens))
	for _, tok := range tokens {
		key, value, ok := strings.Cut(tok, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("argument %q: expected key=value", tok)
		}
		if _, dup := out[key]; dup {
			return nil, fmt.Errorf("argument %q given more than once", key)
		}
		out[key] = value
	}
	return out, nil
}

// --- say ---

func sayMain(args []string) error {
	fs := flag.NewFlagSet("say", flag.ExitOnError)
	jsonFlag := fs.Bool("json", false, "output the result as JSON")
	verboseFlag := fs.Bool("v", false, "log executions to stderr")
	_ = fs.Parse(args)

	text := strings.Join(fs.Args(), " ")
	if text == "" {
		return errors.New("say: missing phrase")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	eng, err := newEngine(*verboseFlag)
	if err != nil {
		return err
	}
	entry, err := eng.Match(ctx, text, "cli")
	if err != nil {
		return fmt.Errorf("say: %w", err)
	}
	return report(entry, *jsonFlag)
}

// --- ops / tools ---

func opsMain(args []string) error {
	fs := flag.NewFlagSet("ops", flag.ExitOnError)
	jsonFlag := fs.Bool("json", false, "output the catalog as JSON")
	_ = fs.Parse(args)

	eng, err := newEngine(false)
	if err != nil {
		return err
	}
	if *jsonFlag {
		return writeJSON(eng.Catalog.List())
	}
	fmt.Print(formatCatalog(eng.Catalog.List()))
	return nil
}

func toolsMain(args []string) error {
	fs := flag.NewFlagSet("tools", flag.ExitOnError)
	jsonFlag := fs.Bool("json", false, "output tool status as JSON")
	_ = fs.Parse(args)

	eng, err := newEngine(false)
	if err != nil {
		return err
	}
	if *jsonFlag {
		return writeJSON(eng.Tools())
	}
	fmt.Print(formatTools(eng.Tools()))
	return nil
}

// --- serve ---

func serveMain(args []string) error {
	env, err := config.LoadEnv()
	if err != nil {
		return fmt.Errorf("reading environment: %w", err)
	}

	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	listenFlag := fs.String("listen", env.Listen, "dashboard listen address")
	_ = fs.Parse(args)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	logger := opslog.New(env.LogLevel, env.LogFormat, os.Stderr)
	eng, err := buildEngine(env, logger)
	if err != nil {
		return err
	}
	if eng.Config.AllowRaw {
		logger.Warn("raw commands are enabled for the dashboard")
	}

	srv := web.NewServer(eng, web.Options{
		Limiter:         newLimiter(env.RatePerMinute),
		Logger:          logger,
		ShutdownTimeout: env.ShutdownTimeout,
	})
	return srv.Serve(ctx, *listenFlag)
}

// --- mcp ---

func mcpMain(args []string) error {
	fs := flag.NewFlagSet("mcp", flag.ExitOnError)
	instructions := fs.Bool("instructions", false, "print model instructions and exit")
	httpAddr := fs.String("http", "", "start HTTP server on address (e.g. :9090)")
	_ = fs.Parse(args)

	if *instructions {
		fmt.Print(opsmcp.Instructions)
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	return serveMCP(ctx, *httpAddr)
}

func serveMCP(ctx context.Context, httpAddr string) error {
	env, err := config.LoadEnv()
	if err != nil {
		return fmt.Errorf("reading environment: %w", err)
	}
	logger := opslog.New(env.LogLevel, env.LogFormat, os.Stderr)
	eng, err := buildEngine(env, logger)
	if err != nil {
		return err
	}

	opts := []opsmcp.ServerOption{opsmcp.WithRateLimit(newLimiter(env.RatePerMinute))}
	if httpAddr == "" {
		opts = append(opts, opsmcp.WithRoots())
	}
	server := opsmcp.NewServer(eng, opts...)

	if httpAddr != "" {
		return serveHTTP(ctx, server, httpAddr, env.ShutdownTimeout)
	}
	return server.Run(ctx, &mcpsdk.StdioTransport{})
}

func serveHTTP(ctx context.Context, server *mcpsdk.Server, addr string, shutdownTimeout time.Duration) error {
	handler := mcpsdk.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcpsdk.Server { return server },
		nil,
	)

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	log.Printf("listening on %s", addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// --- shared ---

// newEngine builds an engine for one-shot commands. Executions are only
// logged when verbose is set.
func newEngine(verbose bool) (*ops.Engine, error) {
	env, err := config.LoadEnv()
	if err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}
	logger := opslog.Discard()
	if verbose {
		logger = opslog.New("debug", env.LogFormat, os.Stderr)
	}
	return buildEngine(env, logger)
}

func buildEngine(env config.Env, logger *slog.Logger) (*ops.Engine, error) {
	workspace, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("determining workspace: %w", err)
	}

	loaded, err := env.Resolve(workspace)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	cfg := loaded.Config

	catalog, err := ops.FromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("loading operations: %w", err)
	}

	welcome := cfg.Welcome
	if welcome == "" {
		welcome = transcript.DefaultWelcome
	}

	logger.Debug("configuration loaded", "root", loaded.Root, "path", loaded.Path, "operations", len(catalog.List()))

	return &ops.Engine{
		Config:    cfg,
		Runner:    &runner.Runner{Timeout: cfg.Timeout(), MaxOutput: cfg.MaxOutputBytes()},
		Catalog:   catalog,
		Log:       transcript.New(welcome, cfg.TranscriptLimit()),
		Logger:    logger,
		Workspace: loaded.Root,
	}, nil
}

// newLimiter allows perMinute run requests per minute, with bursts of
// the same size. Zero or less disables limiting.
func newLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(float64(perMinute)/60), perMinute)
}

// report prints entry and exits with status 1 unless it succeeded.
func report(entry transcript.Entry, asJSON bool) error {
	if asJSON {
		if err := writeJSON(entry); err != nil {
			return err
		}
	} else {
		fmt.Print(formatEntry(entry))
	}
	if !entry.OK() {
		os.Exit(1)
	}
	return nil
}

func writeJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
