// Command middleman turns web pages into forms and records by matching them
// against a library of HTML patterns.
//
// Usage:
//
//	middleman                         # same as "server"
//	middleman list                    # list pattern files
//	middleman distill <url|file> [hostname]
//	middleman run <url>               # unattended automation in the terminal
//	middleman server                  # HTTP server on $PORT
//	middleman mcp                     # MCP tools over stdio
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/middleman/automate"
	"github.com/hazyhaar/middleman/browser"
	"github.com/hazyhaar/middleman/config"
	"github.com/hazyhaar/middleman/distill"
	"github.com/hazyhaar/middleman/history"
	"github.com/hazyhaar/middleman/pattern"
	"github.com/hazyhaar/middleman/render"
	"github.com/hazyhaar/middleman/secrets"
	"github.com/hazyhaar/middleman/selector"
	"github.com/hazyhaar/middleman/server"
	"github.com/hazyhaar/middleman/session"
	"github.com/hazyhaar/middleman/shield"
)

const usage = `usage: middleman [flags] list | distill <url|file> [hostname] | run <url> | server | mcp`

func main() {
	configPath := flag.String("config", "", "path to middleman.yaml config file")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	logFormat := flag.String("log-format", "text", "log format: text, json")
	format := flag.String("format", "html", "distill output: html, md")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	if cfg.Debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if *logFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	command := "server"
	args := flag.Args()
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}

	if err := run(ctx, logger, cfg, command, args, *format); err != nil {
		logger.Error("middleman: fatal", "command", command, "error", err)
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, cfg *config.Config, command string, args []string, format string) error {
	switch command {
	case "list":
		return runList(cfg)
	case "distill":
		if len(args) < 1 {
			return errors.New(usage)
		}
		hostname := ""
		if len(args) > 1 {
			hostname = args[1]
		}
		return runDistill(ctx, logger, cfg, args[0], hostname, format)
	case "run":
		if len(args) < 1 {
			return errors.New(usage)
		}
		return runAutomation(ctx, logger, cfg, args[0])
	case "server":
		return runServer(ctx, logger, cfg)
	case "mcp":
		return runMCP(ctx, logger, cfg)
	}
	return fmt.Errorf("unknown command %q\n%s", command, usage)
}

// app is the wiring shared by the commands that drive pages.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	browser  *browser.Manager
	sessions *session.Manager
	machine  *automate.Machine
	history  *history.Store
}

// newApp connects to Chrome when live is set and wires the automation
// machine. Pause, when non-nil, runs after each distillation.
func newApp(ctx context.Context, logger *slog.Logger, cfg *config.Config, live bool, pause func(context.Context)) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	var opener session.Opener
	if live {
		logger.Info("middleman: checking for remote Chrome", "cdp_url", cfg.CDPURL)
		if err := browser.Probe(ctx, cfg.CDPURL); err != nil {
			return nil, fmt.Errorf("unable to detect remote Chrome with CDP: %w", err)
		}
		denylist, err := browser.LoadDenylist(cfg.Denylist)
		if err != nil {
			return nil, err
		}
		a.browser = browser.NewManager(browser.Config{
			RemoteURL:         cfg.CDPURL,
			ResourceBlocking:  cfg.Browser.ResourceBlocking,
			Denylist:          denylist,
			Stealth:           cfg.Browser.Stealth,
			NavigationTimeout: cfg.Browser.NavigationTimeout,
			Logger:            logger,
		})
		if _, err := a.browser.Start(); err != nil {
			return nil, err
		}
		opener = a.browser
	}
	a.sessions = session.NewManager(opener, session.WithLogger(logger))

	var opts []automate.Option
	if cfg.History != "" {
		store, err := history.Open(cfg.History)
		if err != nil {
			a.close(ctx)
			return nil, err
		}
		a.history = store
		opts = append(opts, automate.WithRecorder(store))
	}

	resolver := selector.NewResolver(cfg.Browser.LookupTimeout, logger)
	a.machine = automate.New(automate.Config{
		Tick:     cfg.Automate.Tick,
		Timeout:  cfg.Automate.Timeout,
		Patterns: cfg.Patterns,
		Pause:    pause,
		Logger:   logger,
	}, a.sessions, distill.New(resolver, logger), opts...)
	return a, nil
}

func (a *app) close(ctx context.Context) {
	if a.sessions != nil {
		a.sessions.CloseAll(ctx)
	}
	if a.browser != nil {
		a.browser.Close()
	}
	if a.history != nil {
		a.history.Close()
	}
}

// pauser returns the hook that waits for Enter when pausing is configured.
func pauser(cfg *config.Config, prompter secrets.Prompter) func(context.Context) {
	if !cfg.Pause {
		return nil
	}
	return func(ctx context.Context) {
		prompter.Ask(ctx, "Press Enter to continue", false)
	}
}

func runList(cfg *config.Config) error {
	names, err := pattern.List(cfg.Patterns)
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}

func runDistill(ctx context.Context, logger *slog.Logger, cfg *config.Config, source, hostname, format string) error {
	prompter := secrets.NewTerminal()
	_, statErr := os.Stat(source)
	offline := statErr == nil

	a, err := newApp(ctx, logger, cfg, !offline, nil)
	if err != nil {
		return err
	}
	defer a.close(context.WithoutCancel(ctx))

	fmt.Printf("Distilling %s\n", source)
	var sess *session.Session
	if offline {
		tab, err := browser.OpenFile(source)
		if err != nil {
			return err
		}
		sess = a.sessions.Adopt(source, hostname, tab)
	} else {
		sess, err = a.sessions.Start(ctx, source)
		if err != nil {
			return err
		}
	}

	out, err := a.machine.Once(ctx, sess)
	switch {
	case errors.Is(err, automate.ErrNoMatch):
		fmt.Println("No matched pattern found")
	case err != nil:
		return err
	default:
		if err := printOutcome(out, format); err != nil {
			return err
		}
	}

	if pause := pauser(cfg, prompter); pause != nil {
		pause(ctx)
	}
	a.sessions.Finalize(ctx, sess.ID)
	return nil
}

func runAutomation(ctx context.Context, logger *slog.Logger, cfg *config.Config, location string) error {
	prompter := secrets.NewTerminal()
	store, err := secrets.Load(cfg.EnvFile)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, logger, cfg, true, pauser(cfg, prompter))
	if err != nil {
		return err
	}
	defer a.close(context.WithoutCancel(ctx))

	fmt.Printf("Starting browser for %s...\n", location)
	sess, err := a.sessions.Start(ctx, location)
	if err != nil {
		return err
	}
	out, err := a.machine.Run(ctx, sess, automate.Filler{Secrets: store, Prompter: prompter})
	if err != nil {
		return err
	}
	return printOutcome(out, "html")
}

func printOutcome(out *automate.Outcome, format string) error {
	fmt.Println()
	if format == "md" {
		r := render.New()
		md, err := r.Markdown(r.Sanitize(out.Body))
		if err != nil {
			return err
		}
		fmt.Println(md)
	} else {
		fmt.Println(out.Distilled)
	}
	fmt.Println()
	if !out.Terminal {
		return nil
	}
	fmt.Println("Finished!")
	if len(out.Records) > 0 {
		data, err := json.MarshalIndent(out.Records, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println()
		fmt.Println(string(data))
	}
	return nil
}

func runServer(ctx context.Context, logger *slog.Logger, cfg *config.Config) error {
	a, err := newApp(ctx, logger, cfg, true, nil)
	if err != nil {
		return err
	}
	defer a.close(context.WithoutCancel(ctx))

	limiter := shield.NewRateLimiter(server.DefaultLimits())
	limiter.StartGC(5*time.Minute, ctx.Done())

	scfg := server.Config{Patterns: cfg.Patterns, Limiter: limiter, Logger: logger}
	if a.history != nil {
		scfg.History = a.history
	}
	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           server.New(scfg, a.machine, render.New()).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Browser.NavigationTimeout + 2*cfg.Automate.Timeout,
		IdleTimeout:       60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("middleman: listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}
	logger.Info("middleman: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("middleman: shutdown", "error", err)
	}
	return nil
}

func runMCP(ctx context.Context, logger *slog.Logger, cfg *config.Config) error {
	a, err := newApp(ctx, logger, cfg, true, nil)
	if err != nil {
		return err
	}
	defer a.close(context.WithoutCancel(ctx))

	mcpSrv := mcp.NewServer(&mcp.Implementation{
		Name:    "middleman",
		Version: "1.0.0",
	}, nil)
	server.New(server.Config{Patterns: cfg.Patterns, Logger: logger}, a.machine, render.New()).RegisterMCP(mcpSrv)

	logger.Info("middleman: serving MCP on stdio")
	if err := mcpSrv.Run(ctx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("mcp: %w", err)
	}
	return nil
}
