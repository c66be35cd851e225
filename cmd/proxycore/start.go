package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/webintercept/proxycore/internal/api"
	"github.com/webintercept/proxycore/internal/castore"
	"github.com/webintercept/proxycore/internal/config"
	"github.com/webintercept/proxycore/internal/eventbus"
	"github.com/webintercept/proxycore/internal/intercept"
	"github.com/webintercept/proxycore/internal/intruder"
	"github.com/webintercept/proxycore/internal/proxyengine"
	"github.com/webintercept/proxycore/internal/ruleengine"
	"github.com/webintercept/proxycore/internal/scanner"
	"github.com/webintercept/proxycore/internal/sitemap"
	"github.com/webintercept/proxycore/internal/spider"
	"github.com/webintercept/proxycore/internal/store"
	"github.com/webintercept/proxycore/internal/upstream"
)

var daemonMode bool

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the proxycore proxy and API",
	Long: `Start the intercepting proxy and its REST/WebSocket API.

By default runs in the foreground. Use -d for daemon/background mode.

The proxy binds to proxy.host:proxy.port from config.yaml (default
127.0.0.1:8080); the API binds separately to api.host:api.port
(default 127.0.0.1:8081).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStart(cmd, args)
	},
}

func init() {
	startCmd.Flags().BoolVarP(&daemonMode, "daemon", "d", false, "Run in daemon/background mode")
}

// runStart wires together every subsystem and blocks until shutdown:
//
//  1. Handle daemon mode (re-exec as background process if -d)
//  2. Load config from ~/.proxycore/config.yaml
//  3. Open the SQLite store
//  4. Load the root CA (generating one on first run)
//  5. Initialize the rule engine, intercept coordinator, event bus
//  6. Build the upstream client and proxy engine
//  7. Build the intruder, spider, scanner engines and site-map builder
//  8. Mount the API facade plus /health and /shutdown on its own port
//  9. Write a PID file, start a config-file watcher for rule hot-reload
//  10. Block until SIGINT/SIGTERM or HTTP /shutdown, then drain both servers
func runStart(cmd *cobra.Command, args []string) error {
	if daemonMode && os.Getenv("PROXYCORE_DAEMONIZED") != "1" {
		return spawnDaemon()
	}

	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", configDir, err)
	}

	cfg, err := config.Load(filepath.Join(configDir, "config.yaml"))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer db.Close()

	ca, err := castore.Load(cfg.CA.CertPath, cfg.CA.KeyPath, cfg.CA.LeafTTLDays, cfg.CA.CacheSize)
	if err != nil {
		return fmt.Errorf("loading CA: %w", err)
	}

	rulesEngine, err := ruleengine.New(filepath.Join(configDir, "rules.yaml"))
	if err != nil {
		return fmt.Errorf("initializing rule engine: %w", err)
	}
	fmt.Printf("[proxycore] loaded %d rules (%d builtin + %d custom)\n",
		rulesEngine.TotalRules(), rulesEngine.BuiltinCount(), rulesEngine.CustomCount())

	bus := eventbus.New()
	defer bus.Close()

	decisionTimeout := time.Duration(cfg.Intercept.DecisionTimeoutSeconds) * time.Second
	ic := intercept.New(cfg.Intercept.Enabled, decisionTimeout, bus)

	upClient := upstream.New(upstream.DefaultOptions())

	proxyEngine := proxyengine.New(proxyengine.Options{
		Rules:        rulesEngine,
		Intercept:    ic,
		CA:           ca,
		Client:       upClient,
		Bus:          bus,
		Flows:        db,
		MaxBodyBytes: cfg.Proxy.MaxBodyBytes,
	})

	intruderEngine := intruder.New(intruder.Options{Client: upClient, Store: db, Bus: bus})
	spiderEngine := spider.New(spider.Options{Client: upClient, Store: db, Bus: bus})
	scannerEngine := scanner.New(scanner.Options{Client: upClient, Store: db, Bus: bus}, nil)
	siteMap := sitemap.New(db)
	if err := siteMap.Rebuild(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "[proxycore] warning: initial site-map rebuild failed: %v\n", err)
	}

	apiHandler := api.New(api.Options{
		Flows:     db,
		Attacks:   db,
		Spiders:   db,
		Scans:     db,
		Rules:     rulesEngine,
		Intercept: ic,
		Proxy:     proxyEngine,
		CA:        ca,
		Intruder:  intruderEngine,
		Spider:    spiderEngine,
		Scanner:   scannerEngine,
		Sitemap:   siteMap,
		Bus:       bus,
		Client:    upClient,
		CORSOrigins: cfg.API.AllowedOrigins,
	})

	mux := http.NewServeMux()
	mux.Handle("/", apiHandler.Mux())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","version":"%s"}`, version)
	})

	shutdownCh := make(chan struct{}, 1)
	mux.HandleFunc("/shutdown", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		if !isLoopback(r.RemoteAddr) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status":"shutting_down"}`)
		select {
		case shutdownCh <- struct{}{}:
		default:
		}
	})

	apiAddr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
	apiServer := &http.Server{
		Addr:              apiAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	pidFile := filepath.Join(configDir, "proxycore.pid")
	if err := writePIDFile(pidFile); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidFile)

	watcher, err := config.NewWatcher(configDir, config.WatchTargets{
		OnRulesChange: func() {
			if err := rulesEngine.Reload(); err != nil {
				fmt.Fprintf(os.Stderr, "[proxycore] warning: failed to reload rules: %v\n", err)
			} else {
				fmt.Println("[proxycore] rules reloaded")
			}
		},
	})
	if err != nil {
		return fmt.Errorf("starting config watcher: %w", err)
	}
	defer watcher.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	proxyAddr := fmt.Sprintf("%s:%d", cfg.Proxy.Host, cfg.Proxy.Port)
	errCh := make(chan error, 2)
	go func() {
		fmt.Printf("[proxycore] proxy listening on %s\n", proxyAddr)
		errCh <- proxyEngine.ListenAndServe(proxyAddr)
	}()
	go func() {
		fmt.Printf("[proxycore] API listening on http://%s\n", apiAddr)
		if !daemonMode {
			fmt.Println("[proxycore] press Ctrl+C to stop")
		}
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		fmt.Println("\n[proxycore] shutting down (signal received)...")
	case <-shutdownCh:
		fmt.Println("[proxycore] shutting down (stop command received)...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	ic.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "[proxycore] API shutdown error: %v\n", err)
	}
	if err := proxyEngine.Close(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "[proxycore] proxy shutdown error: %v\n", err)
	}

	fmt.Println("[proxycore] stopped")
	return nil
}

// spawnDaemon re-executes the proxycore binary as a detached background
// process, the same re-exec-with-env-marker pattern as the teacher's
// CtrlAI daemonization (Go's runtime can't fork() safely).
func spawnDaemon() error {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	exePath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("finding executable path: %w", err)
	}

	logPath := filepath.Join(configDir, "proxycore.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file %s: %w", logPath, err)
	}

	daemonArgs := []string{"start"}
	if configDir != defaultConfigDir() {
		daemonArgs = append(daemonArgs, "--config-dir", configDir)
	}

	child := exec.Command(exePath, daemonArgs...)
	child.Stdout = logFile
	child.Stderr = logFile
	child.Env = append(os.Environ(), "PROXYCORE_DAEMONIZED=1")

	if err := child.Start(); err != nil {
		logFile.Close()
		return fmt.Errorf("starting daemon: %w", err)
	}

	fmt.Printf("[proxycore] started in background (PID %d)\n", child.Process.Pid)
	fmt.Printf("[proxycore] log file: %s\n", logPath)
	fmt.Println("[proxycore] use 'proxycore stop' to stop it")

	if err := child.Process.Release(); err != nil {
		fmt.Fprintf(os.Stderr, "[proxycore] warning: failed to release child process: %v\n", err)
	}
	logFile.Close()
	return nil
}

func writePIDFile(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func removePIDFile(path string) {
	os.Remove(path)
}

// isLoopback restricts /shutdown to local-only access.
func isLoopback(remoteAddr string) bool {
	host := remoteAddr
	if idx := strings.LastIndex(remoteAddr, ":"); idx != -1 {
		host = remoteAddr[:idx]
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	return host == "127.0.0.1" || host == "::1" || strings.HasPrefix(host, "127.")
}
