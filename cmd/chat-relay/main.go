// ABOUTME: Entry point for the chat-relay worker
// ABOUTME: Wires store, bus, gateway and WebSocket transport behind one HTTP server

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chatrelay/internal/assets"
	"chatrelay/internal/bus"
	"chatrelay/internal/config"
	"chatrelay/internal/gateway"
	"chatrelay/internal/metrics"
	"chatrelay/internal/store"
	"chatrelay/internal/transport/ws"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
      _           _            _
  ___| |__   __ _| |_     _ __| |__   ___ _ __ ___
 / __| '_ \ / _' | __|___| '__| '_ \ / _ \ '_ ' _ \
| (__| | | | (_| | ||____| |  |  __/|  __/ | |_| | |
 \___|_| |_|\__,_|\__|   |_|   \___| \___|_|     |_|
`

// getConfigPath returns the path to the relay config file.
// Priority: CHATRELAY_CONFIG env var > XDG_CONFIG_HOME/chatrelay/relay.yaml > ~/.config/chatrelay/relay.yaml
func getConfigPath() string {
	if envPath := os.Getenv("CHATRELAY_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "relay.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "chatrelay", "relay.yaml")
}

// getDataPath returns the path to the relay data directory.
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "chatrelay")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: chat-relay <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve [--addr HOST:PORT]  Start a relay worker")
		fmt.Println("  init                      Create a new config file interactively")
		fmt.Println("  health                    Check relay health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "health":
		err = runHealth(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// parseServeArgs handles "--addr value" and "--addr=value". An explicit addr
// overrides the config so a supervisor can run one worker per core on
// consecutive ports against the same database and bus.
func parseServeArgs(args []string) (addr string, err error) {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--addr" || arg == "-a":
			if i+1 >= len(args) {
				return "", fmt.Errorf("--addr requires a value")
			}
			addr = args[i+1]
			i++
		case strings.HasPrefix(arg, "--addr="):
			addr = strings.TrimPrefix(arg, "--addr=")
		case strings.HasPrefix(arg, "-"):
			return "", fmt.Errorf("unknown flag: %s", arg)
		default:
			return "", fmt.Errorf("unexpected argument: %s", arg)
		}
	}
	return addr, nil
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	addrOverride, err := parseServeArgs(os.Args[2:])
	if err != nil {
		return err
	}

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if addrOverride != "" {
		cfg.Server.HTTPAddr = addrOverride
	}

	logger := setupLogger(cfg.Logging)

	backend := cfg.Bus.Backend
	if backend == "" {
		backend = "memory"
	}

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:     %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database: %s\n", cfg.Database.Path)
	green.Print("    ▶ ")
	fmt.Printf("Bus:      %s", backend)
	if backend == "redis" {
		cyan.Printf(" (%s)", cfg.Bus.Redis.Addr)
	}
	fmt.Println()
	fmt.Println()

	logger.Info("starting chat-relay",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"bus", backend,
	)

	metrics.Init()

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	var b bus.Bus
	switch backend {
	case "memory":
		b = bus.NewMemory(logger)
	case "redis":
		rb := bus.NewRedis(bus.RedisOptions{
			Addr:     cfg.Bus.Redis.Addr,
			Password: cfg.Bus.Redis.Password,
			DB:       cfg.Bus.Redis.DB,
			Channel:  cfg.Bus.Channel,
		}, logger)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rb.Ping(pingCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		b = rb
	default:
		return fmt.Errorf("unknown bus backend %q", backend)
	}
	defer b.Close()

	gw := gateway.New(st, b, logger)
	gw.Start(ctx)
	logger.Info("worker joined bus", "origin", gw.Origin())

	wss := ws.New(gw, cfg.Session.RecoveryGrace, logger)
	defer wss.Close()

	mux := http.NewServeMux()
	mux.Handle("/", assets.Handler())
	mux.Handle("/ws", wss)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if _, err := gw.LastID(r.Context()); err != nil {
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	if cfg.Metrics.Enabled {
		path := cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		mux.Handle(path, promhttp.Handler())
	}

	// No read/write timeouts: WebSocket connections are long-lived.
	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = &colorHandler{level: level}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu    sync.Mutex
	level slog.Level
	attrs []slog.Attr
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder
	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	buf.WriteString(r.Message)

	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{level: h.level, attrs: newAttrs}
}

func (h *colorHandler) WithGroup(_ string) slog.Handler {
	return h
}

func runHealth(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/healthz", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("chat-relay configuration setup")
	fmt.Println("==============================")
	fmt.Println()

	defaultConfigPath := getConfigPath()
	defaultDataPath := getDataPath()
	defaultDbPath := filepath.Join(defaultDataPath, "relay.db")

	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Server Configuration ---")
	httpAddr := prompt(reader, "HTTP address", "localhost:3000")

	fmt.Println("\n--- Database Configuration ---")
	dbPath := prompt(reader, "SQLite database path", defaultDbPath)

	fmt.Println("\n--- Bus Configuration ---")
	backend := prompt(reader, "Bus backend (memory/redis)", "memory")
	var redisAddr string
	if backend == "redis" {
		redisAddr = prompt(reader, "Redis address", "localhost:6379")
	}

	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	var cfg strings.Builder
	cfg.WriteString("# chat-relay configuration\n")
	cfg.WriteString("# Generated by chat-relay init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: \"%s\"\n", httpAddr))
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: \"%s\"\n", dbPath))
	cfg.WriteString("\n")

	cfg.WriteString("bus:\n")
	cfg.WriteString(fmt.Sprintf("  backend: \"%s\"\n", backend))
	if backend == "redis" {
		cfg.WriteString("  redis:\n")
		cfg.WriteString(fmt.Sprintf("    addr: \"%s\"\n", redisAddr))
	}
	cfg.WriteString("\n")

	cfg.WriteString("session:\n")
	cfg.WriteString("  recovery_grace: \"30s\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: \"%s\"\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: \"%s\"\n", logFormat))
	cfg.WriteString("\n")

	cfg.WriteString("metrics:\n")
	cfg.WriteString("  enabled: false\n")
	cfg.WriteString("  path: \"/metrics\"\n")

	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	dataDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Println("\nTo start a worker:")
	fmt.Printf("  chat-relay serve\n")

	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
