package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/pim/internal/api"
	"github.com/kalambet/pim/internal/batch"
	"github.com/kalambet/pim/internal/config"
	"github.com/kalambet/pim/internal/inject"
	"github.com/kalambet/pim/internal/settings"
	"github.com/kalambet/pim/internal/storage"
	"github.com/kalambet/pim/internal/taxonomy"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the pim server (foreground)",
	Long: `Start the pim server in the foreground.

The HTTP API listens on 127.0.0.1. Unless --no-mcp is given, an MCP server
is also served over stdin/stdout.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		noMCP, _ := cmd.Flags().GetBool("no-mcp")
		return runServer(!noMCP)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running pim server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pim system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	startCmd.Flags().Bool("no-mcp", false, "do not serve MCP over stdio")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "pim.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// buildDeps wires storage into the assigner, display and the shared run
// group used by both the HTTP and MCP surfaces.
func buildDeps(cfg config.Config, store *storage.Store) api.Deps {
	settingsMgr := settings.NewManager(store)
	resolver := taxonomy.NewResolver(store)
	linker := taxonomy.NewLinker(store, cfg.Site.BaseURL, cfg.Site.CategoryBase)
	assigner := inject.NewAssigner(store, resolver, linker, settingsMgr)

	return api.Deps{
		Store:      store,
		Settings:   settingsMgr,
		Assigner:   assigner,
		Display:    inject.NewDisplay(store, settingsMgr),
		Linker:     linker,
		Runs:       api.NewRunGroup(assigner),
		Token:      cfg.Server.APIToken,
		BatchLimit: cfg.Batch.Limit,
	}
}

func runServer(serveMCP bool) error {
	printVersion()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// stdout carries MCP traffic, so logs go to stderr.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLogLevel(cfg.Log.Level)})))

	// Check if server is already running via health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("pim is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("pim is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	deps := buildDeps(cfg, store)

	var worker *batch.Worker
	if cfg.Batch.AutoRun {
		poll, err := cfg.Batch.AutoIntervalDuration()
		if err != nil {
			return err
		}
		worker = batch.NewWorker(deps.Runs, cfg.Batch.Limit, poll)
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.NewHandler(deps),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("pim listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if serveMCP {
		stdioSrv := server.NewStdioServer(api.NewMCPServer(deps))
		go func() {
			if err := stdioSrv.Listen(gctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	if worker != nil {
		g.Go(func() error {
			worker.Run(gctx)
			return nil
		})
		slog.Info("batch worker started", "limit", cfg.Batch.Limit, "interval", cfg.Batch.AutoInterval)
	}

	return g.Wait()
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("pim is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop pim (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to pim (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	client := &apiClient{
		baseURL:    fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port),
		token:      cfg.Server.APIToken,
		httpClient: &http.Client{Timeout: 2 * time.Second},
	}
	running := serverStatus(ctx, client, cfg.Server.Port)

	printStatus("Site", "%s (categories under /%s/)", cfg.Site.BaseURL, cfg.Site.CategoryBase)
	if cfg.Batch.AutoRun {
		printStatus("Auto run", "every %s, %d items per batch", cfg.Batch.AutoInterval, cfg.Batch.Limit)
	} else {
		printStatus("Auto run", "off")
	}

	if running {
		resp, err := client.get(ctx, "/batch/status")
		if err == nil {
			var st inject.Status
			if decodeJSON(resp, &st) == nil {
				printInjectionStatus(st)
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

// serverStatus prints the server line and reports whether it is healthy.
func serverStatus(ctx context.Context, client *apiClient, port int) bool {
	resp, err := client.get(ctx, "/health")
	if err != nil {
		printStatus("Server", "stopped")
		return false
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		return false
	}
	printStatus("Server", "running on port %d", port)
	return true
}
