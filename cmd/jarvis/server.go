package main

import (
	"context"
	"encoding/json"
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

	"github.com/kalambet/jarvis/internal/api"
	"github.com/kalambet/jarvis/internal/config"
	"github.com/kalambet/jarvis/internal/conversation"
)

const pruneInterval = 10 * time.Minute

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the trigger server (foreground)",
	Long: `Run the HTTP trigger server used by controller scenarios.

With --mcp the same operations are also exposed as MCP tools on stdio.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		listen, _ := cmd.Flags().GetString("listen")
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(listen, withMCP)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running trigger server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show jarvis status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().String("listen", "127.0.0.1", "address to bind")
	serveCmd.Flags().Bool("mcp", false, "also serve MCP on stdio")
	rootCmd.AddCommand(stopCmd)
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "jarvis.pid")
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

// pruneLoop drops idle conversations until ctx is done.
func pruneLoop(ctx context.Context, history conversation.Store, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := history.PruneExpired(ctx)
			if err != nil {
				slog.Warn("pruning conversations", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("pruned idle conversations", "count", n)
			}
		}
	}
}

func runServer(listen string, withMCP bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer setupLogging(cfg).Close()
	slog.Info("starting jarvis", "version", version)

	if cfg.Server.Token == "" {
		return errors.New("server.token is not set; store one with: jarvis config set-secret server.token")
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer os.Remove(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Warn("closing stores", "error", err)
		}
	}()

	go pruneLoop(ctx, a.history, pruneInterval)

	handler := api.NewHandler(api.Deps{
		Processor:    a.orchestrator,
		History:      a.history,
		Interactions: a.store,
		Models:       a.llm,
		Token:        cfg.Server.Token,
		RateLimit:    cfg.Server.RateLimit,
	})
	addr := net.JoinHostPort(listen, strconv.Itoa(cfg.Server.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Processor:    a.orchestrator,
			History:      a.history,
			Interactions: a.store,
		}, version)
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("jarvis listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Camera requests can take a while; give them time to finish.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("jarvis is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		os.Remove(pidPath)
		return fmt.Errorf("could not stop jarvis (PID %d): %w", pid, err)
	}

	printSuccess("Sent stop signal to jarvis (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	client := newAPIClient(cfg)
	client.httpClient.Timeout = 2 * time.Second

	running := false
	resp, err := client.get(ctx, "/health")
	switch {
	case err != nil:
		printStatus("Server", "stopped")
	case resp.StatusCode == http.StatusOK:
		resp.Body.Close()
		running = true
		printStatus("Server", "running on port %d", cfg.Server.Port)
	default:
		resp.Body.Close()
		printStatus("Server", "error (HTTP %d)", resp.StatusCode)
	}

	printStatus("Provider", "%s", cfg.Provider.BaseURL)
	printStatus("Text model", "%s", cfg.Provider.TextModel)
	printStatus("Vision model", "%s", cfg.Provider.VisionModel)
	printStatus("Home", "%s (%s)", cfg.Home.Backend, homeLocation(cfg.Home))
	printStatus("Notify", "%s", cfg.Notify.Backend)
	printStatus("Conversations", "%s", cfg.Conversation.Backend)
	if cfg.Assistant.DryRun {
		printWarning("dry run: no command will be executed")
	}

	if running {
		if resp, err := client.get(ctx, "/v1/interactions?limit=100"); err == nil {
			var items []json.RawMessage
			if decodeJSON(resp, &items) == nil {
				printStatus("Interactions", "%s", countLabel(len(items), 100))
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func homeLocation(h config.HomeConfig) string {
	if h.Backend == "file" {
		return h.RegistryFile
	}
	return h.URL
}

func countLabel(count, limit int) string {
	if count >= limit {
		return fmt.Sprintf("%d+", count)
	}
	return strconv.Itoa(count)
}
