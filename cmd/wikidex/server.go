package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
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

	"github.com/meridian-labs/wikidex/internal/api"
	"github.com/meridian-labs/wikidex/internal/chunker"
	"github.com/meridian-labs/wikidex/internal/config"
	"github.com/meridian-labs/wikidex/internal/confluence"
	"github.com/meridian-labs/wikidex/internal/embedding"
	"github.com/meridian-labs/wikidex/internal/ledger"
	"github.com/meridian-labs/wikidex/internal/retry"
	"github.com/meridian-labs/wikidex/internal/search"
	"github.com/meridian-labs/wikidex/internal/syncer"
	"github.com/meridian-labs/wikidex/internal/vectorindex"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the wikidex server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running wikidex server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show wikidex system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "wikidex.pid")
}

func tokenFilePath(dataDir string) string {
	return filepath.Join(dataDir, "api_token")
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

// resolveAPIToken returns the configured bearer token, or a persisted
// generated one so the CLI on the same machine can authenticate without
// extra setup.
func resolveAPIToken(cfg config.Config) (string, error) {
	if cfg.Server.APIToken != "" {
		return cfg.Server.APIToken, nil
	}

	path := tokenFilePath(cfg.Storage.DataDir)
	if data, err := os.ReadFile(path); err == nil {
		if token := strings.TrimSpace(string(data)); token != "" {
			return token, nil
		}
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating API token: %w", err)
	}
	token := hex.EncodeToString(buf)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating data directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(token), 0o600); err != nil {
		return "", fmt.Errorf("persisting API token: %w", err)
	}
	return token, nil
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "wikidex version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize structured logging.
	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	apiToken, err := resolveAPIToken(cfg)
	if err != nil {
		return err
	}
	slog.Info("API bearer token available")

	// Write PID file. Check if server is already running via health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("wikidex is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("wikidex is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = cfg.Retry.MaxAttempts

	// Remote clients.
	source := confluence.New(
		cfg.Confluence.BaseURL,
		cfg.Confluence.Email,
		cfg.Confluence.APIToken,
		cfg.Confluence.RequestsPerSecond,
		retryCfg,
	)
	embedder, err := embedding.New(embedding.Config{
		BaseURL:           cfg.Embedding.BaseURL,
		APIKey:            cfg.Embedding.APIKey,
		Model:             cfg.Embedding.Model,
		Dimensions:        cfg.Embedding.Dimensions,
		MaxBatch:          cfg.Embedding.MaxBatch,
		RequestsPerSecond: cfg.Embedding.RequestsPerSecond,
		Retry:             retryCfg,
	})
	if err != nil {
		return fmt.Errorf("building embedding gateway: %w", err)
	}
	index := vectorindex.New(cfg.Index.BaseURL, cfg.Index.APIKey, retryCfg)

	// Local state.
	store, err := ledger.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening sync ledger: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing ledger: %v\n", err)
		}
	}()

	splitter, err := chunker.New(cfg.Chunk.MaxChars, cfg.Chunk.Overlap)
	if err != nil {
		return fmt.Errorf("building chunker: %w", err)
	}

	coordinator := syncer.New(syncer.Deps{
		Source:             source,
		Embedder:           embedder,
		Index:              index,
		Ledger:             store,
		Splitter:           splitter,
		Locks:              ledger.NewLocks(),
		Workers:            cfg.Sync.Workers,
		IncludeAttachments: cfg.Confluence.IncludeAttachments,
		Logger:             slog.Default(),
	})

	engine := search.New(embedder, index, source, search.Config{
		TopK:            cfg.Retrieval.TopK,
		OverFetch:       cfg.Retrieval.OverFetch,
		VectorWeight:    cfg.Retrieval.VectorWeight,
		LexicalWeight:   cfg.Retrieval.LexicalWeight,
		DiversifyByPage: cfg.Retrieval.DiversifyByPage,
		CacheTTL:        cfg.Retrieval.CacheTTL,
	}, slog.Default())

	deps := api.Deps{
		Searcher: engine,
		Syncer:   coordinator,
		Source:   source,
		Ledger:   store,
		Token:    apiToken,
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: api.NewHTTPHandler(deps),
	}

	// MCP server on stdio.
	mcpSrv := api.NewMCPServer(deps)
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "wikidex listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
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
		printError("wikidex is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop wikidex (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to wikidex (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Wiki", "%s", cfg.Confluence.BaseURL)
	printStatus("Embedding model", "%s (%d dims)", cfg.Embedding.Model, cfg.Embedding.Dimensions)
	printStatus("Vector index", "%s", cfg.Index.BaseURL)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
