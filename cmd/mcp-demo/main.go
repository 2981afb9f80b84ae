package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"golang.org/x/sync/errgroup"

	"agent-toolbridge/internal/demoagent"
	"agent-toolbridge/internal/demotools"
)

func main() {
	host := flag.String("host", "0.0.0.0", "listen host")
	mcpPort := flag.Int("mcp-port", 8090, "MCP server port (0 disables it)")
	agentPort := flag.Int("agent-port", 8091, "A2A agent port (0 disables it)")
	agentName := flag.String("agent-name", "echo", "name advertised in the agent card")
	publicHost := flag.String("public-host", "localhost", "host written into the agent card URL")
	flag.Parse()

	// Setup structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if *mcpPort == 0 && *agentPort == 0 {
		log.Fatal("Both servers are disabled. Set --mcp-port or --agent-port")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var servers []*http.Server

	if *mcpPort != 0 {
		mux := http.NewServeMux()
		mux.Handle("/mcp", server.NewStreamableHTTPServer(demotools.NewServer("mcp-demo")))
		mux.HandleFunc("/health", health)
		servers = append(servers, &http.Server{Addr: fmt.Sprintf("%s:%d", *host, *mcpPort), Handler: mux})
		slog.Info("mcp server configured",
			"address", fmt.Sprintf("%s:%d", *host, *mcpPort),
			"tools", []string{"greet", "echo", "count"},
		)
	}

	if *agentPort != 0 {
		rpcURL := fmt.Sprintf("http://%s:%d/", *publicHost, *agentPort)
		servers = append(servers, &http.Server{
			Addr:    fmt.Sprintf("%s:%d", *host, *agentPort),
			Handler: demoagent.Handler(*agentName, rpcURL),
		})
		slog.Info("a2a agent configured",
			"address", fmt.Sprintf("%s:%d", *host, *agentPort),
			"name", *agentName,
			"url", rpcURL,
		)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		g.Go(func() error {
			slog.Info("server listening", "address", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				slog.Error("shutdown failed", "address", srv.Addr, "error", err)
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func health(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "ok")
}
