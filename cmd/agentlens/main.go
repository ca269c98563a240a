package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/agentlens/agentlens/internal/infrastructure/config"
	"github.com/agentlens/agentlens/internal/infrastructure/logging"
	"github.com/agentlens/agentlens/internal/server"
	"github.com/agentlens/agentlens/internal/shared/paths"
	"github.com/agentlens/agentlens/internal/storage"
)

const shutdownTimeout = 10 * time.Second

func main() {
	log.SetFlags(0)

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch cmd := os.Args[1]; cmd {
	case "serve":
		err = runServe(os.Args[2:])
	case "demo":
		err = runDemo(os.Args[2:])
	case "prune":
		err = runPrune(os.Args[2:])
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("agentlens %s: %v", os.Args[1], err)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `agentlens - trace capture for agent workflows

Usage:
  agentlens serve [-addr host:port] [-db path]   start the trace viewer
  agentlens demo  [-db path]                     run a simulated agent and record it
  agentlens prune [-keep n] [-db path]           drop all but the newest n sessions

Configuration also comes from AGENTLENS_* environment variables; flags win.
`)
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", "", "listen address as host:port (default from config)")
	db := fs.String("db", "", "trace database path (default from config)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if *db != "" {
		cfg.DBPath = paths.Expand(*db)
	}
	if *addr != "" {
		host, port, err := net.SplitHostPort(*addr)
		if err != nil {
			return fmt.Errorf("invalid -addr %q: %w", *addr, err)
		}
		cfg.Server.Host = host
		cfg.Server.Port = port
	}

	srv, err := server.NewServer(cfg)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Run()
	}()

	// Announce only once the server answers its own health endpoint.
	go func() {
		base := baseURL(cfg)
		if err := waitReady(base + "/health"); err != nil {
			log.Printf("⚠️  health probe failed: %v", err)
			return
		}
		log.Printf("🔭 agentlens viewer ready on %s (db: %s)", base, cfg.DBPath)
		log.Println("Press Ctrl+C to stop")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Println("\n🛑 shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(ctx)
	case err := <-errChan:
		return err
	}
}

// baseURL builds the address the viewer is reachable at. A wildcard host
// is announced as localhost.
func baseURL(cfg *config.Config) string {
	host := cfg.Server.Host
	if host == "0.0.0.0" || host == "::" || host == "" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, cfg.Server.Port)
}

func waitReady(url string) error {
	client := retryablehttp.NewClient()
	client.RetryMax = 20
	client.RetryWaitMin = 50 * time.Millisecond
	client.RetryWaitMax = 500 * time.Millisecond
	client.Logger = nil

	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health endpoint returned %s", resp.Status)
	}
	return nil
}

func runPrune(args []string) error {
	fs := flag.NewFlagSet("prune", flag.ExitOnError)
	keep := fs.Int("keep", 5, "number of newest sessions to keep")
	db := fs.String("db", "", "trace database path (default from config)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	path := cfg.DBPath
	if *db != "" {
		path = paths.Expand(*db)
	}

	store, err := storage.Open(path, logging.NewNop())
	if err != nil {
		return err
	}
	defer store.Close()

	removed, err := store.Prune(*keep)
	if err != nil {
		return err
	}
	log.Printf("pruned %d session(s) from %s, kept the newest %d", removed, path, *keep)
	return nil
}
