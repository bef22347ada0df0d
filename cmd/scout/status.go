package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/basket/scout/internal/client"
	"github.com/basket/scout/internal/config"
)

const defaultBindAddr = "127.0.0.1:8000"

// clientFlags registers the flags shared by the client subcommands.
func clientFlags(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	server := fs.String("server", "", "daemon base URL (default: derived from config bind_addr)")
	return fs, server
}

// newClient resolves the daemon URL from the flag, or from the local config,
// and carries the configured auth token.
func newClient(server string) (*client.Client, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}
	base := strings.TrimSpace(server)
	if base == "" {
		base = baseURL(cfg.BindAddr)
	}
	return client.New(base, cfg.AuthToken), nil
}

func baseURL(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		addr = defaultBindAddr
	}
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return strings.TrimRight(addr, "/")
	}
	if host, port, err := net.SplitHostPort(addr); err == nil {
		// A wildcard bind is reachable on loopback.
		if host == "" || host == "0.0.0.0" || host == "::" {
			host = "127.0.0.1"
		}
		addr = net.JoinHostPort(host, port)
	}
	return "http://" + addr
}

func runStatusCommand(ctx context.Context, args []string) int {
	fs, server := clientFlags("status")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "usage: scout status [--server URL]")
		return 2
	}
	c, err := newClient(*server)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	reqCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	health, err := c.Health(reqCtx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "status: %v\n", err)
		return 1
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(health)
	if health["status"] != "ok" {
		return 1
	}
	return 0
}
