package tui

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/basket/scout/internal/client"
)

// humanError turns a watch failure into one line for the status view.
func humanError(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *client.APIError
	switch {
	case errors.As(err, &apiErr):
		return capitalize(apiErr.Message)
	case errors.Is(err, syscall.ECONNREFUSED):
		return "Cannot reach the scout daemon; is `scout serve` running?"
	case errors.Is(err, context.DeadlineExceeded):
		return "Timed out waiting for the daemon"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "Timed out waiting for the daemon"
	}
	// Otherwise show the innermost message of the wrap chain.
	msg := err.Error()
	if i := strings.LastIndex(msg, ": "); i != -1 && i+2 < len(msg) {
		msg = msg[i+2:]
	}
	return capitalize(msg)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
