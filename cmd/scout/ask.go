package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/basket/scout/internal/client"
	"github.com/basket/scout/internal/tasks"
	"github.com/basket/scout/internal/tui"
)

const pollMaxInterval = 2 * time.Second

func runAskCommand(ctx context.Context, args []string) int {
	fs, server := clientFlags("ask")
	plain := fs.Bool("plain", false, "print events as lines even on a terminal")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	query := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if query == "" {
		fmt.Fprintln(os.Stderr, "usage: scout ask [--server URL] [--plain] <query>")
		return 2
	}
	c, err := newClient(*server)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	id, err := c.Submit(ctx, query)
	if err != nil {
		fmt.Fprintf(os.Stderr, "submit: %v\n", err)
		return 1
	}

	var res *client.Result
	if !*plain && isatty.IsTerminal(os.Stdout.Fd()) {
		res, err = tui.Watch(ctx, query, follow(ctx, c, id))
	} else {
		fmt.Fprintf(os.Stdout, "task %s\n", id)
		var r client.Result
		r, err = followPlain(ctx, c, id, os.Stdout)
		res = &r
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "ask: %v\n", err)
		return 1
	}
	if res == nil {
		fmt.Fprintf(os.Stderr, "detached; fetch the outcome later with: scout result %s\n", id)
		return 0
	}
	return printOutcome(os.Stdout, *res)
}

// follow feeds a task's progress to the TUI. It prefers the WebSocket stream
// and falls back to polling when the stream cannot be opened.
func follow(ctx context.Context, c *client.Client, id string) <-chan tui.Update {
	ch := make(chan tui.Update, 16)
	go func() {
		defer close(ch)
		send := func(u tui.Update) {
			select {
			case ch <- u:
			case <-ctx.Done():
			}
		}
		seen := 0
		onEvent := func(ev tasks.Event) {
			seen++
			e := ev
			send(tui.Update{Event: &e})
		}
		if err := c.Stream(ctx, id, onEvent); err == nil {
			res, err := c.Result(ctx, id)
			if err != nil {
				send(tui.Update{Err: err})
				return
			}
			send(tui.Update{Result: &res})
			return
		}
		// Events already shown by a broken stream are skipped on the poll path.
		skip := seen
		res, err := c.Wait(ctx, id, pollMaxInterval, func(ev tasks.Event) {
			if skip > 0 {
				skip--
				return
			}
			onEvent(ev)
		})
		if err != nil {
			send(tui.Update{Err: err})
			return
		}
		send(tui.Update{Result: &res})
	}()
	return ch
}

func followPlain(ctx context.Context, c *client.Client, id string, w io.Writer) (client.Result, error) {
	return c.Wait(ctx, id, pollMaxInterval, func(ev tasks.Event) {
		fmt.Fprintf(w, "[%s] %s\n", ev.Type, ev.Message)
	})
}

// printOutcome writes the final answer and returns the exit code.
func printOutcome(w io.Writer, res client.Result) int {
	switch {
	case res.Status == string(tasks.StateFailed):
		fmt.Fprintf(w, "failed: %s\n", res.Error)
		return 1
	case res.Output == nil:
		fmt.Fprintf(w, "status: %s\n", res.Status)
		return 1
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, res.Output.Answer)
	if len(res.Output.Sources) > 0 {
		fmt.Fprintln(w, "\nSources:")
		for i, s := range res.Output.Sources {
			fmt.Fprintf(w, "  %d. %s\n     %s\n", i+1, s.Title, s.URL)
		}
	}
	return 0
}

func runResultCommand(ctx context.Context, args []string) int {
	fs, server := clientFlags("result")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: scout result [--server URL] <task_id>")
		return 2
	}
	c, err := newClient(*server)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	res, err := c.Result(ctx, fs.Arg(0))
	if err != nil {
		var apiErr *client.APIError
		if errors.As(err, &apiErr) {
			fmt.Fprintf(os.Stderr, "result: %s\n", apiErr.Message)
		} else {
			fmt.Fprintf(os.Stderr, "result: %v\n", err)
		}
		return 1
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(res)
	if res.Status == string(tasks.StateFailed) {
		return 1
	}
	return 0
}
