package runner

import (
	"fmt"
	"strings"

	"github.com/basket/scout/internal/search"
	"github.com/basket/scout/internal/tasks"
)

// SystemPrompt is the fixed instruction sent with every summarization.
const SystemPrompt = "You are a research assistant. Answer the user's question using only the " +
	"search results provided. Be factual and concise. Do not make up information " +
	"that is not supported by the results. If the results do not contain the " +
	"answer, say that the information is not available."

// FormatResults renders results as Title/URL/Content blocks separated by a
// blank line, in the order given. No results yields an empty string.
func FormatResults(results []search.Result) string {
	blocks := make([]string, 0, len(results))
	for _, r := range results {
		blocks = append(blocks, fmt.Sprintf("Title: %s\nURL: %s\nContent: %s", r.Title, r.URL, r.Content))
	}
	return strings.Join(blocks, "\n\n")
}

// UserMessage puts the question ahead of the formatted search results.
func UserMessage(query, formatted string) string {
	return fmt.Sprintf("Question: %s\n\nSearch results:\n%s", query, formatted)
}

// Sources projects results to title and URL, preserving order.
func Sources(results []search.Result) []tasks.Source {
	out := make([]tasks.Source, 0, len(results))
	for _, r := range results {
		out = append(out, tasks.Source{Title: r.Title, URL: r.URL})
	}
	return out
}

func retrievedMessage(n int) string {
	if n == 1 {
		return "retrieved 1 result"
	}
	return fmt.Sprintf("retrieved %d results", n)
}
