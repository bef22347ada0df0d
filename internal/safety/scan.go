// Package safety flags fetched web content that tries to steer the
// summarizer or that carries credentials.
package safety

import (
	"regexp"
	"strings"
)

// Kind groups findings.
type Kind string

const (
	KindInjection Kind = "injection"
	KindLeak      Kind = "leak"
)

// Finding is one pattern match in scanned text.
type Finding struct {
	Kind   Kind
	Reason string
	// Sample is a short prefix of the match, safe to log.
	Sample string
}

type pattern struct {
	re     *regexp.Regexp
	kind   Kind
	reason string
}

var patterns = []pattern{
	{regexp.MustCompile(`(?i)\bignore\s+(all\s+)?(previous|above|prior)\s+(instructions?|prompts?|rules?)\b`), KindInjection, "ignore previous instructions"},
	{regexp.MustCompile(`(?i)\byou\s+are\s+now\s+(a|an|the)\s+\w+`), KindInjection, "identity override"},
	{regexp.MustCompile(`(?i)\b(new\s+instructions?|override\s+(system\s+)?prompt|system\s+prompt\s+override)\b`), KindInjection, "system prompt override"},
	{regexp.MustCompile(`(?i)\b(reveal|show|print|repeat)\s+(\w+\s+)?(your\s+)?(system\s+)?(prompt|instructions)\b`), KindInjection, "system prompt extraction"},
	{regexp.MustCompile(`(?i)\[\s*SYSTEM\s*\]`), KindInjection, "[SYSTEM] tag"},
	{regexp.MustCompile(`(?i)<\s*\|?\s*(system|im_start|im_end)\s*\|?\s*>`), KindInjection, "chat template tag"},

	{regexp.MustCompile(`(?i)Bearer\s+[A-Za-z0-9_\-./+=]{16,}`), KindLeak, "bearer token"},
	{regexp.MustCompile(`AIza[A-Za-z0-9_\-]{30,}`), KindLeak, "Google API key"},
	{regexp.MustCompile(`sk-[A-Za-z0-9]{20,}`), KindLeak, "OpenAI-style API key"},
	{regexp.MustCompile(`-----BEGIN\s+(RSA\s+)?PRIVATE\s+KEY-----`), KindLeak, "private key"},
}

// Scan returns every pattern that matches text, at most one finding per
// pattern. It never modifies text.
func Scan(text string) []Finding {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	var out []Finding
	for _, p := range patterns {
		m := p.re.FindString(text)
		if m == "" {
			continue
		}
		if len(m) > 20 {
			m = m[:17] + "..."
		}
		out = append(out, Finding{Kind: p.kind, Reason: p.reason, Sample: m})
	}
	return out
}

// Reasons joins the reasons of findings for a single log attribute.
func Reasons(findings []Finding) string {
	rs := make([]string, 0, len(findings))
	for _, f := range findings {
		rs = append(rs, string(f.Kind)+": "+f.Reason)
	}
	return strings.Join(rs, "; ")
}
