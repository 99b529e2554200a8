package main

import (
	"bytes"
	"fmt"
	"regexp"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/verifyd/internal/ui"
)

// helpRule styles every match of re; groups are numbered from 1 and groups
// without a style are kept as-is.
type helpRule struct {
	re     *regexp.Regexp
	styles map[int]func(string) string
}

// helpRules are applied in order to Cobra's plain help text.
var helpRules = []helpRule{
	// Group and section headers: "Sessions:", "Flags:", "Global Flags:".
	{regexp.MustCompile(`(?m)^([A-Z][A-Za-z ]*:)[ \t]*$`), map[int]func(string) string{1: ui.RenderAccent}},
	// Subcommand names in command lists.
	{regexp.MustCompile(`(?m)^  ([a-z][\w-]*)( {2,})`), map[int]func(string) string{1: ui.RenderCommand}},
	// Flag value types: "--debounce duration".
	{regexp.MustCompile(`(--[\w-]+ )(string|int|duration|bool|strings)\b`), map[int]func(string) string{2: ui.RenderMuted}},
	// Defaults: (default "http://localhost:8080"), (default 500ms).
	{regexp.MustCompile(`(\(default [^)]*\))`), map[int]func(string) string{1: ui.RenderMuted}},
	// Environment variables named in flag descriptions.
	{regexp.MustCompile(`\b(VERIFY_[A-Z_]+)\b`), map[int]func(string) string{1: ui.RenderWarn}},
}

// colorizedHelpFunc renders Cobra's usage text, colorized when stdout
// supports it.
func colorizedHelpFunc() func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, _ []string) {
		out := cmd.OutOrStdout()
		if !ui.ShouldUseColor() {
			_ = cmd.Usage()
			return
		}
		var buf bytes.Buffer
		cmd.SetOut(&buf)
		_ = cmd.Usage()
		cmd.SetOut(out)
		fmt.Fprint(out, colorizeHelp(buf.String()))
	}
}

func colorizeHelp(s string) string {
	for _, rule := range helpRules {
		s = rule.re.ReplaceAllStringFunc(s, func(match string) string {
			return rule.apply(match)
		})
	}
	return s
}

func (r helpRule) apply(match string) string {
	idx := r.re.FindStringSubmatchIndex(match)
	if idx == nil {
		return match
	}
	var b bytes.Buffer
	pos := 0
	for g := 1; g*2 < len(idx); g++ {
		start, end := idx[g*2], idx[g*2+1]
		if start < 0 {
			continue
		}
		b.WriteString(match[pos:start])
		text := match[start:end]
		if style, ok := r.styles[g]; ok {
			text = style(text)
		}
		b.WriteString(text)
		pos = end
	}
	b.WriteString(match[pos:])
	return b.String()
}
