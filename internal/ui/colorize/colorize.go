// Package colorize highlights x86_64 Intel syntax listings for the terminal.
// Set HOOKSCOPE_NO_COLOR to any value to get plain text back.
package colorize

import (
	"fmt"
	"os"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/charmbracelet/lipgloss/v2"

	"hookscope/internal/match"
)

var (
	addrStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#4F4F4F"))
	branchStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFAF00")).Bold(true)
)

// Enabled reports whether colors are wanted at all.
func Enabled() bool {
	return os.Getenv("HOOKSCOPE_NO_COLOR") == ""
}

// getAssemblyLexer returns an Intel syntax lexer with fallbacks
func getAssemblyLexer() chroma.Lexer {
	for _, name := range []string{"nasm", "gas"} {
		if lexer := lexers.Get(name); lexer != nil {
			return lexer
		}
	}
	return nil
}

func getStyle() *chroma.Style {
	for _, name := range []string{"hookscope-x86", "dracula", "monokai"} {
		if style := styles.Get(name); style != nil {
			return style
		}
	}
	return styles.Fallback
}

func getTerminalFormatter() chroma.Formatter {
	for _, name := range []string{"terminal16m", "terminal256"} {
		if formatter := formatters.Get(name); formatter != nil {
			return formatter
		}
	}
	return formatters.Fallback
}

// Assembly highlights a block of Intel syntax code. On any lexer or
// formatter failure code is returned unchanged along with the error.
func Assembly(code string) (string, error) {
	if !Enabled() {
		return code, nil
	}
	lexer := getAssemblyLexer()
	if lexer == nil {
		return code, nil
	}

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return code, err
	}
	var buf strings.Builder
	if err := getTerminalFormatter().Format(&buf, getStyle(), iterator); err != nil {
		return code, err
	}
	return buf.String(), nil
}

// Line renders one listing row as "address  mnemonic operands". Indirect
// branches, the sites hookscope instruments, get their own highlight.
func Line(addr uint64, mnemonic, operands string) string {
	a := fmt.Sprintf("%016x", addr)
	body := strings.TrimSpace(mnemonic + " " + operands)
	if !Enabled() {
		return a + "  " + body
	}
	if match.IsIndirectBranch(mnemonic, operands) {
		return addrStyle.Render(a) + "  " + branchStyle.Render(body)
	}
	colored, err := Assembly(body)
	if err != nil {
		colored = body
	}
	// the lexer ensures a trailing newline
	return addrStyle.Render(a) + "  " + strings.ReplaceAll(colored, "\n", "")
}

// Strip removes ANSI escape sequences, for width calculations and tests.
func Strip(s string) string {
	var b strings.Builder
	inEscape := false
	for _, r := range s {
		switch {
		case r == '\033':
			inEscape = true
		case inEscape:
			if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
				inEscape = false
			}
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
