// Package interactive provides interactive prompts for user confirmation.
package interactive

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/scribeapp/scribeup/internal/manifest"
)

// Response represents the user's response to a prompt.
type Response int

const (
	ResponseYes  Response = iota // Proceed with the update
	ResponseNo                   // Defer the update
	ResponseQuit                 // Abort without answering
)

// Prompter asks for confirmation before an update is applied.
type Prompter struct {
	in      io.Reader
	out     io.Writer
	scanner *bufio.Scanner
}

// NewPrompter creates a prompter with stdin/stdout.
func NewPrompter() *Prompter {
	return NewPrompterWithIO(os.Stdin, os.Stdout)
}

// NewPrompterWithIO creates a prompter with custom input/output (for testing).
func NewPrompterWithIO(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{
		in:      in,
		out:     out,
		scanner: bufio.NewScanner(in),
	}
}

// IsTerminal checks if stdin is a terminal (TTY).
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// prompt displays a question and reads the response.
func (p *Prompter) prompt(format string, args ...interface{}) Response {
	_, _ = fmt.Fprintf(p.out, format, args...)
	_, _ = fmt.Fprint(p.out, " [y/n] ")

	if !p.scanner.Scan() {
		return ResponseQuit
	}

	input := strings.ToLower(strings.TrimSpace(p.scanner.Text()))
	switch input {
	case "y", "yes":
		return ResponseYes
	case "n", "no":
		return ResponseNo
	default:
		// Default to no for invalid input
		_, _ = fmt.Fprintln(p.out, "Invalid response, not updating.")
		return ResponseNo
	}
}

// ConfirmUpdate shows the pending release and asks whether to install it.
// Mandatory updates are announced but cannot be deferred.
func (p *Prompter) ConfirmUpdate(current string, d *manifest.Descriptor, mandatory bool) bool {
	_, _ = fmt.Fprintf(p.out, "Update available: %s -> %s\n", current, d.Version)
	if d.ReleaseDate != "" {
		_, _ = fmt.Fprintf(p.out, "Released: %s\n", d.ReleaseDate)
	}
	if len(d.Changelog) > 0 {
		_, _ = fmt.Fprintln(p.out, "Changes:")
		for _, line := range d.Changelog {
			_, _ = fmt.Fprintf(p.out, "  - %s\n", line)
		}
	}

	if mandatory {
		_, _ = fmt.Fprintln(p.out, "This is a mandatory update and will be installed now.")
		return true
	}

	return p.prompt("Install version %s?", d.Version) == ResponseYes
}

// ConfirmRestore asks before replacing the install tree with a snapshot.
func (p *Prompter) ConfirmRestore(id, version string) bool {
	return p.prompt("Restore backup %s (version %s)? The current install will be replaced.", id, version) == ResponseYes
}

// ConfirmDelete asks before removing a snapshot.
func (p *Prompter) ConfirmDelete(id string) bool {
	return p.prompt("Delete backup %s?", id) == ResponseYes
}
