package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/custodia-labs/fhirsync/internal/core/domain"
)

// styles holds the lipgloss styles for command output. They are empty,
// and so render text unchanged, unless the output is a terminal.
type styles struct {
	Title lipgloss.Style
	Good  lipgloss.Style
	Warn  lipgloss.Style
	Bad   lipgloss.Style
	Muted lipgloss.Style
}

func stylesFor(w io.Writer) styles {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return styles{}
	}
	return styles{
		Title: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED")),
		Good:  lipgloss.NewStyle().Foreground(lipgloss.Color("#A6E3A1")),
		Warn:  lipgloss.NewStyle().Foreground(lipgloss.Color("#F9E2AF")),
		Bad:   lipgloss.NewStyle().Foreground(lipgloss.Color("#F38BA8")),
		Muted: lipgloss.NewStyle().Foreground(lipgloss.Color("#6C7086")),
	}
}

// printJSON writes v as indented JSON.
func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	cmd.Println(string(data))
	return nil
}

// describeError renders err for the terminal. Categorised errors show
// their user message and recovery actions.
func describeError(err error) string {
	var ce *domain.CategorizedError
	if !errors.As(err, &ce) {
		return err.Error()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s]", ce.UserMessage, ce.Category)
	for _, action := range ce.RecoveryActions {
		fmt.Fprintf(&b, "\n  - %s", action)
	}
	return b.String()
}

// parseQuery turns "name=value" arguments into a query.
func parseQuery(args []string) (domain.Query, error) {
	q := make(domain.Query, len(args))
	for _, arg := range args {
		name, value, ok := strings.Cut(arg, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid search parameter %q, expected name=value", arg)
		}
		q[name] = value
	}
	return q, nil
}

// readResource decodes a JSON resource from path, or from in when path is
// empty or "-".
func readResource(path string, in io.Reader) (domain.Resource, error) {
	if path != "" && path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", path, err)
		}
		defer f.Close()
		in = f
	}

	var r domain.Resource
	if err := json.NewDecoder(in).Decode(&r); err != nil {
		return nil, fmt.Errorf("decoding resource: %w", err)
	}
	if r == nil {
		return nil, errors.New("decoding resource: expected a JSON object")
	}
	return r, nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
