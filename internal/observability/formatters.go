package observability

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/jonathan/chart-digitizer/internal/types"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// emptyValue is shown for fields the provider could not read
	emptyValue = "(not found)"
)

// Printer handles formatted output for the CLI
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	for _, line := range strings.Split(content, "\n") {
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, truncate(line, boxWidth-4))
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// truncate shortens s to at most width runes.
func truncate(s string, width int) string {
	if utf8.RuneCountInString(s) <= width {
		return s
	}
	r := []rune(s)
	return string(r[:width-3]) + "..."
}

// PrintItems outputs extracted fields in order, one per line.
func (p *Printer) PrintItems(title string, items []types.Item) {
	if len(items) == 0 {
		p.printBox(title, "No fields extracted")
		return
	}

	nameWidth := 0
	for _, it := range items {
		nameWidth = max(nameWidth, utf8.RuneCountInString(it.Name))
	}
	nameWidth = min(nameWidth, 24)

	var sb strings.Builder
	for i, it := range items {
		value := it.Value
		if strings.TrimSpace(value) == "" {
			value = emptyValue
		}
		value = strings.Join(strings.Fields(value), " ")
		sb.WriteString(fmt.Sprintf("%-*s  %s", nameWidth, truncate(it.Name, nameWidth), value))
		if i < len(items)-1 {
			sb.WriteString("\n")
		}
	}

	p.printBox(title, sb.String())
}

// PrintStatus outputs a chart status snapshot.
func (p *Printer) PrintStatus(snap types.ChartStatusSnapshot) {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Chart:   %s\n", snap.ChartID))
	sb.WriteString(fmt.Sprintf("Status:  %s", snap.Status))
	if snap.ErrorMessage != "" {
		sb.WriteString(fmt.Sprintf("\nError:   %s", snap.ErrorMessage))
	}
	p.printBox("CHART STATUS", sb.String())
}
