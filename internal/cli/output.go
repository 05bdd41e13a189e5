package cli

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/weftai/weft/internal/style"
)

// printJSON writes data to stdout as indented JSON.
func printJSON(data interface{}) {
	style.PrintJSON(os.Stdout, data)
}

// printYAML writes data to stdout as YAML.
func printYAML(data interface{}) {
	style.PrintYAML(os.Stdout, data)
}

// printTable writes rows as a left-aligned table with a dashed rule under
// the header. Nothing is printed when there are no rows.
func printTable(headers []string, rows [][]string) {
	if len(rows) == 0 {
		return
	}

	rule := make([]string, len(headers))
	for i, h := range headers {
		rule[i] = strings.Repeat("-", len(h))
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(headers, "\t"))
	fmt.Fprintln(w, strings.Join(rule, "\t"))
	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	w.Flush()
}

// Success prints a success line to stdout.
func Success(message string) {
	style.Success(os.Stdout, message)
}

// Error prints an error line to stderr.
func Error(message string) {
	style.Error(os.Stderr, message)
}

// Warning prints a warning line to stdout.
func Warning(message string) {
	style.Warning(os.Stdout, message)
}

// Info prints an info line to stdout.
func Info(message string) {
	style.Info(os.Stdout, message)
}
