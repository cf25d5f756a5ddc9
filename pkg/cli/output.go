package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-yaml"
)

// OutputFormat represents the output format type
type OutputFormat string

const (
	// FormatYAML outputs as YAML (default for terminal)
	FormatYAML OutputFormat = "yaml"
	// FormatJSON outputs as JSON
	FormatJSON OutputFormat = "json"
	// FormatTable outputs as formatted table
	FormatTable OutputFormat = "table"
	// FormatRaw outputs raw data
	FormatRaw OutputFormat = "raw"
)

// OutputOptions configures output behavior
type OutputOptions struct {
	// Format is the output format (yaml, json, table, raw)
	Format OutputFormat

	// File is the output file path (empty for stdout)
	File string

	// Indent is the indentation for JSON output
	Indent string

	// Writer is an optional custom writer (overrides File)
	Writer io.Writer

	// Styles is used for table output (default: NewStyles(DefaultTheme))
	Styles *Styles
}

// Tabler is implemented by results that can render as a table.
type Tabler interface {
	Table() Table
}

// Table is a header row plus data rows.
type Table struct {
	Headers []string
	Rows    [][]string
}

// Table returns t itself.
func (t Table) Table() Table { return t }

// Output writes the result to the configured destination
func Output(result any, opts OutputOptions) error {
	var w io.Writer = os.Stdout

	if opts.Writer != nil {
		w = opts.Writer
	} else if opts.File != "" {
		f, err := os.Create(opts.File)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	switch opts.Format {
	case FormatJSON:
		return outputJSON(w, result, opts.Indent)
	case FormatYAML, "":
		return outputYAML(w, result)
	case FormatTable:
		t, ok := result.(Tabler)
		if !ok {
			return outputYAML(w, result)
		}
		styles := opts.Styles
		if styles == nil {
			s := NewStyles(DefaultTheme)
			styles = &s
		}
		_, err := fmt.Fprintln(w, styles.RenderTable(t.Table()))
		return err
	case FormatRaw:
		return outputRaw(w, result)
	default:
		return fmt.Errorf("unsupported output format: %s", opts.Format)
	}
}

func outputJSON(w io.Writer, result any, indent string) error {
	enc := json.NewEncoder(w)
	if indent == "" {
		indent = "  "
	}
	enc.SetIndent("", indent)
	return enc.Encode(result)
}

func outputYAML(w io.Writer, result any) error {
	data, err := yaml.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to format output: %w", err)
	}
	_, err = w.Write(data)
	return err
}

func outputRaw(w io.Writer, result any) error {
	switch v := result.(type) {
	case []byte:
		_, err := w.Write(v)
		return err
	case string:
		_, err := w.Write([]byte(v))
		return err
	default:
		return outputYAML(w, result)
	}
}

// Print helpers for terminal output

var printStyles = NewStyles(DefaultTheme)

// PrintSuccess prints a success message with checkmark
func PrintSuccess(format string, args ...any) {
	fmt.Println(printStyles.Success.Render("✓") + " " + fmt.Sprintf(format, args...))
}

// PrintError prints an error message to stderr
func PrintError(format string, args ...any) {
	fmt.Fprintln(os.Stderr, printStyles.Error.Render("Error:")+" "+fmt.Sprintf(format, args...))
}

// PrintInfo prints an info message
func PrintInfo(format string, args ...any) {
	fmt.Println(printStyles.Label.Render("ℹ") + " " + fmt.Sprintf(format, args...))
}

// PrintWarning prints a warning message to stderr
func PrintWarning(format string, args ...any) {
	fmt.Fprintln(os.Stderr, printStyles.Warning.Render("⚠")+" "+fmt.Sprintf(format, args...))
}

// PrintVerbose prints verbose output to stderr
func PrintVerbose(verbose bool, format string, args ...any) {
	if verbose {
		fmt.Fprintln(os.Stderr, printStyles.Help.Render("[verbose] "+fmt.Sprintf(format, args...)))
	}
}
