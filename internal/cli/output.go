// Package cli provides the command-line interface for the option-chain engine.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

// Output handles formatted output for the CLI.
type Output struct {
	writer       io.Writer
	jsonMode     bool
	colorEnabled bool
}

// NewOutput creates a new Output instance.
func NewOutput(cmd *cobra.Command) *Output {
	jsonMode, _ := cmd.Flags().GetBool("json")
	return &Output{
		writer:       cmd.OutOrStdout(),
		jsonMode:     jsonMode,
		colorEnabled: !jsonMode && isTerminal(),
	}
}

// isTerminal checks if stdout is a terminal.
func isTerminal() bool {
	fileInfo, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}

// IsJSON returns true if JSON output mode is enabled.
func (o *Output) IsJSON() bool {
	return o.jsonMode
}

// JSON outputs data as JSON.
func (o *Output) JSON(data interface{}) error {
	encoder := json.NewEncoder(o.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// Println prints a message with newline.
func (o *Output) Println(args ...interface{}) {
	fmt.Fprintln(o.writer, args...)
}

// Printf prints a formatted message.
func (o *Output) Printf(format string, args ...interface{}) {
	fmt.Fprintf(o.writer, format, args...)
}

// Success prints a success message in green.
func (o *Output) Success(format string, args ...interface{}) {
	o.line(color.New(color.FgGreen), format, args...)
}

// Error prints an error message in red.
func (o *Output) Error(format string, args ...interface{}) {
	o.line(color.New(color.FgRed), format, args...)
}

// Warning prints a warning message in yellow.
func (o *Output) Warning(format string, args ...interface{}) {
	o.line(color.New(color.FgYellow), format, args...)
}

// Info prints an info message in cyan.
func (o *Output) Info(format string, args ...interface{}) {
	o.line(color.New(color.FgCyan), format, args...)
}

// Bold prints a bold message.
func (o *Output) Bold(format string, args ...interface{}) {
	o.line(color.New(color.Bold), format, args...)
}

// Dim prints a dimmed message.
func (o *Output) Dim(format string, args ...interface{}) {
	o.line(color.New(color.Faint), format, args...)
}

func (o *Output) line(c *color.Color, format string, args ...interface{}) {
	o.paint(c)
	c.Fprintln(o.writer, fmt.Sprintf(format, args...))
}

// paint applies the terminal check to c. fatih/color only looks at
// os.Stdout, while commands may write elsewhere.
func (o *Output) paint(c *color.Color) *color.Color {
	if o.colorEnabled {
		c.EnableColor()
	} else {
		c.DisableColor()
	}
	return c
}

// Green returns green colored text.
func (o *Output) Green(text string) string {
	return o.paint(color.New(color.FgGreen)).Sprint(text)
}

// Red returns red colored text.
func (o *Output) Red(text string) string {
	return o.paint(color.New(color.FgRed)).Sprint(text)
}

// Yellow returns yellow colored text.
func (o *Output) Yellow(text string) string {
	return o.paint(color.New(color.FgYellow)).Sprint(text)
}

// Cyan returns cyan colored text.
func (o *Output) Cyan(text string) string {
	return o.paint(color.New(color.FgCyan)).Sprint(text)
}

// FormatChange formats a signed change, green when positive and red when negative.
func (o *Output) FormatChange(change, pct float64) string {
	text := fmt.Sprintf("%s (%s)", FormatSigned(change), FormatPercent(pct))
	switch {
	case change > 0:
		return o.Green(text)
	case change < 0:
		return o.Red(text)
	default:
		return text
	}
}

// Sentiment colors a sentiment label.
func (o *Output) Sentiment(label string) string {
	switch label {
	case "bullish":
		return o.Green(label)
	case "bearish":
		return o.Red(label)
	case "neutral":
		return o.Yellow(label)
	default:
		return label
	}
}

// Table wraps tablewriter with the CLI's borderless layout.
type Table struct {
	tw      *tablewriter.Table
	output  *Output
	columns int
}

// NewTable creates a new table.
func NewTable(output *Output, headers ...string) *Table {
	tw := tablewriter.NewWriter(output.writer)
	tw.SetHeader(headers)
	tw.SetAutoFormatHeaders(false)
	tw.SetAutoWrapText(false)
	tw.SetBorder(false)
	tw.SetColumnSeparator(" ")
	tw.SetCenterSeparator("-")
	tw.SetAlignment(tablewriter.ALIGN_RIGHT)
	tw.SetHeaderAlignment(tablewriter.ALIGN_RIGHT)
	return &Table{tw: tw, output: output, columns: len(headers)}
}

// AddRow adds a row to the table.
func (t *Table) AddRow(cells ...string) {
	t.tw.Append(cells)
}

// AddHighlightedRow adds a bold row when color is enabled.
func (t *Table) AddHighlightedRow(cells ...string) {
	if !t.output.colorEnabled {
		t.tw.Append(cells)
		return
	}
	colors := make([]tablewriter.Colors, len(cells))
	for i := range colors {
		colors[i] = tablewriter.Colors{tablewriter.Bold, tablewriter.FgYellowColor}
	}
	t.tw.Rich(cells, colors)
}

// Render renders the table.
func (t *Table) Render() {
	if t.columns == 0 {
		return
	}
	t.tw.Render()
}
