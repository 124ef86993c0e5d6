package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	svcerrors "github.com/ScrapCrafters/scrap_layer/internal/errors"
)

// Exit codes for scrapctl.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // drift found, payments left unsettled
	ExitCommandError = 2 // bad arguments, unreachable store
)

// ExitError carries the process exit code for a command failure.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// GetExitCode extracts the exit code from err. Unknown errors are command
// errors.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitCommandError
}

// Terminal colors.
const (
	ColorReset  = "\033[0m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorCyan   = "\033[36m"
)

// Response is the JSON envelope for --format json.
type Response struct {
	Status string      `json:"status"`
	Data   interface{} `json:"data,omitempty"`
	Error  *ErrorBody  `json:"error,omitempty"`
}

// ErrorBody mirrors the API error shape.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Output renders command results as text or JSON.
type Output struct {
	Format string
	Writer io.Writer
	color  bool
}

func newOutput(opts *RootOptions, w io.Writer) *Output {
	return &Output{Format: opts.Format, Writer: w, color: isTerminal(w)}
}

// JSON reports whether results are emitted as JSON.
func (o *Output) JSON() bool {
	return o.Format == "json"
}

// Data writes data in the JSON envelope. Text callers print their own lines.
func (o *Output) Data(data interface{}) error {
	return json.NewEncoder(o.Writer).Encode(Response{Status: "ok", Data: data})
}

// Fail writes err and returns it wrapped with code.
func (o *Output) Fail(code int, message string, err error) error {
	if o.JSON() {
		body := &ErrorBody{Code: string(svcerrors.CodeInternal), Message: message}
		if se := svcerrors.GetServiceError(err); se != nil {
			body.Code = string(se.Code)
			body.Message = se.Message
		} else if err != nil {
			body.Message = fmt.Sprintf("%s: %v", message, err)
		}
		_ = json.NewEncoder(o.Writer).Encode(Response{Status: "error", Error: body})
	} else {
		o.Mark(false, fmt.Sprintf("%s: %v", message, err))
	}
	return &ExitError{Code: code, Message: message, Err: err}
}

// Mark prints a check or cross followed by message.
func (o *Output) Mark(ok bool, message string) {
	symbol, color := "✓", ColorGreen
	if !ok {
		symbol, color = "✗", ColorRed
	}
	fmt.Fprintf(o.Writer, "%s %s\n", o.colorize(symbol, color), message)
}

// Warn prints a warning line.
func (o *Output) Warn(message string) {
	fmt.Fprintf(o.Writer, "%s %s\n", o.colorize("⚠", ColorYellow), message)
}

// Printf writes plain text.
func (o *Output) Printf(format string, args ...interface{}) {
	fmt.Fprintf(o.Writer, format, args...)
}

func (o *Output) colorize(text, color string) string {
	if !o.color {
		return text
	}
	return color + text + ColorReset
}

// ProgressBar draws a single-line bar for multi-step commands.
type ProgressBar struct {
	mu      sync.Mutex
	total   int
	current int
	width   int
	prefix  string
	writer  io.Writer
	color   bool
}

// NewProgressBar creates a bar over total steps.
func NewProgressBar(w io.Writer, total int, prefix string) *ProgressBar {
	return &ProgressBar{total: total, width: 30, prefix: prefix, writer: w, color: isTerminal(w)}
}

// Increment advances the bar by one step.
func (pb *ProgressBar) Increment() {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	if pb.current < pb.total {
		pb.current++
	}
	pb.render()
}

// Finish fills the bar and ends the line.
func (pb *ProgressBar) Finish() {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	pb.current = pb.total
	pb.render()
	fmt.Fprintln(pb.writer)
}

func (pb *ProgressBar) render() {
	percent := 1.0
	if pb.total > 0 {
		percent = float64(pb.current) / float64(pb.total)
	}
	filled := int(float64(pb.width) * percent)
	bar := strings.Repeat("█", filled) + strings.Repeat("░", pb.width-filled)
	if pb.color {
		switch {
		case percent < 0.5:
			bar = ColorYellow + bar + ColorReset
		case percent < 1:
			bar = ColorCyan + bar + ColorReset
		default:
			bar = ColorGreen + bar + ColorReset
		}
	}
	fmt.Fprintf(pb.writer, "\r%s [%s] %d/%d", pb.prefix, bar, pb.current, pb.total)
}

// isTerminal reports whether w is a character device.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
