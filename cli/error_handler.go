package cli

import (
	"fmt"
	"io"

	"github.com/grovetools/slidesync/errors"
)

// ErrorHandler provides user-friendly error messages
type ErrorHandler struct {
	Verbose bool
	Out     io.Writer
}

// NewErrorHandler creates a new error handler
func NewErrorHandler(out io.Writer, verbose bool) *ErrorHandler {
	return &ErrorHandler{
		Verbose: verbose,
		Out:     out,
	}
}

// Handle prints err with a hint based on its code and returns it.
func (h *ErrorHandler) Handle(err error) error {
	if err == nil {
		return nil
	}
	groveErr, _ := errors.As(err)

	switch errors.GetCode(err) {
	case errors.ErrCodeConfigNotFound:
		fmt.Fprintf(h.Out, "❌ Configuration not found at %s\n", groveErr.Detail("path"))
		fmt.Fprintf(h.Out, "Start 'slidesync serve' once to create one with defaults.\n")

	case errors.ErrCodeConfigInvalid:
		fmt.Fprintf(h.Out, "❌ %s is not valid JSON: %v\n", groveErr.Detail("path"), groveErr.Cause)

	case errors.ErrCodeConfigValidation:
		fmt.Fprintf(h.Out, "❌ Invalid setting: %s\n", groveErr.Message)
		fmt.Fprintf(h.Out, "Run 'slidesync config schema' to see every field.\n")

	case errors.ErrCodeJobConflict:
		fmt.Fprintf(h.Out, "❌ Reprocessing is already requested or running\n")
		fmt.Fprintf(h.Out, "Watch it with 'slidesync reprocess watch', or clear a stuck job with 'slidesync reprocess clear'.\n")

	case errors.ErrCodeAlreadyRunning:
		fmt.Fprintf(h.Out, "❌ %s is already running (PID %s)\n", groveErr.Detail("process"), groveErr.Detail("pid"))

	case errors.ErrCodeCorruptState:
		fmt.Fprintf(h.Out, "❌ %s is corrupt\n", groveErr.Detail("path"))
		fmt.Fprintf(h.Out, "Clear it with 'slidesync reprocess clear'.\n")

	case errors.ErrCodePermissionDenied:
		fmt.Fprintf(h.Out, "❌ Access denied: add this host to admin.allowedIPs\n")

	default:
		fmt.Fprintf(h.Out, "❌ Error: %v\n", err)
	}

	if h.Verbose && groveErr != nil {
		fmt.Fprintf(h.Out, "\nError details:\n%s\n", groveErr.ToJSON())
	}
	return err
}
