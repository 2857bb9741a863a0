package ingest

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"text/template"
	"time"

	"github.com/Masterminds/sprig/v3"

	apperrors "github.com/grovetools/slidesync/errors"
)

// Request describes one transcode: read Input, write a WebP to Output that
// fits inside Width x Height.
type Request struct {
	Input   string
	Output  string
	Width   int
	Height  int
	Quality int
}

// Transcoder turns a source image into the served format.
type Transcoder interface {
	Transcode(ctx context.Context, req Request) error
}

// TranscoderFunc adapts a function to Transcoder.
type TranscoderFunc func(ctx context.Context, req Request) error

// Transcode calls f.
func (f TranscoderFunc) Transcode(ctx context.Context, req Request) error {
	return f(ctx, req)
}

// CommandTranscoder runs an external program. Every argv element is a
// text/template over Request with the sprig function set, e.g.
// "{{.Width}}x{{.Height}}>" or "{{ .Quality | max 1 }}".
type CommandTranscoder struct {
	argv []*template.Template
}

// NewCommandTranscoder parses argv. The first element names the program.
func NewCommandTranscoder(argv []string) (*CommandTranscoder, error) {
	if len(argv) == 0 {
		return nil, apperrors.New(apperrors.ErrCodeInvalidInput, "transcode command is empty")
	}
	t := &CommandTranscoder{argv: make([]*template.Template, len(argv))}
	for i, arg := range argv {
		tmpl, err := template.New(fmt.Sprintf("arg%d", i)).
			Funcs(sprig.TxtFuncMap()).
			Option("missingkey=error").
			Parse(arg)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "invalid transcode command template").
				WithDetail("arg", arg)
		}
		t.argv[i] = tmpl
	}
	return t, nil
}

// Render expands the argv templates for req.
func (t *CommandTranscoder) Render(req Request) ([]string, error) {
	out := make([]string, len(t.argv))
	for i, tmpl := range t.argv {
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, req); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "cannot render transcode command")
		}
		out[i] = buf.String()
	}
	return out, nil
}

// Transcode runs the rendered command. Its combined output is attached to
// the error on failure.
func (t *CommandTranscoder) Transcode(ctx context.Context, req Request) error {
	argv, err := t.Render(req)
	if err != nil {
		return err
	}
	start := time.Now()
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return apperrors.TranscodeFailed(req.Input, time.Since(start), err).
			WithDetail("output", strings.TrimSpace(string(output)))
	}
	return nil
}
