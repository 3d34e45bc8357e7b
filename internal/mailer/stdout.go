package mailer

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/ryosukesatoh/news-digest/internal/credential"
)

// StdoutTransport prints the message instead of sending it.
type StdoutTransport struct {
	w io.Writer
}

func NewStdoutTransport() *StdoutTransport {
	return &StdoutTransport{w: os.Stdout}
}

func (t *StdoutTransport) Send(_ context.Context, _ *credential.Credential, raw []byte) (string, error) {
	id := "dry-run-" + uuid.NewString()

	fmt.Fprintln(t.w, strings.Repeat("=", 72))
	fmt.Fprintf(t.w, "Dry run, message id %s\n", id)
	fmt.Fprintln(t.w, strings.Repeat("=", 72))
	t.w.Write(raw)
	fmt.Fprintln(t.w, strings.Repeat("=", 72))

	return id, nil
}
