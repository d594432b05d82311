package cli

import (
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
)

// bell stands in for a vibration motor by ringing the terminal bell.
type bell struct {
	w   io.Writer
	tty bool
}

func newBell(f *os.File) *bell {
	return &bell{w: f, tty: isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())}
}

func (b *bell) Supported() bool { return b.tty }

func (b *bell) Pulse(time.Duration) {
	_, _ = io.WriteString(b.w, "\a")
}
