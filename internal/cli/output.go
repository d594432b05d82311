package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// output writes either human text or one JSON document per result.
type output struct {
	format string
	w      io.Writer
}

func newOutput(cmd *cobra.Command, opts *RootOptions) *output {
	return &output{format: opts.Format, w: cmd.OutOrStdout()}
}

func (o *output) json() bool { return o.format == "json" }

// printf writes text output. It is silent in JSON mode.
func (o *output) printf(format string, args ...any) {
	if o.json() {
		return
	}
	fmt.Fprintf(o.w, format, args...)
}

// result encodes v in JSON mode and runs text otherwise.
func (o *output) result(v any, text func()) error {
	if o.json() {
		enc := json.NewEncoder(o.w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text()
	return nil
}
