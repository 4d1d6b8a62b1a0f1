package report

import (
	"io"

	"github.com/schollz/progressbar/v3"
)

// NewProgress returns a step counter for applying a plan.
func NewProgress(w io.Writer, steps int, desc string) *progressbar.ProgressBar {
	return progressbar.NewOptions(steps,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(desc),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(30),
		progressbar.OptionOnCompletion(func() { _, _ = io.WriteString(w, "\n") }),
	)
}
