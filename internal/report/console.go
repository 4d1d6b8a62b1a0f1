package report

import (
	"fmt"
	"io"

	"github.com/fatih/color"
)

var (
	bannerColor  = color.New(color.FgBlue, color.Bold)
	warnColor    = color.New(color.FgYellow)
	dangerColor  = color.New(color.FgRed, color.Bold)
	successColor = color.New(color.FgGreen)
)

func Banner(w io.Writer, title string) {
	bannerColor.Fprintf(w, "\n== %s ==\n\n", title)
}

func Warn(w io.Writer, format string, args ...any) {
	warnColor.Fprintf(w, "WARNING: "+format+"\n", args...)
}

// Danger announces an action that destroys data.
func Danger(w io.Writer, format string, args ...any) {
	dangerColor.Fprintf(w, "\n"+format+"\n", args...)
}

func Success(w io.Writer, format string, args ...any) {
	successColor.Fprintf(w, format+"\n", args...)
}

func Info(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, format+"\n", args...)
}
