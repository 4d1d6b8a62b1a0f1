// Package prompt asks the operator which disk to use and whether a
// destructive step may proceed.
package prompt

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"golang.org/x/term"

	"homeserver/homeprov/internal/provision"
	"homeserver/homeprov/internal/report"
	"homeserver/homeprov/internal/storage/blk"
)

const skipOption = "skip (do not set up storage now)"

// Survey prompts on an interactive terminal.
type Survey struct {
	Stdio survey.AskOpt
}

func (s Survey) opts() []survey.AskOpt {
	if s.Stdio == nil {
		return nil
	}
	return []survey.AskOpt{s.Stdio}
}

// ChooseDisk shows the candidates as a list with a trailing skip entry.
func (s Survey) ChooseDisk(cands []blk.Device) (string, error) {
	options := make([]string, 0, len(cands)+1)
	for _, d := range cands {
		options = append(options, report.DiskLabel(d))
	}
	options = append(options, skipOption)

	var idx int
	q := &survey.Select{
		Message: "Select the disk to use for storage:",
		Options: options,
		Default: skipOption,
	}
	if err := survey.AskOne(q, &idx, s.opts()...); err != nil {
		return "", err
	}
	if idx >= len(cands) {
		return provision.SkipChoice, nil
	}
	return cands[idx].Path, nil
}

// Confirm defaults to no.
func (s Survey) Confirm(message string) (bool, error) {
	ok := false
	q := &survey.Confirm{Message: message, Default: false}
	if err := survey.AskOne(q, &ok, s.opts()...); err != nil {
		return false, err
	}
	return ok, nil
}

// Lines reads answers line by line, for piped or scripted input. The disk
// answer is taken verbatim as a device identifier.
type Lines struct {
	in  *bufio.Reader
	out io.Writer
}

func NewLines(in io.Reader, out io.Writer) *Lines {
	if out == nil {
		out = io.Discard
	}
	return &Lines{in: bufio.NewReader(in), out: out}
}

func (l *Lines) ChooseDisk(cands []blk.Device) (string, error) {
	names := make([]string, 0, len(cands))
	for _, d := range cands {
		names = append(names, d.Name)
	}
	fmt.Fprintf(l.out, "Disk to use (%s, or skip): ", strings.Join(names, ", "))
	return l.readLine()
}

// Confirm accepts y/yes; anything else, including end of input, is no.
func (l *Lines) Confirm(message string) (bool, error) {
	fmt.Fprintf(l.out, "%s [y/N]: ", message)
	ans, err := l.readLine()
	if err != nil {
		return false, err
	}
	switch strings.ToLower(ans) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

func (l *Lines) readLine() (string, error) {
	s, err := l.in.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimSpace(s), nil
}

// ForTerminal picks Survey when stdin is a terminal and Lines otherwise.
func ForTerminal(in *os.File, out io.Writer) provision.Prompter {
	if term.IsTerminal(int(in.Fd())) {
		return Survey{}
	}
	return NewLines(in, out)
}
