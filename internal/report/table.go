// Package report renders operator-facing output: the candidate table,
// coloured status lines, apply progress and the metrics textfile.
package report

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"homeserver/homeprov/internal/storage/blk"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86")).
			MarginBottom(1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("99")).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(lipgloss.Color("241"))

	rowStyle = lipgloss.NewStyle().PaddingRight(1)

	emptyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Italic(true)
)

var columnWidths = []int{16, 10, 5, 6, 28, 36}

// CandidateTable renders candidate disks, one row per disk in the order given.
func CandidateTable(devs []blk.Device) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Candidate disks"))
	b.WriteString("\n")
	if len(devs) == 0 {
		b.WriteString(emptyStyle.Render("none"))
		b.WriteString("\n")
		return b.String()
	}
	b.WriteString(row([]string{"DEVICE", "SIZE", "KIND", "TRAN", "MODEL", "PARTITIONS"}, headerStyle))
	b.WriteString("\n")
	for _, d := range devs {
		b.WriteString(row([]string{
			d.Path,
			humanize.Bytes(d.SizeBytes),
			kind(d),
			dash(d.Tran),
			dash(d.Model),
			partitions(d),
		}, rowStyle))
		b.WriteString("\n")
	}
	return b.String()
}

func row(cols []string, style lipgloss.Style) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = style.Render(lipgloss.NewStyle().Width(columnWidths[i]).Render(c))
	}
	return strings.Join(out, " ")
}

func kind(d blk.Device) string {
	switch {
	case d.Rota == nil:
		return "-"
	case *d.Rota:
		return "HDD"
	default:
		return "SSD"
	}
}

func partitions(d blk.Device) string {
	parts := d.Partitions()
	if len(parts) == 0 {
		return "none"
	}
	names := make([]string, 0, len(parts))
	for _, p := range parts {
		fs := p.FSType
		if fs == "" {
			fs = "raw"
		}
		names = append(names, fmt.Sprintf("%s:%s", p.Name, fs))
	}
	return strings.Join(names, " ")
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// DiskLabel is the one-line description used in selection prompts.
func DiskLabel(d blk.Device) string {
	label := fmt.Sprintf("%s  %s", d.Path, humanize.Bytes(d.SizeBytes))
	if d.Model != "" {
		label += "  " + d.Model
	}
	if n := len(d.Partitions()); n > 0 {
		label += fmt.Sprintf("  (%d partitions)", n)
	}
	return label
}
