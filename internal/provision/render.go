package provision

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// RenderText prints a plan as numbered steps with their shell equivalents.
func RenderText(p Plan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "disk: %s  action: %s  partition: %s  fstype: %s\n", p.Disk, p.Action, p.Partition, p.FSType)
	if len(p.Steps) == 0 {
		b.WriteString("  (no steps)\n")
		return b.String()
	}
	for i, s := range p.Steps {
		mark := ""
		if s.Destructive {
			mark = " [destructive]"
		}
		fmt.Fprintf(&b, "  %d. %s%s\n     $ %s\n", i+1, s.Description, mark, s.Command)
	}
	return b.String()
}

// RenderYAML marshals a plan for machine consumption.
func RenderYAML(p Plan) (string, error) {
	out, err := yaml.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal plan: %w", err)
	}
	return string(out), nil
}
