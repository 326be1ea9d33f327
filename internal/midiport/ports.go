package midiport

import (
	"fmt"
	"strings"

	"gitlab.com/gomidi/midi/v2/drivers"
)

// Ports lists every input and output the driver reports, excluded ones
// included.
func Ports(drv drivers.Driver) (ins, outs []string, err error) {
	i, err := drv.Ins()
	if err != nil {
		return nil, nil, fmt.Errorf("list inputs: %w", err)
	}
	o, err := drv.Outs()
	if err != nil {
		return nil, nil, fmt.Errorf("list outputs: %w", err)
	}
	return portNames(i), portNames(o), nil
}

func portNames[P fmt.Stringer](ports []P) []string {
	names := make([]string, 0, len(ports))
	for _, p := range ports {
		names = append(names, p.String())
	}
	return names
}

func exclude(names, patterns []string) []string {
	var out []string
	for _, name := range names {
		if !matchesAny(name, patterns) {
			out = append(out, name)
		}
	}
	return out
}

func pickPreferred(names, preferred []string) (string, bool) {
	for _, pat := range preferred {
		for _, name := range names {
			if containsCI(name, pat) {
				return name, true
			}
		}
	}
	if len(names) == 1 {
		return names[0], true
	}
	return "", false
}

func matchesAny(name string, patterns []string) bool {
	for _, pat := range patterns {
		if containsCI(name, pat) {
			return true
		}
	}
	return false
}

func containsCI(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}
