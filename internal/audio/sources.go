package audio

import (
	"fmt"
	"os/exec"
	"strings"
)

// Source is a capture device the engines can be pointed at via audio.device.
type Source struct {
	Name        string
	Description string
}

// ListSources returns capture devices for the given ffmpeg input format.
func ListSources(inputFormat string) ([]Source, error) {
	switch inputFormat {
	case "pulse":
		output, err := exec.Command("pactl", "list", "short", "sources").Output()
		if err != nil {
			return nil, fmt.Errorf("failed to list PulseAudio sources: %w", err)
		}
		return parsePulseSources(string(output)), nil
	case "alsa":
		output, err := exec.Command("arecord", "-L").Output()
		if err != nil {
			return nil, fmt.Errorf("failed to list ALSA devices: %w", err)
		}
		return parseALSADevices(string(output)), nil
	case "jack":
		// PipeWire exposes JACK ports; output ports are the ones that can be captured.
		output, err := exec.Command("pw-link", "-o").Output()
		if err != nil {
			return nil, fmt.Errorf("failed to list PipeWire ports: %w", err)
		}
		return parsePipeWirePorts(string(output)), nil
	default:
		return nil, fmt.Errorf("source listing not supported for input format %q", inputFormat)
	}
}

// parsePulseSources parses `pactl list short sources`:
// index, name, driver, sample spec, state separated by tabs.
func parsePulseSources(output string) []Source {
	var sources []Source
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Split(strings.TrimSpace(line), "\t")
		if len(fields) < 2 || fields[1] == "" {
			continue
		}
		desc := ""
		if len(fields) >= 4 {
			desc = fields[3]
		}
		if strings.HasSuffix(fields[1], ".monitor") {
			desc = strings.TrimSpace(desc + " (monitor)")
		}
		sources = append(sources, Source{Name: fields[1], Description: desc})
	}
	return sources
}

// parseALSADevices parses `arecord -L`: a device name at column zero followed
// by indented description lines.
func parseALSADevices(output string) []Source {
	var sources []Source
	for _, line := range strings.Split(output, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if line[0] != ' ' && line[0] != '\t' {
			if line == "null" {
				continue
			}
			sources = append(sources, Source{Name: line})
			continue
		}
		if n := len(sources); n > 0 && sources[n-1].Description == "" {
			sources[n-1].Description = strings.TrimSpace(line)
		}
	}
	return sources
}

// parsePipeWirePorts parses `pw-link -o`: one "node:port" per line.
func parsePipeWirePorts(output string) []Source {
	var sources []Source
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasSuffix(line, "ports:") {
			continue
		}
		desc := ""
		if node, _, ok := strings.Cut(line, ":"); ok {
			desc = node
		}
		sources = append(sources, Source{Name: line, Description: desc})
	}
	return sources
}
