package process

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// parsePS parses one line of `ps -o time=,rss=,comm=`: cumulative CPU
// time, resident size in KiB and the command, which may contain spaces.
func parsePS(line string) (cpuSeconds float64, rssKB uint64, name string, err error) {
	fields := strings.Fields(line)
	if len(fields) < 3 {
		return 0, 0, "", fmt.Errorf("unexpected ps output %q", line)
	}
	cpuSeconds, err = parseCPUTime(fields[0])
	if err != nil {
		return 0, 0, "", err
	}
	rssKB, err = strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return 0, 0, "", fmt.Errorf("ps rss %q: %w", fields[1], err)
	}
	return cpuSeconds, rssKB, filepath.Base(strings.Join(fields[2:], " ")), nil
}

// parseCPUTime accepts [[dd-]hh:]mm:ss[.ff], the formats BSD and macOS ps
// print for the time column.
func parseCPUTime(s string) (float64, error) {
	var days float64
	if d, rest, ok := strings.Cut(s, "-"); ok {
		n, err := strconv.Atoi(d)
		if err != nil {
			return 0, fmt.Errorf("ps time %q: %w", s, err)
		}
		days = float64(n)
		s = rest
	}
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("ps time %q: unexpected format", s)
	}
	var total float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil || v < 0 {
			return 0, fmt.Errorf("ps time %q: bad field %q", s, p)
		}
		if i < len(parts)-1 {
			total = (total + v) * 60
		} else {
			total += v
		}
	}
	return days*86400 + total, nil
}
