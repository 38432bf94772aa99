package inferior

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// parseLoadBase scans the textual content of /proc/PID/maps for the
// first mapping whose backing file matches exe (by basename, since
// the recorded path may be absolute while the user passed a relative
// one) and returns its start address, per spec.md's design note on
// resolving a PIE load bias from /proc/PID/maps.
func parseLoadBase(maps string, exe string) (uint64, error) {
	want := filepath.Base(exe)
	for _, line := range strings.Split(maps, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 6 {
			continue
		}
		if strings.HasPrefix(fields[5], "[") {
			// Pseudo-mappings such as [stack] or [heap] have no backing file.
			continue
		}
		if filepath.Base(fields[5]) != want {
			continue
		}
		addrRange := fields[0]
		startStr, _, ok := strings.Cut(addrRange, "-")
		if !ok {
			continue
		}
		start, err := strconv.ParseUint(startStr, 16, 64)
		if err != nil {
			continue
		}
		return start, nil
	}
	return 0, fmt.Errorf("inferior: no mapping found for %s in /proc/maps", exe)
}
