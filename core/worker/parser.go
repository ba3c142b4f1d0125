package worker

import (
	"regexp"
	"strconv"
)

// progressPattern matches the tail of a batch progress line, e.g.
// "Computed 25000 PMK in 48 seconds (520 PMK/s, 225000 in buffer)".
var progressPattern = regexp.MustCompile(`\((\d+)\s+([^,()]+?),\s*(\d+)\s+in buffer\)`)

type Progress struct {
	Rate     int64
	Unit     string
	Buffered int64
}

// ParseProgress extracts the throughput sample from a progress line.
func ParseProgress(line string) (Progress, bool) {
	m := progressPattern.FindStringSubmatch(line)
	if m == nil {
		return Progress{}, false
	}

	rate, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return Progress{}, false
	}

	buffered, err := strconv.ParseInt(m[3], 10, 64)
	if err != nil {
		return Progress{}, false
	}

	return Progress{Rate: rate, Unit: m[2], Buffered: buffered}, true
}
