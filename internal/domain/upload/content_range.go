package upload

import (
	"fmt"
	"regexp"
	"strconv"
)

var contentRangePattern = regexp.MustCompile(`^bytes (\d+)-(\d+)/(\d+)$`)

// ContentRange is a parsed `Content-Range: bytes start-end/total` header.
// Start and End are zero-based and inclusive.
type ContentRange struct {
	Start int64
	End   int64
	Total int64
}

// ParseContentRange accepts only the exact `bytes <start>-<end>/<total>` form.
func ParseContentRange(header string) (ContentRange, error) {
	m := contentRangePattern.FindStringSubmatch(header)
	if m == nil {
		return ContentRange{}, ErrBadContentRange
	}
	var vals [3]int64
	for i, s := range m[1:] {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return ContentRange{}, ErrBadContentRange
		}
		vals[i] = v
	}
	return ContentRange{Start: vals[0], End: vals[1], Total: vals[2]}, nil
}

// WholeRange describes a single request carrying an entire file.
func WholeRange(size int64) ContentRange {
	return ContentRange{Start: 0, End: size - 1, Total: size}
}

// Size is the number of bytes the range claims to carry.
func (r ContentRange) Size() int64 {
	return r.End - r.Start + 1
}

func (r ContentRange) String() string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, r.Total)
}
