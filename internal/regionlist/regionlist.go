// Package regionlist parses the --regions flag: a comma-separated list of
// region indices and inclusive a-b ranges, e.g. "0,2-3,5". This is one of
// the components spec.md explicitly treats as an external collaborator
// (§1), not part of the fuzzer core, so it stays on the standard library.
package regionlist

import (
	"fmt"
	"strconv"
	"strings"
)

// MaxIndex is the highest region index a BAR layout can ever produce (6 BAR
// slots, indices 0-5).
const MaxIndex = 5

// Parse parses s into a sorted, de-duplicated list of region indices.
func Parse(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	seen := make(map[int]bool)
	var out []int

	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		lo, hi, err := parsePart(part)
		if err != nil {
			return nil, fmt.Errorf("regionlist: %q: %w", part, err)
		}
		for i := lo; i <= hi; i++ {
			if !seen[i] {
				seen[i] = true
				out = append(out, i)
			}
		}
	}

	sortInts(out)
	return out, nil
}

func parsePart(part string) (lo, hi int, err error) {
	if dash := strings.IndexByte(part, '-'); dash > 0 {
		lo, err = strconv.Atoi(part[:dash])
		if err != nil {
			return 0, 0, err
		}
		hi, err = strconv.Atoi(part[dash+1:])
		if err != nil {
			return 0, 0, err
		}
	} else {
		lo, err = strconv.Atoi(part)
		if err != nil {
			return 0, 0, err
		}
		hi = lo
	}

	if lo < 0 || hi > MaxIndex || lo > hi {
		return 0, 0, fmt.Errorf("region index out of range [0,%d]", MaxIndex)
	}
	return lo, hi, nil
}

func sortInts(s []int) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
