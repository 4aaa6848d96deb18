// Package filefilter parses the "[intocol:]path[:colspec]" syntax used
// to select and remap colours when loading a .ctx or .ctp file; grounded
// on original_source/src/basic/file_filter.c.
package filefilter

import (
	"fmt"
	"strconv"
	"strings"
)

// Filter is a parsed file-filter expression: Path is the bare filename,
// Cols lists which source colours to load (in order; a colspec of
// "2,0-1" loads source colour 2 first, then 0, then 1), and IntoCol is
// where the first loaded colour lands (file_filter_alloc /
// file_filter_set_cols).
type Filter struct {
	Path      string
	IntoCol   int
	Cols      []int // empty means "identity: every colour in the file"
	NoFilter  bool  // true when Cols was absent (identity mapping)
}

// Parse splits expr into its intocol, path, and colspec parts and
// parses the colspec into a column list. expr looks like
// "ctx.ctx", "3:ctx.ctx", or "ctx.ctx:0,2-4".
func Parse(expr string) (Filter, error) {
	rest := expr
	intoCol := 0
	if i := strings.IndexByte(rest, ':'); i >= 0 && isAllDigits(rest[:i]) && i > 0 {
		n, err := strconv.Atoi(rest[:i])
		if err != nil {
			return Filter{}, fmt.Errorf("filefilter: bad intocol in %q: %w", expr, err)
		}
		intoCol = n
		rest = rest[i+1:]
	}

	path, colspec, hasSpec := splitTrailingColspec(rest)
	if path == "" {
		return Filter{}, fmt.Errorf("filefilter: empty path in %q", expr)
	}

	f := Filter{Path: path, IntoCol: intoCol}
	if !hasSpec {
		f.NoFilter = true
		return f, nil
	}
	cols, err := parseColspec(colspec)
	if err != nil {
		return Filter{}, fmt.Errorf("filefilter: %w", err)
	}
	f.Cols = cols
	return f, nil
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// splitTrailingColspec mirrors file_filter_deconstruct_path's backward
// scan: walk back from the end of rest while characters are digits,
// commas, or dashes; if a ':' is found before running out, everything
// after it is the colspec.
func splitTrailingColspec(rest string) (path, colspec string, hasSpec bool) {
	i := len(rest)
	for i > 1 {
		c := rest[i-1]
		if c == ':' {
			return rest[:i-1], rest[i:], true
		}
		if !(c == ',' || c == '-' || (c >= '0' && c <= '9')) {
			break
		}
		i--
	}
	return rest, "", false
}

// parseColspec parses a comma-separated list of single indices or
// dash-ranges ("0,2-4,7") into an ordered, possibly-repeating column
// list (range_parse_array).
func parseColspec(spec string) ([]int, error) {
	var cols []int
	for _, part := range strings.Split(spec, ",") {
		if part == "" {
			continue
		}
		if dash := strings.IndexByte(part, '-'); dash >= 0 {
			lo, err := strconv.Atoi(part[:dash])
			if err != nil {
				return nil, fmt.Errorf("bad range start %q", part)
			}
			hi, err := strconv.Atoi(part[dash+1:])
			if err != nil {
				return nil, fmt.Errorf("bad range end %q", part)
			}
			if hi < lo {
				return nil, fmt.Errorf("descending range %q", part)
			}
			for c := lo; c <= hi; c++ {
				cols = append(cols, c)
			}
		} else {
			c, err := strconv.Atoi(part)
			if err != nil {
				return nil, fmt.Errorf("bad column %q", part)
			}
			cols = append(cols, c)
		}
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("empty colspec %q", spec)
	}
	return cols, nil
}

// NumColsLoaded returns how many destination colours this filter
// populates (file_filter_outncols).
func (f Filter) NumColsLoaded() int {
	if f.NoFilter {
		return 1 // identity: caller resolves the real file colour count separately
	}
	return len(f.Cols)
}

// String renders f the way file_filter_status logs it.
func (f Filter) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "loading file %s", f.Path)
	if !f.NoFilter {
		fmt.Fprintf(&b, " with colour filter: %d", f.Cols[0])
		for _, c := range f.Cols[1:] {
			fmt.Fprintf(&b, ",%d", c)
		}
	}
	n := f.NumColsLoaded()
	if n == 1 {
		fmt.Fprintf(&b, " into colour %d", f.IntoCol)
	} else {
		fmt.Fprintf(&b, " into colours %d-%d", f.IntoCol, f.IntoCol+n-1)
	}
	return b.String()
}
