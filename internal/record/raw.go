package record

// RawRecordSet is an ordered sequence of untyped rows with a header.
// Rows may be shorter than Header; missing trailing cells read as blank.
type RawRecordSet struct {
	Header  []string
	Rows    [][]string
	Sources []string // files that contributed rows, in merge order
}

// Len returns the number of data rows.
func (r *RawRecordSet) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Rows)
}

// Cell returns the cell at row i for header position col, or "" when the row
// is short.
func (r *RawRecordSet) Cell(i, col int) string {
	row := r.Rows[i]
	if col >= len(row) {
		return ""
	}
	return row[col]
}

// HeaderIndex returns the position of an exact header, or -1.
func (r *RawRecordSet) HeaderIndex(name string) int {
	for i, h := range r.Header {
		if h == name {
			return i
		}
	}
	return -1
}

// SetColumn sets every row's value for the named header, appending the
// column when the header is absent.
func (r *RawRecordSet) SetColumn(name, value string) {
	idx := r.HeaderIndex(name)
	if idx < 0 {
		r.Header = append(r.Header, name)
		idx = len(r.Header) - 1
	}
	for i, row := range r.Rows {
		for len(row) <= idx {
			row = append(row, "")
		}
		row[idx] = value
		r.Rows[i] = row
	}
}

// Append concatenates other's rows after r's. Headers are unioned by exact
// name in first-seen order; cells for columns a file lacks are blank.
func (r *RawRecordSet) Append(other *RawRecordSet) {
	r.AppendBy(other, func(h string) string { return h })
}

// AppendBy is Append with columns aligned by key(header) instead of the
// exact header text, so drift between files such as "City " against "City"
// lands in one column. The merged header keeps the first spelling seen.
//
// Each merged column takes at most one column of other, so two headers of the
// same file with one key stay separate and the collision is still reported
// at normalization. Headers whose key is "" never align.
func (r *RawRecordSet) AppendBy(other *RawRecordSet, key func(string) string) {
	if other == nil {
		return
	}

	keys := make([]string, len(r.Header))
	for i, h := range r.Header {
		keys[i] = key(h)
	}

	claimed := make([]bool, len(r.Header))
	pos := make([]int, len(other.Header))
	for i, h := range other.Header {
		k := key(h)
		idx := -1
		if k != "" {
			for j, existing := range keys {
				if existing == k && !claimed[j] {
					idx = j
					break
				}
			}
		}
		if idx < 0 {
			r.Header = append(r.Header, h)
			keys = append(keys, k)
			claimed = append(claimed, false)
			idx = len(r.Header) - 1
		}
		claimed[idx] = true
		pos[i] = idx
	}

	for _, src := range other.Rows {
		row := make([]string, len(r.Header))
		for i, cell := range src {
			if i < len(pos) {
				row[pos[i]] = cell
			}
		}
		r.Rows = append(r.Rows, row)
	}
	r.Sources = append(r.Sources, other.Sources...)
}
