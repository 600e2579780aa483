package dataset

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// DefaultFeaturePrefix is the column naming convention agreed with the
// feature-engineering pipeline: every auto-discovered feature column
// starts with this prefix.
const DefaultFeaturePrefix = "feat_"

// DataError represents a malformed or empty dataset slice
type DataError struct {
	Reason string
}

func (e *DataError) Error() string {
	return "dataset: " + e.Reason
}

// Row represents one observation: a single entity at a single time point
// with its feature values and, optionally, a target value.
type Row struct {
	Time   time.Time          `json:"time"`
	Entity string             `json:"entity"`
	Values map[string]float64 `json:"values"`
}

// Options configures dataset construction
type Options struct {
	TimeColumn    string // designated time column name (default "date")
	EntityColumn  string // designated entity column name (default "ticker")
	FeaturePrefix string // feature discovery prefix (default "feat_")
	SchemaVersion string // upstream feature dataset contract version
}

func (o Options) withDefaults() Options {
	if o.TimeColumn == "" {
		o.TimeColumn = "date"
	}
	if o.EntityColumn == "" {
		o.EntityColumn = "ticker"
	}
	if o.FeaturePrefix == "" {
		o.FeaturePrefix = DefaultFeaturePrefix
	}
	return o
}

// Dataset is a time-ordered tabular dataset. Rows are sorted by
// (time, entity); the time index is the sorted duplicate-free sequence of
// time points and window slicing operates on positions in that index.
type Dataset struct {
	opts     Options
	features []string
	rows     []Row
	index    []time.Time
	// offsets[i] is the position in rows of the first row at index[i];
	// offsets has len(index)+1 entries so offsets[i]:offsets[i+1] is the
	// row range of time point i.
	offsets []int
}

// New builds a Dataset from rows. Rows are re-sorted by (time, entity) so
// callers do not need to pre-sort. Every row must carry the same value
// columns; ragged rows fail with a DataError.
func New(rows []Row, opts Options) (*Dataset, error) {
	opts = opts.withDefaults()

	if len(rows) == 0 {
		return nil, &DataError{Reason: "no rows"}
	}

	sorted := make([]Row, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].Time.Equal(sorted[j].Time) {
			return sorted[i].Time.Before(sorted[j].Time)
		}
		return sorted[i].Entity < sorted[j].Entity
	})

	columns := columnSet(sorted[0])
	features := make([]string, 0, len(columns))
	for col := range columns {
		if strings.HasPrefix(col, opts.FeaturePrefix) {
			features = append(features, col)
		}
	}
	sort.Strings(features)

	var index []time.Time
	var offsets []int
	for i, row := range sorted {
		if len(row.Values) != len(columns) {
			return nil, &DataError{Reason: fmt.Sprintf("ragged columns at row %d: got %d values, want %d", i, len(row.Values), len(columns))}
		}
		for col := range row.Values {
			if _, ok := columns[col]; !ok {
				return nil, &DataError{Reason: fmt.Sprintf("unexpected column %q at row %d", col, i)}
			}
		}
		if len(index) == 0 || !index[len(index)-1].Equal(row.Time) {
			index = append(index, row.Time)
			offsets = append(offsets, i)
		}
	}
	offsets = append(offsets, len(sorted))

	return &Dataset{
		opts:     opts,
		features: features,
		rows:     sorted,
		index:    index,
		offsets:  offsets,
	}, nil
}

func columnSet(row Row) map[string]struct{} {
	cols := make(map[string]struct{}, len(row.Values))
	for col := range row.Values {
		cols[col] = struct{}{}
	}
	return cols
}

// SchemaVersion returns the upstream feature contract version
func (d *Dataset) SchemaVersion() string {
	return d.opts.SchemaVersion
}

// TimeColumn returns the designated time column name
func (d *Dataset) TimeColumn() string {
	return d.opts.TimeColumn
}

// EntityColumn returns the designated entity column name
func (d *Dataset) EntityColumn() string {
	return d.opts.EntityColumn
}

// FeaturePrefix returns the feature discovery prefix in effect
func (d *Dataset) FeaturePrefix() string {
	return d.opts.FeaturePrefix
}

// Features returns the discovered feature column names in sorted order
func (d *Dataset) Features() []string {
	out := make([]string, len(d.features))
	copy(out, d.features)
	return out
}

// Len returns the number of distinct time points
func (d *Dataset) Len() int {
	return len(d.index)
}

// Rows returns the total number of rows across all time points
func (d *Dataset) Rows() int {
	return len(d.rows)
}

// At returns the time point at index position i
func (d *Dataset) At(i int) time.Time {
	return d.index[i]
}

// TimeIndex returns a copy of the duplicate-free time index
func (d *Dataset) TimeIndex() []time.Time {
	out := make([]time.Time, len(d.index))
	copy(out, d.index)
	return out
}

// Slice returns the rows covering time-index positions [from, to).
// The returned slice aliases the dataset's backing array and must be
// treated as read-only.
func (d *Dataset) Slice(from, to int) []Row {
	if from < 0 || to > len(d.index) || from >= to {
		return nil
	}
	return d.rows[d.offsets[from]:d.offsets[to]]
}

// HasColumn reports whether every row carries the named column
func (d *Dataset) HasColumn(name string) bool {
	_, ok := d.rows[0].Values[name]
	return ok
}
