// Package aggregate merges per-granule variable records into one daily
// record by concatenating along the leading along-track axis.
package aggregate

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/CLIMCAPS-tools/climcaps-cloud-prototypes/internal/granule"
)

// TrackDim is the along-track dimension, the only axis granules are
// concatenated along. It is assumed to be the leading axis of every
// variable that carries it.
const TrackDim = "atrack"

// ErrNoRecords reports an aggregation over zero granules.
var ErrNoRecords = errors.New("aggregate: no records to aggregate")

// Concat folds an ordered list of loaded granule records into one record.
// Variables carrying the track dimension are concatenated along axis 0 in
// list order; variables without it keep the first record's value (they
// are assumed static along track); variables with no dimensions at all
// are carried over untouched. Dimension names and attributes are taken
// from the last record, and each reconciled descriptor whose leading
// dimension is the track axis gets its size replaced by the concatenated
// leading extent.
func Concat(recs []*granule.Record) (*granule.Record, error) {
	if len(recs) == 0 {
		return nil, ErrNoRecords
	}
	rep := recs[len(recs)-1]

	out := granule.NewRecord(len(rep.Vars))
	out.Vars = append(out.Vars, rep.Vars...)
	for _, v := range rep.Vars {
		first, ok := recs[0].Data[v]
		if !ok {
			return nil, fmt.Errorf("aggregate: variable %s missing from first granule", v)
		}
		out.Data[v] = granule.VarData{Values: copyValues(first.Values), Kind: first.Kind}
		out.Attrs[v] = rep.Attrs[v]
		if fill, ok := rep.Fill[v]; ok {
			out.Fill[v] = fill
		}
	}

	for _, rec := range recs[1:] {
		for _, v := range rec.Vars {
			d := rep.Dims[v]
			if len(d.Names) == 0 {
				continue
			}
			if !d.Has(TrackDim) {
				continue
			}
			merged, err := concatAxis0(out.Data[v].Values, rec.Data[v].Values)
			if err != nil {
				return nil, fmt.Errorf("aggregate: variable %s: %w", v, err)
			}
			out.Data[v] = granule.VarData{Values: merged, Kind: out.Data[v].Kind}
		}
	}

	for _, v := range out.Vars {
		d := rep.Dims[v]
		nd := granule.Dims{
			Names: append([]string{}, d.Names...),
			Sizes: append([]int{}, d.Sizes...),
		}
		if len(nd.Names) > 0 && nd.Names[0] == TrackDim {
			nd.Sizes[0] = leadingExtent(out.Data[v].Values)
		}
		out.Dims[v] = nd
	}
	return out, nil
}

// concatAxis0 appends b to a along the leading axis. One-dimensional
// character variables surface as Go strings and append directly; every
// other variable is a slice whose outer length is the leading extent.
func concatAxis0(a, b interface{}) (interface{}, error) {
	if as, ok := a.(string); ok {
		bs, ok := b.(string)
		if !ok {
			return nil, fmt.Errorf("cannot concatenate %T onto text data", b)
		}
		return as + bs, nil
	}
	av, bv := reflect.ValueOf(a), reflect.ValueOf(b)
	if av.Kind() != reflect.Slice || bv.Kind() != reflect.Slice {
		return nil, fmt.Errorf("cannot concatenate non-array values (%T, %T)", a, b)
	}
	if av.Type() != bv.Type() {
		return nil, fmt.Errorf("mismatched array types %T and %T", a, b)
	}
	return reflect.AppendSlice(av, bv).Interface(), nil
}

// copyValues takes a structural copy of the outer axis so later appends
// never alias a loaded record's backing array.
func copyValues(v interface{}) interface{} {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return v
	}
	out := reflect.MakeSlice(rv.Type(), rv.Len(), rv.Len())
	reflect.Copy(out, rv)
	return out.Interface()
}

// leadingExtent is the size of a value's leading axis.
func leadingExtent(v interface{}) int {
	if s, ok := v.(string); ok {
		return len(s)
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return 1
	}
	return rv.Len()
}
