// Package granule reads variables out of CLIMCAPS retrieval granules and
// writes aggregated variables back into a single NetCDF file.
package granule

// FillValueAttr is the reserved attribute naming a variable's
// missing-data sentinel. It is carried separately from the generic
// attribute map (Record.Fill) because the file format gives it reserved
// handling on both read and write.
const FillValueAttr = "_FillValue"

// Kind classifies a variable's element type. It is decided once, at load
// time, so that the writer never has to inspect array elements.
type Kind int

const (
	// KindNumeric covers the integer and floating-point element types.
	KindNumeric Kind = iota
	// KindText covers character and string data.
	KindText
	// KindUnsupported covers element types the aggregation cannot
	// represent in its output container.
	KindUnsupported
)

// VarData is one variable's array together with its element kind. Values
// holds the nested slices produced by the reader (for example
// [][]float32 for a 2-D float variable, []string for 1-D text).
type VarData struct {
	Values interface{}
	Kind   Kind
}

// Dims describes a variable's dimensions in declared order. The leading
// entry is the outermost axis.
type Dims struct {
	Names []string
	Sizes []int
}

// Has reports whether the descriptor includes the named dimension.
func (d Dims) Has(name string) bool {
	for _, n := range d.Names {
		if n == name {
			return true
		}
	}
	return false
}

// Attrs holds one variable's attributes keyed by name. The reserved fill
// value attribute never appears here.
type Attrs map[string]interface{}

// Record holds the variables loaded from one granule, or the merged
// result of aggregating several: parallel mappings keyed by variable
// name, plus the variable order they were requested in.
type Record struct {
	Vars  []string
	Data  map[string]VarData
	Dims  map[string]Dims
	Attrs map[string]Attrs
	Fill  map[string]interface{}
}

// NewRecord returns an empty record sized for n variables.
func NewRecord(n int) *Record {
	return &Record{
		Vars:  make([]string, 0, n),
		Data:  make(map[string]VarData, n),
		Dims:  make(map[string]Dims, n),
		Attrs: make(map[string]Attrs, n),
		Fill:  make(map[string]interface{}),
	}
}
