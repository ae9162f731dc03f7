package granule

import (
	"fmt"
	"io"
	"os"
	"reflect"
	"sort"
	"strings"

	"github.com/ctessum/cdf"
)

// WriteFile serializes an aggregated record into one NetCDF file. Every
// dimension used by any variable is declared once with its last-seen
// size, each variable keeps its own ordered dimension names, and the fill
// value goes through the format's reserved attribute rather than the
// generic attribute loop. On failure no partial file is left behind.
func WriteFile(path string, rec *Record) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("granule: create %s: %w", path, err)
	}
	defer func() {
		f.Close()
		if err != nil {
			os.Remove(path)
		}
	}()

	flats := make(map[string]flatVar, len(rec.Vars))
	for _, v := range rec.Vars {
		fv, err := flattenVar(v, rec.Data[v], rec.Dims[v])
		if err != nil {
			return err
		}
		flats[v] = fv
	}

	// Merged dimension table: first-seen order, later sizes overwrite
	// earlier ones for the same name.
	var dimNames []string
	dimSizes := make(map[string]int)
	for _, v := range rec.Vars {
		fv := flats[v]
		for i, name := range fv.dims {
			if _, seen := dimSizes[name]; !seen {
				dimNames = append(dimNames, name)
			}
			dimSizes[name] = fv.sizes[i]
		}
	}
	lengths := make([]int, len(dimNames))
	for i, name := range dimNames {
		lengths[i] = dimSizes[name]
	}

	h := cdf.NewHeader(dimNames, lengths)
	for _, v := range rec.Vars {
		fv := flats[v]
		h.AddVariable(v, fv.dims, fv.value)
		if fill, ok := rec.Fill[v]; ok {
			fa, err := fillAttrValue(v, fill, fv.value)
			if err != nil {
				return err
			}
			h.AddAttribute(v, FillValueAttr, fa)
		}
		for _, a := range sortedAttrNames(rec.Attrs[v]) {
			if a == FillValueAttr {
				continue
			}
			av, err := attrValue(v, a, rec.Attrs[v][a])
			if err != nil {
				return err
			}
			h.AddAttribute(v, a, av)
		}
	}
	h.Define()
	if errs := h.Check(); len(errs) > 0 {
		return fmt.Errorf("granule: defining output header: %v", errs[0])
	}

	cf, err := cdf.Create(f, h)
	if err != nil {
		return fmt.Errorf("granule: writing header to %s: %w", path, err)
	}
	for _, v := range rec.Vars {
		// A nil begin/end window spans exactly the variable's extent, and
		// the strider reports io.EOF once the window is filled.
		w := cf.Writer(v, nil, nil)
		if _, err := w.Write(flats[v].value); err != nil && err != io.EOF {
			return fmt.Errorf("granule: writing %s: %w", v, err)
		}
	}
	if err := cdf.UpdateNumRecs(f); err != nil {
		return fmt.Errorf("granule: finalizing %s: %w", path, err)
	}
	return nil
}

// flatVar is a variable flattened to one of the writable value types,
// with its output dimension declaration.
type flatVar struct {
	value interface{} // []uint8, []int16, []int32, []float32, []float64 or string
	dims  []string
	sizes []int
}

func flattenVar(name string, data VarData, d Dims) (flatVar, error) {
	switch data.Kind {
	case KindText:
		return flattenTextVar(name, data.Values, d)
	case KindNumeric:
		flat, err := flattenNumeric(name, data.Values)
		if err != nil {
			return flatVar{}, err
		}
		fv := flatVar{value: flat, dims: d.Names, sizes: d.Sizes}
		if err := checkExtent(name, reflect.ValueOf(flat).Len(), fv.sizes); err != nil {
			return flatVar{}, err
		}
		return fv, nil
	}
	return flatVar{}, fmt.Errorf("granule: variable %s has an element type the output format cannot represent", name)
}

// flattenTextVar writes string-valued variables as fixed-width character
// arrays. Already character-shaped data (a single Go string) keeps its
// declared dimensions; string slices get one synthetic char dimension
// appended and NUL padding up to the widest element.
func flattenTextVar(name string, values interface{}, d Dims) (flatVar, error) {
	if s, ok := values.(string); ok {
		fv := flatVar{value: s, dims: d.Names, sizes: d.Sizes}
		if err := checkExtent(name, len(s), fv.sizes); err != nil {
			return flatVar{}, err
		}
		return fv, nil
	}
	leaves, err := textLeaves(name, reflect.ValueOf(values))
	if err != nil {
		return flatVar{}, err
	}
	width := 1
	for _, s := range leaves {
		if len(s) > width {
			width = len(s)
		}
	}
	var sb strings.Builder
	sb.Grow(len(leaves) * width)
	for _, s := range leaves {
		sb.WriteString(s)
		sb.WriteString(strings.Repeat("\x00", width-len(s)))
	}
	fv := flatVar{
		value: sb.String(),
		dims:  append(append([]string{}, d.Names...), charDimName(name)),
		sizes: append(append([]int{}, d.Sizes...), width),
	}
	if err := checkExtent(name, sb.Len(), fv.sizes); err != nil {
		return flatVar{}, err
	}
	return fv, nil
}

// charDimName names the synthetic fixed-width dimension of a text
// variable. Slashes from namespaced variable names are flattened.
func charDimName(varName string) string {
	return strings.ReplaceAll(varName, "/", "_") + "_nchar"
}

func textLeaves(name string, v reflect.Value) ([]string, error) {
	if v.Kind() == reflect.String {
		return []string{v.String()}, nil
	}
	if v.Kind() != reflect.Slice {
		return nil, fmt.Errorf("granule: variable %s: unexpected text value type %s", name, v.Type())
	}
	var out []string
	for i := 0; i < v.Len(); i++ {
		leaves, err := textLeaves(name, v.Index(i))
		if err != nil {
			return nil, err
		}
		out = append(out, leaves...)
	}
	return out, nil
}

// flattenNumeric collapses a possibly nested numeric array into the flat
// slice type the output container stores. Signed bytes are stored as the
// byte type and unsigned shorts widen to int; 64-bit integers have no
// classic-format representation and fail.
func flattenNumeric(name string, values interface{}) (interface{}, error) {
	rv := reflect.ValueOf(values)
	base := rv.Type()
	for base.Kind() == reflect.Slice {
		base = base.Elem()
	}
	elem, err := targetElem(base.Kind())
	if err != nil {
		return nil, fmt.Errorf("granule: variable %s: %w", name, err)
	}
	dst := reflect.MakeSlice(reflect.SliceOf(elem), 0, totalLen(rv))
	return flatLeaves(dst, rv).Interface(), nil
}

func targetElem(k reflect.Kind) (reflect.Type, error) {
	switch k {
	case reflect.Uint8, reflect.Int8:
		return reflect.TypeOf(uint8(0)), nil
	case reflect.Int16:
		return reflect.TypeOf(int16(0)), nil
	case reflect.Uint16, reflect.Int32:
		return reflect.TypeOf(int32(0)), nil
	case reflect.Float32:
		return reflect.TypeOf(float32(0)), nil
	case reflect.Float64:
		return reflect.TypeOf(float64(0)), nil
	}
	return nil, fmt.Errorf("element type %s is not representable in the output format", k)
}

func flatLeaves(dst, v reflect.Value) reflect.Value {
	if v.Kind() == reflect.Slice {
		if v.Type().Elem() == dst.Type().Elem() {
			return reflect.AppendSlice(dst, v)
		}
		for i := 0; i < v.Len(); i++ {
			dst = flatLeaves(dst, v.Index(i))
		}
		return dst
	}
	return reflect.Append(dst, v.Convert(dst.Type().Elem()))
}

func totalLen(v reflect.Value) int {
	if v.Kind() != reflect.Slice {
		return 1
	}
	if v.Len() == 0 || v.Type().Elem().Kind() != reflect.Slice {
		return v.Len()
	}
	n := 0
	for i := 0; i < v.Len(); i++ {
		n += totalLen(v.Index(i))
	}
	return n
}

// checkExtent verifies a flattened array fills its declared dimensions
// exactly. A mismatch means the dimension reconciliation went wrong
// upstream and the file would be silently misaligned.
func checkExtent(name string, n int, sizes []int) error {
	want := 1
	for _, s := range sizes {
		want *= s
	}
	if n != want {
		return fmt.Errorf("granule: variable %s has %d elements but its dimensions declare %d", name, n, want)
	}
	return nil
}

// fillAttrValue types the fill value to match the variable it fills.
func fillAttrValue(name string, fill, flat interface{}) (interface{}, error) {
	if s, ok := fill.(string); ok {
		if _, isText := flat.(string); isText {
			return s, nil
		}
		return nil, fmt.Errorf("granule: variable %s: text fill value on a numeric variable", name)
	}
	fv := reflect.ValueOf(fill)
	if !fv.Type().ConvertibleTo(reflect.TypeOf(float64(0))) {
		return nil, fmt.Errorf("granule: variable %s: cannot use %T as a fill value", name, fill)
	}
	switch flat.(type) {
	case []uint8:
		return []uint8{uint8(fv.Convert(reflect.TypeOf(uint8(0))).Uint())}, nil
	case []int16:
		return []int16{int16(fv.Convert(reflect.TypeOf(int16(0))).Int())}, nil
	case []int32:
		return []int32{int32(fv.Convert(reflect.TypeOf(int32(0))).Int())}, nil
	case []float32:
		return []float32{float32(fv.Convert(reflect.TypeOf(float32(0))).Float())}, nil
	case []float64:
		return []float64{fv.Convert(reflect.TypeOf(float64(0))).Float()}, nil
	}
	return nil, fmt.Errorf("granule: variable %s: no fill value representation", name)
}

// attrValue normalizes an attribute value to the types the output
// container stores.
func attrValue(varName, attrName string, v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case []uint8, []int16, []int32, []float32, []float64:
		return t, nil
	case uint8:
		return []uint8{t}, nil
	case int8:
		return []uint8{uint8(t)}, nil
	case int16:
		return []int16{t}, nil
	case uint16:
		return []int32{int32(t)}, nil
	case int32:
		return []int32{t}, nil
	case int:
		return []int32{int32(t)}, nil
	case float32:
		return []float32{t}, nil
	case float64:
		return []float64{t}, nil
	case []int8:
		out := make([]uint8, len(t))
		for i, x := range t {
			out[i] = uint8(x)
		}
		return out, nil
	case []uint16:
		out := make([]int32, len(t))
		for i, x := range t {
			out[i] = int32(x)
		}
		return out, nil
	}
	return nil, fmt.Errorf("granule: variable %s: attribute %s has unrepresentable type %T", varName, attrName, v)
}

func sortedAttrNames(attrs Attrs) []string {
	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	// map order is random; keep output files deterministic
	sort.Strings(names)
	return names
}
