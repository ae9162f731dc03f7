package granule

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"
)

// ErrEmptyPayload reports that a remote read returned no bytes. This is a
// transport failure, not a malformed file: the caller may retry the fetch
// instead of treating the granule as unreadable.
var ErrEmptyPayload = errors.New("granule: empty payload from remote read")

// LoadFile loads the named variables from a granule file on the local
// filesystem.
func LoadFile(path string, varNames []string) (*Record, error) {
	nc, err := netcdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("granule: open %s: %w", path, err)
	}
	defer nc.Close()
	return load(nc, varNames)
}

// LoadStream loads the named variables from a remote byte stream. The
// stream is read fully into memory before parsing.
func LoadStream(r io.Reader, varNames []string) (*Record, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("granule: reading remote stream: %w", err)
	}
	return LoadBytes(b, varNames)
}

// LoadBytes loads the named variables from an in-memory granule. An empty
// payload returns ErrEmptyPayload.
func LoadBytes(b []byte, varNames []string) (*Record, error) {
	if len(b) == 0 {
		return nil, ErrEmptyPayload
	}
	nc, err := netcdf.New(readSeekerNopCloser{bytes.NewReader(b)})
	if err != nil {
		return nil, fmt.Errorf("granule: parsing in-memory granule: %w", err)
	}
	defer nc.Close()
	return load(nc, varNames)
}

type readSeekerNopCloser struct{ *bytes.Reader }

func (readSeekerNopCloser) Close() error { return nil }

func load(nc api.Group, varNames []string) (*Record, error) {
	rec := NewRecord(len(varNames))
	groups := make(map[string]api.Group)
	defer func() {
		for _, g := range groups {
			g.Close()
		}
	}()

	for _, name := range varNames {
		vg, grp, err := varGetter(nc, groups, name)
		if err != nil {
			return nil, err
		}
		values, err := vg.Values()
		if err != nil {
			return nil, fmt.Errorf("granule: reading %s: %w", name, err)
		}
		kind := kindOf(vg.GoType())
		if kind == KindText {
			values = trimNuls(values)
		}
		dims, err := resolveDims(nc, grp, name, vg.Dimensions())
		if err != nil {
			return nil, err
		}
		attrs, fill := collectAttrs(vg.Attributes())

		rec.Vars = append(rec.Vars, name)
		rec.Data[name] = VarData{Values: values, Kind: kind}
		rec.Dims[name] = dims
		rec.Attrs[name] = attrs
		if fill != nil {
			rec.Fill[name] = fill
		}
	}
	return rec, nil
}

// varGetter resolves a possibly namespaced variable name. Flat files keep
// slash-names at the root, so the root lookup comes first; nested files
// need the enclosing group opened by the name's path prefix. The group
// handle, if any, is returned for group-scoped dimension resolution and
// is cached so each group is opened once per load.
func varGetter(nc api.Group, groups map[string]api.Group, name string) (api.VarGetter, api.Group, error) {
	vg, rootErr := nc.GetVarGetter(name)
	if rootErr == nil {
		return vg, nil, nil
	}
	slash := strings.LastIndex(name, "/")
	if slash < 0 {
		return nil, nil, fmt.Errorf("granule: variable %s: %w", name, rootErr)
	}
	prefix, leaf := name[:slash], name[slash+1:]
	grp, ok := groups[prefix]
	if !ok {
		var err error
		grp, err = nc.GetGroup(prefix)
		if err != nil {
			return nil, nil, fmt.Errorf("granule: group %s: %w", prefix, err)
		}
		groups[prefix] = grp
	}
	vg, err := grp.GetVarGetter(leaf)
	if err != nil {
		return nil, nil, fmt.Errorf("granule: variable %s: %w", name, err)
	}
	return vg, grp, nil
}

// dimScope tags where a dimension's size declaration was found.
type dimScope int

const (
	dimNotFound dimScope = iota
	dimAtRoot
	dimInGroup
)

// lookupDim resolves a dimension size, trying the file root first and
// falling back to the variable's enclosing group. Dimensions can be
// declared at either scope in the source products.
func lookupDim(root, grp api.Group, name string) (uint64, dimScope) {
	if size, found := root.GetDimension(name); found {
		return size, dimAtRoot
	}
	if grp != nil {
		if size, found := grp.GetDimension(name); found {
			return size, dimInGroup
		}
	}
	return 0, dimNotFound
}

func resolveDims(root, grp api.Group, varName string, names []string) (Dims, error) {
	d := Dims{Names: names, Sizes: make([]int, len(names))}
	for i, n := range names {
		size, scope := lookupDim(root, grp, n)
		if scope == dimNotFound {
			return Dims{}, fmt.Errorf("granule: variable %s: dimension %s declared neither at the file root nor in the variable's group", varName, n)
		}
		d.Sizes[i] = int(size)
	}
	return d, nil
}

func kindOf(goType string) Kind {
	switch goType {
	case "string":
		return KindText
	case "int8", "uint8", "int16", "uint16", "int32", "uint32",
		"int64", "uint64", "float32", "float64":
		return KindNumeric
	}
	return KindUnsupported
}

// collectAttrs copies a variable's attributes into a plain map, splitting
// the reserved fill value attribute out into its own return value.
func collectAttrs(am api.AttributeMap) (Attrs, interface{}) {
	attrs := make(Attrs)
	if am == nil {
		return attrs, nil
	}
	var fill interface{}
	for _, key := range am.Keys() {
		val, ok := am.Get(key)
		if !ok {
			continue
		}
		val = scalarize(val)
		if key == FillValueAttr {
			fill = val
			continue
		}
		attrs[key] = val
	}
	return attrs, fill
}

// scalarize unwraps single-element attribute slices so attribute values
// compare consistently across the readers.
func scalarize(v interface{}) interface{} {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice && rv.Len() == 1 {
		return rv.Index(0).Interface()
	}
	return v
}

// trimNuls strips the NUL padding fixed-width character variables carry.
func trimNuls(v interface{}) interface{} {
	switch t := v.(type) {
	case string:
		return strings.TrimRight(t, "\x00")
	case []string:
		out := make([]string, len(t))
		for i, s := range t {
			out[i] = strings.TrimRight(s, "\x00")
		}
		return out
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return v
	}
	out := reflect.MakeSlice(rv.Type(), rv.Len(), rv.Len())
	for i := 0; i < rv.Len(); i++ {
		out.Index(i).Set(reflect.ValueOf(trimNuls(rv.Index(i).Interface())))
	}
	return out.Interface()
}
