package granule

import (
	"fmt"
	"strings"
	"testing"

	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAttrs is an ordered attribute map.
type fakeAttrs struct {
	keys []string
	vals map[string]interface{}
}

func (f fakeAttrs) Keys() []string { return f.keys }
func (f fakeAttrs) Get(key string) (interface{}, bool) {
	v, ok := f.vals[key]
	return v, ok
}
func (f fakeAttrs) GetType(string) (string, bool)   { return "", false }
func (f fakeAttrs) GetGoType(string) (string, bool) { return "", false }

type fakeVar struct {
	values interface{}
	dims   []string
	attrs  fakeAttrs
	goType string
}

func (f fakeVar) Len() int64                               { return 1 }
func (f fakeVar) Values() (interface{}, error)             { return f.values, nil }
func (f fakeVar) GetSlice(_, _ int64) (interface{}, error) { return f.values, nil }
func (f fakeVar) Dimensions() []string                     { return f.dims }
func (f fakeVar) Attributes() api.AttributeMap             { return f.attrs }
func (f fakeVar) Type() string                             { return "" }
func (f fakeVar) GoType() string                           { return f.goType }

// fakeGroup implements api.Group with variables, dimension sizes and
// subgroups served from plain maps.
type fakeGroup struct {
	vars   map[string]fakeVar
	dims   map[string]uint64
	groups map[string]*fakeGroup
	closed bool
}

func (g *fakeGroup) Close()                       { g.closed = true }
func (g *fakeGroup) Attributes() api.AttributeMap { return fakeAttrs{} }
func (g *fakeGroup) ListVariables() []string {
	var names []string
	for n := range g.vars {
		names = append(names, n)
	}
	return names
}
func (g *fakeGroup) GetVariable(name string) (*api.Variable, error) {
	return nil, fmt.Errorf("not implemented")
}
func (g *fakeGroup) GetVarGetter(name string) (api.VarGetter, error) {
	v, ok := g.vars[name]
	if !ok {
		return nil, fmt.Errorf("no such variable %q", name)
	}
	return v, nil
}
func (g *fakeGroup) ListSubgroups() []string {
	var names []string
	for n := range g.groups {
		names = append(names, n)
	}
	return names
}
func (g *fakeGroup) GetGroup(name string) (api.Group, error) {
	sub, ok := g.groups[name]
	if !ok {
		return nil, fmt.Errorf("no such group %q", name)
	}
	return sub, nil
}
func (g *fakeGroup) ListTypes() []string             { return nil }
func (g *fakeGroup) GetType(string) (string, bool)   { return "", false }
func (g *fakeGroup) GetGoType(string) (string, bool) { return "", false }

func (g *fakeGroup) ListDimensions() []string {
	var names []string
	for n := range g.dims {
		names = append(names, n)
	}
	return names
}

func (g *fakeGroup) GetDimension(name string) (uint64, bool) {
	size, ok := g.dims[name]
	return size, ok
}

func TestLoadRootVariable(t *testing.T) {
	root := &fakeGroup{
		vars: map[string]fakeVar{
			"lat": {
				values: [][]float32{{1, 2, 3}, {4, 5, 6}},
				dims:   []string{"atrack", "xtrack"},
				goType: "float32",
				attrs: fakeAttrs{
					keys: []string{"units", "_FillValue", "valid_range"},
					vals: map[string]interface{}{
						"units":       "degrees_north",
						"_FillValue":  []float32{-9999},
						"valid_range": []float32{-90, 90},
					},
				},
			},
		},
		dims: map[string]uint64{"atrack": 2, "xtrack": 3},
	}

	rec, err := load(root, []string{"lat"})
	require.NoError(t, err)

	require.Equal(t, []string{"lat"}, rec.Vars)
	assert.Equal(t, [][]float32{{1, 2, 3}, {4, 5, 6}}, rec.Data["lat"].Values)
	assert.Equal(t, KindNumeric, rec.Data["lat"].Kind)
	assert.Equal(t, Dims{Names: []string{"atrack", "xtrack"}, Sizes: []int{2, 3}}, rec.Dims["lat"])

	// Single-element attributes come back as scalars, the fill value is
	// carried outside the generic attribute map, and multi-element
	// attributes keep their slice form.
	assert.Equal(t, "degrees_north", rec.Attrs["lat"]["units"])
	assert.Equal(t, []float32{-90, 90}, rec.Attrs["lat"]["valid_range"])
	assert.NotContains(t, rec.Attrs["lat"], FillValueAttr)
	assert.Equal(t, float32(-9999), rec.Fill["lat"])
}

func TestLoadGroupVariableAndGroupDimension(t *testing.T) {
	mw := &fakeGroup{
		vars: map[string]fakeVar{
			"mw_air_temp": {
				values: [][]float32{{250, 251}, {252, 253}},
				dims:   []string{"atrack", "mw_air_pres"},
				goType: "float32",
				attrs:  fakeAttrs{},
			},
		},
		// mw_air_pres is declared inside the group, not at the root.
		dims: map[string]uint64{"mw_air_pres": 2},
	}
	root := &fakeGroup{
		dims:   map[string]uint64{"atrack": 2},
		groups: map[string]*fakeGroup{"mw": mw},
	}

	rec, err := load(root, []string{"mw/mw_air_temp"})
	require.NoError(t, err)
	assert.Equal(t, Dims{Names: []string{"atrack", "mw_air_pres"}, Sizes: []int{2, 2}},
		rec.Dims["mw/mw_air_temp"])
	assert.True(t, mw.closed, "opened groups are closed after the load")
}

func TestLoadMissingDimension(t *testing.T) {
	root := &fakeGroup{
		vars: map[string]fakeVar{
			"lat": {values: []float32{1}, dims: []string{"atrack"}, goType: "float32", attrs: fakeAttrs{}},
		},
	}
	_, err := load(root, []string{"lat"})
	assert.ErrorContains(t, err, "dimension atrack")
}

func TestLoadMissingVariable(t *testing.T) {
	root := &fakeGroup{}
	_, err := load(root, []string{"nonesuch"})
	assert.Error(t, err)

	_, err = load(root, []string{"aux/nonesuch"})
	assert.ErrorContains(t, err, "group aux")
}

func TestLoadTextTrimsPadding(t *testing.T) {
	root := &fakeGroup{
		vars: map[string]fakeVar{
			"quality_desc": {
				values: []string{"good\x00\x00", "bad\x00\x00\x00"},
				dims:   []string{"atrack"},
				goType: "string",
				attrs:  fakeAttrs{},
			},
		},
		dims: map[string]uint64{"atrack": 2},
	}
	rec, err := load(root, []string{"quality_desc"})
	require.NoError(t, err)
	assert.Equal(t, []string{"good", "bad"}, rec.Data["quality_desc"].Values)
	assert.Equal(t, KindText, rec.Data["quality_desc"].Kind)
}

func TestLoadUnsupportedKind(t *testing.T) {
	root := &fakeGroup{
		vars: map[string]fakeVar{
			"odd": {values: []complex64{1}, dims: nil, goType: "complex64", attrs: fakeAttrs{}},
		},
	}
	rec, err := load(root, []string{"odd"})
	require.NoError(t, err)
	assert.Equal(t, KindUnsupported, rec.Data["odd"].Kind)
}

func TestLoadBytesEmptyPayload(t *testing.T) {
	_, err := LoadBytes(nil, []string{"lat"})
	assert.ErrorIs(t, err, ErrEmptyPayload)
}

func TestLoadStreamPropagatesReadErrors(t *testing.T) {
	_, err := LoadStream(failingReader{}, []string{"lat"})
	assert.ErrorContains(t, err, "remote stream")
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, fmt.Errorf("connection reset") }

func TestTrimNulsNested(t *testing.T) {
	got := trimNuls([][]string{{"ab\x00", "c\x00\x00"}, {"\x00\x00\x00"}})
	assert.Equal(t, [][]string{{"ab", "c"}, {""}}, got)

	// Non-text values pass through untouched.
	assert.Equal(t, 7, trimNuls(7))
	assert.Equal(t, strings.Repeat("x", 3), trimNuls("xxx"))
}
