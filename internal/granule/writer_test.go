package granule

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testRecord builds a small aggregate with the variable shapes the
// retrieval products use: 2-D floats on (atrack, xtrack), a 1-D pressure
// axis, byte quality flags, and a namespaced group member.
func testRecord() *Record {
	rec := NewRecord(5)
	rec.Vars = []string{"lat", "air_pres", "num_cld_qc", "aux/co2_vmr", "quality_desc"}

	rec.Data["lat"] = VarData{
		Values: [][]float32{{10, 11, 12}, {20, 21, 22}},
		Kind:   KindNumeric,
	}
	rec.Dims["lat"] = Dims{Names: []string{"atrack", "xtrack"}, Sizes: []int{2, 3}}
	rec.Attrs["lat"] = Attrs{
		"units":       "degrees_north",
		"valid_range": []float32{-90, 90},
	}
	rec.Fill["lat"] = float32(-9999)

	rec.Data["air_pres"] = VarData{
		Values: []float64{100, 500, 1000},
		Kind:   KindNumeric,
	}
	rec.Dims["air_pres"] = Dims{Names: []string{"air_pres"}, Sizes: []int{3}}
	rec.Attrs["air_pres"] = Attrs{"units": "hPa"}

	rec.Data["num_cld_qc"] = VarData{
		Values: []int8{0, 1},
		Kind:   KindNumeric,
	}
	rec.Dims["num_cld_qc"] = Dims{Names: []string{"atrack"}, Sizes: []int{2}}
	rec.Attrs["num_cld_qc"] = Attrs{"valid_max": int32(2)}

	rec.Data["aux/co2_vmr"] = VarData{
		Values: [][]float32{{400.1, 400.2, 400.3}, {401.1, 401.2, 401.3}},
		Kind:   KindNumeric,
	}
	rec.Dims["aux/co2_vmr"] = Dims{Names: []string{"atrack", "xtrack"}, Sizes: []int{2, 3}}
	rec.Attrs["aux/co2_vmr"] = Attrs{}
	rec.Fill["aux/co2_vmr"] = float32(-9999)

	rec.Data["quality_desc"] = VarData{
		Values: []string{"good", "bad"},
		Kind:   KindText,
	}
	rec.Dims["quality_desc"] = Dims{Names: []string{"atrack"}, Sizes: []int{2}}
	rec.Attrs["quality_desc"] = Attrs{}

	return rec
}

func TestWriteFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.nc")
	rec := testRecord()
	require.NoError(t, WriteFile(path, rec))

	got, err := LoadFile(path, rec.Vars)
	require.NoError(t, err)

	assert.Equal(t, rec.Vars, got.Vars)
	assert.Equal(t, [][]float32{{10, 11, 12}, {20, 21, 22}}, got.Data["lat"].Values)
	assert.Equal(t, []float64{100, 500, 1000}, got.Data["air_pres"].Values)
	assert.Equal(t, [][]float32{{400.1, 400.2, 400.3}, {401.1, 401.2, 401.3}},
		got.Data["aux/co2_vmr"].Values)

	// Byte data is stored in the single byte type the container has and
	// reads back signed.
	assert.Equal(t, []int8{0, 1}, got.Data["num_cld_qc"].Values)

	// Text reads back NUL-trimmed with the synthetic char dimension.
	assert.Equal(t, []string{"good", "bad"}, got.Data["quality_desc"].Values)
	assert.Equal(t,
		Dims{Names: []string{"atrack", "quality_desc_nchar"}, Sizes: []int{2, 4}},
		got.Dims["quality_desc"])

	assert.Equal(t, Dims{Names: []string{"atrack", "xtrack"}, Sizes: []int{2, 3}}, got.Dims["lat"])
	assert.Equal(t, "degrees_north", got.Attrs["lat"]["units"])
	assert.Equal(t, []float32{-90, 90}, got.Attrs["lat"]["valid_range"])
	assert.Equal(t, "hPa", got.Attrs["air_pres"]["units"])
	assert.Equal(t, int32(2), got.Attrs["num_cld_qc"]["valid_max"])

	// The fill value survives through the reserved attribute only.
	assert.Equal(t, float32(-9999), got.Fill["lat"])
	assert.Equal(t, float32(-9999), got.Fill["aux/co2_vmr"])
	assert.NotContains(t, got.Attrs["lat"], FillValueAttr)
}

func TestWriteFileUnsupportedKind(t *testing.T) {
	rec := NewRecord(1)
	rec.Vars = []string{"odd"}
	rec.Data["odd"] = VarData{Values: []complex64{1}, Kind: KindUnsupported}
	rec.Dims["odd"] = Dims{Names: []string{"atrack"}, Sizes: []int{1}}
	rec.Attrs["odd"] = Attrs{}

	path := filepath.Join(t.TempDir(), "out.nc")
	err := WriteFile(path, rec)
	require.Error(t, err)

	// No partial file survives a failed write.
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestWriteFileExtentMismatch(t *testing.T) {
	rec := NewRecord(1)
	rec.Vars = []string{"lat"}
	rec.Data["lat"] = VarData{Values: []float32{1, 2, 3}, Kind: KindNumeric}
	rec.Dims["lat"] = Dims{Names: []string{"atrack"}, Sizes: []int{5}}
	rec.Attrs["lat"] = Attrs{}

	err := WriteFile(filepath.Join(t.TempDir(), "out.nc"), rec)
	assert.ErrorContains(t, err, "dimensions declare")
}

func TestCharDimName(t *testing.T) {
	assert.Equal(t, "quality_desc_nchar", charDimName("quality_desc"))
	assert.Equal(t, "aux_source_nchar", charDimName("aux/source"))
}
