package jobs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "Final Cut", want: "final_cut"},
		{in: "test filename.blend", want: "test_filename"},
		{in: "Scene.BLEND", want: "scene"},
		{in: "  Spaced   Out\tName  ", want: "spaced_out_name"},
		{in: "double.blend.blend", want: "double"},
		{in: "archive.blend.zip", want: "archive.blend.zip"},
		{in: "already_normal", want: "already_normal"},
		{in: ".blend", want: ""},
		{in: "   ", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := NormalizeName(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, NormalizeName(got), "normalization must be idempotent")
		})
	}
}

func TestSourceToken(t *testing.T) {
	assert.Equal(t, "default_cube", SourceToken("test/default_cube.blend"))
	assert.Equal(t, "scene", SourceToken(`projects\Scene.blend`))
	assert.Equal(t, "somefile", SourceToken("somefile.blend"))
}

func TestOutputPrefix(t *testing.T) {
	created := time.Date(2023, 8, 20, 0, 7, 46, 0, time.UTC)

	got := OutputPrefix("test filename.blend", "c98d55ff-2d1e-4b0c-9a3f-63c1bd2fd6b0", created)
	assert.Equal(t, "render-output/test_filename/2023-08-20_00-07-46/c98d55ff/", got)

	// non-UTC creation times are rendered in UTC
	local := created.In(time.FixedZone("UTC+7", 7*60*60))
	assert.Equal(t, got, OutputPrefix("test filename.blend", "c98d55ff-2d1e-4b0c-9a3f-63c1bd2fd6b0", local))

	assert.Equal(t, "render-output/somefile/1970-01-01_00-00-01/1234/",
		OutputPrefix("somefile.blend", "1234", time.Unix(1, 0)))
}

func TestOutputPrefix_DistinctJobsSameSecond(t *testing.T) {
	created := time.Date(2023, 8, 20, 0, 7, 46, 0, time.UTC)
	const shared = "render-output/scene/2023-08-20_00-07-46/"

	first := OutputPrefix("Scene.blend", "c98d55ff-2d1e-4b0c-9a3f-63c1bd2fd6b0", created)
	second := OutputPrefix("Scene.blend", "5e0a9c31-77b2-4f6e-8d1a-0c2b9e4f1a77", created.Add(500*time.Millisecond))

	assert.NotEqual(t, first, second)
	assert.Equal(t, shared+"c98d55ff/", first)
	assert.Equal(t, shared+"5e0a9c31/", second)
	assert.Equal(t, DestinationKey(first+"out", 1), shared+"c98d55ff/out_00001")
	assert.NotEqual(t, DestinationKey(first+"out", 1), DestinationKey(second+"out", 1))
}

func TestDestinationKey(t *testing.T) {
	path := "render-output/scene/2023-08-20_00-07-46/c98d55ff/final_cut"

	assert.Equal(t, path+"_00001", DestinationKey(path, 1))
	assert.Equal(t, path+"_00042", DestinationKey(path, 42))
	assert.Equal(t, path+"_123456", DestinationKey(path, 123456))
}
