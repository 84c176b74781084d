package handler

import (
	"errors"
	"testing"

	"github.com/cuongbtq/render-farm/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJobSpec(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		want      domain.JobSpec
		wantField string
	}{
		{
			name: "valid job spec",
			body: `{"source_file": "Scene.blend", "frame_count": 3, "output_name": "Final Cut"}`,
			want: domain.JobSpec{SourceFile: "Scene.blend", FrameCount: 3, OutputName: "Final Cut"},
		},
		{
			name: "extra fields are ignored",
			body: `{"source_file": "a.blend", "frame_count": 1, "output_name": "a", "priority": "high"}`,
			want: domain.JobSpec{SourceFile: "a.blend", FrameCount: 1, OutputName: "a"},
		},
		{
			name:      "malformed json",
			body:      `{"source_file": `,
			wantField: "body",
		},
		{
			name:      "missing frame count",
			body:      `{"source_file": "a.blend", "output_name": "a"}`,
			wantField: "body",
		},
		{
			name:      "zero frames",
			body:      `{"source_file": "a.blend", "frame_count": 0, "output_name": "a"}`,
			wantField: "frame_count",
		},
		{
			name:      "fractional frames",
			body:      `{"source_file": "a.blend", "frame_count": 2.5, "output_name": "a"}`,
			wantField: "frame_count",
		},
		{
			name:      "frame count above the limit",
			body:      `{"source_file": "a.blend", "frame_count": 100001, "output_name": "a"}`,
			wantField: "frame_count",
		},
		{
			name:      "frame count beyond int64",
			body:      `{"source_file": "a.blend", "frame_count": 4611686018427387904000, "output_name": "a"}`,
			wantField: "frame_count",
		},
		{
			name:      "frame count as string",
			body:      `{"source_file": "a.blend", "frame_count": "3", "output_name": "a"}`,
			wantField: "frame_count",
		},
		{
			name:      "blank output name",
			body:      `{"source_file": "a.blend", "frame_count": 1, "output_name": "   "}`,
			wantField: "output_name",
		},
		{
			name:      "empty source file",
			body:      `{"source_file": "", "frame_count": 1, "output_name": "a"}`,
			wantField: "source_file",
		},
		{
			name:      "not an object",
			body:      `[1, 2, 3]`,
			wantField: "body",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, err := ParseJobSpec([]byte(tt.body))

			if tt.wantField == "" {
				require.NoError(t, err)
				assert.Equal(t, tt.want, spec)
				return
			}
			require.ErrorIs(t, err, domain.ErrInvalidJobSpec)
			var vErr *domain.ValidationError
			require.True(t, errors.As(err, &vErr))
			assert.Equal(t, tt.wantField, vErr.Field)
			assert.NotEmpty(t, vErr.Reason)
		})
	}
}
