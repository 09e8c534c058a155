package job

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validParams() Params {
	return Params{
		InputPath:    "in.mp4",
		OutputPath:   "out.mp4",
		Scale:        2,
		ChunkSeconds: 60,
		Model:        DefaultModel,
		Device:       DeviceGPU,
	}
}

func TestValidateScale(t *testing.T) {
	tests := []struct {
		scale   int
		wantErr bool
	}{
		{2, false}, {4, false}, {8, false}, {16, false}, {32, false},
		{0, true}, {1, true}, {3, true}, {6, true}, {64, true}, {-2, true},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("scale_%d", tt.scale), func(t *testing.T) {
			err := ValidateScale(tt.scale)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, IsKind(err, ErrUnsupportedScale))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestParams_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Params)
		kind   ErrorKind
	}{
		{"bad scale", func(p *Params) { p.Scale = 3 }, ErrUnsupportedScale},
		{"bad model", func(p *Params) { p.Model = "models-nope" }, ErrInvalidModel},
		{"bad device", func(p *Params) { p.Device = "tpu" }, ErrInvalidDevice},
		{"zero chunk", func(p *Params) { p.ChunkSeconds = 0 }, ErrInvalidParams},
		{"missing input", func(p *Params) { p.InputPath = " " }, ErrInvalidParams},
		{"missing output", func(p *Params) { p.OutputPath = "" }, ErrInvalidParams},
	}

	require.NoError(t, validParams().Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validParams()
			tt.mutate(&p)
			err := p.Validate()
			require.Error(t, err)
			assert.True(t, IsKind(err, tt.kind), "got %v", err)
		})
	}
}

func TestParseDevice(t *testing.T) {
	d, err := ParseDevice("")
	require.NoError(t, err)
	assert.Equal(t, DeviceGPU, d)

	d, err = ParseDevice(" CPU ")
	require.NoError(t, err)
	assert.Equal(t, DeviceCPU, d)

	_, err = ParseDevice("metal")
	assert.True(t, IsKind(err, ErrInvalidDevice))
}

func TestParseScaleAndChunkSeconds(t *testing.T) {
	n, err := ParseScale("16")
	require.NoError(t, err)
	assert.Equal(t, 16, n)

	_, err = ParseScale("x2")
	assert.True(t, IsKind(err, ErrUnsupportedScale))

	_, err = ParseScale("3")
	assert.True(t, IsKind(err, ErrUnsupportedScale))

	secs, err := ParseChunkSeconds("60")
	require.NoError(t, err)
	assert.Equal(t, 60, secs)

	_, err = ParseChunkSeconds("-5")
	assert.True(t, IsKind(err, ErrInvalidParams))
}

func TestError_WrapsCause(t *testing.T) {
	cause := errors.New("exit status 1")
	err := fmt.Errorf("chunk 2: %w", NewErrorWithCause(ErrRebuild, "encode failed", cause).WithContext("chunk", 2))

	assert.True(t, IsKind(err, ErrRebuild))
	assert.False(t, IsKind(err, ErrMerge))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "[RebuildError] encode failed")
	assert.Contains(t, err.Error(), "chunk=2")
	assert.Contains(t, Advice(err), "resume")
}
