package encoder

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateDimensions(t *testing.T) {
	require.NoError(t, ValidateDimensions(1920, 1080))
	require.Error(t, ValidateDimensions(0, 1080))
	require.Error(t, ValidateDimensions(1921, 1080))
	require.Error(t, ValidateDimensions(1920, 1081))
}

func TestSelectUnknownPreference(t *testing.T) {
	_, err := Select(Preference("bogus"), Config{Width: 2, Height: 2, FPS: 30, BitrateKbps: 1000})
	require.Error(t, err)
}

func TestDefaultGOP(t *testing.T) {
	require.Equal(t, 60, defaultGOP(Config{FPS: 30}))
	require.Equal(t, 12, defaultGOP(Config{FPS: 30, GOP: 12}))
}
