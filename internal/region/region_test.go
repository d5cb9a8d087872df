package region

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chorus-voice/mediacore/internal/types"
)

type fakeEnum struct {
	outputs []types.Output
	windows []types.Window
}

func (f *fakeEnum) Outputs() ([]types.Output, error) { return f.outputs, nil }

func (f *fakeEnum) WindowsForProcess(pid int64) ([]types.Window, error) {
	var out []types.Window
	for _, w := range f.windows {
		if w.ProcessID == pid {
			out = append(out, w)
		}
	}
	return out, nil
}

func (f *fakeEnum) Window(handle int64) (types.Window, bool, error) {
	for _, w := range f.windows {
		if w.Handle == handle {
			return w, true, nil
		}
	}
	return types.Window{}, false, nil
}

func TestFromSourceID(t *testing.T) {
	t.Run("screen", func(t *testing.T) {
		target, err := FromSourceID("screen:eDP-1")
		require.NoError(t, err)
		require.Equal(t, types.TargetScreen, target.Kind)
		require.Equal(t, "eDP-1", target.DeviceName)
	})

	t.Run("window", func(t *testing.T) {
		target, err := FromSourceID("window:1234")
		require.NoError(t, err)
		require.Equal(t, types.TargetWindow, target.Kind)
		require.EqualValues(t, 1234, target.Handle)
	})

	t.Run("application with handle", func(t *testing.T) {
		target, err := FromSourceID("application:4321:99")
		require.NoError(t, err)
		require.Equal(t, types.TargetApplication, target.Kind)
		require.EqualValues(t, 4321, target.ProcessID)
		require.True(t, target.HasPreferred)
		require.EqualValues(t, 99, target.PreferredHandle)
	})

	t.Run("invalid shape", func(t *testing.T) {
		_, err := FromSourceID("bogus:1")
		require.Error(t, err)
	})

	t.Run("invalid integer", func(t *testing.T) {
		_, err := FromSourceID("window:abc")
		require.Error(t, err)
	})
}

// pid 4321 owns windows "A"(1000), "B"(5000, foreground), ""(9999).
// Resolver must pick window B despite the empty-titled window having a
// larger area.
func TestApplicationWindowPick(t *testing.T) {
	enum := &fakeEnum{
		windows: []types.Window{
			{Handle: 1, ProcessID: 4321, Title: "A", Valid: true, Rect: types.Rect{Width: 100, Height: 10}},
			{Handle: 2, ProcessID: 4321, Title: "B", Valid: true, Foreground: true, Rect: types.Rect{Width: 100, Height: 50}},
			{Handle: 3, ProcessID: 4321, Title: "", Valid: true, Rect: types.Rect{Width: 9999, Height: 1}},
		},
	}
	target, err := FromSourceID("application:4321")
	require.NoError(t, err)

	win, ok := locateWindow(target, enum)
	require.True(t, ok)
	require.Equal(t, int64(2), win.Handle)
}

func TestCropForWindow(t *testing.T) {
	win := types.Rect{X: 10, Y: 11, Width: 100, Height: 100}
	out := types.Rect{X: 0, Y: 0, Width: 1920, Height: 1080}

	crop, err := CropForWindow(win, out)
	require.NoError(t, err)
	require.Equal(t, 10, crop.X)
	require.Equal(t, 12, crop.Y)
	require.Equal(t, 100, crop.Width)
	require.Equal(t, 98, crop.Height)
}

func TestCropForWindowTooSmall(t *testing.T) {
	win := types.Rect{X: -5, Y: 0, Width: 6, Height: 100}
	out := types.Rect{X: 0, Y: 0, Width: 1920, Height: 1080}

	_, err := CropForWindow(win, out)
	require.Error(t, err)
}

func TestResolveRegionScreenNeverReresolves(t *testing.T) {
	target := types.CaptureTarget{Kind: types.TargetScreen, DeviceName: "eDP-1"}
	region, err := ResolveRegion(target, &fakeEnum{})
	require.NoError(t, err)
	require.Nil(t, region)
}

func TestResolveRegionWindowUnavailable(t *testing.T) {
	target := types.CaptureTarget{Kind: types.TargetWindow, Handle: 42, HasHandle: true}
	_, err := ResolveRegion(target, &fakeEnum{})
	require.Error(t, err)
	rerr, ok := err.(*ResolveError)
	require.True(t, ok)
	require.Equal(t, IssueWindowUnavailable, rerr.Issue)
}
