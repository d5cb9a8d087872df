// Package region resolves a wire source id into a CaptureTarget and,
// each tick, a concrete CaptureRegion: the output device a Frame Source
// should capture plus an optional crop rectangle. It is pure logic —
// platform window/monitor enumeration is injected via the Enumerator
// interface so the package has no cgo or X11 dependency of its own.
package region

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/chorus-voice/mediacore/internal/types"
)

// Issue names why resolving a capture target failed.
type Issue string

const (
	IssueWindowUnavailable  Issue = "window_unavailable"
	IssueMonitorUnavailable Issue = "monitor_unavailable"
	IssueCropUnavailable    Issue = "crop_unavailable"
)

type ResolveError struct {
	Issue Issue
}

func (e *ResolveError) Error() string { return string(e.Issue) }

// InvalidSourceIDError is returned by FromSourceID for any id that
// doesn't match one of the three recognized prefixes.
type InvalidSourceIDError struct {
	SourceID string
}

func (e *InvalidSourceIDError) Error() string {
	return fmt.Sprintf("invalid source id: %q", e.SourceID)
}

// Enumerator is the platform hook for listing outputs and windows.
// Implementations live alongside the capture backends (X11 on Linux).
type Enumerator interface {
	Outputs() ([]types.Output, error)
	WindowsForProcess(pid int64) ([]types.Window, error)
	Window(handle int64) (types.Window, bool, error)
}

// FromSourceID parses the client-supplied source id into a CaptureTarget.
// Accepts "screen:<name>", "window:<handle>", "application:<pid>" and
// "application:<pid>:<handle>".
func FromSourceID(id string) (types.CaptureTarget, error) {
	switch {
	case strings.HasPrefix(id, "screen:"):
		name := strings.TrimPrefix(id, "screen:")
		if name == "" {
			return types.CaptureTarget{}, &InvalidSourceIDError{id}
		}
		return types.CaptureTarget{Kind: types.TargetScreen, DeviceName: name}, nil

	case strings.HasPrefix(id, "window:"):
		raw := strings.TrimPrefix(id, "window:")
		handle, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return types.CaptureTarget{}, &InvalidSourceIDError{id}
		}
		return types.CaptureTarget{Kind: types.TargetWindow, Handle: handle, HasHandle: true}, nil

	case strings.HasPrefix(id, "application:"):
		raw := strings.TrimPrefix(id, "application:")
		parts := strings.Split(raw, ":")
		if len(parts) < 1 || len(parts) > 2 {
			return types.CaptureTarget{}, &InvalidSourceIDError{id}
		}
		pid, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			return types.CaptureTarget{}, &InvalidSourceIDError{id}
		}
		t := types.CaptureTarget{Kind: types.TargetApplication, ProcessID: pid, HasProcessID: true}
		if len(parts) == 2 {
			handle, err := strconv.ParseInt(parts[1], 10, 64)
			if err != nil {
				return types.CaptureTarget{}, &InvalidSourceIDError{id}
			}
			t.PreferredHandle = handle
			t.HasPreferred = true
		}
		return t, nil

	default:
		return types.CaptureTarget{}, &InvalidSourceIDError{id}
	}
}

// InitialRegion picks the starting device for a target. Screen targets
// resolve to themselves. Window/application targets try to locate the
// window's current host monitor and fall back to the first available
// output, uncropped, if that fails.
func InitialRegion(target types.CaptureTarget, enum Enumerator) (types.CaptureRegion, error) {
	if target.Kind == types.TargetScreen {
		return types.CaptureRegion{ActiveDeviceName: target.DeviceName}, nil
	}

	outputs, err := enum.Outputs()
	if err != nil || len(outputs) == 0 {
		return types.CaptureRegion{}, fmt.Errorf("region: enumerate outputs: %w", err)
	}

	win, ok := locateWindow(target, enum)
	if !ok {
		return types.CaptureRegion{ActiveDeviceName: outputs[0].DeviceName}, nil
	}

	out, ok := hostMonitor(win, outputs)
	if !ok {
		return types.CaptureRegion{ActiveDeviceName: outputs[0].DeviceName}, nil
	}
	return types.CaptureRegion{ActiveDeviceName: out.DeviceName}, nil
}

// ResolveRegion re-resolves a window/application target each tick.
// Screen targets never re-resolve (nil, nil). On MonitorUnavailable the
// outputs list is re-enumerated once before declaring the issue.
func ResolveRegion(target types.CaptureTarget, enum Enumerator) (*types.CaptureRegion, error) {
	if target.Kind == types.TargetScreen {
		return nil, nil
	}

	win, ok := locateWindow(target, enum)
	if !ok {
		return nil, &ResolveError{IssueWindowUnavailable}
	}

	outputs, err := enum.Outputs()
	if err != nil || len(outputs) == 0 {
		outputs, err = enum.Outputs()
		if err != nil || len(outputs) == 0 {
			return nil, &ResolveError{IssueMonitorUnavailable}
		}
	}

	out, ok := hostMonitor(win, outputs)
	if !ok {
		outputs, err = enum.Outputs()
		if err != nil || len(outputs) == 0 {
			return nil, &ResolveError{IssueMonitorUnavailable}
		}
		out, ok = hostMonitor(win, outputs)
		if !ok {
			return nil, &ResolveError{IssueMonitorUnavailable}
		}
	}

	region := types.CaptureRegion{ActiveDeviceName: out.DeviceName}
	crop, err := CropForWindow(win.Rect, out.Rect)
	if err != nil {
		return nil, &ResolveError{IssueCropUnavailable}
	}
	region.Crop = crop
	return &region, nil
}

// CropForWindow intersects the window's desktop rect with the output's
// desktop rect, translates to output-local coordinates, rounds each side
// inward to even values, and requires both dimensions >= 2.
func CropForWindow(win, out types.Rect) (*types.CropRect, error) {
	ix0 := max(win.X, out.X)
	iy0 := max(win.Y, out.Y)
	ix1 := min(win.X+win.Width, out.X+out.Width)
	iy1 := min(win.Y+win.Height, out.Y+out.Height)
	if ix1 <= ix0 || iy1 <= iy0 {
		return nil, fmt.Errorf("region: no intersection")
	}

	x := ix0 - out.X
	y := iy0 - out.Y
	w := ix1 - ix0
	h := iy1 - iy0

	// Round inward to even: grow the origin up, shrink the extent down.
	if x%2 != 0 {
		x++
		w--
	}
	if y%2 != 0 {
		y++
		h--
	}
	if w%2 != 0 {
		w--
	}
	if h%2 != 0 {
		h--
	}
	if w < 2 || h < 2 {
		return nil, fmt.Errorf("region: crop too small")
	}
	return &types.CropRect{X: x, Y: y, Width: w, Height: h}, nil
}

// locateWindow implements the application-target window-pick rule:
// prefer a still-valid preferred handle owned by the pid; otherwise pick
// the window with non-empty title scoring highest on
// (foreground_bit<<63 | rect_area).
func locateWindow(target types.CaptureTarget, enum Enumerator) (types.Window, bool) {
	if target.Kind == types.TargetWindow {
		win, ok, err := enum.Window(target.Handle)
		if err != nil || !ok || !win.Valid {
			return types.Window{}, false
		}
		return win, true
	}

	// Application target.
	if target.HasPreferred {
		win, ok, err := enum.Window(target.PreferredHandle)
		if err == nil && ok && win.Valid && win.ProcessID == target.ProcessID {
			return win, true
		}
	}

	wins, err := enum.WindowsForProcess(target.ProcessID)
	if err != nil || len(wins) == 0 {
		return types.Window{}, false
	}

	var best types.Window
	var bestScore uint64
	found := false
	for _, w := range wins {
		if !w.Valid || w.Title == "" {
			continue
		}
		score := windowScore(w)
		if !found || score > bestScore {
			best, bestScore, found = w, score, true
		}
	}
	return best, found
}

func windowScore(w types.Window) uint64 {
	var fg uint64
	if w.Foreground {
		fg = 1
	}
	area := uint64(w.Rect.Width) * uint64(w.Rect.Height)
	return (fg << 63) | area
}

func hostMonitor(win types.Window, outputs []types.Output) (types.Output, bool) {
	cx := win.Rect.X + win.Rect.Width/2
	cy := win.Rect.Y + win.Rect.Height/2
	for _, o := range outputs {
		if cx >= o.Rect.X && cx < o.Rect.X+o.Rect.Width &&
			cy >= o.Rect.Y && cy < o.Rect.Y+o.Rect.Height {
			return o, true
		}
	}
	return types.Output{}, false
}
