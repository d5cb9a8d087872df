//go:build linux

package capture

/*
#cgo pkg-config: x11 xinerama
#include <X11/Xlib.h>
#include <X11/Xatom.h>
#include <X11/extensions/Xinerama.h>
#include <stdlib.h>

// ---------------------------------------------------------------------------
// EWMH window/output enumeration for the Region Resolver's Enumerator
// hook. Grounded on the Xlib cgo idiom the capture package already uses
// for XShm (same Display/Window vocabulary), extended here with
// _NET_CLIENT_LIST / _NET_WM_PID / _NET_WM_NAME property reads and
// Xinerama for multi-monitor geometry.
// ---------------------------------------------------------------------------

typedef struct {
	long handle;
	long pid;
	char title[256];
	int foreground;
	int x, y, w, h;
	int valid;
} EnumWindow;

static Display *enum_open(const char *display_name) {
	return XOpenDisplay(display_name);
}

static long enum_active_window(Display *d, Window root) {
	Atom netActive = XInternAtom(d, "_NET_ACTIVE_WINDOW", True);
	if (netActive == None) return -1;

	Atom actualType;
	int actualFormat;
	unsigned long nitems, bytesAfter;
	unsigned char *prop = NULL;
	if (XGetWindowProperty(d, root, netActive, 0, 1, False, XA_WINDOW,
	        &actualType, &actualFormat, &nitems, &bytesAfter, &prop) != Success) {
		return -1;
	}
	long result = -1;
	if (prop && nitems > 0) {
		result = (long)*(Window*)prop;
	}
	if (prop) XFree(prop);
	return result;
}

// enum_windows fills out up to max entries via _NET_CLIENT_LIST, returns count.
static int enum_windows(Display *d, Window root, EnumWindow *out, int max) {
	Atom netClientList = XInternAtom(d, "_NET_CLIENT_LIST", True);
	Atom netWmPid = XInternAtom(d, "_NET_WM_PID", True);
	Atom netWmName = XInternAtom(d, "_NET_WM_NAME", True);
	Atom utf8String = XInternAtom(d, "UTF8_STRING", True);
	if (netClientList == None) return 0;

	Atom actualType;
	int actualFormat;
	unsigned long nitems, bytesAfter;
	unsigned char *prop = NULL;
	if (XGetWindowProperty(d, root, netClientList, 0, 1024, False, XA_WINDOW,
	        &actualType, &actualFormat, &nitems, &bytesAfter, &prop) != Success || !prop) {
		return 0;
	}

	long active = enum_active_window(d, root);
	Window *wins = (Window*)prop;
	int count = 0;
	for (unsigned long i = 0; i < nitems && count < max; i++) {
		Window w = wins[i];
		XWindowAttributes attrs;
		if (!XGetWindowAttributes(d, w, &attrs)) continue;

		EnumWindow *e = &out[count];
		e->handle = (long)w;
		e->valid = (attrs.map_state == IsViewable) ? 1 : 0;
		e->foreground = (active == (long)w) ? 1 : 0;

		Window child;
		int absX, absY;
		XTranslateCoordinates(d, w, root, 0, 0, &absX, &absY, &child);
		e->x = absX;
		e->y = absY;
		e->w = attrs.width;
		e->h = attrs.height;

		e->pid = -1;
		if (netWmPid != None) {
			unsigned char *pidProp = NULL;
			Atom pidType; int pidFmt; unsigned long pidItems, pidAfter;
			if (XGetWindowProperty(d, w, netWmPid, 0, 1, False, XA_CARDINAL,
			        &pidType, &pidFmt, &pidItems, &pidAfter, &pidProp) == Success && pidProp) {
				if (pidItems > 0) e->pid = (long)*(unsigned long*)pidProp;
				XFree(pidProp);
			}
		}

		e->title[0] = 0;
		if (netWmName != None && utf8String != None) {
			unsigned char *nameProp = NULL;
			Atom nameType; int nameFmt; unsigned long nameItems, nameAfter;
			if (XGetWindowProperty(d, w, netWmName, 0, 255, False, utf8String,
			        &nameType, &nameFmt, &nameItems, &nameAfter, &nameProp) == Success && nameProp) {
				int n = nameItems < 255 ? nameItems : 255;
				memcpy(e->title, nameProp, n);
				e->title[n] = 0;
				XFree(nameProp);
			}
		}
		count++;
	}
	XFree(prop);
	return count;
}

typedef struct { int x, y, w, h; } EnumOutput;

// enum_outputs fills out up to max entries from Xinerama, returns count.
// Falls back to a single entry spanning the whole default screen if
// Xinerama isn't active.
static int enum_outputs(Display *d, EnumOutput *out, int max) {
	int screen = DefaultScreen(d);
	if (XineramaIsActive(d)) {
		int n = 0;
		XineramaScreenInfo *info = XineramaQueryScreens(d, &n);
		if (info) {
			int count = n < max ? n : max;
			for (int i = 0; i < count; i++) {
				out[i].x = info[i].x_org;
				out[i].y = info[i].y_org;
				out[i].w = info[i].width;
				out[i].h = info[i].height;
			}
			XFree(info);
			return count;
		}
	}
	if (max < 1) return 0;
	out[0].x = 0;
	out[0].y = 0;
	out[0].w = DisplayWidth(d, screen);
	out[0].h = DisplayHeight(d, screen);
	return 1;
}

static void enum_close(Display *d) { XCloseDisplay(d); }
*/
import "C"

import (
	"fmt"
	"unsafe"

	"github.com/chorus-voice/mediacore/internal/types"
)

const maxEnumEntries = 256

// X11Enumerator implements region.Enumerator against the X server named
// by displayName, via EWMH properties and Xinerama geometry.
type X11Enumerator struct {
	d *C.Display
}

func NewX11Enumerator(displayName string) (*X11Enumerator, error) {
	cDisplay := C.CString(displayName)
	defer C.free(unsafe.Pointer(cDisplay))

	d := C.enum_open(cDisplay)
	if d == nil {
		return nil, fmt.Errorf("capture: cannot open display %q for enumeration", displayName)
	}
	return &X11Enumerator{d: d}, nil
}

func (e *X11Enumerator) Outputs() ([]types.Output, error) {
	buf := make([]C.EnumOutput, maxEnumEntries)
	n := int(C.enum_outputs(e.d, &buf[0], C.int(maxEnumEntries)))
	outputs := make([]types.Output, n)
	for i := 0; i < n; i++ {
		o := buf[i]
		outputs[i] = types.Output{
			DeviceName: fmt.Sprintf("monitor-%d", i),
			Foreground: i == 0,
			Rect:       types.Rect{X: int(o.x), Y: int(o.y), Width: int(o.w), Height: int(o.h)},
		}
	}
	return outputs, nil
}

func (e *X11Enumerator) windows() ([]C.EnumWindow, int) {
	root := C.XDefaultRootWindow(e.d)
	buf := make([]C.EnumWindow, maxEnumEntries)
	n := int(C.enum_windows(e.d, root, &buf[0], C.int(maxEnumEntries)))
	return buf, n
}

func (e *X11Enumerator) WindowsForProcess(pid int64) ([]types.Window, error) {
	buf, n := e.windows()
	var out []types.Window
	for i := 0; i < n; i++ {
		w := buf[i]
		if int64(w.pid) != pid {
			continue
		}
		out = append(out, toWindow(w))
	}
	return out, nil
}

func (e *X11Enumerator) Window(handle int64) (types.Window, bool, error) {
	buf, n := e.windows()
	for i := 0; i < n; i++ {
		w := buf[i]
		if int64(w.handle) == handle {
			return toWindow(w), true, nil
		}
	}
	return types.Window{}, false, nil
}

func (e *X11Enumerator) Close() { C.enum_close(e.d) }

func toWindow(w C.EnumWindow) types.Window {
	return types.Window{
		Handle:     int64(w.handle),
		ProcessID:  int64(w.pid),
		Title:      C.GoString(&w.title[0]),
		Foreground: w.foreground != 0,
		Rect:       types.Rect{X: int(w.x), Y: int(w.y), Width: int(w.w), Height: int(w.h)},
		Valid:      w.valid != 0,
	}
}
