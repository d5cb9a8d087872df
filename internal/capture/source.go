// Package capture implements the Frame Source and Region Resolver
// wiring: it turns a CaptureTarget into a live, self-healing sequence
// of desktop frames, choosing between the GPU-resident NvFBC backend
// and the CPU XShm fallback.
package capture

import (
	"context"
	"log"
	"time"

	"github.com/chorus-voice/mediacore/internal/region"
	"github.com/chorus-voice/mediacore/internal/types"
)

// Opener constructs a MediaCapturer bound to a resolved device name.
// Supplied by the caller so Source stays decoupled from which backend
// (NvFBC, XShm) is actually in play.
type Opener func(deviceName string) (types.MediaCapturer, error)

// Source runs the capture loop against a single CaptureTarget: polls
// the backend, applies the window-tracking re-resolution rule,
// enforces target fps, and self-heals on AccessLost with bounded
// exponential backoff.
type Source struct {
	Target    types.CaptureTarget
	TargetFPS int
	Enumerator region.Enumerator
	Open       Opener

	capturer   types.MediaCapturer
	deviceName string

	framesEmitted uint64
	startedAt     time.Time
	lastStatsAt   time.Time
	framesSinceStats uint64
}

// Stats is a per-second observability snapshot of the capture loop.
type Stats struct {
	ObservedFPS     float64
	CumulativeFrames uint64
	Uptime          time.Duration
}

const (
	pollTimeout     = 100 * time.Millisecond
	backoffBase     = 100 * time.Millisecond
	backoffCap      = 1600 * time.Millisecond
	maxAccessAttempts = 5
)

// Run drives the capture loop until ctx is cancelled. emit is called
// once per captured frame; onStats is called roughly once a second
// with cumulative statistics (both may be nil).
func (s *Source) Run(ctx context.Context, emit func(*types.Frame), onStats func(Stats)) error {
	initial, err := region.InitialRegion(s.Target, s.Enumerator)
	if err != nil {
		return err
	}
	if err := s.open(initial.ActiveDeviceName); err != nil {
		return err
	}
	defer s.closeCapturer()

	s.startedAt = time.Now()
	s.lastStatsAt = s.startedAt
	lastAcquire := time.Now()
	interval := time.Duration(1_000_000/maxInt(1, s.TargetFPS)) * time.Microsecond

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if s.Target.Kind != types.TargetScreen {
			if err := s.retrackWindow(ctx); err != nil {
				return err
			}
		}

		frame, outcome := s.acquire()
		switch outcome {
		case outcomeFrame:
			s.framesEmitted++
			s.framesSinceStats++
			frame.TimestampMs = time.Since(s.startedAt).Milliseconds()
			emit(frame)
		case outcomeTimeout:
			// No new frame; loop continues without emission.
		case outcomeAccessLost:
			if err := s.recover(ctx); err != nil {
				return err
			}
		case outcomeFatal:
			log.Printf("capture: transient error, backing off %s", backoffBase)
			sleepOrDone(ctx, backoffBase)
		}

		s.reportStats(onStats)

		elapsed := time.Since(lastAcquire)
		if elapsed < interval {
			sleepOrDone(ctx, interval-elapsed)
		}
		lastAcquire = time.Now()
	}
}

type outcome int

const (
	outcomeFrame outcome = iota
	outcomeTimeout
	outcomeAccessLost
	outcomeFatal
)

func (s *Source) acquire() (*types.Frame, outcome) {
	frame, err := s.capturer.Grab()
	if err == nil {
		return frame, outcomeFrame
	}
	if _, ok := err.(*AccessLostError); ok {
		return nil, outcomeAccessLost
	}
	log.Printf("capture: grab error: %v", err)
	return nil, outcomeFatal
}

// recover implements the access-loss recovery rule: exponential
// backoff 100ms·2^min(attempt,4) capped at 1600ms, up to 5 attempts,
// each re-checking ctx before the next try.
func (s *Source) recover(ctx context.Context) error {
	s.closeCapturer()
	for attempt := 0; attempt < maxAccessAttempts; attempt++ {
		backoff := backoffBase << uint(minInt(attempt, 4))
		if backoff > backoffCap {
			backoff = backoffCap
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}

		reg, err := region.ResolveRegion(s.Target, s.Enumerator)
		deviceName := s.deviceName
		if err == nil && reg != nil {
			deviceName = reg.ActiveDeviceName
		}
		if openErr := s.open(deviceName); openErr == nil {
			return nil
		}
	}
	log.Printf("capture: access-loss recovery exhausted after %d attempts, terminating", maxAccessAttempts)
	return &AccessLostError{Reason: "recovery attempts exhausted"}
}

// retrackWindow implements the §4.1 window-tracking rule: before each
// acquire, re-resolve the region for window/application targets and,
// if the host monitor changed, tear down and reopen against it.
func (s *Source) retrackWindow(ctx context.Context) error {
	reg, err := region.ResolveRegion(s.Target, s.Enumerator)
	if err != nil {
		return s.recover(ctx)
	}
	if reg == nil {
		return nil
	}
	if reg.ActiveDeviceName != s.deviceName {
		s.closeCapturer()
		return s.open(reg.ActiveDeviceName)
	}
	return nil
}

func (s *Source) open(deviceName string) error {
	c, err := s.Open(deviceName)
	if err != nil {
		return err
	}
	s.capturer = c
	s.deviceName = deviceName
	return nil
}

func (s *Source) closeCapturer() {
	if s.capturer != nil {
		s.capturer.Close()
		s.capturer = nil
	}
}

func (s *Source) reportStats(onStats func(Stats)) {
	if onStats == nil {
		return
	}
	now := time.Now()
	elapsed := now.Sub(s.lastStatsAt)
	if elapsed < time.Second {
		return
	}
	onStats(Stats{
		ObservedFPS:      float64(s.framesSinceStats) / elapsed.Seconds(),
		CumulativeFrames: s.framesEmitted,
		Uptime:           now.Sub(s.startedAt),
	})
	s.framesSinceStats = 0
	s.lastStatsAt = now
}

func sleepOrDone(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
