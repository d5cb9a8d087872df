package encoder

import (
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/chorus-voice/mediacore/internal/types"
)

// ffmpegBackend spawns a single long-lived ffmpeg child process as the
// software x264/VPx/AV1 path: raw BGRA on stdin, Annex-B or IVF on
// stdout. The child is started with its own session (Setsid) and a
// death signal (Pdeathsig) so it never outlives this process.
type ffmpegBackend struct {
	mu   sync.Mutex
	cfg  Config
	pref Preference

	cmd   *exec.Cmd
	stdin io.WriteCloser

	chunks  <-chan []byte
	readErr <-chan error

	ivf              *IVFParser
	consecutiveEmpty int
}

// NewFFmpegBackend starts the ffmpeg child process for the given codec
// preference. X264 emits Annex-B; VP8/VP9/AV1 emit IVF.
func NewFFmpegBackend(pref Preference, cfg Config) (types.VideoEncoder, error) {
	b := &ffmpegBackend{cfg: cfg, pref: pref}
	if err := b.spawn(); err != nil {
		return nil, err
	}
	return b, nil
}

func ffmpegPath(pref Preference) string {
	envKey := fmt.Sprintf("%s_FFMPEG_PATH", map[Preference]string{X264: "X264", Vp8: "VP8", Vp9: "VP9", Av1: "AV1"}[pref])
	if p := os.Getenv(envKey); p != "" {
		return p
	}
	// Search order: exe dir, resources/ alongside exe, env override
	// (checked above), system PATH.
	if exe, err := os.Executable(); err == nil {
		dir := filepath.Dir(exe)
		for _, candidate := range []string{
			filepath.Join(dir, "ffmpeg"),
			filepath.Join(dir, "resources", "ffmpeg"),
		} {
			if st, err := os.Stat(candidate); err == nil && !st.IsDir() {
				return candidate
			}
		}
	}
	return "ffmpeg"
}

func (b *ffmpegBackend) codecArgs() []string {
	gop := defaultGOP(b.cfg)
	bitrateK := fmt.Sprintf("%dk", b.cfg.BitrateKbps)

	switch b.pref {
	case X264:
		return []string{
			"-c:v", "libx264",
			"-profile:v", "baseline", "-level", "3.1",
			"-preset", "ultrafast", "-tune", "zerolatency",
			"-g", fmt.Sprint(gop), "-keyint_min", fmt.Sprint(gop), "-bf", "0",
			"-b:v", bitrateK, "-maxrate", bitrateK, "-bufsize", fmt.Sprintf("%dk", b.cfg.BitrateKbps*2),
			"-flush_packets", "1",
			"-f", "h264", "pipe:1",
		}
	case Vp8, Vp9, Av1:
		codecName := map[Preference]string{Vp8: "libvpx", Vp9: "libvpx-vp9", Av1: "libaom-av1"}[b.pref]
		return []string{
			"-c:v", codecName,
			"-deadline", "realtime", "-cpu-used", "6",
			"-lag-in-frames", "0", "-error-resilient", "1",
			"-g", fmt.Sprint(gop), "-keyint_min", fmt.Sprint(gop),
			"-b:v", bitrateK,
			"-f", "ivf", "pipe:1",
		}
	default:
		return nil
	}
}

func (b *ffmpegBackend) spawn() error {
	args := []string{
		"-f", "rawvideo", "-pix_fmt", "bgra",
		"-video_size", fmt.Sprintf("%dx%d", b.cfg.Width, b.cfg.Height),
		"-framerate", fmt.Sprint(b.cfg.FPS),
		"-i", "pipe:0",
	}
	args = append(args, b.codecArgs()...)

	path := b.cfg.FFmpegPath
	if path == "" {
		path = ffmpegPath(b.pref)
	}

	cmd := exec.Command(path, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true, Pdeathsig: syscall.SIGTERM}
	cmd.Stderr = io.Discard

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("ffmpeg: start %s: %w", path, err)
	}

	chunks := make(chan []byte, 64)
	readErr := make(chan error, 1)
	go readStdout(stdout, chunks, readErr)

	b.cmd = cmd
	b.stdin = stdin
	b.chunks = chunks
	b.readErr = readErr
	b.ivf = &IVFParser{}
	b.consecutiveEmpty = 0
	return nil
}

// readStdout runs for the lifetime of one ffmpeg child, pushing whatever
// it reads onto chunks so collect can wait on it with a timeout instead
// of polling a buffered reader that nothing ever primes. It exits once
// stdout returns an error (EOF on process exit, or a read error after
// teardown closes the pipe).
func readStdout(stdout io.Reader, chunks chan<- []byte, errc chan<- error) {
	buf := make([]byte, 1<<16)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			chunks <- chunk
		}
		if err != nil {
			errc <- err
			return
		}
	}
}

func (b *ffmpegBackend) teardown() {
	if b.cmd == nil || b.cmd.Process == nil {
		return
	}
	b.stdin.Close()
	b.cmd.Process.Signal(os.Interrupt)
	done := make(chan error, 1)
	go func() { done <- b.cmd.Wait() }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		b.cmd.Process.Kill()
		<-done
	}
	b.cmd = nil
}

func (b *ffmpegBackend) CodecDescriptor() types.CodecDescriptor {
	switch b.pref {
	case X264:
		mode := 1
		return types.CodecDescriptor{MimeType: "video/H264", ClockRate: 90000, PacketizationMode: &mode, ProfileLevelID: "42e01f"}
	case Vp8:
		return types.CodecDescriptor{MimeType: "video/VP8", ClockRate: 90000}
	case Vp9:
		return types.CodecDescriptor{MimeType: "video/VP9", ClockRate: 90000}
	case Av1:
		return types.CodecDescriptor{MimeType: "video/AV1", ClockRate: 90000}
	default:
		return types.CodecDescriptor{}
	}
}

// RequestKeyframe always returns false: child-process backends cannot
// IDR-request mid-stream; they rely on the configured GOP for periodic
// IDRs.
func (b *ffmpegBackend) RequestKeyframe() bool { return false }

func (b *ffmpegBackend) Encode(frame *types.Frame) (*types.AccessUnit, error) {
	if err := ValidateDimensions(frame.Width, frame.Height); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if frame.Width != b.cfg.Width || frame.Height != b.cfg.Height {
		b.teardown()
		b.cfg.Width, b.cfg.Height = frame.Width, frame.Height
		if err := b.spawn(); err != nil {
			return nil, fmt.Errorf("ffmpeg: respawn after dimension change: %w", err)
		}
	}

	bgra := frame.Data
	if bgra == nil {
		return nil, fmt.Errorf("ffmpeg: frame has no CPU pixel payload")
	}
	if _, err := b.stdin.Write(bgra); err != nil {
		return nil, fmt.Errorf("ffmpeg: write stdin: %w", err)
	}

	timeout := time.Duration(2*1000/max1(b.cfg.FPS)) * time.Millisecond
	if b.pref != X264 {
		timeout = 1500 * time.Millisecond
	}

	data, err := b.collect(timeout)
	if err != nil {
		return nil, err
	}
	if data == nil {
		b.consecutiveEmpty++
		if b.consecutiveEmpty >= 5 {
			log.Printf("encoder: ffmpeg %s produced no output for 5 frames, respawning", b.pref)
			b.teardown()
			if err := b.spawn(); err != nil {
				return nil, fmt.Errorf("ffmpeg: respawn after stall: %w", err)
			}
		}
		return nil, nil
	}
	b.consecutiveEmpty = 0

	if b.pref == X264 {
		nalus := SplitAnnexB(data)
		isKey := false
		for _, n := range nalus {
			if len(n) > 0 && n[0]&0x1F == 5 {
				isKey = true
			}
		}
		return &types.AccessUnit{NALUs: nalus, IsKey: isKey}, nil
	}
	return &types.AccessUnit{NALUs: [][]byte{data}}, nil
}

// collect waits up to timeout for stdout to yield enough bytes to form
// a frame. For Annex-B backends it returns the raw bytes once a full
// NAL has arrived; for IVF backends it feeds the parser and returns the
// first complete frame. Returns nil, nil on timeout with no frame yet,
// so the caller can retry on the next captured frame.
func (b *ffmpegBackend) collect(timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	var collected []byte

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}

		select {
		case chunk := <-b.chunks:
			collected = append(collected, chunk...)

			if b.pref != X264 {
				frames, remainder, perr := b.ivf.Feed(collected)
				if perr != nil {
					return nil, perr
				}
				if len(frames) > 0 {
					return frames[0], nil
				}
				collected = remainder
				continue
			}
			// Annex-B: once we have at least one full NAL (two start codes,
			// or one start code plus more data trickling in) return it.
			if len(SplitAnnexB(collected)) > 0 {
				return collected, nil
			}

		case err := <-b.readErr:
			return nil, fmt.Errorf("ffmpeg: read stdout: %w", err)

		case <-time.After(remaining):
		}
	}
	if b.pref == X264 && len(collected) > 0 {
		return collected, nil
	}
	return nil, nil
}

func (b *ffmpegBackend) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.teardown()
}

func max1(fps int) int {
	if fps < 1 {
		return 1
	}
	return fps
}
