// Command chorus-sender captures a desktop source (or a microphone),
// encodes it, and streams it as RTP to a chorus-router channel via a
// native-sender session: the client half of the capture/encode/send
// pipeline, as a separate OS process from chorus-router.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/chorus-voice/mediacore/internal/audio"
	"github.com/chorus-voice/mediacore/internal/capture"
	"github.com/chorus-voice/mediacore/internal/encoder"
	"github.com/chorus-voice/mediacore/internal/region"
	"github.com/chorus-voice/mediacore/internal/router"
	"github.com/chorus-voice/mediacore/internal/sender"
	"github.com/chorus-voice/mediacore/internal/signalclient"
	"github.com/chorus-voice/mediacore/internal/types"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var v = viper.New()

var rootCmd = &cobra.Command{
	Use:   "chorus-sender",
	Short: "Capture, encode and stream a desktop or microphone source to a chorus-router channel",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

func init() {
	flags := rootCmd.Flags()
	flags.String("router", "127.0.0.1:8443", "chorus-router signaling address (host:port)")
	flags.String("channel", "", "channel id to join (required)")
	flags.String("connection-id", "", "stable connection id (random if empty)")
	flags.String("source", "screen::0", "capture source id: screen:<display>, window:<handle> or application:<pid>")
	flags.Bool("camera", false, "treat the captured video as a camera feed instead of a screen share")
	flags.Int("fps", 30, "target capture/encode frame rate")
	flags.Int("bitrate", 4000, "target video bitrate in kbps")
	flags.String("codec", "auto", "encoder preference: auto, nvenc_sdk, x264, vp8, vp9, av1")
	flags.Int("gop", 0, "keyframe interval in frames (0 = 2x fps)")
	flags.Int("gpu", 0, "GPU index, passed into the encoder config; no backend selects a device by it")
	flags.String("display", ":0", "X11 display to enumerate outputs/windows on")
	flags.String("ffmpeg-path", "", "override ffmpeg binary path")
	flags.Bool("mic", false, "also capture and stream the default microphone")
	flags.Bool("stats", false, "log pipeline stats periodically")

	_ = v.BindPFlags(flags)
	v.SetEnvPrefix("CHORUS_SENDER")
	v.AutomaticEnv()
	_ = v.BindEnv("ffmpeg-path", "CHORUS_SENDER_FFMPEG_PATH")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	channelID := v.GetString("channel")
	if channelID == "" {
		return fmt.Errorf("--channel is required")
	}
	sourceID := v.GetString("source")
	connID := v.GetString("connection-id")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Printf("chorus-sender: shutting down")
		cancel()
	}()

	client, err := signalclient.Dial(v.GetString("router"), channelID, connID)
	if err != nil {
		return err
	}
	defer client.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		runVideo(ctx, client, sourceID)
	}()

	if v.GetBool("mic") {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runMic(ctx, client)
		}()
	}

	wg.Wait()
	return nil
}

func runVideo(ctx context.Context, client *signalclient.Client, sourceID string) {
	source := router.SourceScreen
	if v.GetBool("camera") {
		source = router.SourceCamera
	}

	desc, err := client.CreateNativeSenderSession(source, preferredVideoCodecs(v.GetString("codec")))
	if err != nil {
		log.Printf("chorus-sender: create_native_sender_session(video) failed: %v", err)
		return
	}
	log.Printf("chorus-sender: video producer=%s target=%s codec=%s", desc.ProducerID, desc.RtpTarget, desc.MimeType)

	target, err := region.FromSourceID(sourceID)
	if err != nil {
		log.Printf("chorus-sender: %v", err)
		return
	}

	display := v.GetString("display")
	gpu := v.GetInt("gpu")
	enumerator, opener, closeBackend, err := newVideoBackend(display, target, v.GetInt("fps"), gpu)
	if err != nil {
		log.Printf("chorus-sender: video backend init failed: %v", err)
		return
	}
	defer closeBackend()

	src := &capture.Source{
		Target:     target,
		TargetFPS:  v.GetInt("fps"),
		Enumerator: enumerator,
		Open:       opener,
	}

	frames := make(chan sender.SourcedFrame, 4)
	capCtx, stopCapture := context.WithCancel(ctx)

	worker, err := sender.New(sender.Config{
		SourceID:          sourceID,
		TargetFPS:         v.GetInt("fps"),
		TargetBitrateKbps: v.GetInt("bitrate"),
		TargetRTP:         desc.RtpTarget,
		PayloadType:       desc.PayloadType,
		SSRC:              desc.SSRC,
		EncoderPreference: encoder.Preference(v.GetString("codec")),
		GPUIndex:          gpu,
		GOP:               v.GetInt("gop"),
		FFmpegPath:        v.GetString("ffmpeg-path"),
	}, stopCapture)
	if err != nil {
		log.Printf("chorus-sender: sender init failed: %v", err)
		stopCapture()
		return
	}

	go func() {
		err := src.Run(capCtx, func(f *types.Frame) {
			select {
			case frames <- sender.SourcedFrame{SourceID: sourceID, Frame: f}:
			default:
				worker.DropQueueFull()
			}
		}, func(st capture.Stats) {
			if v.GetBool("stats") {
				log.Printf("chorus-sender: capture fps=%.1f frames=%d uptime=%s", st.ObservedFPS, st.CumulativeFrames, st.Uptime)
			}
		})
		if err != nil {
			log.Printf("chorus-sender: capture stopped: %v", err)
		}
		close(frames)
	}()

	worker.Run(capCtx, frames)
}

func runMic(ctx context.Context, client *signalclient.Client) {
	desc, err := client.CreateNativeSenderSession(router.SourceMic, []string{"audio/opus"})
	if err != nil {
		log.Printf("chorus-sender: create_native_sender_session(audio) failed: %v", err)
		return
	}
	log.Printf("chorus-sender: audio producer=%s target=%s", desc.ProducerID, desc.RtpTarget)

	capturer, err := audio.NewAudioCapture()
	if err != nil {
		log.Printf("chorus-sender: microphone capture unavailable: %v", err)
		return
	}

	worker, err := sender.NewAudio(sender.AudioConfig{
		SourceID:    "microphone",
		TargetRTP:   desc.RtpTarget,
		PayloadType: desc.PayloadType,
		SSRC:        desc.SSRC,
	})
	if err != nil {
		log.Printf("chorus-sender: audio sender init failed: %v", err)
		capturer.Close()
		return
	}

	packets := make(chan *types.OpusPacket, 16)
	stop := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(stop)
		capturer.Close()
	}()
	go capturer.Run(packets, stop)

	worker.Run(ctx, packets)
}

func preferredVideoCodecs(pref string) []string {
	switch strings.ToLower(pref) {
	case "vp8":
		return []string{"video/VP8"}
	case "vp9":
		return []string{"video/VP9"}
	case "av1":
		return []string{"video/AV1"}
	default:
		return []string{"video/H264"}
	}
}
