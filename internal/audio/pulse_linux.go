//go:build linux

package audio

import (
	"encoding/binary"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/chorus-voice/mediacore/internal/types"

	"github.com/hraban/opus"
	"github.com/jfreymuth/pulse"
	"github.com/jfreymuth/pulse/proto"
)

const (
	sampleRate    = 48000
	channels      = 2
	frameDuration = 20 // ms
	frameSize     = sampleRate * frameDuration / 1000 // 960 samples per channel
)

type AudioCapture struct {
	client  *pulse.Client
	stream  *pulse.RecordStream
	encoder *opus.Encoder
	source  source
}

// pcmCollector implements pulse.Writer — receives raw PCM from PulseAudio
type pcmCollector struct {
	mu     sync.Mutex
	buf    []int16
	format byte
}

func (p *pcmCollector) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Convert bytes to int16 samples (S16LE)
	n := len(data) / 2
	for i := 0; i < n; i++ {
		sample := int16(binary.LittleEndian.Uint16(data[i*2 : i*2+2]))
		p.buf = append(p.buf, sample)
	}
	return len(data), nil
}

func (p *pcmCollector) Format() byte {
	return p.format
}

// drain returns exactly `count` int16 samples, removing them from the
// buffer, or nil (removing nothing) while fewer than `count` are buffered
func (p *pcmCollector) drain(count int) []int16 {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.buf) < count {
		return nil
	}
	out := make([]int16, count)
	copy(out, p.buf[:count])
	p.buf = p.buf[count:]
	return out
}

// source selects which PulseAudio stream an AudioCapture records:
// microphone input for voice-channel producers, or the default sink's
// monitor for a screen share's accompanying system audio.
type source int

const (
	sourceMicrophone source = iota
	sourceSystemMonitor
)

// NewAudioCapture opens the default microphone for a voice-channel
// producer.
func NewAudioCapture() (types.AudioCapturer, error) {
	return newAudioCapture(sourceMicrophone)
}

// NewSystemAudioCapture opens the default sink's monitor, for sharing a
// screen's system audio alongside its video.
func NewSystemAudioCapture() (types.AudioCapturer, error) {
	return newAudioCapture(sourceSystemMonitor)
}

func newAudioCapture(src source) (types.AudioCapturer, error) {
	client, err := pulse.NewClient(
		pulse.ClientApplicationName("chorus-sender"),
	)
	if err != nil {
		return nil, fmt.Errorf("pulse connect: %w", err)
	}

	enc, err := opus.NewEncoder(sampleRate, channels, opus.AppAudio)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("opus encoder: %w", err)
	}

	ac := &AudioCapture{
		client:  client,
		encoder: enc,
		source:  src,
	}

	return ac, nil
}

func (ac *AudioCapture) Run(packets chan<- *types.OpusPacket, stop <-chan struct{}) {
	collector := &pcmCollector{
		format: proto.FormatInt16LE,
	}

	var recordOpt pulse.RecordOption
	switch ac.source {
	case sourceSystemMonitor:
		sink, err := ac.client.DefaultSink()
		if err != nil {
			log.Printf("audio: failed to get default sink: %v", err)
			return
		}
		recordOpt = pulse.RecordMonitor(sink)
	default:
		src, err := ac.client.DefaultSource()
		if err != nil {
			log.Printf("audio: failed to get default source: %v", err)
			return
		}
		recordOpt = pulse.RecordSource(src)
	}

	stream, err := ac.client.NewRecord(
		collector,
		recordOpt,
		pulse.RecordStereo,
		pulse.RecordSampleRate(sampleRate),
		pulse.RecordBufferFragmentSize(uint32(frameSize*channels*2)),
	)
	if err != nil {
		log.Printf("audio: failed to create record stream: %v", err)
		return
	}
	ac.stream = stream
	stream.Start()

	opusBuf := make([]byte, 4000)
	samplesPerFrame := frameSize * channels // 960 * 2 = 1920 int16 samples per 20ms stereo frame

	ticker := time.NewTicker(time.Duration(frameDuration) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			pcm := collector.drain(samplesPerFrame)
			if pcm == nil {
				continue
			}

			encoded, err := ac.encoder.Encode(pcm, opusBuf)
			if err != nil {
				log.Printf("opus encode: %v", err)
				continue
			}

			pkt := &types.OpusPacket{
				Data:     make([]byte, encoded),
				Duration: time.Duration(frameDuration) * time.Millisecond,
			}
			copy(pkt.Data, opusBuf[:encoded])

			select {
			case packets <- pkt:
			default:
			}
		}
	}
}

func (ac *AudioCapture) Close() {
	if ac.stream != nil {
		ac.stream.Stop()
	}
	ac.client.Close()
}
