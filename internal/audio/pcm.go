package audio

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/audiolibrelab/dailycapture/internal/config"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// PCMEngine captures raw s16le from ffmpeg and encodes WAV in-process, so
// pausing simply drops samples instead of suspending the capture.
type PCMEngine struct {
	cfg       config.AudioConfig
	logWriter io.Writer

	path   string
	handle *os.File

	mu       sync.Mutex
	file     *os.File
	ownsFile bool
	encoder  *wav.Encoder
	proc     *ffmpegProcess
	pumpErr  error
	started  bool
	released bool

	paused atomic.Bool
	meter  meter
}

func NewPCMEngine(cfg config.AudioConfig, logWriter io.Writer) *PCMEngine {
	return &PCMEngine{cfg: cfg, logWriter: logWriter}
}

func (e *PCMEngine) Type() EngineType { return EngineTypePCM }

func (e *PCMEngine) SetOutputFile(path string)  { e.path = path }
func (e *PCMEngine) SetOutputHandle(f *os.File) { e.handle = f }

// Prepare opens the output, writes the WAV header and builds the ffmpeg command.
func (e *PCMEngine) Prepare() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.released {
		return errors.New("engine already released")
	}
	if err := e.openOutput(); err != nil {
		return err
	}

	e.encoder = wav.NewEncoder(e.file, e.cfg.SampleRate, 16, e.cfg.Channels, 1)
	// An empty write emits the header so Close can patch sizes even with no audio.
	if err := e.encoder.Write(e.buffer(nil)); err != nil {
		return fmt.Errorf("failed to write WAV header: %w", err)
	}

	args := append(inputArgs(e.cfg),
		"-ac", strconv.Itoa(e.cfg.Channels),
		"-ar", strconv.Itoa(e.cfg.SampleRate),
		"-acodec", "pcm_s16le",
		"-f", "s16le",
		"pipe:1",
	)
	e.proc = newFFmpegProcess(args, nil, e.logWriter)
	return nil
}

func (e *PCMEngine) openOutput() error {
	if e.handle != nil {
		e.file = e.handle
		return nil
	}
	if e.path == "" {
		return errors.New("no output file set")
	}
	f, err := os.Create(e.path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	e.file = f
	e.ownsFile = true
	return nil
}

func (e *PCMEngine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.proc == nil {
		return errors.New("engine not prepared")
	}
	if err := e.proc.start(e.consume); err != nil {
		return err
	}
	e.started = true
	slog.Debug("PCM engine started", "sample_rate", e.cfg.SampleRate, "channels", e.cfg.Channels)
	return nil
}

func (e *PCMEngine) consume(r io.Reader) {
	if err := e.pump(r); err != nil {
		slog.Error("PCM capture failed", "error", err)
		e.mu.Lock()
		e.pumpErr = err
		e.mu.Unlock()
	}
}

// pump reads s16le frames from r until EOF, metering every chunk and encoding
// the ones captured while not paused.
func (e *PCMEngine) pump(r io.Reader) error {
	frame := 2 * e.cfg.Channels
	buf := make([]byte, 4096-(4096%frame))
	carry := 0

	for {
		n, err := r.Read(buf[carry:])
		n += carry
		usable := n - n%frame
		if usable > 0 {
			chunk := buf[:usable]
			e.meter.observe(chunk)
			if !e.paused.Load() {
				if werr := e.encoder.Write(e.buffer(chunk)); werr != nil {
					return fmt.Errorf("failed to write WAV data: %w", werr)
				}
			}
		}
		carry = copy(buf, buf[usable:n])

		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (e *PCMEngine) buffer(pcm []byte) *audio.IntBuffer {
	data := make([]int, len(pcm)/2)
	for i := range data {
		data[i] = int(int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8))
	}
	return &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: e.cfg.Channels, SampleRate: e.cfg.SampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
}

func (e *PCMEngine) Pause() error {
	if !e.isStarted() {
		return errors.New("engine not started")
	}
	e.paused.Store(true)
	return nil
}

func (e *PCMEngine) Resume() error {
	if !e.isStarted() {
		return errors.New("engine not started")
	}
	e.paused.Store(false)
	return nil
}

func (e *PCMEngine) isStarted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.started && !e.released
}

// Stop ends the capture and finalizes the WAV header.
func (e *PCMEngine) Stop() error {
	e.mu.Lock()
	proc, started := e.proc, e.started
	e.mu.Unlock()
	if !started {
		return errors.New("engine not started")
	}

	stopErr := proc.stop()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.started = false
	if err := e.encoder.Close(); err != nil {
		return fmt.Errorf("failed to finalize WAV file: %w", err)
	}
	if e.pumpErr != nil {
		return e.pumpErr
	}
	return stopErr
}

func (e *PCMEngine) Release() {
	e.mu.Lock()
	if e.released {
		e.mu.Unlock()
		return
	}
	e.released = true
	proc := e.proc
	e.mu.Unlock()

	if proc != nil {
		proc.kill()
	}
	if e.ownsFile && e.file != nil {
		e.file.Close()
	}
}

func (e *PCMEngine) Done() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.proc == nil {
		return nil
	}
	return e.proc.done()
}

func (e *PCMEngine) MaxAmplitude() int {
	return e.meter.take()
}
