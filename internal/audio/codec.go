package audio

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"sync"

	"github.com/audiolibrelab/dailycapture/internal/config"
)

// meterRate is the sample rate of the mono side stream used for amplitude.
const meterRate = 8000

// CodecEngine lets ffmpeg encode and mux the output file directly, with a
// second low-rate mono output on stdout feeding the amplitude meter.
// Pause suspends the ffmpeg process.
type CodecEngine struct {
	cfg       config.AudioConfig
	ext       string
	logWriter io.Writer

	path   string
	handle *os.File

	mu       sync.Mutex
	proc     *ffmpegProcess
	started  bool
	paused   bool
	released bool

	meter meter
}

func NewCodecEngine(cfg config.AudioConfig, ext string, logWriter io.Writer) *CodecEngine {
	return &CodecEngine{cfg: cfg, ext: ext, logWriter: logWriter}
}

func (e *CodecEngine) Type() EngineType { return EngineTypeCodec }

func (e *CodecEngine) SetOutputFile(path string)  { e.path = path }
func (e *CodecEngine) SetOutputHandle(f *os.File) { e.handle = f }

// Prepare validates the output and builds the ffmpeg command line.
func (e *CodecEngine) Prepare() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.released {
		return errors.New("engine already released")
	}
	args, extra, err := e.buildArgs()
	if err != nil {
		return err
	}
	e.proc = newFFmpegProcess(args, extra, e.logWriter)
	return nil
}

func (e *CodecEngine) buildArgs() ([]string, []*os.File, error) {
	codec, ok := codecs[e.ext]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnsupportedExtension, e.ext)
	}

	var output string
	var extra []*os.File
	switch {
	case e.handle != nil:
		// ExtraFiles[0] becomes fd 3 in the child.
		output = "/dev/fd/3"
		extra = []*os.File{e.handle}
	case e.path != "":
		output = e.path
	default:
		return nil, nil, errors.New("no output file set")
	}

	args := append(inputArgs(e.cfg),
		"-map", "0:a",
		"-c:a", codec.encoder,
		"-ac", strconv.Itoa(e.cfg.Channels),
		"-ar", strconv.Itoa(e.cfg.SampleRate),
	)
	if e.cfg.Bitrate != "" && codec.encoder != "flac" {
		args = append(args, "-b:a", e.cfg.Bitrate)
	}
	args = append(args,
		"-f", codec.muxer,
		"-y", output,
		"-map", "0:a",
		"-ac", "1",
		"-ar", strconv.Itoa(meterRate),
		"-acodec", "pcm_s16le",
		"-f", "s16le",
		"pipe:1",
	)
	return args, extra, nil
}

func (e *CodecEngine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.proc == nil {
		return errors.New("engine not prepared")
	}
	if err := e.proc.start(e.consume); err != nil {
		return err
	}
	e.started = true
	slog.Debug("Codec engine started", "extension", e.ext)
	return nil
}

func (e *CodecEngine) consume(r io.Reader) {
	buf := make([]byte, 2048)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			e.meter.observe(buf[:n-n%2])
		}
		if err != nil {
			return
		}
	}
}

func (e *CodecEngine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.started || e.released {
		return errors.New("engine not started")
	}
	if err := e.proc.pause(); err != nil {
		return fmt.Errorf("failed to pause FFmpeg: %w", err)
	}
	e.paused = true
	return nil
}

func (e *CodecEngine) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.started || e.released {
		return errors.New("engine not started")
	}
	if err := e.proc.resume(); err != nil {
		return fmt.Errorf("failed to resume FFmpeg: %w", err)
	}
	e.paused = false
	return nil
}

func (e *CodecEngine) Stop() error {
	e.mu.Lock()
	proc, started := e.proc, e.started
	e.started = false
	e.paused = false
	e.mu.Unlock()

	if !started {
		return errors.New("engine not started")
	}
	return proc.stop()
}

func (e *CodecEngine) Release() {
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
}

func (e *CodecEngine) Done() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.proc == nil {
		return nil
	}
	return e.proc.done()
}

func (e *CodecEngine) MaxAmplitude() int {
	return e.meter.take()
}
