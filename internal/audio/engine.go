package audio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/audiolibrelab/dailycapture/internal/config"
)

// EngineType identifies one of the recorder engine variants
type EngineType string

const (
	EngineTypePCM   EngineType = "pcm"   // raw capture encoded to WAV in-process
	EngineTypeCodec EngineType = "codec" // ffmpeg encodes and muxes the file itself
)

var ErrUnsupportedExtension = errors.New("unsupported output extension")

// Engine is a single-use capture engine. A session binds an output, prepares,
// starts, optionally pauses/resumes, then stops and releases it.
type Engine interface {
	SetOutputFile(path string)
	SetOutputHandle(f *os.File)
	Prepare() error
	Start() error
	Pause() error
	Resume() error
	Stop() error
	// Done is closed when the capture process has exited, whether through
	// Stop or on its own. It never closes for an engine that was not started.
	Done() <-chan struct{}
	// Release frees everything the engine holds. Safe on any state, including
	// after a failed Prepare, and safe to call twice.
	Release()
	// MaxAmplitude returns the peak sample magnitude (0-32767) since the last call.
	MaxAmplitude() int
	Type() EngineType
}

// codecs maps an extension to the ffmpeg encoder and muxer producing it.
var codecs = map[string]struct {
	encoder string
	muxer   string
}{
	"m4a":  {"aac", "ipod"},
	"mp3":  {"libmp3lame", "mp3"},
	"ogg":  {"libvorbis", "ogg"},
	"opus": {"libopus", "opus"},
	"flac": {"flac", "flac"},
}

// DetermineEngine returns the engine variant serving ext.
func DetermineEngine(ext string) (EngineType, error) {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	if ext == "wav" {
		return EngineTypePCM, nil
	}
	if _, ok := codecs[ext]; ok {
		return EngineTypeCodec, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedExtension, ext)
}

// NewEngine creates the engine for ext. logWriter receives ffmpeg's stderr.
func NewEngine(cfg config.AudioConfig, ext string, logWriter io.Writer) (Engine, error) {
	engineType, err := DetermineEngine(ext)
	if err != nil {
		return nil, err
	}
	if logWriter == nil {
		logWriter = io.Discard
	}

	switch engineType {
	case EngineTypePCM:
		return NewPCMEngine(cfg, logWriter), nil
	default:
		return NewCodecEngine(cfg, strings.ToLower(strings.TrimPrefix(ext, ".")), logWriter), nil
	}
}

// SupportedEngines lists each supported extension with its engine variant.
func SupportedEngines() map[string]EngineType {
	out := map[string]EngineType{"wav": EngineTypePCM}
	for ext := range codecs {
		out[ext] = EngineTypeCodec
	}
	return out
}

// inputArgs are the ffmpeg capture arguments shared by both engines.
func inputArgs(cfg config.AudioConfig) []string {
	device := cfg.Device
	if device == "" {
		device = "default"
	}
	return []string{
		"-hide_banner",
		"-nostdin",
		"-loglevel", ffmpegLogLevel(),
		"-f", cfg.InputFormat,
		"-i", device,
	}
}

func ffmpegLogLevel() string {
	if level := os.Getenv("FFMPEG_LOGLEVEL"); level != "" {
		return level
	}
	return "error"
}
