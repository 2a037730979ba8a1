package audio

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// ffmpegBinary is the executable used by both engines.
var ffmpegBinary = "ffmpeg"

// stopTimeout bounds how long ffmpeg may take to finalize after SIGINT.
var stopTimeout = 5 * time.Second

// startupGrace is how long ffmpeg must stay up before a start counts.
// A missing device or an unwritable output makes it exit well within this.
var startupGrace = 500 * time.Millisecond

// FFmpegAvailable reports whether the ffmpeg binary can be found.
func FFmpegAvailable() (string, bool) {
	path, err := exec.LookPath(ffmpegBinary)
	return path, err == nil
}

// ffmpegProcess runs one ffmpeg invocation whose stdout is consumed by a pump.
type ffmpegProcess struct {
	cmd       *exec.Cmd
	logWriter io.Writer
	drained   chan struct{}
	logged    chan struct{}
	exited    chan struct{} // closed once the process has been reaped

	mu       sync.Mutex
	lastLine string
	exitErr  error
}

func newFFmpegProcess(args []string, extraFiles []*os.File, logWriter io.Writer) *ffmpegProcess {
	cmd := exec.Command(ffmpegBinary, args...)
	cmd.ExtraFiles = extraFiles
	return &ffmpegProcess{
		cmd:       cmd,
		logWriter: logWriter,
		drained:   make(chan struct{}),
		logged:    make(chan struct{}),
		exited:    make(chan struct{}),
	}
}

// start launches ffmpeg and feeds its stdout to consume on a goroutine. It
// returns once ffmpeg has survived startupGrace, or with the last stderr line
// if it exited before that.
func (p *ffmpegProcess) start(consume func(io.Reader)) error {
	stdout, err := p.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := p.cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	slog.Debug("Starting FFmpeg", "command", ffmpegBinary+" "+strings.Join(p.cmd.Args[1:], " "))
	if err := p.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start FFmpeg: %w", err)
	}

	go func() {
		defer close(p.logged)
		p.readOutput(stderr)
	}()
	go func() {
		defer close(p.drained)
		consume(stdout)
		// Drain whatever the consumer left so ffmpeg never blocks on a full pipe.
		io.Copy(io.Discard, stdout)
	}()
	go p.reap()

	grace := time.NewTimer(startupGrace)
	defer grace.Stop()
	select {
	case <-p.exited:
		reason := p.lastError()
		if reason == "" {
			reason = fmt.Sprint(p.exitError())
		}
		return fmt.Errorf("FFmpeg exited during startup: %s", reason)
	case <-grace.C:
		return nil
	}
}

// reap waits for both pipes to hit EOF before calling Wait, which closes them.
func (p *ffmpegProcess) reap() {
	<-p.drained
	<-p.logged
	err := p.cmd.Wait()
	p.mu.Lock()
	p.exitErr = err
	p.mu.Unlock()
	close(p.exited)
}

func (p *ffmpegProcess) exitError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

// done is closed when the process has exited, stopped or not.
func (p *ffmpegProcess) done() <-chan struct{} {
	return p.exited
}

func (p *ffmpegProcess) hasExited() bool {
	select {
	case <-p.exited:
		return true
	default:
		return false
	}
}

// readOutput forwards ffmpeg's stderr and remembers the last line for errors.
func (p *ffmpegProcess) readOutput(pipe io.Reader) {
	scanner := bufio.NewScanner(pipe)
	for scanner.Scan() {
		line := scanner.Text()
		fmt.Fprintln(p.logWriter, line)
		slog.Debug("FFmpeg output", "stream", "stderr", "line", line)
		p.mu.Lock()
		p.lastLine = line
		p.mu.Unlock()
	}
}

func (p *ffmpegProcess) lastError() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastLine
}

func (p *ffmpegProcess) signal(sig os.Signal) error {
	if p.cmd.Process == nil {
		return errors.New("FFmpeg is not running")
	}
	return p.cmd.Process.Signal(sig)
}

func (p *ffmpegProcess) pause() error  { return p.signal(syscall.SIGSTOP) }
func (p *ffmpegProcess) resume() error { return p.signal(syscall.SIGCONT) }

// stop asks ffmpeg to finish the file with SIGINT and falls back to SIGKILL
// when it does not exit in time. A process that already died on its own
// reports how it exited.
func (p *ffmpegProcess) stop() error {
	if p.cmd.Process == nil {
		return nil
	}

	if !p.hasExited() {
		// A SIGSTOPped process would hold the interrupt until continued.
		p.cmd.Process.Signal(syscall.SIGCONT)

		slog.Debug("Sending SIGINT to FFmpeg process")
		if err := p.cmd.Process.Signal(os.Interrupt); err != nil {
			slog.Debug("Failed to send interrupt to FFmpeg, falling back to SIGKILL", "error", err)
			p.cmd.Process.Kill()
		}

		select {
		case <-p.exited:
		case <-time.After(stopTimeout):
			slog.Warn("FFmpeg did not exit within timeout, force killing")
			p.cmd.Process.Kill()
			<-p.exited
		}
	}

	err := p.exitError()
	if err == nil {
		slog.Debug("FFmpeg exited successfully")
		return nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// 255 is ffmpeg's exit code after a graceful interrupt.
		if exitErr.ExitCode() == 255 {
			slog.Debug("FFmpeg exited normally after interrupt signal")
			return nil
		}
		if exitErr.ProcessState != nil {
			state := exitErr.ProcessState.String()
			if state == "signal: interrupt" || state == "signal: killed" {
				slog.Debug("FFmpeg exited normally due to signal", "state", state)
				return nil
			}
		}
	}
	return fmt.Errorf("FFmpeg process failed: %w (%s)", err, p.lastError())
}

// kill terminates ffmpeg without waiting for it to finalize output.
func (p *ffmpegProcess) kill() {
	if p.cmd.Process == nil || p.hasExited() {
		return
	}
	p.cmd.Process.Signal(syscall.SIGCONT)
	p.cmd.Process.Kill()
	<-p.exited
}
