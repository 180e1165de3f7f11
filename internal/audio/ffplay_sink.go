package audio

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"github.com/sirupsen/logrus"

	"coachvoice/internal/ports"
)

// FFPlaySink plays the remote peer's Opus audio by piping it as an Ogg stream
// into an ffplay subprocess.
type FFPlaySink struct {
	command string
	log     logrus.FieldLogger

	mu          sync.Mutex
	cmd         *exec.Cmd
	stdin       io.WriteCloser
	writer      *oggwriter.OggWriter
	unsubscribe func()
	writeErrs   int
}

func NewFFPlaySink(command string, log logrus.FieldLogger) *FFPlaySink {
	if command == "" {
		command = "ffplay"
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &FFPlaySink{command: command, log: log}
}

// Play binds stream to the speaker, replacing any previous binding.
func (s *FFPlaySink) Play(stream ports.RemoteAudioStream) error {
	_ = s.Clear()

	cmd := exec.Command(s.command,
		"-hide_banner",
		"-loglevel", "error",
		"-nostats",
		"-nodisp",
		"-fflags", "nobuffer",
		"-f", "ogg",
		"-i", "-",
	)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("ffplay stdin: %w", err)
	}
	cmd.Stdout = io.Discard
	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return fmt.Errorf("start ffplay: %w", err)
	}

	writer, err := oggwriter.NewWith(stdin, stream.ClockRate(), stream.Channels())
	if err != nil {
		_ = stdin.Close()
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return fmt.Errorf("open ogg stream: %w", err)
	}

	s.mu.Lock()
	s.cmd = cmd
	s.stdin = stdin
	s.writer = writer
	s.writeErrs = 0
	s.mu.Unlock()

	// Subscribe outside s.mu: the stream invokes write while holding its own lock.
	unsubscribe := stream.Subscribe(s.write)

	s.mu.Lock()
	stale := s.writer != writer
	if !stale {
		s.unsubscribe = unsubscribe
	}
	s.mu.Unlock()
	if stale {
		unsubscribe()
		return nil
	}

	s.log.WithField("track", stream.ID()).Debug("remote audio bound to speaker")
	return nil
}

// Clear unbinds the current stream and stops playback.
func (s *FFPlaySink) Clear() error {
	s.mu.Lock()
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked()
}

func (s *FFPlaySink) write(packet *rtp.Packet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writer == nil {
		return
	}
	if err := s.writer.WriteRTP(packet); err != nil {
		s.writeErrs++
		if s.writeErrs == 1 {
			s.log.WithError(err).Warn("speaker write failed")
		}
	}
}

func (s *FFPlaySink) stopLocked() error {
	if s.cmd == nil {
		return nil
	}

	var err error
	if s.writer != nil {
		// Closes stdin as well.
		err = s.writer.Close()
		s.writer = nil
	} else if s.stdin != nil {
		err = s.stdin.Close()
	}
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	waitErr := s.cmd.Wait()
	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) && err == nil {
		err = waitErr
	}

	s.cmd = nil
	s.stdin = nil
	return err
}

// NopSink discards remote audio.
type NopSink struct{}

func (NopSink) Play(ports.RemoteAudioStream) error { return nil }
func (NopSink) Clear() error                       { return nil }
