package bootstrap

import (
	"fmt"
	"net/url"

	"github.com/sirupsen/logrus"

	"coachvoice/internal/audio"
	"coachvoice/internal/backend"
	"coachvoice/internal/config"
	"coachvoice/internal/logging"
	"coachvoice/internal/peer"
	"coachvoice/internal/ports"
	"coachvoice/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Controller *usecase.SessionController
	Backend    *backend.Client
	Config     config.Config
	Log        *logrus.Logger
}

// Build loads configuration and wires all dependencies for the current runtime.
func Build(eventSink ports.EventSink) (Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return Services{}, err
	}
	return BuildWithConfig(cfg, logging.New(cfg.Log), eventSink)
}

// BuildWithConfig wires all dependencies from an already resolved config.
func BuildWithConfig(cfg config.Config, log *logrus.Logger, eventSink ports.EventSink) (Services, error) {
	if err := validateBaseURL(cfg.Backend.BaseURL); err != nil {
		return Services{}, err
	}
	if log == nil {
		log = logging.New(cfg.Log)
	}

	client := backend.NewClient(
		cfg.Backend.BaseURL,
		backend.WithToken(cfg.Backend.Token),
		backend.WithLogger(log),
	)

	var output ports.AudioOutput = audio.NopSink{}
	if !cfg.Playback.Disabled {
		output = audio.NewFFPlaySink(cfg.Playback.Command, log)
	}

	controller := usecase.NewSessionController(
		usecase.Deps{
			Media: audio.MicrophoneOpener{
				Capture: audio.NewFFMPEGCapture(cfg.Audio.RecorderCommand),
				Config: ports.AudioConfig{
					SampleRate:  cfg.Audio.SampleRate,
					Channels:    cfg.Audio.Channels,
					FrameMs:     cfg.Audio.FrameMs,
					InputFormat: cfg.Audio.InputFormat,
					InputDevice: cfg.Audio.InputDevice,
				},
				Log: log,
			},
			Peers: peer.NewFactory(peer.Config{
				ICEServers:  cfg.Realtime.ICEServers,
				OpusBitrate: cfg.Realtime.OpusBitrate,
			}, log),
			Signaling: client,
			Turns:     client,
			Feedback:  client,
			Sessions:  client,
			Output:    output,
			Events:    eventSink,
		},
		usecase.Config{
			DataChannelLabel: cfg.Realtime.DataChannelLabel,
			FeedbackInterval: cfg.Session.FeedbackInterval,
			IdleWindow:       cfg.Session.IdleWindow,
		},
		log,
	)

	return Services{Controller: controller, Backend: client, Config: cfg, Log: log}, nil
}

func validateBaseURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid backend url %q: %w", raw, err)
	}
	if (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("invalid backend url %q: expected http(s)://host", raw)
	}
	return nil
}
