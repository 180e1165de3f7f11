package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"coachvoice/internal/bootstrap"
	"coachvoice/internal/config"
	"coachvoice/internal/domain"
	"coachvoice/internal/usecase"
)

const (
	eventStatus    = "coachvoice:status"
	eventMessages  = "coachvoice:messages"
	eventFeedback  = "coachvoice:feedback"
	eventError     = "coachvoice:error"
	eventCompleted = "coachvoice:completed"
)

// App is the Wails application root.
type App struct {
	ctx context.Context

	controller *usecase.SessionController
	cfg        config.Config
	bootErr    error
}

func NewApp() *App {
	return &App{}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	services, err := bootstrap.Build(a)
	if err != nil {
		a.bootErr = err
		a.SessionError(domain.ErrorCodeStartup, err.Error())
		return
	}

	a.cfg = services.Config
	a.controller = services.Controller
	a.ConnectionStatusChanged(domain.ConnectionStatusNew)
}

// shutdown releases the microphone and connection when the window closes.
func (a *App) shutdown(context.Context) {
	if a.controller != nil {
		a.controller.Cleanup()
	}
}

// StartSession connects the voice session with the given id.
func (a *App) StartSession(sessionID string) (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return domain.Status{}, errors.New("session id is required")
	}
	if err := a.controller.Start(a.ctx, sessionID); err != nil {
		return domain.Status{}, err
	}
	return a.controller.Status(), nil
}

// EndSession tears the session down and marks it completed.
func (a *App) EndSession() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	if err := a.controller.Disconnect(a.ctx); err != nil {
		if errors.Is(err, usecase.ErrNoActiveSession) {
			return nil
		}
		return err
	}
	return nil
}

// ToggleMute flips the microphone mute state.
func (a *App) ToggleMute() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.controller.SetMuted(!a.controller.Status().Muted); err != nil {
		return domain.Status{}, err
	}
	return a.controller.Status(), nil
}

// GetStatus returns the current session status.
func (a *App) GetStatus() domain.Status {
	if a.controller == nil {
		if a.bootErr != nil {
			return domain.Status{Connection: domain.ConnectionStatusFailed, Message: a.bootErr.Error()}
		}
		return domain.Status{Connection: domain.ConnectionStatusNew}
	}
	return a.controller.Status()
}

// GetMessages returns the transcript of the current session.
func (a *App) GetMessages() []domain.Message {
	if a.controller == nil {
		return []domain.Message{}
	}
	return a.controller.Messages()
}

// GetLiveFeedback returns the latest coaching feedback.
func (a *App) GetLiveFeedback() []domain.LiveFeedbackItem {
	if a.controller == nil {
		return []domain.LiveFeedbackItem{}
	}
	items := a.controller.Feedback()
	if items == nil {
		return []domain.LiveFeedbackItem{}
	}
	return items
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}

	return map[string]string{
		"backend":          a.cfg.Backend.BaseURL,
		"configFile":       a.cfg.Path,
		"audioInput":       a.cfg.Audio.InputDevice,
		"audioInputFormat": a.cfg.Audio.InputFormat,
		"sampleRate":       fmt.Sprintf("%d", a.cfg.Audio.SampleRate),
		"dataChannel":      a.cfg.Realtime.DataChannelLabel,
		"playback":         playbackLabel(a.cfg.Playback),
	}
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.controller == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

// ConnectionStatusChanged emits connection lifecycle updates to the frontend.
func (a *App) ConnectionStatusChanged(status domain.ConnectionStatus) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventStatus, map[string]string{
		"status":  string(status),
		"message": statusMessage(status),
	})
}

// MessagesChanged emits the full transcript after every change.
func (a *App) MessagesChanged(messages []domain.Message) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventMessages, messages)
}

// LiveFeedbackChanged emits a new feedback list.
func (a *App) LiveFeedbackChanged(items []domain.LiveFeedbackItem) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventFeedback, items)
}

// SessionError emits backend errors to the UI.
func (a *App) SessionError(code domain.ErrorCode, detail string) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventError, map[string]string{
		"code":    string(code),
		"message": errorMessage(code, detail),
		"detail":  detail,
	})
}

// SessionCompleted tells the UI to leave the live session view.
func (a *App) SessionCompleted(sessionID string) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventCompleted, map[string]string{"sessionId": sessionID})
}

func statusMessage(status domain.ConnectionStatus) string {
	switch status {
	case domain.ConnectionStatusNew:
		return "Ready"
	case domain.ConnectionStatusConnecting:
		return "Connecting..."
	case domain.ConnectionStatusConnected:
		return "Live"
	case domain.ConnectionStatusDisconnected:
		return "Connection interrupted"
	case domain.ConnectionStatusFailed:
		return "Connection failed"
	case domain.ConnectionStatusClosed:
		return "Session ended"
	default:
		return ""
	}
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "Startup failed"
	case domain.ErrorCodeMicrophone:
		return "Microphone unavailable"
	case domain.ErrorCodeNegotiation:
		return "Could not connect to the coach"
	case domain.ErrorCodeTransport:
		return "Connection lost"
	case domain.ErrorCodeTurnUpload:
		return "Failed to save part of the conversation"
	case domain.ErrorCodeFeedback:
		return "Live feedback unavailable"
	case domain.ErrorCodeSessionComplete:
		return "Failed to complete session"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}

func playbackLabel(cfg config.PlaybackConfig) string {
	if cfg.Disabled {
		return "disabled"
	}
	return cfg.Command
}
