// Package realtime classifies the JSON events the AI peer sends over the
// data channel into one Go type per handled event.
package realtime

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Event is one classified inbound data-channel message.
type Event interface {
	eventType() string
}

// UserItemCreated marks a completed user conversation item.
type UserItemCreated struct {
	ItemID string
}

// ResponseCreated marks the start of an assistant response.
type ResponseCreated struct {
	ResponseID string
}

type UserTranscriptDelta struct {
	ItemID string
	Delta  string
}

type UserTranscriptCompleted struct {
	ItemID     string
	Transcript string
}

type AssistantTranscriptDelta struct {
	ResponseID string
	ItemID     string
	Delta      string
}

type AssistantTranscriptDone struct {
	ResponseID string
	ItemID     string
	Transcript string
}

// SpeechStarted reports the server VAD detecting the user begin talking.
// AudioStartMs is in the input audio buffer's time frame.
type SpeechStarted struct {
	ItemID       string
	AudioStartMs int64
}

type SpeechStopped struct {
	ItemID     string
	AudioEndMs int64
}

// AudioContentPartAdded marks the assistant starting to speak a response.
type AudioContentPartAdded struct {
	ResponseID string
	ItemID     string
}

// OutputAudioStopped marks the assistant's audio for a response finishing playback.
type OutputAudioStopped struct {
	ResponseID string
}

// Unknown is any well-formed event the pipeline has no handler for.
type Unknown struct {
	Type string
}

func (UserItemCreated) eventType() string          { return typeItemCreated }
func (ResponseCreated) eventType() string          { return typeResponseCreated }
func (UserTranscriptDelta) eventType() string      { return typeInputTranscriptDelta }
func (UserTranscriptCompleted) eventType() string  { return typeInputTranscriptCompleted }
func (AssistantTranscriptDelta) eventType() string { return typeOutputTranscriptDelta }
func (AssistantTranscriptDone) eventType() string  { return typeOutputTranscriptDone }
func (SpeechStarted) eventType() string            { return typeSpeechStarted }
func (SpeechStopped) eventType() string            { return typeSpeechStopped }
func (AudioContentPartAdded) eventType() string    { return typeContentPartAdded }
func (OutputAudioStopped) eventType() string       { return typeOutputAudioStopped }
func (e Unknown) eventType() string                { return e.Type }

// TypeOf returns the wire type an event was classified from.
func TypeOf(e Event) string {
	if e == nil {
		return ""
	}
	return e.eventType()
}

const (
	typeItemCreated              = "conversation.item.created"
	typeResponseCreated          = "response.created"
	typeInputTranscriptDelta     = "conversation.item.input_audio_transcription.delta"
	typeInputTranscriptCompleted = "conversation.item.input_audio_transcription.completed"
	typeOutputTranscriptDelta    = "response.output_audio_transcript.delta"
	typeOutputTranscriptDone     = "response.output_audio_transcript.done"
	typeSpeechStarted            = "input_audio_buffer.speech_started"
	typeSpeechStopped            = "input_audio_buffer.speech_stopped"
	typeContentPartAdded         = "response.content_part.added"
	typeOutputAudioStopped       = "output_audio_buffer.stopped"

	// Beta names of the assistant transcript events.
	typeAudioTranscriptDelta = "response.audio_transcript.delta"
	typeAudioTranscriptDone  = "response.audio_transcript.done"
)

type wireEvent struct {
	Type         string `json:"type"`
	ItemID       string `json:"item_id"`
	ResponseID   string `json:"response_id"`
	Delta        string `json:"delta"`
	Transcript   string `json:"transcript"`
	AudioStartMs int64  `json:"audio_start_ms"`
	AudioEndMs   int64  `json:"audio_end_ms"`
	Item         *struct {
		ID     string `json:"id"`
		Role   string `json:"role"`
		Status string `json:"status"`
	} `json:"item"`
	Response *struct {
		ID string `json:"id"`
	} `json:"response"`
	Part *struct {
		Type string `json:"type"`
	} `json:"part"`
}

// Classify decodes one data-channel payload. Malformed JSON or a missing type
// is an error; recognised JSON with no handler classifies as Unknown.
func Classify(data []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode realtime event: %w", err)
	}
	typ := strings.TrimSpace(w.Type)
	if typ == "" {
		return nil, fmt.Errorf("realtime event missing type")
	}

	switch typ {
	case typeItemCreated:
		if w.Item == nil || w.Item.Role != "user" || w.Item.Status != "completed" {
			return Unknown{Type: typ}, nil
		}
		return UserItemCreated{ItemID: w.Item.ID}, nil
	case typeResponseCreated:
		id := w.ResponseID
		if w.Response != nil && w.Response.ID != "" {
			id = w.Response.ID
		}
		return ResponseCreated{ResponseID: id}, nil
	case typeInputTranscriptDelta:
		return UserTranscriptDelta{ItemID: w.ItemID, Delta: w.Delta}, nil
	case typeInputTranscriptCompleted:
		return UserTranscriptCompleted{ItemID: w.ItemID, Transcript: w.Transcript}, nil
	case typeOutputTranscriptDelta, typeAudioTranscriptDelta:
		return AssistantTranscriptDelta{ResponseID: w.ResponseID, ItemID: w.ItemID, Delta: w.Delta}, nil
	case typeOutputTranscriptDone, typeAudioTranscriptDone:
		return AssistantTranscriptDone{ResponseID: w.ResponseID, ItemID: w.ItemID, Transcript: w.Transcript}, nil
	case typeSpeechStarted:
		return SpeechStarted{ItemID: w.ItemID, AudioStartMs: w.AudioStartMs}, nil
	case typeSpeechStopped:
		return SpeechStopped{ItemID: w.ItemID, AudioEndMs: w.AudioEndMs}, nil
	case typeContentPartAdded:
		if w.Part == nil || (w.Part.Type != "audio" && w.Part.Type != "output_audio") {
			return Unknown{Type: typ}, nil
		}
		return AudioContentPartAdded{ResponseID: w.ResponseID, ItemID: w.ItemID}, nil
	case typeOutputAudioStopped:
		return OutputAudioStopped{ResponseID: w.ResponseID}, nil
	default:
		return Unknown{Type: typ}, nil
	}
}
