package domain

// ConnectionStatus mirrors the realtime transport lifecycle.
type ConnectionStatus string

const (
	ConnectionStatusNew          ConnectionStatus = "new"
	ConnectionStatusConnecting   ConnectionStatus = "connecting"
	ConnectionStatusConnected    ConnectionStatus = "connected"
	ConnectionStatusDisconnected ConnectionStatus = "disconnected"
	ConnectionStatusClosed       ConnectionStatus = "closed"
	ConnectionStatusFailed       ConnectionStatus = "failed"
)

// Terminal reports whether the status ends the session.
func (s ConnectionStatus) Terminal() bool {
	return s == ConnectionStatusClosed || s == ConnectionStatusFailed
}

// Sender identifies who produced a message or turn.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// ErrorCode identifies non-fatal and fatal pipeline errors.
type ErrorCode string

const (
	ErrorCodeStartup         ErrorCode = "startup"
	ErrorCodeMicrophone      ErrorCode = "microphone"
	ErrorCodeNegotiation     ErrorCode = "negotiation"
	ErrorCodeTransport       ErrorCode = "transport"
	ErrorCodeTurnUpload      ErrorCode = "turn_upload"
	ErrorCodeFeedback        ErrorCode = "feedback"
	ErrorCodeSessionComplete ErrorCode = "session_complete"
)

// Message is one transcript bubble. Text grows by deltas while it is the
// newest message of its sender.
type Message struct {
	ID     int    `json:"id"`
	Sender Sender `json:"sender"`
	Text   string `json:"text"`
}

// LiveFeedbackItem is a coaching suggestion delivered asynchronously by the backend.
type LiveFeedbackItem struct {
	ID           string `json:"id"`
	Heading      string `json:"heading"`
	FeedbackText string `json:"feedbackText"`
}

// Turn is one complete utterance ready for upload.
type Turn struct {
	ID            string `json:"id"`
	SessionID     string `json:"session_id"`
	Speaker       Sender `json:"speaker"`
	Text          string `json:"text"`
	StartOffsetMs int64  `json:"start_offset_ms"`
	EndOffsetMs   int64  `json:"end_offset_ms"`
	Audio         []byte `json:"-"`
	AudioMIME     string `json:"-"`
}

// AudioFileName returns the multipart file name for the turn audio.
func (t Turn) AudioFileName() string {
	switch t.AudioMIME {
	case "audio/wav":
		return t.ID + ".wav"
	case "audio/ogg":
		return t.ID + ".ogg"
	default:
		return t.ID + ".bin"
	}
}

// Status summarizes the current runtime status.
type Status struct {
	Connection ConnectionStatus `json:"connection"`
	SessionID  string           `json:"sessionId,omitempty"`
	Active     bool             `json:"active"`
	Muted      bool             `json:"muted"`
	ElapsedMs  int64            `json:"elapsedMs"`
	Message    string           `json:"message,omitempty"`
}
