package types

// WSCommandResult is the standard response for command execution.
// Error holds a message string, or a *ValidationError for rejected input.
type WSCommandResult struct {
	Type    string `json:"type"`         // "<command>_result"
	ID      string `json:"id,omitempty"` // Echoes the command ID
	Success bool   `json:"success"`
	Error   any    `json:"error,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// WSStateMessage forwards a session state event to WebSocket clients.
type WSStateMessage struct {
	Type  string     `json:"type"` // "state"
	Event StateEvent `json:"event"`
}

// WSStatusResponse is sent to clients with the controller status.
type WSStatusResponse struct {
	Type    string        `json:"type"` // "status"
	Session SessionStatus `json:"session"`
	Version VersionInfo   `json:"version"`
}

// WSAmplitudeResponse is sent to clients with amplitude updates.
type WSAmplitudeResponse struct {
	Type      string          `json:"type"` // "amplitude"
	Amplitude AmplitudeSample `json:"amplitude"`
}
