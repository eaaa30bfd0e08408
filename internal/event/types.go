package event

// StateChangedData is the data for service.state events.
type StateChangedData struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// CommandData is the data for command.registered and command.unregistered events.
type CommandData struct {
	Name string `json:"name"`
	Pack string `json:"pack,omitempty"`
}

// PackFailedData is the data for pack.failed events.
type PackFailedData struct {
	Pack  string `json:"pack"`
	Error string `json:"error"`
}

// ExecutionData is the data for execution.started and execution.completed events.
type ExecutionData struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionID,omitempty"`
	Command   string `json:"command"`
	Status    string `json:"status,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ListenerData is the data for listener.bound and listener.unbound events.
type ListenerData struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Address string `json:"address"`
}

// SessionData is the data for session.opened and session.closed events.
type SessionData struct {
	ID       string `json:"id"`
	Listener string `json:"listener,omitempty"`
}
