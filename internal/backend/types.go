package backend

// Message represents a message sent to the backend.
type Message struct {
	Content string
	Role    string // "user" or "system"
}

// Response represents a response from the backend.
type Response struct {
	Content   string
	SessionID string
	Error     string
}

// Config defines the configuration for a backend.
type Config struct {
	Type         string   // "claude", "codex" or "goose"
	Command      string   // Binary to run (default: the type name)
	Args         []string // Extra args appended to every invocation
	WorkDir      string
	SessionID    string
	Model        string
	Provider     string // Model provider, goose only
	SystemPrompt string
	Stateless    bool // Send every message without session flags
}
