package dispatch

import "time"

// Outcome classifies one recipient's result.
type Outcome string

const (
	// OutcomeSent is a delivery accepted by the client.
	OutcomeSent Outcome = "sent"
	// OutcomeInvalid is a recipient that failed normalization; no send was
	// attempted.
	OutcomeInvalid Outcome = "invalid"
	// OutcomeUnregistered is a valid number not reachable on the messaging
	// network.
	OutcomeUnregistered Outcome = "unregistered"
	// OutcomeError is a transport failure during the registration check or
	// the send call.
	OutcomeError Outcome = "error"
)

// Item is one recipient's outcome. Items appear in the report in exact input
// order.
type Item struct {
	Original   string  `json:"original"`
	Normalized string  `json:"normalized,omitempty"`
	Outcome    Outcome `json:"outcome"`
	// Detail carries the delivery id for sent items and the failure detail
	// otherwise.
	Detail string `json:"detail,omitempty"`
}

// Report aggregates one dispatch call. Failed counts every non-sent item
// (invalid, unregistered and error alike).
type Report struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`

	Total        int `json:"total"`
	Sent         int `json:"sent"`
	Failed       int `json:"failed"`
	Unregistered int `json:"unregistered"`

	Items []Item `json:"details"`

	StartedAt time.Time     `json:"started_at"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Payload is the message content fanned out to every recipient. Attachment
// delivery uses Text as the caption when both are set.
type Payload struct {
	Text       string
	Attachment *Attachment
}

// Attachment mirrors transport.Attachment at the API boundary.
type Attachment struct {
	Path     string
	FileName string
	MimeType string
}

func (p Payload) empty() bool {
	return p.Text == "" && p.Attachment == nil
}

// ValidationItem is one recipient's dry-run normalization result.
type ValidationItem struct {
	Original   string `json:"original"`
	Normalized string `json:"formatted"`
	Valid      bool   `json:"valid"`
	Detail     string `json:"error,omitempty"`
}

// ValidationReport is the result of a dry-run batch validation.
type ValidationReport struct {
	Items   []ValidationItem `json:"results"`
	Valid   int              `json:"valid_count"`
	Invalid int              `json:"invalid_count"`
}
