package correlation

import "encoding/json"

// MessageReceived is a single inbound bus message handed to the
// CorrelationEngine by a listener's PullFetcher/MessageProcessor pair.
type MessageReceived struct {
	Subject     string
	ExtractedID string
	Payload     json.RawMessage
	Sequence    uint64
}
