package wire

// Session lifecycle event types delivered on the SSE stream.
const (
	EventOpening           = "OPENING"
	EventOpenedForm        = "OPENED_FORM"
	EventFilledFields      = "FILLED_FIELDS"
	EventUploadedImages    = "UPLOADED_IMAGES"
	EventSubmitted         = "SUBMITTED"
	EventPublished         = "PUBLISHED"
	EventNeedsLogin        = "NEEDS_LOGIN"
	EventChallengeDetected = "CHALLENGE_DETECTED"
	EventError             = "ERROR"
)

// Frame is one event as serialized on the stream: a single SSE data
// line holding this JSON object.
type Frame struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	Data      any    `json:"data,omitempty"`
}
