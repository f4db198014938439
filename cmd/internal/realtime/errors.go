package realtime

import "errors"

// Wire error taxonomy. Each kind maps to the error event payload sent to the
// originating connection; internal detail never crosses the wire.
const (
	codeInvalidAddressing    = 400
	codeConversationNotFound = 404
	codeInternalFailure      = 500
)

// ErrInvalidAddressing is returned when zero or more than one of the four
// addressing fields is present.
var ErrInvalidAddressing = errors.New("realtime: invalid addressing")

// wireError carries the client-facing code and message for a failed request.
type wireError struct {
	code    int
	message string
	details string
}

func (e *wireError) Error() string { return e.message }

func invalidAddressingError(details string) *wireError {
	return &wireError{
		code:    codeInvalidAddressing,
		message: "Receiver or context ID required",
		details: details,
	}
}

func conversationNotFoundError() *wireError {
	return &wireError{
		code:    codeConversationNotFound,
		message: "Conversation not found",
	}
}

func internalError() *wireError {
	return &wireError{
		code:    codeInternalFailure,
		message: "Internal server error",
	}
}

// asWireError maps any handler error to the payload sent to the client.
// Unrecognized errors collapse to a generic internal failure.
func asWireError(err error) *wireError {
	var we *wireError
	if errors.As(err, &we) {
		return we
	}
	switch {
	case errors.Is(err, ErrInvalidAddressing):
		return invalidAddressingError(err.Error())
	case errors.Is(err, ErrConversationNotFound):
		return conversationNotFoundError()
	default:
		return internalError()
	}
}
