package conversation

import (
	"fmt"

	"personachat/internal/chatapi"
)

const (
	msgMissingIdentity = "No character is configured for this chat."
	msgTurnLimit       = "You have reached the conversation limit for this character."
	msgNoResponse      = "No response was received. Please try again."
	msgNetwork         = "Could not reach the server. Please check your connection and try again."
	msgNotFound        = "This character could not be found. Please check the link and try again."
	msgServerFallback  = "The server could not process your message. Please try again later."
)

// errorText maps a failed send onto the in-chat error message shown for it.
func errorText(err error) string {
	apiErr, ok := chatapi.AsError(err)
	if !ok {
		return msgNetwork
	}
	switch apiErr.Kind {
	case chatapi.KindTransport:
		return msgNetwork
	case chatapi.KindTurnLimit:
		return msgTurnLimit
	case chatapi.KindNotFound:
		return msgNotFound
	case chatapi.KindForbidden, chatapi.KindServer:
		if apiErr.Message != "" {
			return "Server error: " + apiErr.Message
		}
		if apiErr.Status != 0 {
			return fmt.Sprintf("%s (status %d)", msgServerFallback, apiErr.Status)
		}
		return msgServerFallback
	case chatapi.KindMalformed:
		return msgNoResponse
	default:
		return msgServerFallback
	}
}
