// Package apperr holds the sentinel errors shared across packages.
package apperr

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotInitialized is returned by index and chat operations before a
	// vector index has been created or bound.
	ErrNotInitialized = errors.New("vector index not initialized")

	ErrSourceUnavailable         = errors.New("source unavailable")
	ErrIndexCreationFailed       = errors.New("index creation failed")
	ErrUpsertFailed              = errors.New("upsert failed")
	ErrMetadataCorrupt           = errors.New("metadata corrupt")
	ErrClassificationUnavailable = errors.New("intent classification unavailable")
	ErrTimeout                   = errors.New("operation timed out")
	ErrIterationLimit            = errors.New("agent iteration limit reached")
)

// GenericUserMessage is shown to users for any failure that has no more
// specific message.
const GenericUserMessage = "I apologize, but I encountered an error processing your message. Please try again."

// UserMessage maps err to a sentence that is safe to show to an end user.
// Internal details never leak through it.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotInitialized):
		return "The knowledge base is not ready yet. Please try again once documents have been indexed."
	case errors.Is(err, ErrTimeout):
		return "The request took too long to complete. Please try again."
	default:
		return GenericUserMessage
	}
}
