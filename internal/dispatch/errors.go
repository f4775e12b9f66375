package dispatch

import "errors"

var (
	// ErrEmptyBatch rejects a dispatch with no recipients.
	ErrEmptyBatch = errors.New("recipient list is empty")
	// ErrBatchTooLarge rejects a dispatch exceeding the batch ceiling.
	ErrBatchTooLarge = errors.New("recipient list exceeds batch limit")
	// ErrEmptyPayload rejects a dispatch with neither text nor attachment.
	ErrEmptyPayload = errors.New("payload has neither text nor attachment")
	// ErrRecipientInvalid is returned by single-recipient operations when the
	// number fails normalization.
	ErrRecipientInvalid = errors.New("recipient number is invalid")
	// ErrRecipientUnregistered is returned by single-recipient operations when
	// the number is not reachable on the messaging network.
	ErrRecipientUnregistered = errors.New("recipient is not registered")
)
