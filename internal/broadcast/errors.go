package broadcast

import "errors"

var (
	// ErrEncodePayload means the outbound payload could not be serialized.
	// Nothing was delivered.
	ErrEncodePayload = errors.New("broadcast: failed to encode payload")
)
