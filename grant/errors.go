package grant

import "errors"

var (
	// ErrInvalidSignature is returned when a grant's signature does not
	// verify against the claimed issuer key.
	ErrInvalidSignature = errors.New("grant: invalid signature")
	// ErrExpired is returned by Validate when the grant's expires_at has
	// passed.
	ErrExpired = errors.New("grant: expired")
	// ErrNotYetValid is returned when issued_at is in the future, beyond
	// the allowed clock-skew tolerance.
	ErrNotYetValid = errors.New("grant: not yet valid")
	// ErrPartyNotAuthorized is returned by Validate(party) when the calling
	// party index is not a member of the grant's participant set.
	ErrPartyNotAuthorized = errors.New("grant: party not authorized by this grant")
	// ErrReplayed is returned when a grant's session id has already been
	// observed within its replay protection window.
	ErrReplayed = errors.New("grant: session id already observed (replay)")
)
