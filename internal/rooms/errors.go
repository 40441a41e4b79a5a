package rooms

import "errors"

// Every rejected action maps to one of these so the HTTP layer can render a
// specific reason, never a generic failure.
var (
	// ErrInvalidInput rejects a malformed request before any state change.
	ErrInvalidInput = errors.New("invalid input")
	// ErrRoomNotFound covers stale, forged, or expired room identifiers.
	ErrRoomNotFound = errors.New("room not found")
	// ErrVoterNotFound covers stale or forged voter identifiers and codes.
	ErrVoterNotFound = errors.New("voter not found")
	// ErrRoomEnded rejects joins once voting is over.
	ErrRoomEnded = errors.New("room has ended")
	// ErrInvalidTransition rejects an operation not legal in the room's
	// current status.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrInsufficientVoters rejects starting a vote with no approved voter.
	ErrInsufficientVoters = errors.New("no approved voters")
	// ErrInsufficientBallots rejects ending a vote with no submitted ballot.
	ErrInsufficientBallots = errors.New("no submitted ballots")
	// ErrAlreadyApproved rejects approving the same voter twice.
	ErrAlreadyApproved = errors.New("voter already approved")
	// ErrAlreadyVoted rejects a second ballot from the same voter.
	ErrAlreadyVoted = errors.New("voter already voted")
	// ErrNotApproved rejects ballots from unapproved voters.
	ErrNotApproved = errors.New("voter not approved")
	// ErrMalformedBallot rejects rankings that are not a permutation of the
	// room's option indices.
	ErrMalformedBallot = errors.New("malformed ballot")
	// ErrPersistenceUnavailable surfaces a failed durability-critical write.
	ErrPersistenceUnavailable = errors.New("persistence unavailable")
)
