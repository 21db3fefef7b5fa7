package ledger

import (
	"errors"
	"fmt"

	"gitlab.com/yelinaung/ledger-bot/internal/split"
)

// Domain failures returned by Service. Callers match them with errors.Is and
// render a message; only ErrServer is worth retrying.
var (
	ErrChatNotFound      = errors.New("chat not found")
	ErrUserNotRegistered = errors.New("user not registered")
	ErrNotMember         = errors.New("not a member of this chat")
	ErrNotFound          = errors.New("not found")
	ErrServer            = errors.New("server error")

	ErrInvalidAmount      = split.ErrInvalidAmount
	ErrAmountMismatch     = split.ErrAmountMismatch
	ErrUnknownMember      = split.ErrUnknownMember
	ErrInconsistentSyntax = split.ErrInconsistentSyntax
)

// ErrInvariantViolated means balances stopped summing to zero. It always
// reaches callers wrapped in ErrServer, after the unit of work rolled back.
var ErrInvariantViolated = errors.New("ledger invariant violated")

var domainErrors = []error{
	ErrChatNotFound,
	ErrUserNotRegistered,
	ErrNotMember,
	ErrNotFound,
	ErrInvalidAmount,
	ErrAmountMismatch,
	ErrUnknownMember,
	ErrInconsistentSyntax,
}

// IsDomainError reports whether err is a user-facing ledger failure rather
// than a storage or infrastructure problem.
func IsDomainError(err error) bool {
	if errors.Is(err, ErrServer) {
		return false
	}
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// classify passes domain errors through and marks everything else as ErrServer.
func classify(err error) error {
	if err == nil || IsDomainError(err) || errors.Is(err, ErrServer) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrServer, err)
}
