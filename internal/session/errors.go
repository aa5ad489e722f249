package session

import (
	"fmt"

	"sessionkit/internal/authclient"
	"sessionkit/internal/sentinel"
	dErrors "sessionkit/pkg/domain-errors"
)

// ErrDisposed is returned by every operation after Dispose.
var ErrDisposed = fmt.Errorf("session coordinator disposed: %w", sentinel.ErrClosed)

// User-facing messages. Raw transport errors never leave the coordinator.
const (
	msgNetwork            = "Unable to connect. Please check your connection and try again."
	msgInvalidCredentials = "Invalid email or password."
	msgSessionExpired     = "Your session has expired. Please sign in again."
	msgGeneric            = "Something went wrong. Please try again."
	msgResolveFirst       = "Finish resolving the pending session change first."
	msgNotSignedIn        = "You are not signed in."
	msgNoConflict         = "There is no pending session change."
	msgNotReady           = "The session is still loading."
	msgSaveFailed         = "Your changes could not be saved. Try again or choose another option."
)

type operation string

const (
	opLogin         operation = "login"
	opSignup        operation = "signup"
	opRefresh       operation = "refresh"
	opMe            operation = "me"
	opSwitchCompany operation = "switch_company"
)

// userFacing normalizes an endpoint failure into the single message the UI shows.
// Validation and conflict errors already carry a server message fit for display.
func userFacing(err error, op operation) error {
	if err == nil {
		return nil
	}
	switch {
	case authclient.IsNetwork(err):
		return dErrors.Wrap(err, dErrors.CodeUnavailable, msgNetwork)
	case authclient.IsUnauthorized(err):
		if op == opLogin {
			return dErrors.Wrap(err, dErrors.CodeUnauthorized, msgInvalidCredentials)
		}
		return dErrors.Wrap(err, dErrors.CodeUnauthorized, msgSessionExpired)
	case dErrors.HasCode(err, dErrors.CodeValidation), dErrors.HasCode(err, dErrors.CodeConflict):
		return err
	default:
		return &dErrors.Error{Code: dErrors.CodeInternal, Message: msgGeneric, Err: err}
	}
}

func invalidState(msg string) error {
	return dErrors.Wrap(sentinel.ErrInvalidState, dErrors.CodeInvalidState, msg)
}

func logoutConfirmMessage(summary string) string {
	return fmt.Sprintf("You have %s. Log out anyway?", summary)
}

func switchConfirmMessage(summary string) string {
	return fmt.Sprintf("You have %s. Switch company anyway?", summary)
}

func discardConfirmMessage(count int) string {
	noun := "items"
	if count == 1 {
		noun = "item"
	}
	return fmt.Sprintf("Discard %d unsaved %s? This cannot be undone.", count, noun)
}
