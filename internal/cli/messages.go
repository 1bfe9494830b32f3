package cli

import (
	"errors"

	"github.com/salah-ledger/salah/internal/domain"
	"github.com/salah-ledger/salah/internal/resilience"
)

// UserMessage turns an engine or store error into the wording shown to
// the user. The phrasing stays gentle: nothing here comments on a missed
// prayer, only on what the app could or could not do.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, domain.ErrBusy):
		return "Still saving your last update. Please try again in a moment."
	case errors.Is(err, domain.ErrSuperseded):
		return "Your account changed while this was saving. Please try again."
	case errors.Is(err, domain.ErrInvalidSlot), errors.Is(err, domain.ErrInvalidStatus):
		return "That entry wasn't recognised (" + err.Error() + "). See 'salah log --help'."
	}

	switch resilience.Classify(err) {
	case resilience.ClassConnectivity, resilience.ClassTimeout:
		return "We couldn't reach the server, so nothing was saved yet. Please try again when you're back online."
	case resilience.ClassAuthorization:
		if errors.Is(err, domain.ErrNotSignedIn) {
			return "Please sign in to keep your prayer log in sync (" + err.Error() + ")."
		}
		return "This account can't be updated from here. Please check your token."
	case resilience.ClassInvalid:
		return "Your saved data couldn't be read just now. Nothing was changed; please try again."
	case resilience.ClassCanceled:
		return "That took too long and was stopped. Nothing was changed."
	default:
		return "Something went wrong on our side: " + err.Error()
	}
}
