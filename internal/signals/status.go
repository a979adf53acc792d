package signals

import (
	"tarot-talks/internal/models"
)

// State is a lifecycle state. The two tracks are distinct types so a share
// can never move from one track into the other.
type State interface {
	Status() models.ShareStatus
	sealed()
}

// SelfState is a state on the self-authored track: draft, posted, verified.
type SelfState models.ShareStatus

// MentionState is a state on the discovered-mention track: discovered, acknowledged.
type MentionState models.ShareStatus

const (
	Draft    = SelfState(models.StatusDraft)
	Posted   = SelfState(models.StatusPosted)
	Verified = SelfState(models.StatusVerified)

	Discovered   = MentionState(models.StatusDiscovered)
	Acknowledged = MentionState(models.StatusAcknowledged)
)

func (s SelfState) Status() models.ShareStatus    { return models.ShareStatus(s) }
func (s MentionState) Status() models.ShareStatus { return models.ShareStatus(s) }
func (SelfState) sealed()                         {}
func (MentionState) sealed()                      {}

// Edit moves a self-authored share to another self-track state. Any order is
// allowed within the track.
func (s SelfState) Edit(next SelfState) SelfState {
	return next
}

// Acknowledge is the only transition on the mention track.
func (s MentionState) Acknowledge() (MentionState, error) {
	if s != Discovered {
		return s, invalidTransition("can only acknowledge discovered mentions (current status %q)", s)
	}
	return Acknowledged, nil
}

// ParseState maps a persisted status back onto its track.
func ParseState(status models.ShareStatus) (State, error) {
	switch status {
	case models.StatusDraft, models.StatusPosted, models.StatusVerified:
		return SelfState(status), nil
	case models.StatusDiscovered, models.StatusAcknowledged:
		return MentionState(status), nil
	default:
		return nil, validation("unknown status %q", status)
	}
}

// ParseSelfState accepts only self-track statuses, as operators may set.
func ParseSelfState(status models.ShareStatus) (SelfState, error) {
	state, err := ParseState(status)
	if err != nil {
		return "", err
	}
	self, ok := state.(SelfState)
	if !ok {
		return "", invalidTransition("status %q is reserved for discovered mentions", status)
	}
	return self, nil
}
