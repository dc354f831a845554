package entity

import "time"

// transitions lists the legal next states for each status.
// failed and read have no entry and are terminal.
var transitions = map[NotificationStatus][]NotificationStatus{
	NotificationStatusPending:   {NotificationStatusSent, NotificationStatusFailed},
	NotificationStatusSent:      {NotificationStatusDelivered, NotificationStatusFailed},
	NotificationStatusDelivered: {NotificationStatusRead},
}

// IsTerminal reports whether no transition leaves s
func (s NotificationStatus) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// CanTransitionTo reports whether moving from s to next is legal
func (s NotificationStatus) CanTransitionTo(next NotificationStatus) bool {
	for _, to := range transitions[s] {
		if to == next {
			return true
		}
	}
	return false
}

// Predecessors returns the statuses that may legally move to s.
// The result is empty for pending, which can only be assigned at creation.
func Predecessors(s NotificationStatus) []NotificationStatus {
	var from []NotificationStatus
	for _, st := range Statuses {
		if st.CanTransitionTo(s) {
			from = append(from, st)
		}
	}
	return from
}

// ApplyStatus mutates n according to u after validating the transition.
// deliveredAt and readAt are stamped only on entry into delivered and read,
// and failureReason only survives while the record is failed.
func ApplyStatus(n *Notification, u StatusUpdate) error {
	if !n.Status.CanTransitionTo(u.Status) {
		return &TransitionError{From: n.Status, To: u.Status}
	}

	at := u.At
	if at.IsZero() {
		at = time.Now()
	}

	n.Status = u.Status
	n.UpdatedAt = at

	switch u.Status {
	case NotificationStatusDelivered:
		n.DeliveredAt = &at
	case NotificationStatusRead:
		n.ReadAt = &at
	}

	if u.Status == NotificationStatusFailed {
		reason := u.FailureReason
		n.FailureReason = &reason
	} else {
		n.FailureReason = nil
	}

	if len(u.Metadata) > 0 {
		if n.Metadata == nil {
			n.Metadata = make(map[string]any, len(u.Metadata))
		}
		for k, v := range u.Metadata {
			n.Metadata[k] = v
		}
	}

	return nil
}
