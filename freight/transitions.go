package freight

import "freightflow/domain"

// transitions lists every legal request status move. Anything absent is an
// invalid transition; delivered and cancelled have no way out.
var transitions = map[domain.RequestStatus][]domain.RequestStatus{
	domain.RequestDraft:     {domain.RequestActive, domain.RequestCancelled},
	domain.RequestActive:    {domain.RequestAssigned, domain.RequestCancelled},
	domain.RequestAssigned:  {domain.RequestInTransit, domain.RequestCancelled},
	domain.RequestInTransit: {domain.RequestDelivered},
}

// CanTransition reports whether a request may move from one status to another.
func CanTransition(from, to domain.RequestStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
