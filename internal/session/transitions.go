package session

// transitions enumerates every legal status edge. Anything not listed is
// rejected. Terminal statuses have no outgoing edges, which also guarantees
// that no session re-enters ringing after leaving it.
var transitions = map[Status][]Status{
	StatusRinging: {
		StatusAccepted,
		StatusRejected,
		StatusCanceled,
		StatusNotAnswered,
	},
	StatusAccepted: {
		StatusConnecting,
		StatusPaymentPending,
		StatusCanceled,
		StatusInterrupted,
	},
	StatusConnecting: {
		StatusOngoing,
		StatusCanceled,
		StatusInterrupted,
	},
	StatusPaymentPending: {
		StatusConnecting,
		StatusCanceled,
		StatusInterrupted,
	},
	StatusOngoing: {
		StatusEnded,
		StatusInterrupted,
	},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
