package escrow

// transitions is the complete state machine. Absent entries are illegal;
// terminal statuses have no outgoing edges so no task ever leaves them.
var transitions = map[Status][]Status{
	StatusCreated:   {StatusAssigned, StatusRefunded},
	StatusAssigned:  {StatusCompleted, StatusDisputed},
	StatusCompleted: {StatusApproved, StatusDisputed},
	StatusDisputed:  {StatusResolved},
}

func canTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
