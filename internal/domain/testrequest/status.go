package testrequest

// Operation names a workflow step that moves a request forward.
type Operation string

const (
	OpAssignForLab          Operation = "assignForLab"
	OpCompleteLab           Operation = "completeLab"
	OpAssignForConsultation Operation = "assignForConsultation"
	OpCompleteConsultation  Operation = "completeConsultation"
)

type transition struct {
	from RequestStatus
	to   RequestStatus
}

// transitions defines the legal status change for each operation.
var transitions = map[Operation]transition{
	OpAssignForLab:          {from: StatusInitiated, to: StatusLabTestInProgress},
	OpCompleteLab:           {from: StatusLabTestInProgress, to: StatusLabTestCompleted},
	OpAssignForConsultation: {from: StatusLabTestCompleted, to: StatusDiagnosisInProcess},
	OpCompleteConsultation:  {from: StatusDiagnosisInProcess, to: StatusCompleted},
}

// Next returns the status a request in current moves to when op is applied.
func Next(current RequestStatus, op Operation) (RequestStatus, error) {
	t, ok := transitions[op]
	if !ok || t.from != current {
		return "", &TransitionError{From: current, Op: op}
	}
	return t.to, nil
}

// Allowed lists the operations legal from current.
func Allowed(current RequestStatus) []Operation {
	var ops []Operation
	for _, op := range []Operation{OpAssignForLab, OpCompleteLab, OpAssignForConsultation, OpCompleteConsultation} {
		if transitions[op].from == current {
			ops = append(ops, op)
		}
	}
	return ops
}
