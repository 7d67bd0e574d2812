package testrequest

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// LabService assigns requests to testers and records their results.
type LabService struct {
	*workflow
}

// NewLabService creates a LabService. A nil tx runs without a transaction.
func NewLabService(repo Repository, flows FlowRepository, tx Transactor, log zerolog.Logger) *LabService {
	return &LabService{workflow: newWorkflow(repo, flows, tx, log.With().Str("service", "lab").Logger())}
}

// AssignForLabTest attaches an empty LabResult owned by tester and moves the
// request from INITIATED to LAB_TEST_IN_PROGRESS.
func (s *LabService) AssignForLabTest(ctx context.Context, id int64, tester Actor) (*TestRequest, error) {
	return s.apply(ctx, id, tester, OpAssignForLab,
		func() error { return checkActor("tester", tester) },
		func(tr *TestRequest, _ time.Time) {
			tr.LabResult = &LabResult{TesterID: tester.ID}
		})
}

// UpdateLabTest records the results and moves the request to LAB_TEST_COMPLETED.
func (s *LabService) UpdateLabTest(ctx context.Context, id int64, tester Actor, in LabResultInput) (*TestRequest, error) {
	return s.apply(ctx, id, tester, OpCompleteLab,
		func() error {
			if err := checkActor("tester", tester); err != nil {
				return err
			}
			return validateLabResult(in)
		},
		func(tr *TestRequest, now time.Time) {
			lr := tr.LabResult
			lr.BloodPressure = in.BloodPressure
			lr.HeartBeat = in.HeartBeat
			lr.Temperature = in.Temperature
			lr.OxygenLevel = in.OxygenLevel
			lr.Result = in.Result
			lr.Comments = in.Comments
			lr.UpdatedOn = &now
		})
}

func validateLabResult(in LabResultInput) error {
	vitals := []struct{ field, value string }{
		{"blood_pressure", in.BloodPressure},
		{"heart_beat", in.HeartBeat},
		{"temperature", in.Temperature},
		{"oxygen_level", in.OxygenLevel},
	}
	for _, v := range vitals {
		if strings.TrimSpace(v.value) == "" {
			return invalid(v.field, "must not be empty")
		}
	}
	if in.Result == "" {
		return invalid("result", "must not be null")
	}
	if !in.Result.Valid() {
		return invalid("result", "must be POSITIVE or NEGATIVE")
	}
	return nil
}
