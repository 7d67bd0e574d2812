package testrequest

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

const (
	QuarantineComment = "Remain in home and avoid contact with anybody. Maintain minimum distance of 2 feet. Take medicines regularly"
	NoIssuesComment   = "Ok"
)

// ConsultationService assigns completed lab tests to doctors and records
// their suggestion.
type ConsultationService struct {
	*workflow
}

// NewConsultationService creates a ConsultationService. A nil tx runs without a transaction.
func NewConsultationService(repo Repository, flows FlowRepository, tx Transactor, log zerolog.Logger) *ConsultationService {
	return &ConsultationService{workflow: newWorkflow(repo, flows, tx, log.With().Str("service", "consultation").Logger())}
}

// AssignForConsultation attaches an empty Consultation owned by doctor and
// moves the request from LAB_TEST_COMPLETED to DIAGNOSIS_IN_PROCESS.
func (s *ConsultationService) AssignForConsultation(ctx context.Context, id int64, doctor Actor) (*TestRequest, error) {
	return s.apply(ctx, id, doctor, OpAssignForConsultation,
		func() error { return checkActor("doctor", doctor) },
		func(tr *TestRequest, _ time.Time) {
			tr.Consultation = &Consultation{DoctorID: doctor.ID}
		})
}

// UpdateConsultation records the suggestion and completes the request.
func (s *ConsultationService) UpdateConsultation(ctx context.Context, id int64, doctor Actor, in ConsultationInput) (*TestRequest, error) {
	return s.apply(ctx, id, doctor, OpCompleteConsultation,
		func() error {
			if err := checkActor("doctor", doctor); err != nil {
				return err
			}
			if in.Suggestion == "" {
				return invalid("suggestion", "must not be null")
			}
			if !in.Suggestion.Valid() {
				return invalid("suggestion", "must be NO_ISSUES, HOME_QUARANTINE or ADMIT")
			}
			return nil
		},
		func(tr *TestRequest, now time.Time) {
			c := tr.Consultation
			c.Suggestion = in.Suggestion
			c.Comments = in.Comments
			c.UpdatedOn = &now
		})
}

// SuggestConsultation derives the customary suggestion for a lab outcome.
// It returns false for an unknown outcome.
func SuggestConsultation(result TestStatus) (ConsultationInput, bool) {
	switch result {
	case TestPositive:
		return ConsultationInput{Suggestion: SuggestionHomeQuarantine, Comments: QuarantineComment}, true
	case TestNegative:
		return ConsultationInput{Suggestion: SuggestionNoIssues, Comments: NoIssuesComment}, true
	}
	return ConsultationInput{}, false
}
