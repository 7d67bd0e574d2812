package testrequest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// RequestService creates new test requests on behalf of a user.
type RequestService struct {
	repo  Repository
	flows FlowRepository
	tx    Transactor
	log   zerolog.Logger
	now   func() time.Time
}

// NewRequestService creates a RequestService. A nil tx runs without a transaction.
func NewRequestService(repo Repository, flows FlowRepository, tx Transactor, log zerolog.Logger) *RequestService {
	if tx == nil {
		tx = directTx{}
	}
	return &RequestService{repo: repo, flows: flows, tx: tx, log: log.With().Str("service", "request").Logger(), now: time.Now}
}

// CreateTestRequest stores a new INITIATED request for requester. A request
// still in progress with the same email or phone number blocks creation.
// Both stores also enforce this with partial unique indexes.
func (s *RequestService) CreateTestRequest(ctx context.Context, requester Actor, in CreateTestRequestInput) (*TestRequest, error) {
	if err := checkActor("user", requester); err != nil {
		return nil, err
	}
	if err := validateCreate(&in); err != nil {
		return nil, err
	}

	tr := &TestRequest{
		Name:        in.Name,
		Gender:      in.Gender,
		Address:     in.Address,
		Age:         in.Age,
		Email:       in.Email,
		PhoneNumber: in.PhoneNumber,
		PinCode:     in.PinCode,
		Status:      StatusInitiated,
		CreatedByID: requester.ID,
		CreatedAt:   s.now(),
	}

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		existing, err := s.repo.FindActiveByEmailOrPhone(ctx, tr.Email, tr.PhoneNumber)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return ErrDuplicate
		}
		if err := s.repo.Create(ctx, tr); err != nil {
			return err
		}
		if err := s.flows.Create(ctx, &RequestFlow{
			RequestID:   tr.ID,
			FromStatus:  StatusInitiated,
			ToStatus:    StatusInitiated,
			ChangedByID: requester.ID,
			HappenedOn:  tr.CreatedAt,
		}); err != nil {
			return fmt.Errorf("record flow for test request %d: %w", tr.ID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Int64("request_id", tr.ID).Str("actor", requester.ID).Msg("test request created")
	return tr, nil
}

func validateCreate(in *CreateTestRequestInput) error {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(in.Email)
	in.PhoneNumber = strings.TrimSpace(in.PhoneNumber)
	in.Address = strings.TrimSpace(in.Address)

	switch {
	case in.Name == "":
		return invalid("name", "must not be empty")
	case in.Email == "":
		return invalid("email", "must not be empty")
	case !strings.Contains(in.Email, "@"):
		return invalid("email", "must be a well-formed email address")
	case in.PhoneNumber == "":
		return invalid("phone_number", "must not be empty")
	case in.Gender == "":
		return invalid("gender", "must not be null")
	case !in.Gender.Valid():
		return invalid("gender", "must be MALE, FEMALE or OTHER")
	case in.Address == "":
		return invalid("address", "must not be empty")
	case in.Age <= 0:
		return invalid("age", "must be greater than 0")
	case in.PinCode < 0:
		return invalid("pin_code", "must not be negative")
	}
	return nil
}
