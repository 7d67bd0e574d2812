package integration

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/upstac/upstac/internal/domain/testrequest"
	"github.com/upstac/upstac/internal/platform/db"
)

type pgStack struct {
	repo     testrequest.Repository
	flows    testrequest.FlowRepository
	requests *testrequest.RequestService
	query    *testrequest.QueryService
	lab      *testrequest.LabService
	cons     *testrequest.ConsultationService
}

func newPGStack(t *testing.T, ctx context.Context) *pgStack {
	t.Helper()
	pool := newSchemaPool(t, ctx)
	repo := testrequest.NewTestRequestRepoPG(pool)
	flows := testrequest.NewFlowRepoPG(pool)
	tx := db.NewTransactor(pool)
	log := zerolog.Nop()
	return &pgStack{
		repo:     repo,
		flows:    flows,
		requests: testrequest.NewRequestService(repo, flows, tx, log),
		query:    testrequest.NewQueryService(repo, flows, log),
		lab:      testrequest.NewLabService(repo, flows, tx, log),
		cons:     testrequest.NewConsultationService(repo, flows, tx, log),
	}
}

var (
	requester = testrequest.Actor{ID: "user-1", Roles: []string{"user"}}
	labTester = testrequest.Actor{ID: "tester-1", Roles: []string{"tester"}}
	labDoctor = testrequest.Actor{ID: "doctor-1", Roles: []string{"doctor"}}
)

func createInput() testrequest.CreateTestRequestInput {
	return testrequest.CreateTestRequestInput{
		Name:        "someuser",
		Gender:      testrequest.GenderMale,
		Address:     "some Addres",
		Age:         98,
		Email:       "someone123456789@somedomain.com",
		PhoneNumber: "123456789",
		PinCode:     716768,
	}
}

func TestTestRequestWorkflow(t *testing.T) {
	ctx := context.Background()
	s := newPGStack(t, ctx)

	tr, err := s.requests.CreateTestRequest(ctx, requester, createInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	t.Run("Duplicate", func(t *testing.T) {
		_, err := s.requests.CreateTestRequest(ctx, requester, createInput())
		if !errors.Is(err, testrequest.ErrDuplicate) {
			t.Fatalf("expected ErrDuplicate, got %v", err)
		}
	})

	t.Run("InvalidID", func(t *testing.T) {
		for _, id := range []int64{-34, -1, 1 << 40} {
			if _, err := s.lab.AssignForLabTest(ctx, id, labTester); !errors.Is(err, testrequest.ErrNotFound) {
				t.Errorf("AssignForLabTest(%d): expected ErrNotFound, got %v", id, err)
			}
		}
	})

	t.Run("RoundTrip", func(t *testing.T) {
		got, err := s.lab.AssignForLabTest(ctx, tr.ID, labTester)
		if err != nil {
			t.Fatalf("assign lab: %v", err)
		}
		if got.LabResult == nil {
			t.Fatal("expected lab result")
		}

		if _, err := s.lab.UpdateLabTest(ctx, tr.ID, labTester, testrequest.LabResultInput{
			BloodPressure: "120/80", HeartBeat: "72", Temperature: "98.6", OxygenLevel: "97",
		}); !errors.Is(err, testrequest.ErrValidation) {
			t.Fatalf("expected ErrValidation for empty result, got %v", err)
		}

		if _, err := s.lab.UpdateLabTest(ctx, tr.ID, labTester, testrequest.LabResultInput{
			BloodPressure: "120/80", HeartBeat: "72", Temperature: "98.6", OxygenLevel: "97",
			Result: testrequest.TestPositive,
		}); err != nil {
			t.Fatalf("update lab: %v", err)
		}

		queue, err := s.query.FindByStatus(ctx, testrequest.StatusLabTestCompleted)
		if err != nil || len(queue) != 1 {
			t.Fatalf("expected one request in consultation queue, got %v (%v)", queue, err)
		}

		if _, err := s.cons.AssignForConsultation(ctx, tr.ID, labDoctor); err != nil {
			t.Fatalf("assign consultation: %v", err)
		}
		draft, _ := testrequest.SuggestConsultation(testrequest.TestPositive)
		done, err := s.cons.UpdateConsultation(ctx, tr.ID, labDoctor, draft)
		if err != nil {
			t.Fatalf("update consultation: %v", err)
		}
		if done.Status != testrequest.StatusCompleted || done.VersionID != 5 {
			t.Errorf("unexpected final state %s v%d", done.Status, done.VersionID)
		}

		stored, err := s.query.FindByID(ctx, tr.ID)
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		if stored.Consultation == nil || stored.Consultation.Suggestion != testrequest.SuggestionHomeQuarantine {
			t.Errorf("unexpected consultation %+v", stored.Consultation)
		}
		if stored.LabResult.UpdatedOn == nil {
			t.Error("expected lab result updated_on")
		}

		flows, err := s.query.FlowOf(ctx, tr.ID)
		if err != nil {
			t.Fatalf("flow: %v", err)
		}
		if len(flows) != 5 {
			t.Fatalf("expected 5 flow rows, got %d", len(flows))
		}
		if flows[4].ToStatus != testrequest.StatusCompleted || flows[4].ChangedByID != labDoctor.ID {
			t.Errorf("unexpected last flow row %+v", flows[4])
		}

		byDoctor, err := s.query.FindByDoctor(ctx, labDoctor.ID)
		if err != nil || len(byDoctor) != 1 {
			t.Errorf("expected one request for doctor, got %v (%v)", byDoctor, err)
		}
	})

	t.Run("CreateAfterCompletion", func(t *testing.T) {
		if _, err := s.requests.CreateTestRequest(ctx, requester, createInput()); err != nil {
			t.Fatalf("expected completed request not to block: %v", err)
		}
	})
}

func TestCreateTestRequest_ConcurrentDuplicates(t *testing.T) {
	ctx := context.Background()
	s := newPGStack(t, ctx)

	const n = 8
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		errs  = make([]error, n)
	)
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, errs[i] = s.requests.CreateTestRequest(ctx, requester, createInput())
		}()
	}
	close(start)
	wg.Wait()

	created := 0
	for _, err := range errs {
		switch {
		case err == nil:
			created++
		case !errors.Is(err, testrequest.ErrDuplicate):
			t.Errorf("expected ErrDuplicate, got %v", err)
		}
	}
	if created != 1 {
		t.Fatalf("expected exactly one request to be created, got %d", created)
	}
	active, err := s.repo.FindActiveByEmailOrPhone(ctx, createInput().Email, createInput().PhoneNumber)
	if err != nil || len(active) != 1 {
		t.Fatalf("expected one stored request, got %d (%v)", len(active), err)
	}
}

func TestTestRequestRepo_OptimisticLock(t *testing.T) {
	ctx := context.Background()
	s := newPGStack(t, ctx)

	tr, err := s.requests.CreateTestRequest(ctx, requester, createInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	first, _ := s.repo.Get(ctx, tr.ID)
	second, _ := s.repo.Get(ctx, tr.ID)

	first.Status = testrequest.StatusLabTestInProgress
	first.LabResult = &testrequest.LabResult{TesterID: "tester-1"}
	if err := s.repo.Save(ctx, first); err != nil {
		t.Fatalf("first save: %v", err)
	}

	second.Status = testrequest.StatusLabTestInProgress
	second.LabResult = &testrequest.LabResult{TesterID: "tester-2"}
	if err := s.repo.Save(ctx, second); !errors.Is(err, testrequest.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	stored, _ := s.repo.Get(ctx, tr.ID)
	if stored.LabResult.TesterID != "tester-1" || stored.VersionID != 2 {
		t.Errorf("unexpected stored state %+v v%d", stored.LabResult, stored.VersionID)
	}
}

func TestTransactor_RollsBack(t *testing.T) {
	ctx := context.Background()
	pool := newSchemaPool(t, ctx)
	repo := testrequest.NewTestRequestRepoPG(pool)
	tx := db.NewTransactor(pool)
	boom := errors.New("boom")

	var id int64
	err := tx.WithinTx(ctx, func(ctx context.Context) error {
		in := createInput()
		tr := &testrequest.TestRequest{
			Name: in.Name, Gender: in.Gender, Address: in.Address, Age: in.Age,
			Email: in.Email, PhoneNumber: in.PhoneNumber, Status: testrequest.StatusInitiated,
			CreatedByID: requester.ID,
		}
		if err := repo.Create(ctx, tr); err != nil {
			return err
		}
		id = tr.ID
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, err := repo.Get(ctx, id); !errors.Is(err, testrequest.ErrNotFound) {
		t.Errorf("expected rolled back insert, got %v", err)
	}
}

func TestMigrator_Status(t *testing.T) {
	ctx := context.Background()
	schema := "it_status"
	if _, err := globalDB.Pool.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	defer globalDB.Pool.Exec(ctx, "DROP SCHEMA IF EXISTS "+schema+" CASCADE")

	m := db.NewMigrator(globalDB.Pool, globalDB.MigrationsDir)
	applied, err := m.Up(ctx, schema)
	if err != nil {
		t.Fatalf("up: %v", err)
	}
	if applied == 0 {
		t.Fatal("expected migrations to be applied")
	}
	again, err := m.Up(ctx, schema)
	if err != nil || again != 0 {
		t.Fatalf("second up should be a no-op, got %d (%v)", again, err)
	}

	statuses, err := m.Status(ctx, schema)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for _, st := range statuses {
		if !st.Applied {
			t.Errorf("migration %s not applied", st.Name)
		}
	}
}
