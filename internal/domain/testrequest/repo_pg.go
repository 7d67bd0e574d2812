package testrequest

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/upstac/upstac/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// uniqueViolation is raised by the partial unique indexes that keep one
// in-progress request per email and phone number.
const uniqueViolation = "23505"

// =========== TestRequest Repository ===========

type testRequestRepoPG struct{ pool *pgxpool.Pool }

func NewTestRequestRepoPG(pool *pgxpool.Pool) Repository {
	return &testRequestRepoPG{pool: pool}
}

func (r *testRequestRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const trSelect = `SELECT t.id, t.name, t.gender, t.address, t.age, t.email, t.phone_number, t.pin_code,
	t.status, t.created_by, t.created_at, t.version_id,
	l.request_id IS NOT NULL, COALESCE(l.tester_id, ''), COALESCE(l.blood_pressure, ''),
	COALESCE(l.heart_beat, ''), COALESCE(l.temperature, ''), COALESCE(l.oxygen_level, ''),
	COALESCE(l.result, ''), COALESCE(l.comments, ''), l.updated_on,
	c.request_id IS NOT NULL, COALESCE(c.doctor_id, ''), COALESCE(c.suggestion, ''),
	COALESCE(c.comments, ''), c.updated_on
FROM test_request t
LEFT JOIN lab_result l ON l.request_id = t.id
LEFT JOIN consultation c ON c.request_id = t.id`

func (r *testRequestRepoPG) scan(row pgx.Row) (*TestRequest, error) {
	var (
		tr           TestRequest
		lr           LabResult
		cons         Consultation
		hasLab, hasC bool
	)
	err := row.Scan(&tr.ID, &tr.Name, &tr.Gender, &tr.Address, &tr.Age, &tr.Email, &tr.PhoneNumber, &tr.PinCode,
		&tr.Status, &tr.CreatedByID, &tr.CreatedAt, &tr.VersionID,
		&hasLab, &lr.TesterID, &lr.BloodPressure,
		&lr.HeartBeat, &lr.Temperature, &lr.OxygenLevel,
		&lr.Result, &lr.Comments, &lr.UpdatedOn,
		&hasC, &cons.DoctorID, &cons.Suggestion,
		&cons.Comments, &cons.UpdatedOn)
	if err != nil {
		return nil, err
	}
	if hasLab {
		tr.LabResult = &lr
	}
	if hasC {
		tr.Consultation = &cons
	}
	return &tr, nil
}

func (r *testRequestRepoPG) list(ctx context.Context, where string, args ...interface{}) ([]*TestRequest, error) {
	rows, err := r.conn(ctx).Query(ctx, trSelect+" WHERE "+where+" ORDER BY t.id", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*TestRequest
	for rows.Next() {
		tr, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, tr)
	}
	return items, rows.Err()
}

func (r *testRequestRepoPG) Create(ctx context.Context, tr *TestRequest) error {
	q := r.conn(ctx)
	err := q.QueryRow(ctx, `
		INSERT INTO test_request (name, gender, address, age, email, phone_number, pin_code,
			status, created_by, created_at, version_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,1)
		RETURNING id`,
		tr.Name, tr.Gender, tr.Address, tr.Age, tr.Email, tr.PhoneNumber, tr.PinCode,
		tr.Status, tr.CreatedByID, tr.CreatedAt).Scan(&tr.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("insert test request (%s): %w", pgErr.ConstraintName, ErrDuplicate)
		}
		return fmt.Errorf("insert test request: %w", err)
	}
	tr.VersionID = 1
	return r.saveChildren(ctx, q, tr)
}

func (r *testRequestRepoPG) Get(ctx context.Context, id int64) (*TestRequest, error) {
	tr, err := r.scan(r.conn(ctx).QueryRow(ctx, trSelect+" WHERE t.id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(id)
	}
	return tr, err
}

func (r *testRequestRepoPG) Save(ctx context.Context, tr *TestRequest) error {
	q := r.conn(ctx)
	tag, err := q.Exec(ctx, `
		UPDATE test_request SET name=$2, gender=$3, address=$4, age=$5, email=$6, phone_number=$7,
			pin_code=$8, status=$9, version_id = version_id + 1
		WHERE id = $1 AND version_id = $10`,
		tr.ID, tr.Name, tr.Gender, tr.Address, tr.Age, tr.Email, tr.PhoneNumber,
		tr.PinCode, tr.Status, tr.VersionID)
	if err != nil {
		return fmt.Errorf("update test request %d: %w", tr.ID, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM test_request WHERE id = $1)`, tr.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return notFound(tr.ID)
		}
		return fmt.Errorf("test request %d version %d: %w", tr.ID, tr.VersionID, ErrConflict)
	}
	if err := r.saveChildren(ctx, q, tr); err != nil {
		return err
	}
	tr.VersionID++
	return nil
}

func (r *testRequestRepoPG) saveChildren(ctx context.Context, q queryable, tr *TestRequest) error {
	if lr := tr.LabResult; lr != nil {
		_, err := q.Exec(ctx, `
			INSERT INTO lab_result (request_id, tester_id, blood_pressure, heart_beat, temperature,
				oxygen_level, result, comments, updated_on)
			VALUES ($1,$2,$3,$4,$5,$6,NULLIF($7, ''),$8,$9)
			ON CONFLICT (request_id) DO UPDATE SET tester_id = EXCLUDED.tester_id,
				blood_pressure = EXCLUDED.blood_pressure, heart_beat = EXCLUDED.heart_beat,
				temperature = EXCLUDED.temperature, oxygen_level = EXCLUDED.oxygen_level,
				result = EXCLUDED.result, comments = EXCLUDED.comments, updated_on = EXCLUDED.updated_on`,
			tr.ID, lr.TesterID, lr.BloodPressure, lr.HeartBeat, lr.Temperature,
			lr.OxygenLevel, string(lr.Result), lr.Comments, lr.UpdatedOn)
		if err != nil {
			return fmt.Errorf("upsert lab result for test request %d: %w", tr.ID, err)
		}
	}
	if c := tr.Consultation; c != nil {
		_, err := q.Exec(ctx, `
			INSERT INTO consultation (request_id, doctor_id, suggestion, comments, updated_on)
			VALUES ($1,$2,NULLIF($3, ''),$4,$5)
			ON CONFLICT (request_id) DO UPDATE SET doctor_id = EXCLUDED.doctor_id,
				suggestion = EXCLUDED.suggestion, comments = EXCLUDED.comments,
				updated_on = EXCLUDED.updated_on`,
			tr.ID, c.DoctorID, string(c.Suggestion), c.Comments, c.UpdatedOn)
		if err != nil {
			return fmt.Errorf("upsert consultation for test request %d: %w", tr.ID, err)
		}
	}
	return nil
}

func (r *testRequestRepoPG) FindByStatus(ctx context.Context, status RequestStatus) ([]*TestRequest, error) {
	return r.list(ctx, "t.status = $1", status)
}

func (r *testRequestRepoPG) FindByTester(ctx context.Context, testerID string) ([]*TestRequest, error) {
	return r.list(ctx, "l.tester_id = $1", testerID)
}

func (r *testRequestRepoPG) FindByDoctor(ctx context.Context, doctorID string) ([]*TestRequest, error) {
	return r.list(ctx, "c.doctor_id = $1", doctorID)
}

func (r *testRequestRepoPG) FindByCreator(ctx context.Context, userID string) ([]*TestRequest, error) {
	return r.list(ctx, "t.created_by = $1", userID)
}

func (r *testRequestRepoPG) FindActiveByEmailOrPhone(ctx context.Context, email, phone string) ([]*TestRequest, error) {
	return r.list(ctx, "t.status <> $1 AND (t.email = $2 OR t.phone_number = $3)", StatusCompleted, email, phone)
}

// =========== RequestFlow Repository ===========

type flowRepoPG struct{ pool *pgxpool.Pool }

func NewFlowRepoPG(pool *pgxpool.Pool) FlowRepository {
	return &flowRepoPG{pool: pool}
}

func (r *flowRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *flowRepoPG) Create(ctx context.Context, f *RequestFlow) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO test_request_flow (request_id, from_status, to_status, changed_by, happened_on)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id`,
		f.RequestID, f.FromStatus, f.ToStatus, f.ChangedByID, f.HappenedOn).Scan(&f.ID)
}

func (r *flowRepoPG) ListByRequest(ctx context.Context, requestID int64) ([]*RequestFlow, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, request_id, from_status, to_status, changed_by, happened_on
		FROM test_request_flow WHERE request_id = $1 ORDER BY happened_on, id`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*RequestFlow
	for rows.Next() {
		var f RequestFlow
		if err := rows.Scan(&f.ID, &f.RequestID, &f.FromStatus, &f.ToStatus, &f.ChangedByID, &f.HappenedOn); err != nil {
			return nil, err
		}
		items = append(items, &f)
	}
	return items, rows.Err()
}
