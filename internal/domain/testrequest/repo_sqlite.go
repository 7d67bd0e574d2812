package testrequest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/upstac/upstac/internal/platform/db"
)

type testRequestRow struct {
	ID          int64     `gorm:"primaryKey;autoIncrement"`
	Name        string    `gorm:"not null"`
	Gender      string    `gorm:"not null"`
	Address     string    `gorm:"not null"`
	Age         int       `gorm:"not null"`
	Email       string    `gorm:"not null;index;index:uq_test_request_active_email,unique,where:status <> 'COMPLETED'"`
	PhoneNumber string    `gorm:"not null;index;index:uq_test_request_active_phone,unique,where:status <> 'COMPLETED'"`
	PinCode     int       `gorm:"not null;default:0"`
	Status      string    `gorm:"not null;index"`
	CreatedBy   string    `gorm:"not null;index"`
	CreatedAt   time.Time `gorm:"not null"`
	VersionID   int       `gorm:"not null;default:1"`
}

func (testRequestRow) TableName() string { return "test_request" }

type labResultRow struct {
	RequestID     int64  `gorm:"primaryKey;autoIncrement:false"`
	TesterID      string `gorm:"not null;index"`
	BloodPressure string
	HeartBeat     string
	Temperature   string
	OxygenLevel   string
	Result        string
	Comments      string
	UpdatedOn     *time.Time
}

func (labResultRow) TableName() string { return "lab_result" }

type consultationRow struct {
	RequestID  int64  `gorm:"primaryKey;autoIncrement:false"`
	DoctorID   string `gorm:"not null;index"`
	Suggestion string
	Comments   string
	UpdatedOn  *time.Time
}

func (consultationRow) TableName() string { return "consultation" }

type flowRow struct {
	ID         int64     `gorm:"primaryKey;autoIncrement"`
	RequestID  int64     `gorm:"not null;index"`
	FromStatus string    `gorm:"not null"`
	ToStatus   string    `gorm:"not null"`
	ChangedBy  string    `gorm:"not null"`
	HappenedOn time.Time `gorm:"not null"`
}

func (flowRow) TableName() string { return "test_request_flow" }

// MigrateSQLite creates or updates the tables used by the SQLite repositories.
func MigrateSQLite(gdb *gorm.DB) error {
	return gdb.AutoMigrate(&testRequestRow{}, &labResultRow{}, &consultationRow{}, &flowRow{})
}

// =========== TestRequest Repository ===========

type testRequestRepoSQLite struct{ db *gorm.DB }

func NewTestRequestRepoSQLite(gdb *gorm.DB) Repository {
	return &testRequestRepoSQLite{db: gdb}
}

func (r *testRequestRepoSQLite) getDB(ctx context.Context) *gorm.DB {
	return db.GormFromContext(ctx, r.db)
}

func toRow(tr *TestRequest) testRequestRow {
	return testRequestRow{
		ID: tr.ID, Name: tr.Name, Gender: string(tr.Gender), Address: tr.Address, Age: tr.Age,
		Email: tr.Email, PhoneNumber: tr.PhoneNumber, PinCode: tr.PinCode,
		Status: string(tr.Status), CreatedBy: tr.CreatedByID, CreatedAt: tr.CreatedAt,
		VersionID: tr.VersionID,
	}
}

func fromRow(row testRequestRow) *TestRequest {
	return &TestRequest{
		ID: row.ID, Name: row.Name, Gender: Gender(row.Gender), Address: row.Address, Age: row.Age,
		Email: row.Email, PhoneNumber: row.PhoneNumber, PinCode: row.PinCode,
		Status: RequestStatus(row.Status), CreatedByID: row.CreatedBy, CreatedAt: row.CreatedAt,
		VersionID: row.VersionID,
	}
}

func (r *testRequestRepoSQLite) Create(ctx context.Context, tr *TestRequest) error {
	q := r.getDB(ctx)
	row := toRow(tr)
	row.ID = 0
	row.VersionID = 1
	if err := q.Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("insert test request: %w", ErrDuplicate)
		}
		return fmt.Errorf("insert test request: %w", err)
	}
	tr.ID = row.ID
	tr.VersionID = row.VersionID
	return r.saveChildren(q, tr)
}

func (r *testRequestRepoSQLite) Get(ctx context.Context, id int64) (*TestRequest, error) {
	q := r.getDB(ctx)
	var row testRequestRow
	if err := q.First(&row, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound(id)
		}
		return nil, err
	}
	items, err := r.hydrate(q, []testRequestRow{row})
	if err != nil {
		return nil, err
	}
	return items[0], nil
}

func (r *testRequestRepoSQLite) Save(ctx context.Context, tr *TestRequest) error {
	q := r.getDB(ctx)
	res := q.Model(&testRequestRow{}).
		Where("id = ? AND version_id = ?", tr.ID, tr.VersionID).
		Updates(map[string]interface{}{
			"name":         tr.Name,
			"gender":       string(tr.Gender),
			"address":      tr.Address,
			"age":          tr.Age,
			"email":        tr.Email,
			"phone_number": tr.PhoneNumber,
			"pin_code":     tr.PinCode,
			"status":       string(tr.Status),
			"version_id":   gorm.Expr("version_id + 1"),
		})
	if res.Error != nil {
		return fmt.Errorf("update test request %d: %w", tr.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		var n int64
		if err := q.Model(&testRequestRow{}).Where("id = ?", tr.ID).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return notFound(tr.ID)
		}
		return fmt.Errorf("test request %d version %d: %w", tr.ID, tr.VersionID, ErrConflict)
	}
	if err := r.saveChildren(q, tr); err != nil {
		return err
	}
	tr.VersionID++
	return nil
}

func (r *testRequestRepoSQLite) saveChildren(q *gorm.DB, tr *TestRequest) error {
	upsert := clause.OnConflict{UpdateAll: true}
	if lr := tr.LabResult; lr != nil {
		row := labResultRow{
			RequestID: tr.ID, TesterID: lr.TesterID, BloodPressure: lr.BloodPressure,
			HeartBeat: lr.HeartBeat, Temperature: lr.Temperature, OxygenLevel: lr.OxygenLevel,
			Result: string(lr.Result), Comments: lr.Comments, UpdatedOn: lr.UpdatedOn,
		}
		if err := q.Clauses(upsert).Create(&row).Error; err != nil {
			return fmt.Errorf("upsert lab result for test request %d: %w", tr.ID, err)
		}
	}
	if c := tr.Consultation; c != nil {
		row := consultationRow{
			RequestID: tr.ID, DoctorID: c.DoctorID, Suggestion: string(c.Suggestion),
			Comments: c.Comments, UpdatedOn: c.UpdatedOn,
		}
		if err := q.Clauses(upsert).Create(&row).Error; err != nil {
			return fmt.Errorf("upsert consultation for test request %d: %w", tr.ID, err)
		}
	}
	return nil
}

// hydrate converts rows and attaches their lab results and consultations.
func (r *testRequestRepoSQLite) hydrate(q *gorm.DB, rows []testRequestRow) ([]*TestRequest, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	ids := make([]int64, len(rows))
	for i, row := range rows {
		ids[i] = row.ID
	}

	var labs []labResultRow
	if err := q.Where("request_id IN ?", ids).Find(&labs).Error; err != nil {
		return nil, err
	}
	var cons []consultationRow
	if err := q.Where("request_id IN ?", ids).Find(&cons).Error; err != nil {
		return nil, err
	}
	labByID := make(map[int64]labResultRow, len(labs))
	for _, l := range labs {
		labByID[l.RequestID] = l
	}
	consByID := make(map[int64]consultationRow, len(cons))
	for _, c := range cons {
		consByID[c.RequestID] = c
	}

	items := make([]*TestRequest, len(rows))
	for i, row := range rows {
		tr := fromRow(row)
		if l, ok := labByID[row.ID]; ok {
			tr.LabResult = &LabResult{
				TesterID: l.TesterID, BloodPressure: l.BloodPressure, HeartBeat: l.HeartBeat,
				Temperature: l.Temperature, OxygenLevel: l.OxygenLevel, Result: TestStatus(l.Result),
				Comments: l.Comments, UpdatedOn: l.UpdatedOn,
			}
		}
		if c, ok := consByID[row.ID]; ok {
			tr.Consultation = &Consultation{
				DoctorID: c.DoctorID, Suggestion: DoctorSuggestion(c.Suggestion),
				Comments: c.Comments, UpdatedOn: c.UpdatedOn,
			}
		}
		items[i] = tr
	}
	return items, nil
}

func (r *testRequestRepoSQLite) find(ctx context.Context, scope func(*gorm.DB) *gorm.DB) ([]*TestRequest, error) {
	q := r.getDB(ctx)
	var rows []testRequestRow
	if err := scope(q.Model(&testRequestRow{}).Select("test_request.*")).Order("test_request.id").Find(&rows).Error; err != nil {
		return nil, err
	}
	return r.hydrate(q, rows)
}

func (r *testRequestRepoSQLite) FindByStatus(ctx context.Context, status RequestStatus) ([]*TestRequest, error) {
	return r.find(ctx, func(q *gorm.DB) *gorm.DB {
		return q.Where("test_request.status = ?", string(status))
	})
}

func (r *testRequestRepoSQLite) FindByTester(ctx context.Context, testerID string) ([]*TestRequest, error) {
	return r.find(ctx, func(q *gorm.DB) *gorm.DB {
		return q.Joins("JOIN lab_result ON lab_result.request_id = test_request.id").
			Where("lab_result.tester_id = ?", testerID)
	})
}

func (r *testRequestRepoSQLite) FindByDoctor(ctx context.Context, doctorID string) ([]*TestRequest, error) {
	return r.find(ctx, func(q *gorm.DB) *gorm.DB {
		return q.Joins("JOIN consultation ON consultation.request_id = test_request.id").
			Where("consultation.doctor_id = ?", doctorID)
	})
}

func (r *testRequestRepoSQLite) FindByCreator(ctx context.Context, userID string) ([]*TestRequest, error) {
	return r.find(ctx, func(q *gorm.DB) *gorm.DB {
		return q.Where("test_request.created_by = ?", userID)
	})
}

func (r *testRequestRepoSQLite) FindActiveByEmailOrPhone(ctx context.Context, email, phone string) ([]*TestRequest, error) {
	return r.find(ctx, func(q *gorm.DB) *gorm.DB {
		return q.Where("test_request.status <> ? AND (test_request.email = ? OR test_request.phone_number = ?)",
			string(StatusCompleted), email, phone)
	})
}

// =========== RequestFlow Repository ===========

type flowRepoSQLite struct{ db *gorm.DB }

func NewFlowRepoSQLite(gdb *gorm.DB) FlowRepository {
	return &flowRepoSQLite{db: gdb}
}

func (r *flowRepoSQLite) Create(ctx context.Context, f *RequestFlow) error {
	row := flowRow{
		RequestID: f.RequestID, FromStatus: string(f.FromStatus), ToStatus: string(f.ToStatus),
		ChangedBy: f.ChangedByID, HappenedOn: f.HappenedOn,
	}
	if err := db.GormFromContext(ctx, r.db).Create(&row).Error; err != nil {
		return err
	}
	f.ID = row.ID
	return nil
}

func (r *flowRepoSQLite) ListByRequest(ctx context.Context, requestID int64) ([]*RequestFlow, error) {
	var rows []flowRow
	err := db.GormFromContext(ctx, r.db).
		Where("request_id = ?", requestID).
		Order("happened_on, id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	items := make([]*RequestFlow, len(rows))
	for i, row := range rows {
		items[i] = &RequestFlow{
			ID: row.ID, RequestID: row.RequestID, FromStatus: RequestStatus(row.FromStatus),
			ToStatus: RequestStatus(row.ToStatus), ChangedByID: row.ChangedBy, HappenedOn: row.HappenedOn,
		}
	}
	return items, nil
}
