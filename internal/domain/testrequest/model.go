package testrequest

import (
	"time"
)

type RequestStatus string

const (
	StatusInitiated          RequestStatus = "INITIATED"
	StatusLabTestInProgress  RequestStatus = "LAB_TEST_IN_PROGRESS"
	StatusLabTestCompleted   RequestStatus = "LAB_TEST_COMPLETED"
	StatusDiagnosisInProcess RequestStatus = "DIAGNOSIS_IN_PROCESS"
	StatusCompleted          RequestStatus = "COMPLETED"
)

// Statuses lists every RequestStatus in workflow order.
var Statuses = []RequestStatus{
	StatusInitiated, StatusLabTestInProgress, StatusLabTestCompleted,
	StatusDiagnosisInProcess, StatusCompleted,
}

func (s RequestStatus) Valid() bool {
	for _, v := range Statuses {
		if s == v {
			return true
		}
	}
	return false
}

type TestStatus string

const (
	TestPositive TestStatus = "POSITIVE"
	TestNegative TestStatus = "NEGATIVE"
)

func (s TestStatus) Valid() bool {
	return s == TestPositive || s == TestNegative
}

type DoctorSuggestion string

const (
	SuggestionNoIssues       DoctorSuggestion = "NO_ISSUES"
	SuggestionHomeQuarantine DoctorSuggestion = "HOME_QUARANTINE"
	SuggestionAdmit          DoctorSuggestion = "ADMIT"
)

func (s DoctorSuggestion) Valid() bool {
	switch s {
	case SuggestionNoIssues, SuggestionHomeQuarantine, SuggestionAdmit:
		return true
	}
	return false
}

type Gender string

const (
	GenderMale   Gender = "MALE"
	GenderFemale Gender = "FEMALE"
	GenderOther  Gender = "OTHER"
)

func (g Gender) Valid() bool {
	switch g {
	case GenderMale, GenderFemale, GenderOther:
		return true
	}
	return false
}

// TestRequest maps to the test_request table.
type TestRequest struct {
	ID           int64         `db:"id" json:"request_id"`
	Name         string        `db:"name" json:"name"`
	Gender       Gender        `db:"gender" json:"gender"`
	Address      string        `db:"address" json:"address"`
	Age          int           `db:"age" json:"age"`
	Email        string        `db:"email" json:"email"`
	PhoneNumber  string        `db:"phone_number" json:"phone_number"`
	PinCode      int           `db:"pin_code" json:"pin_code"`
	Status       RequestStatus `db:"status" json:"status"`
	CreatedByID  string        `db:"created_by" json:"created_by"`
	CreatedAt    time.Time     `db:"created_at" json:"created_at"`
	LabResult    *LabResult    `db:"-" json:"lab_result,omitempty"`
	Consultation *Consultation `db:"-" json:"consultation,omitempty"`
	VersionID    int           `db:"version_id" json:"version_id"`
}

// LabResult maps to the lab_result table, one row per request.
type LabResult struct {
	TesterID      string     `db:"tester_id" json:"tester_id"`
	BloodPressure string     `db:"blood_pressure" json:"blood_pressure"`
	HeartBeat     string     `db:"heart_beat" json:"heart_beat"`
	Temperature   string     `db:"temperature" json:"temperature"`
	OxygenLevel   string     `db:"oxygen_level" json:"oxygen_level"`
	Result        TestStatus `db:"result" json:"result,omitempty"`
	Comments      string     `db:"comments" json:"comments"`
	UpdatedOn     *time.Time `db:"updated_on" json:"updated_on,omitempty"`
}

// Completed reports whether results have been recorded.
func (l *LabResult) Completed() bool {
	return l != nil && l.Result != ""
}

// Consultation maps to the consultation table, one row per request.
type Consultation struct {
	DoctorID   string           `db:"doctor_id" json:"doctor_id"`
	Suggestion DoctorSuggestion `db:"suggestion" json:"suggestion,omitempty"`
	Comments   string           `db:"comments" json:"comments"`
	UpdatedOn  *time.Time       `db:"updated_on" json:"updated_on,omitempty"`
}

func (c *Consultation) Completed() bool {
	return c != nil && c.Suggestion != ""
}

// RequestFlow maps to the test_request_flow table. Rows are append-only.
type RequestFlow struct {
	ID          int64         `db:"id" json:"id"`
	RequestID   int64         `db:"request_id" json:"request_id"`
	FromStatus  RequestStatus `db:"from_status" json:"from_status"`
	ToStatus    RequestStatus `db:"to_status" json:"to_status"`
	ChangedByID string        `db:"changed_by" json:"changed_by"`
	HappenedOn  time.Time     `db:"happened_on" json:"happened_on"`
}

// Consistent reports whether the attached LabResult and Consultation match
// what Status requires.
func (tr *TestRequest) Consistent() bool {
	lab, cons := tr.LabResult, tr.Consultation
	switch tr.Status {
	case StatusInitiated:
		return lab == nil && cons == nil
	case StatusLabTestInProgress:
		return lab != nil && !lab.Completed() && cons == nil
	case StatusLabTestCompleted:
		return lab.Completed() && cons == nil
	case StatusDiagnosisInProcess:
		return lab.Completed() && cons != nil && !cons.Completed()
	case StatusCompleted:
		return lab.Completed() && cons.Completed()
	}
	return false
}

// Actor is the identity performing an operation.
type Actor struct {
	ID    string
	Roles []string
}

// LabResultInput carries the fields a tester submits.
type LabResultInput struct {
	BloodPressure string     `json:"blood_pressure"`
	HeartBeat     string     `json:"heart_beat"`
	Temperature   string     `json:"temperature"`
	OxygenLevel   string     `json:"oxygen_level"`
	Result        TestStatus `json:"result"`
	Comments      string     `json:"comments"`
}

// ConsultationInput carries the fields a doctor submits.
type ConsultationInput struct {
	Suggestion DoctorSuggestion `json:"suggestion"`
	Comments   string           `json:"comments"`
}

// CreateTestRequestInput carries the requester's personal details.
type CreateTestRequestInput struct {
	Name        string `json:"name"`
	Gender      Gender `json:"gender"`
	Address     string `json:"address"`
	Age         int    `json:"age"`
	Email       string `json:"email"`
	PhoneNumber string `json:"phone_number"`
	PinCode     int    `json:"pin_code"`
}
