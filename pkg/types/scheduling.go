package types

import "time"

// DateLayout is the calendar date format used for appointment dates
const DateLayout = "2006-01-02"

// AppointmentKind separates the upcoming calendar from the visit history
type AppointmentKind string

const (
	KindUpcoming AppointmentKind = "upcoming"
	KindPast     AppointmentKind = "past"
)

// AppointmentStatus represents appointment status values
type AppointmentStatus string

const (
	StatusScheduled AppointmentStatus = "scheduled"
	StatusCompleted AppointmentStatus = "completed"
	StatusCancelled AppointmentStatus = "cancelled"
)

// IsTerminal reports whether no further transition is allowed from s
func (s AppointmentStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Clinician represents a treating healthcare provider
type Clinician struct {
	ID                  string `json:"id" db:"id"`
	Name                string `json:"name" db:"name"`
	Specialization      string `json:"specialization" db:"specialization"`
	Facility            string `json:"facility" db:"facility"`
	CurrentPatientCount int    `json:"current_patient_count" db:"-"`
}

// Patient carries the single treating clinician reference
type Patient struct {
	ID                  string    `json:"id" db:"id"`
	Name                string    `json:"name" db:"name"`
	TreatingClinicianID string    `json:"treating_clinician_id" db:"treating_clinician_id"`
	CreatedAt           time.Time `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time `json:"updated_at" db:"updated_at"`
}

// Prescription is a single medication line attached to a completed visit
type Prescription struct {
	Medication string `json:"medication"`
	Dosage     string `json:"dosage"`
	Frequency  string `json:"frequency"`
	Duration   string `json:"duration"`
}

// ClinicalPayload is the visit documentation recorded on completion.
// The engine stores it as-is.
type ClinicalPayload struct {
	Notes         string            `json:"notes,omitempty"`
	Vitals        map[string]string `json:"vitals,omitempty"`
	Prescriptions []Prescription    `json:"prescriptions,omitempty"`
}

// Appointment is a ledger entry
type Appointment struct {
	ID              string            `json:"id" db:"id"`
	PatientID       string            `json:"patient_id" db:"patient_id"`
	ClinicianID     string            `json:"clinician_id" db:"clinician_id"`
	Date            string            `json:"date" db:"date"`
	TimeOfDay       string            `json:"time_of_day" db:"time_of_day"`
	Kind            AppointmentKind   `json:"kind" db:"kind"`
	Status          AppointmentStatus `json:"status" db:"status"`
	Reason          string            `json:"reason,omitempty" db:"reason"`
	ReferralID      string            `json:"referral_id,omitempty" db:"referral_id"`
	StartedAt       *time.Time        `json:"started_at,omitempty" db:"started_at"`
	DurationMinutes int               `json:"duration_minutes" db:"duration_minutes"`
	Clinical        *ClinicalPayload  `json:"clinical,omitempty" db:"clinical"`
	CreatedAt       time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at" db:"updated_at"`
}

// BookingRequest is the input for booking a new appointment
type BookingRequest struct {
	PatientID   string `json:"patient_id" validate:"required"`
	ClinicianID string `json:"clinician_id" validate:"required"`
	Date        string `json:"date" validate:"required"`
	TimeOfDay   string `json:"time_of_day" validate:"required"`
	Reason      string `json:"reason,omitempty"`
}

// AppointmentFilters represents filters for appointment queries
type AppointmentFilters struct {
	PatientID   string            `json:"patient_id,omitempty"`
	ClinicianID string            `json:"clinician_id,omitempty"`
	Date        string            `json:"date,omitempty"`
	TimeOfDay   string            `json:"time_of_day,omitempty"`
	Kind        AppointmentKind   `json:"kind,omitempty"`
	Status      AppointmentStatus `json:"status,omitempty"`
}

// Matches reports whether apt satisfies every non-empty filter field
func (f *AppointmentFilters) Matches(apt *Appointment) bool {
	if f == nil {
		return true
	}
	if f.PatientID != "" && apt.PatientID != f.PatientID {
		return false
	}
	if f.ClinicianID != "" && apt.ClinicianID != f.ClinicianID {
		return false
	}
	if f.Date != "" && apt.Date != f.Date {
		return false
	}
	if f.TimeOfDay != "" && apt.TimeOfDay != f.TimeOfDay {
		return false
	}
	if f.Kind != "" && apt.Kind != f.Kind {
		return false
	}
	if f.Status != "" && apt.Status != f.Status {
		return false
	}
	return true
}

// DayBucket groups appointments for calendar rendering
type DayBucket string

const (
	BucketPast     DayBucket = "past"
	BucketToday    DayBucket = "today"
	BucketUpcoming DayBucket = "upcoming"
)

// AppointmentView is an appointment plus its read-time evaluation against now
type AppointmentView struct {
	*Appointment
	Startable bool      `json:"startable"`
	Bucket    DayBucket `json:"bucket"`
}

// SlotCheck is the outcome of a slot conflict check
type SlotCheck struct {
	Date      string         `json:"date"`
	TimeOfDay string         `json:"time_of_day"`
	Available bool           `json:"available"`
	Conflicts []*Appointment `json:"conflicts"`
}

// ReferralStatus represents referral lifecycle states
type ReferralStatus string

const (
	ReferralPending  ReferralStatus = "pending"
	ReferralAccepted ReferralStatus = "accepted"
	ReferralDeclined ReferralStatus = "declined"
)

// ReferralUrgency represents how soon the receiving clinician should act
type ReferralUrgency string

const (
	UrgencyRoutine   ReferralUrgency = "routine"
	UrgencyUrgent    ReferralUrgency = "urgent"
	UrgencyEmergency ReferralUrgency = "emergency"
)

// Referral is a request to hand a patient's care to another clinician
type Referral struct {
	ID                   string          `json:"id" db:"id"`
	PatientID            string          `json:"patient_id" db:"patient_id"`
	FromClinicianID      string          `json:"from_clinician_id" db:"from_clinician_id"`
	ToClinicianID        string          `json:"to_clinician_id" db:"to_clinician_id"`
	Reason               string          `json:"reason" db:"reason"`
	Urgency              ReferralUrgency `json:"urgency" db:"urgency"`
	Notes                string          `json:"notes,omitempty" db:"notes"`
	ResponseNotes        string          `json:"response_notes,omitempty" db:"response_notes"`
	Status               ReferralStatus  `json:"status" db:"status"`
	CreatedDate          time.Time       `json:"created_date" db:"created_date"`
	RespondedDate        *time.Time      `json:"responded_date,omitempty" db:"responded_date"`
	HandoffAppointmentID string          `json:"handoff_appointment_id,omitempty" db:"handoff_appointment_id"`
}

// ReferralRequest is the input for creating a referral
type ReferralRequest struct {
	PatientID       string          `json:"patient_id" validate:"required"`
	FromClinicianID string          `json:"from_clinician_id" validate:"required"`
	ToClinicianID   string          `json:"to_clinician_id" validate:"required"`
	Reason          string          `json:"reason"`
	Urgency         ReferralUrgency `json:"urgency" validate:"omitempty,oneof=routine urgent emergency"`
	Notes           string          `json:"notes,omitempty"`
}

// ReferralDecision is the receiving clinician's answer
type ReferralDecision string

const (
	DecisionAccepted ReferralDecision = "accepted"
	DecisionDeclined ReferralDecision = "declined"
)

// Notification is a user-visible event addressed to a clinician
type Notification struct {
	ID          string    `json:"id" db:"id"`
	ClinicianID string    `json:"clinician_id" db:"clinician_id"`
	Title       string    `json:"title" db:"title"`
	Message     string    `json:"message" db:"message"`
	Read        bool      `json:"read" db:"read"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// ReferralFilters represents filters for referral queries
type ReferralFilters struct {
	PatientID       string         `json:"patient_id,omitempty"`
	FromClinicianID string         `json:"from_clinician_id,omitempty"`
	ToClinicianID   string         `json:"to_clinician_id,omitempty"`
	Status          ReferralStatus `json:"status,omitempty"`
}

// Matches reports whether ref satisfies every non-empty filter field
func (f *ReferralFilters) Matches(ref *Referral) bool {
	if f == nil {
		return true
	}
	if f.PatientID != "" && ref.PatientID != f.PatientID {
		return false
	}
	if f.FromClinicianID != "" && ref.FromClinicianID != f.FromClinicianID {
		return false
	}
	if f.ToClinicianID != "" && ref.ToClinicianID != f.ToClinicianID {
		return false
	}
	if f.Status != "" && ref.Status != f.Status {
		return false
	}
	return true
}
