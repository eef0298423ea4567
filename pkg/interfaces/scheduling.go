package interfaces

import (
	"context"

	"github.com/medrex/scheduling-engine/pkg/types"
)

// SchedulingService defines the engine's externally visible operations
type SchedulingService interface {
	// Slot conflicts and availability
	CheckSlot(ctx context.Context, clinicianID, date, timeOfDay string) (*types.SlotCheck, error)
	GetAvailableSlots(ctx context.Context, clinicianID, date string) ([]string, error)

	// Appointment ledger
	BookAppointment(ctx context.Context, req *types.BookingRequest) (*types.Appointment, error)
	GetAppointment(ctx context.Context, aptID string) (*types.AppointmentView, error)
	GetAppointments(ctx context.Context, filters *types.AppointmentFilters) ([]*types.AppointmentView, error)
	StartAppointment(ctx context.Context, aptID string) (*types.Appointment, error)
	CompleteAppointment(ctx context.Context, aptID string, payload *types.ClinicalPayload) (*types.Appointment, error)
	CancelAppointment(ctx context.Context, aptID string) (*types.Appointment, error)

	// Referral lifecycle
	CreateReferral(ctx context.Context, req *types.ReferralRequest) (*types.Referral, error)
	RespondToReferral(ctx context.Context, referralID string, decision types.ReferralDecision, notes string) (*types.Referral, error)
	GetReferral(ctx context.Context, referralID string) (*types.Referral, error)
	GetReferrals(ctx context.Context, filters *types.ReferralFilters) ([]*types.Referral, error)

	// Patient registry
	ReassignPatient(ctx context.Context, patientID, clinicianID string) (*types.Patient, error)
	GetPatient(ctx context.Context, patientID string) (*types.Patient, error)
	GetClinician(ctx context.Context, clinicianID string) (*types.Clinician, error)

	// Notifications
	GetNotifications(ctx context.Context, clinicianID string, unreadOnly bool) ([]*types.Notification, error)
	MarkNotificationRead(ctx context.Context, notificationID string) error

	// Service management
	Start(addr string) error
	Stop() error
}

// AppointmentRepository persists ledger entries
type AppointmentRepository interface {
	Create(ctx context.Context, apt *types.Appointment) error
	GetByID(ctx context.Context, id string) (*types.Appointment, error)
	Update(ctx context.Context, apt *types.Appointment) error
	List(ctx context.Context, filters *types.AppointmentFilters) ([]*types.Appointment, error)
}

// PatientRepository persists patients and their treating clinician
type PatientRepository interface {
	Create(ctx context.Context, patient *types.Patient) error
	GetByID(ctx context.Context, id string) (*types.Patient, error)
	Update(ctx context.Context, patient *types.Patient) error
	ListByClinician(ctx context.Context, clinicianID string) ([]*types.Patient, error)
}

// ClinicianRepository persists clinicians
type ClinicianRepository interface {
	Create(ctx context.Context, clinician *types.Clinician) error
	GetByID(ctx context.Context, id string) (*types.Clinician, error)
	List(ctx context.Context) ([]*types.Clinician, error)
}

// ReferralRepository persists referrals
type ReferralRepository interface {
	Create(ctx context.Context, ref *types.Referral) error
	GetByID(ctx context.Context, id string) (*types.Referral, error)
	Update(ctx context.Context, ref *types.Referral) error
	List(ctx context.Context, filters *types.ReferralFilters) ([]*types.Referral, error)
}

// NotificationRepository persists notifications. Entries are append-only
// apart from the read flag.
type NotificationRepository interface {
	Create(ctx context.Context, n *types.Notification) error
	MarkRead(ctx context.Context, id string) error
	ListByClinician(ctx context.Context, clinicianID string, unreadOnly bool) ([]*types.Notification, error)
}

// Repositories bundles the repositories that share one transaction scope
type Repositories struct {
	Appointments  AppointmentRepository
	Patients      PatientRepository
	Clinicians    ClinicianRepository
	Referrals     ReferralRepository
	Notifications NotificationRepository
}

// Store is the engine's record store. Atomic runs fn against repositories
// bound to a single transaction: every write made through them is committed
// when fn returns nil and discarded otherwise.
type Store interface {
	Repositories() Repositories
	Atomic(ctx context.Context, fn func(repos Repositories) error) error
	Ping(ctx context.Context) error
}

// NotificationPublisher fans emitted notifications out to live clients
type NotificationPublisher interface {
	Publish(ctx context.Context, n *types.Notification) error
	Close() error
}
