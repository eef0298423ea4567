package scheduling

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/medrex/scheduling-engine/pkg/interfaces"
	"github.com/medrex/scheduling-engine/pkg/logger"
	"github.com/medrex/scheduling-engine/pkg/monitoring"
	"github.com/medrex/scheduling-engine/pkg/types"
)

// Ledger owns the canonical list of appointments
type Ledger struct {
	store    interfaces.Store
	detector *ConflictDetector
	window   TimeWindow
	metrics  *monitoring.MetricsCollector
	logger   *logger.Logger
}

// NewLedger creates a new appointment ledger
func NewLedger(
	store interfaces.Store,
	detector *ConflictDetector,
	window TimeWindow,
	metrics *monitoring.MetricsCollector,
	log *logger.Logger,
) *Ledger {
	return &Ledger{
		store:    store,
		detector: detector,
		window:   window,
		metrics:  metrics,
		logger:   log,
	}
}

// CheckSlot runs the conflict detector against the live ledger
func (l *Ledger) CheckSlot(ctx context.Context, clinicianID, date, timeOfDay string) (*types.SlotCheck, error) {
	check, err := l.detector.CheckSlot(ctx, l.store.Repositories().Appointments, clinicianID, date, timeOfDay)
	if err != nil {
		return nil, err
	}
	l.metrics.RecordSlotCheck(check.Available)
	return check, nil
}

// Book appends a new upcoming appointment. The slot is re-checked inside the
// write transaction; an earlier check by the caller is not trusted.
func (l *Ledger) Book(ctx context.Context, req *types.BookingRequest, now time.Time) (*types.Appointment, error) {
	if err := validateBooking(req); err != nil {
		l.metrics.RecordBooking("invalid")
		return nil, err
	}

	timeOfDay, err := NormalizeTimeOfDay(req.TimeOfDay)
	if err != nil {
		l.metrics.RecordBooking("invalid")
		return nil, err
	}

	var apt *types.Appointment
	err = l.store.Atomic(ctx, func(repos interfaces.Repositories) error {
		if _, err := repos.Patients.GetByID(ctx, req.PatientID); err != nil {
			return fmt.Errorf("failed to get patient: %w", err)
		}
		if _, err := repos.Clinicians.GetByID(ctx, req.ClinicianID); err != nil {
			return fmt.Errorf("failed to get clinician: %w", err)
		}

		check, err := l.detector.CheckSlot(ctx, repos.Appointments, req.ClinicianID, req.Date, timeOfDay)
		if err != nil {
			return err
		}
		if !check.Available {
			return l.conflictError(ctx, repos, check.Conflicts[0])
		}

		apt = &types.Appointment{
			ID:          uuid.New().String(),
			PatientID:   req.PatientID,
			ClinicianID: req.ClinicianID,
			Date:        req.Date,
			TimeOfDay:   timeOfDay,
			Kind:        types.KindUpcoming,
			Status:      types.StatusScheduled,
			Reason:      req.Reason,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := repos.Appointments.Create(ctx, apt); err != nil {
			return fmt.Errorf("failed to create appointment: %w", err)
		}
		return nil
	})
	if err != nil {
		switch types.ErrorTypeOf(err) {
		case types.ErrorTypeConflict:
			l.metrics.RecordBooking("conflict")
		case types.ErrorTypeValidation, types.ErrorTypeNotFound:
			l.metrics.RecordBooking("invalid")
		default:
			l.metrics.RecordBooking("error")
		}
		return nil, err
	}

	l.metrics.RecordBooking("booked")
	l.logger.Audit(req.ClinicianID, "book_appointment", apt.ID, true, map[string]interface{}{
		"patient_id":  apt.PatientID,
		"date":        apt.Date,
		"time_of_day": apt.TimeOfDay,
	})
	return apt, nil
}

// conflictError names the clinician holding the slot
func (l *Ledger) conflictError(ctx context.Context, repos interfaces.Repositories, blocking *types.Appointment) error {
	name := blocking.ClinicianID
	if clinician, err := repos.Clinicians.GetByID(ctx, blocking.ClinicianID); err == nil {
		name = clinician.Name
	}
	return types.NewConflictError(blocking.ClinicianID, name)
}

// createHandoffTx appends a handoff appointment without a slot check. It
// runs inside the referral acceptance transaction.
func (l *Ledger) createHandoffTx(ctx context.Context, repos interfaces.Repositories, ref *types.Referral, date, timeOfDay string, now time.Time) (*types.Appointment, error) {
	apt := &types.Appointment{
		ID:          uuid.New().String(),
		PatientID:   ref.PatientID,
		ClinicianID: ref.ToClinicianID,
		Date:        date,
		TimeOfDay:   timeOfDay,
		Kind:        types.KindUpcoming,
		Status:      types.StatusScheduled,
		Reason:      fmt.Sprintf("Referral handoff: %s", ref.Reason),
		ReferralID:  ref.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := repos.Appointments.Create(ctx, apt); err != nil {
		return nil, fmt.Errorf("failed to create handoff appointment: %w", err)
	}
	return apt, nil
}

// StartSession records the start of a live encounter. The appointment must be
// inside its startable window at now.
func (l *Ledger) StartSession(ctx context.Context, aptID string, now time.Time) (*types.Appointment, error) {
	return l.transition(ctx, aptID, "start_appointment", func(apt *types.Appointment) error {
		startable, err := l.window.IsStartable(apt, now)
		if err != nil {
			return err
		}
		if !startable {
			return types.NewInvalidStateError(types.ErrCodeNotStartable,
				fmt.Sprintf("appointment %s is not startable at %s", aptID, now.Format("2006-01-02 03:04 PM")))
		}
		if apt.StartedAt == nil {
			started := now
			apt.StartedAt = &started
		}
		apt.UpdatedAt = now
		return nil
	})
}

// MarkComplete closes a scheduled appointment and attaches the clinical payload
func (l *Ledger) MarkComplete(ctx context.Context, aptID string, payload *types.ClinicalPayload, now time.Time) (*types.Appointment, error) {
	return l.transition(ctx, aptID, "complete_appointment", func(apt *types.Appointment) error {
		apt.Status = types.StatusCompleted
		apt.Kind = types.KindPast
		apt.Clinical = payload
		apt.DurationMinutes = sessionMinutes(apt.StartedAt, now)
		apt.UpdatedAt = now
		return nil
	})
}

// Cancel closes a scheduled appointment without a visit
func (l *Ledger) Cancel(ctx context.Context, aptID string, now time.Time) (*types.Appointment, error) {
	return l.transition(ctx, aptID, "cancel_appointment", func(apt *types.Appointment) error {
		apt.Status = types.StatusCancelled
		apt.UpdatedAt = now
		return nil
	})
}

// transition applies mutate to a scheduled appointment. Completed and
// cancelled appointments are never reopened.
func (l *Ledger) transition(ctx context.Context, aptID, action string, mutate func(*types.Appointment) error) (*types.Appointment, error) {
	var apt *types.Appointment
	err := l.store.Atomic(ctx, func(repos interfaces.Repositories) error {
		var err error
		apt, err = repos.Appointments.GetByID(ctx, aptID)
		if err != nil {
			return fmt.Errorf("failed to get appointment: %w", err)
		}
		if apt.Status.IsTerminal() {
			return types.NewInvalidStateError(types.ErrCodeAppointmentClosed,
				fmt.Sprintf("appointment %s is already %s", aptID, apt.Status))
		}
		if err := mutate(apt); err != nil {
			return err
		}
		if err := repos.Appointments.Update(ctx, apt); err != nil {
			return fmt.Errorf("failed to update appointment: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.logger.Audit(apt.ClinicianID, action, apt.ID, true, map[string]interface{}{
		"status": apt.Status,
	})
	return apt, nil
}

// sessionMinutes rounds the elapsed session time to whole minutes
func sessionMinutes(startedAt *time.Time, now time.Time) int {
	if startedAt == nil {
		return 0
	}
	minutes := math.Round(now.Sub(*startedAt).Minutes())
	if minutes < 0 {
		return 0
	}
	return int(minutes)
}

// Get returns an appointment evaluated against now
func (l *Ledger) Get(ctx context.Context, aptID string, now time.Time) (*types.AppointmentView, error) {
	apt, err := l.store.Repositories().Appointments.GetByID(ctx, aptID)
	if err != nil {
		return nil, fmt.Errorf("failed to get appointment: %w", err)
	}
	return l.view(apt, now), nil
}

// List returns matching appointments, each evaluated against now
func (l *Ledger) List(ctx context.Context, filters *types.AppointmentFilters, now time.Time) ([]*types.AppointmentView, error) {
	appointments, err := l.store.Repositories().Appointments.List(ctx, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to get appointments: %w", err)
	}

	views := make([]*types.AppointmentView, 0, len(appointments))
	for _, apt := range appointments {
		views = append(views, l.view(apt, now))
	}
	return views, nil
}

func (l *Ledger) view(apt *types.Appointment, now time.Time) *types.AppointmentView {
	startable, err := l.window.IsStartable(apt, now)
	if err != nil {
		l.logger.WithComponent("ledger").WithError(err).Warnf("Appointment %s has an unparsable time", apt.ID)
	}
	return &types.AppointmentView{
		Appointment: apt,
		Startable:   startable,
		Bucket:      DayBucketOf(apt, now),
	}
}

// validateBooking validates booking request data
func validateBooking(req *types.BookingRequest) error {
	if req == nil {
		return types.NewValidationError(types.ErrCodeInvalidInput, "booking request is required", nil)
	}
	if err := validateRequest(req); err != nil {
		return err
	}
	if _, err := ParseDate(req.Date); err != nil {
		return err
	}
	return nil
}
