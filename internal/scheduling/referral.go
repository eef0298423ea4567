package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/medrex/scheduling-engine/pkg/interfaces"
	"github.com/medrex/scheduling-engine/pkg/logger"
	"github.com/medrex/scheduling-engine/pkg/monitoring"
	"github.com/medrex/scheduling-engine/pkg/types"
)

// ReferralMachine drives referrals through pending -> accepted | declined.
// Acceptance transfers the patient and books a handoff appointment in one
// store transaction; notifications go out only after it commits.
type ReferralMachine struct {
	store       interfaces.Store
	registry    *PatientRegistry
	ledger      *Ledger
	notifier    *Notifier
	handoffTime string
	metrics     *monitoring.MetricsCollector
	logger      *logger.Logger
}

// NewReferralMachine creates a new referral state machine
func NewReferralMachine(
	store interfaces.Store,
	registry *PatientRegistry,
	ledger *Ledger,
	notifier *Notifier,
	handoffTime string,
	metrics *monitoring.MetricsCollector,
	log *logger.Logger,
) (*ReferralMachine, error) {
	normalized, err := NormalizeTimeOfDay(handoffTime)
	if err != nil {
		return nil, fmt.Errorf("invalid handoff time: %w", err)
	}

	return &ReferralMachine{
		store:       store,
		registry:    registry,
		ledger:      ledger,
		notifier:    notifier,
		handoffTime: normalized,
		metrics:     metrics,
		logger:      log,
	}, nil
}

// Create opens a pending referral and notifies both clinicians
func (m *ReferralMachine) Create(ctx context.Context, req *types.ReferralRequest, now time.Time) (*types.Referral, error) {
	if err := validateReferral(req); err != nil {
		return nil, err
	}

	urgency := req.Urgency
	if urgency == "" {
		urgency = types.UrgencyRoutine
	}

	var ref *types.Referral
	var patient *types.Patient
	var from, to *types.Clinician
	err := m.store.Atomic(ctx, func(repos interfaces.Repositories) error {
		var err error
		if patient, err = repos.Patients.GetByID(ctx, req.PatientID); err != nil {
			return fmt.Errorf("failed to get patient: %w", err)
		}
		if from, err = repos.Clinicians.GetByID(ctx, req.FromClinicianID); err != nil {
			return fmt.Errorf("failed to get referring clinician: %w", err)
		}
		if to, err = repos.Clinicians.GetByID(ctx, req.ToClinicianID); err != nil {
			return fmt.Errorf("failed to get receiving clinician: %w", err)
		}

		ref = &types.Referral{
			ID:              uuid.New().String(),
			PatientID:       req.PatientID,
			FromClinicianID: req.FromClinicianID,
			ToClinicianID:   req.ToClinicianID,
			Reason:          req.Reason,
			Urgency:         urgency,
			Notes:           req.Notes,
			Status:          types.ReferralPending,
			CreatedDate:     now,
		}
		if err := repos.Referrals.Create(ctx, ref); err != nil {
			return fmt.Errorf("failed to create referral: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.metrics.RecordReferralTransition(string(types.ReferralPending))
	m.logger.Audit(ref.FromClinicianID, "create_referral", ref.ID, true, map[string]interface{}{
		"patient_id":      ref.PatientID,
		"to_clinician_id": ref.ToClinicianID,
		"urgency":         ref.Urgency,
	})

	m.notifier.Emit(ctx, now, ref.ToClinicianID, "New referral",
		fmt.Sprintf("%s referred %s to you (%s): %s", from.Name, patient.Name, ref.Urgency, ref.Reason))
	m.notifier.Emit(ctx, now, ref.FromClinicianID, "Referral sent",
		fmt.Sprintf("Your referral of %s to %s was sent and is awaiting a response", patient.Name, to.Name))

	return ref, nil
}

// Respond terminalizes a pending referral. A referral that already has a
// response is rejected with no side effects.
func (m *ReferralMachine) Respond(ctx context.Context, referralID string, decision types.ReferralDecision, notes string, now time.Time) (*types.Referral, error) {
	switch decision {
	case types.DecisionAccepted, types.DecisionDeclined:
	default:
		return nil, types.NewValidationError(types.ErrCodeInvalidInput,
			fmt.Sprintf("unsupported referral decision: %q", decision),
			map[string]interface{}{"decision": decision})
	}

	var ref *types.Referral
	var patient *types.Patient
	var to *types.Clinician
	var reassigned bool
	err := m.store.Atomic(ctx, func(repos interfaces.Repositories) error {
		var err error
		ref, err = repos.Referrals.GetByID(ctx, referralID)
		if err != nil {
			return fmt.Errorf("failed to get referral: %w", err)
		}
		if ref.Status != types.ReferralPending {
			return types.NewInvalidStateError(types.ErrCodeAlreadyResponded,
				"this referral has already been responded to")
		}
		if to, err = repos.Clinicians.GetByID(ctx, ref.ToClinicianID); err != nil {
			return fmt.Errorf("failed to get receiving clinician: %w", err)
		}

		responded := now
		ref.RespondedDate = &responded
		ref.ResponseNotes = notes

		if decision == types.DecisionDeclined {
			ref.Status = types.ReferralDeclined
			if patient, err = repos.Patients.GetByID(ctx, ref.PatientID); err != nil {
				return fmt.Errorf("failed to get patient: %w", err)
			}
		} else {
			ref.Status = types.ReferralAccepted
			if patient, reassigned, err = m.registry.reassignTx(ctx, repos, ref.PatientID, ref.ToClinicianID, now); err != nil {
				return err
			}
			handoff, err := m.ledger.createHandoffTx(ctx, repos, ref, nextDay(now), m.handoffTime, now)
			if err != nil {
				return err
			}
			ref.HandoffAppointmentID = handoff.ID
		}

		if err := repos.Referrals.Update(ctx, ref); err != nil {
			return fmt.Errorf("failed to update referral: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.metrics.RecordReferralTransition(string(ref.Status))
	if reassigned {
		m.metrics.RecordReassignment()
	}
	m.logger.Audit(ref.ToClinicianID, "respond_referral", ref.ID, true, map[string]interface{}{
		"status":                 ref.Status,
		"patient_id":             ref.PatientID,
		"handoff_appointment_id": ref.HandoffAppointmentID,
	})

	m.notifier.Emit(ctx, now, ref.FromClinicianID, responseTitle(ref.Status), responseMessage(ref, patient, to))
	return ref, nil
}

// Get returns a referral
func (m *ReferralMachine) Get(ctx context.Context, referralID string) (*types.Referral, error) {
	ref, err := m.store.Repositories().Referrals.GetByID(ctx, referralID)
	if err != nil {
		return nil, fmt.Errorf("failed to get referral: %w", err)
	}
	return ref, nil
}

// List returns referrals matching filters
func (m *ReferralMachine) List(ctx context.Context, filters *types.ReferralFilters) ([]*types.Referral, error) {
	refs, err := m.store.Repositories().Referrals.List(ctx, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to get referrals: %w", err)
	}
	return refs, nil
}

// ListIncoming returns referrals addressed to clinicianID
func (m *ReferralMachine) ListIncoming(ctx context.Context, clinicianID string) ([]*types.Referral, error) {
	return m.List(ctx, &types.ReferralFilters{ToClinicianID: clinicianID})
}

// ListOutgoing returns referrals sent by clinicianID
func (m *ReferralMachine) ListOutgoing(ctx context.Context, clinicianID string) ([]*types.Referral, error) {
	return m.List(ctx, &types.ReferralFilters{FromClinicianID: clinicianID})
}

func responseTitle(status types.ReferralStatus) string {
	if status == types.ReferralAccepted {
		return "Referral accepted"
	}
	return "Referral declined"
}

func responseMessage(ref *types.Referral, patient *types.Patient, to *types.Clinician) string {
	if ref.Status == types.ReferralAccepted {
		return fmt.Sprintf("%s accepted your referral of %s. Care has been transferred and a handoff appointment was scheduled.",
			to.Name, patient.Name)
	}
	msg := fmt.Sprintf("%s declined your referral of %s.", to.Name, patient.Name)
	if ref.ResponseNotes != "" {
		msg += " Notes: " + ref.ResponseNotes
	}
	return msg
}

// nextDay returns the calendar date after now
func nextDay(now time.Time) string {
	return now.AddDate(0, 0, 1).Format(types.DateLayout)
}

// validateReferral validates referral request data
func validateReferral(req *types.ReferralRequest) error {
	if req == nil {
		return types.NewValidationError(types.ErrCodeInvalidInput, "referral request is required", nil)
	}
	if err := validateRequest(req); err != nil {
		return err
	}
	if req.FromClinicianID == req.ToClinicianID {
		return types.NewValidationError(types.ErrCodeSelfReferral,
			"a clinician cannot refer a patient to themselves",
			map[string]interface{}{"clinician_id": req.FromClinicianID})
	}
	return nil
}
