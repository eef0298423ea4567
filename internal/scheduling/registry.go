package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/medrex/scheduling-engine/pkg/interfaces"
	"github.com/medrex/scheduling-engine/pkg/logger"
	"github.com/medrex/scheduling-engine/pkg/monitoring"
	"github.com/medrex/scheduling-engine/pkg/types"
)

// PatientRegistry owns the treating clinician of every patient
type PatientRegistry struct {
	store   interfaces.Store
	metrics *monitoring.MetricsCollector
	logger  *logger.Logger
}

// NewPatientRegistry creates a new patient registry
func NewPatientRegistry(store interfaces.Store, metrics *monitoring.MetricsCollector, log *logger.Logger) *PatientRegistry {
	return &PatientRegistry{
		store:   store,
		metrics: metrics,
		logger:  log,
	}
}

// Reassign makes clinicianID the treating clinician of patientID.
// Reassigning to the current owner is a no-op.
func (r *PatientRegistry) Reassign(ctx context.Context, patientID, clinicianID string, now time.Time) (*types.Patient, error) {
	var patient *types.Patient
	var changed bool

	err := r.store.Atomic(ctx, func(repos interfaces.Repositories) error {
		var err error
		patient, changed, err = r.reassignTx(ctx, repos, patientID, clinicianID, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	if changed {
		r.metrics.RecordReassignment()
		r.logger.Audit(clinicianID, "reassign_patient", patientID, true, nil)
	}
	return patient, nil
}

// reassignTx performs the reassignment against repositories bound to the
// caller's transaction
func (r *PatientRegistry) reassignTx(ctx context.Context, repos interfaces.Repositories, patientID, clinicianID string, now time.Time) (*types.Patient, bool, error) {
	if _, err := repos.Clinicians.GetByID(ctx, clinicianID); err != nil {
		return nil, false, fmt.Errorf("failed to get clinician: %w", err)
	}

	patient, err := repos.Patients.GetByID(ctx, patientID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to get patient: %w", err)
	}

	if patient.TreatingClinicianID == clinicianID {
		return patient, false, nil
	}

	patient.TreatingClinicianID = clinicianID
	patient.UpdatedAt = now

	if err := repos.Patients.Update(ctx, patient); err != nil {
		return nil, false, fmt.Errorf("failed to reassign patient: %w", err)
	}
	return patient, true, nil
}

// Get returns a patient
func (r *PatientRegistry) Get(ctx context.Context, patientID string) (*types.Patient, error) {
	patient, err := r.store.Repositories().Patients.GetByID(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("failed to get patient: %w", err)
	}
	return patient, nil
}

// ListByClinician returns the patients clinicianID currently treats
func (r *PatientRegistry) ListByClinician(ctx context.Context, clinicianID string) ([]*types.Patient, error) {
	patients, err := r.store.Repositories().Patients.ListByClinician(ctx, clinicianID)
	if err != nil {
		return nil, fmt.Errorf("failed to get patients: %w", err)
	}
	return patients, nil
}

// Clinician returns a clinician with the derived current patient count
func (r *PatientRegistry) Clinician(ctx context.Context, clinicianID string) (*types.Clinician, error) {
	repos := r.store.Repositories()

	clinician, err := repos.Clinicians.GetByID(ctx, clinicianID)
	if err != nil {
		return nil, fmt.Errorf("failed to get clinician: %w", err)
	}

	patients, err := repos.Patients.ListByClinician(ctx, clinicianID)
	if err != nil {
		return nil, fmt.Errorf("failed to count patients: %w", err)
	}

	view := *clinician
	view.CurrentPatientCount = len(patients)
	return &view, nil
}
