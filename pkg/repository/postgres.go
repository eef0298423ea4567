package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/medrex/scheduling-engine/pkg/database"
	"github.com/medrex/scheduling-engine/pkg/interfaces"
	"github.com/medrex/scheduling-engine/pkg/logger"
	"github.com/medrex/scheduling-engine/pkg/types"
)

// queryer is satisfied by both *sql.DB and *sql.Tx
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// PostgresStore keeps scheduling records in PostgreSQL
type PostgresStore struct {
	db     *database.DB
	logger *logger.Logger
}

// NewPostgresStore creates a store over an open connection
func NewPostgresStore(db *database.DB, log *logger.Logger) *PostgresStore {
	return &PostgresStore{db: db, logger: log}
}

// Repositories returns repositories running outside any transaction
func (s *PostgresStore) Repositories() interfaces.Repositories {
	return postgresRepositories(s.db.DB)
}

// Atomic runs fn inside a serializable transaction
func (s *PostgresStore) Atomic(ctx context.Context, fn func(repos interfaces.Repositories) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return types.NewInternalError(types.ErrCodeTransactionFailed, "failed to begin transaction", err)
	}

	if err := fn(postgresRepositories(tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.WithComponent("postgres").WithError(rbErr).Error("Failed to roll back transaction")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return types.NewInternalError(types.ErrCodeTransactionFailed, "failed to commit transaction", err)
	}
	return nil
}

// Ping checks the connection
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func postgresRepositories(q queryer) interfaces.Repositories {
	return interfaces.Repositories{
		Appointments:  &pgAppointments{q: q},
		Patients:      &pgPatients{q: q},
		Clinicians:    &pgClinicians{q: q},
		Referrals:     &pgReferrals{q: q},
		Notifications: &pgNotifications{q: q},
	}
}

// requireRow turns an update that matched nothing into a NotFoundError
func requireRow(res sql.Result, what, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return types.NewNotFoundError(types.ErrCodeNotFound, fmt.Sprintf("%s not found: %s", what, id))
	}
	return nil
}

type pgAppointments struct {
	q queryer
}

const appointmentColumns = `id, patient_id, clinician_id, appointment_date, time_of_day, kind, status,
		reason, referral_id, started_at, duration_minutes, clinical, created_at, updated_at`

func (r *pgAppointments) Create(ctx context.Context, apt *types.Appointment) error {
	clinical, err := marshalClinical(apt.Clinical)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO appointments (` + appointmentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err = r.q.ExecContext(ctx, query,
		apt.ID,
		apt.PatientID,
		apt.ClinicianID,
		apt.Date,
		apt.TimeOfDay,
		string(apt.Kind),
		string(apt.Status),
		apt.Reason,
		apt.ReferralID,
		apt.StartedAt,
		apt.DurationMinutes,
		clinical,
		apt.CreatedAt,
		apt.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert appointment: %w", err)
	}
	return nil
}

func (r *pgAppointments) GetByID(ctx context.Context, id string) (*types.Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE id = $1`

	apt, err := scanAppointment(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, types.NewNotFoundError(types.ErrCodeNotFound, fmt.Sprintf("appointment not found: %s", id))
		}
		return nil, fmt.Errorf("failed to get appointment: %w", err)
	}
	return apt, nil
}

func (r *pgAppointments) Update(ctx context.Context, apt *types.Appointment) error {
	clinical, err := marshalClinical(apt.Clinical)
	if err != nil {
		return err
	}

	query := `
		UPDATE appointments
		SET kind = $2, status = $3, started_at = $4, duration_minutes = $5,
			clinical = $6, updated_at = $7
		WHERE id = $1`

	res, err := r.q.ExecContext(ctx, query,
		apt.ID,
		string(apt.Kind),
		string(apt.Status),
		apt.StartedAt,
		apt.DurationMinutes,
		clinical,
		apt.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update appointment: %w", err)
	}
	return requireRow(res, "appointment", apt.ID)
}

// List returns matching appointments in booking order
func (r *pgAppointments) List(ctx context.Context, filters *types.AppointmentFilters) ([]*types.Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE 1=1`
	args := []interface{}{}
	argIndex := 1

	if filters != nil {
		for _, f := range []struct {
			column string
			value  string
		}{
			{"patient_id", filters.PatientID},
			{"clinician_id", filters.ClinicianID},
			{"appointment_date", filters.Date},
			{"time_of_day", filters.TimeOfDay},
			{"kind", string(filters.Kind)},
			{"status", string(filters.Status)},
		} {
			if f.value == "" {
				continue
			}
			query += fmt.Sprintf(" AND %s = $%d", f.column, argIndex)
			args = append(args, f.value)
			argIndex++
		}
	}
	query += " ORDER BY created_at, id"

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query appointments: %w", err)
	}
	defer rows.Close()

	appointments := []*types.Appointment{}
	for rows.Next() {
		apt, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan appointment: %w", err)
		}
		appointments = append(appointments, apt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate appointments: %w", err)
	}
	return appointments, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAppointment(row rowScanner) (*types.Appointment, error) {
	var apt types.Appointment
	var kind, status string
	var startedAt sql.NullTime
	var clinical []byte

	err := row.Scan(
		&apt.ID,
		&apt.PatientID,
		&apt.ClinicianID,
		&apt.Date,
		&apt.TimeOfDay,
		&kind,
		&status,
		&apt.Reason,
		&apt.ReferralID,
		&startedAt,
		&apt.DurationMinutes,
		&clinical,
		&apt.CreatedAt,
		&apt.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	apt.Kind = types.AppointmentKind(kind)
	apt.Status = types.AppointmentStatus(status)
	if startedAt.Valid {
		t := startedAt.Time
		apt.StartedAt = &t
	}
	if len(clinical) > 0 {
		var payload types.ClinicalPayload
		if err := json.Unmarshal(clinical, &payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal clinical payload: %w", err)
		}
		apt.Clinical = &payload
	}
	return &apt, nil
}

// marshalClinical encodes the payload as JSON text; nil maps to NULL
func marshalClinical(payload *types.ClinicalPayload) (sql.NullString, error) {
	if payload == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal clinical payload: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

type pgPatients struct {
	q queryer
}

func (r *pgPatients) Create(ctx context.Context, patient *types.Patient) error {
	query := `
		INSERT INTO patients (id, name, treating_clinician_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)`

	if _, err := r.q.ExecContext(ctx, query,
		patient.ID, patient.Name, patient.TreatingClinicianID, patient.CreatedAt, patient.UpdatedAt,
	); err != nil {
		return fmt.Errorf("failed to insert patient: %w", err)
	}
	return nil
}

func (r *pgPatients) GetByID(ctx context.Context, id string) (*types.Patient, error) {
	query := `SELECT id, name, treating_clinician_id, created_at, updated_at FROM patients WHERE id = $1`

	var p types.Patient
	err := r.q.QueryRowContext(ctx, query, id).Scan(&p.ID, &p.Name, &p.TreatingClinicianID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, types.NewNotFoundError(types.ErrCodeNotFound, fmt.Sprintf("patient not found: %s", id))
		}
		return nil, fmt.Errorf("failed to get patient: %w", err)
	}
	return &p, nil
}

func (r *pgPatients) Update(ctx context.Context, patient *types.Patient) error {
	query := `UPDATE patients SET name = $2, treating_clinician_id = $3, updated_at = $4 WHERE id = $1`

	res, err := r.q.ExecContext(ctx, query, patient.ID, patient.Name, patient.TreatingClinicianID, patient.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update patient: %w", err)
	}
	return requireRow(res, "patient", patient.ID)
}

func (r *pgPatients) ListByClinician(ctx context.Context, clinicianID string) ([]*types.Patient, error) {
	query := `
		SELECT id, name, treating_clinician_id, created_at, updated_at
		FROM patients
		WHERE treating_clinician_id = $1
		ORDER BY name, id`

	rows, err := r.q.QueryContext(ctx, query, clinicianID)
	if err != nil {
		return nil, fmt.Errorf("failed to query patients: %w", err)
	}
	defer rows.Close()

	patients := []*types.Patient{}
	for rows.Next() {
		var p types.Patient
		if err := rows.Scan(&p.ID, &p.Name, &p.TreatingClinicianID, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan patient: %w", err)
		}
		patients = append(patients, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate patients: %w", err)
	}
	return patients, nil
}

type pgClinicians struct {
	q queryer
}

func (r *pgClinicians) Create(ctx context.Context, clinician *types.Clinician) error {
	query := `INSERT INTO clinicians (id, name, specialization, facility) VALUES ($1, $2, $3, $4)`

	if _, err := r.q.ExecContext(ctx, query,
		clinician.ID, clinician.Name, clinician.Specialization, clinician.Facility,
	); err != nil {
		return fmt.Errorf("failed to insert clinician: %w", err)
	}
	return nil
}

func (r *pgClinicians) GetByID(ctx context.Context, id string) (*types.Clinician, error) {
	query := `SELECT id, name, specialization, facility FROM clinicians WHERE id = $1`

	var c types.Clinician
	err := r.q.QueryRowContext(ctx, query, id).Scan(&c.ID, &c.Name, &c.Specialization, &c.Facility)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, types.NewNotFoundError(types.ErrCodeNotFound, fmt.Sprintf("clinician not found: %s", id))
		}
		return nil, fmt.Errorf("failed to get clinician: %w", err)
	}
	return &c, nil
}

func (r *pgClinicians) List(ctx context.Context) ([]*types.Clinician, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT id, name, specialization, facility FROM clinicians ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query clinicians: %w", err)
	}
	defer rows.Close()

	clinicians := []*types.Clinician{}
	for rows.Next() {
		var c types.Clinician
		if err := rows.Scan(&c.ID, &c.Name, &c.Specialization, &c.Facility); err != nil {
			return nil, fmt.Errorf("failed to scan clinician: %w", err)
		}
		clinicians = append(clinicians, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate clinicians: %w", err)
	}
	return clinicians, nil
}

type pgReferrals struct {
	q queryer
}

const referralColumns = `id, patient_id, from_clinician_id, to_clinician_id, reason, urgency, notes,
		response_notes, status, created_date, responded_date, handoff_appointment_id`

func (r *pgReferrals) Create(ctx context.Context, ref *types.Referral) error {
	query := `
		INSERT INTO referrals (` + referralColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := r.q.ExecContext(ctx, query,
		ref.ID,
		ref.PatientID,
		ref.FromClinicianID,
		ref.ToClinicianID,
		ref.Reason,
		string(ref.Urgency),
		ref.Notes,
		ref.ResponseNotes,
		string(ref.Status),
		ref.CreatedDate,
		ref.RespondedDate,
		ref.HandoffAppointmentID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert referral: %w", err)
	}
	return nil
}

func (r *pgReferrals) GetByID(ctx context.Context, id string) (*types.Referral, error) {
	query := `SELECT ` + referralColumns + ` FROM referrals WHERE id = $1`

	ref, err := scanReferral(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, types.NewNotFoundError(types.ErrCodeNotFound, fmt.Sprintf("referral not found: %s", id))
		}
		return nil, fmt.Errorf("failed to get referral: %w", err)
	}
	return ref, nil
}

func (r *pgReferrals) Update(ctx context.Context, ref *types.Referral) error {
	query := `
		UPDATE referrals
		SET status = $2, response_notes = $3, responded_date = $4, handoff_appointment_id = $5
		WHERE id = $1`

	res, err := r.q.ExecContext(ctx, query,
		ref.ID,
		string(ref.Status),
		ref.ResponseNotes,
		ref.RespondedDate,
		ref.HandoffAppointmentID,
	)
	if err != nil {
		return fmt.Errorf("failed to update referral: %w", err)
	}
	return requireRow(res, "referral", ref.ID)
}

// List returns matching referrals in creation order
func (r *pgReferrals) List(ctx context.Context, filters *types.ReferralFilters) ([]*types.Referral, error) {
	query := `SELECT ` + referralColumns + ` FROM referrals WHERE 1=1`
	args := []interface{}{}
	argIndex := 1

	if filters != nil {
		for _, f := range []struct {
			column string
			value  string
		}{
			{"patient_id", filters.PatientID},
			{"from_clinician_id", filters.FromClinicianID},
			{"to_clinician_id", filters.ToClinicianID},
			{"status", string(filters.Status)},
		} {
			if f.value == "" {
				continue
			}
			query += fmt.Sprintf(" AND %s = $%d", f.column, argIndex)
			args = append(args, f.value)
			argIndex++
		}
	}
	query += " ORDER BY created_date, id"

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query referrals: %w", err)
	}
	defer rows.Close()

	referrals := []*types.Referral{}
	for rows.Next() {
		ref, err := scanReferral(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan referral: %w", err)
		}
		referrals = append(referrals, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate referrals: %w", err)
	}
	return referrals, nil
}

func scanReferral(row rowScanner) (*types.Referral, error) {
	var ref types.Referral
	var urgency, status string
	var responded sql.NullTime

	err := row.Scan(
		&ref.ID,
		&ref.PatientID,
		&ref.FromClinicianID,
		&ref.ToClinicianID,
		&ref.Reason,
		&urgency,
		&ref.Notes,
		&ref.ResponseNotes,
		&status,
		&ref.CreatedDate,
		&responded,
		&ref.HandoffAppointmentID,
	)
	if err != nil {
		return nil, err
	}

	ref.Urgency = types.ReferralUrgency(urgency)
	ref.Status = types.ReferralStatus(status)
	if responded.Valid {
		t := responded.Time
		ref.RespondedDate = &t
	}
	return &ref, nil
}

type pgNotifications struct {
	q queryer
}

func (r *pgNotifications) Create(ctx context.Context, n *types.Notification) error {
	query := `
		INSERT INTO notifications (id, clinician_id, title, message, read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	if _, err := r.q.ExecContext(ctx, query, n.ID, n.ClinicianID, n.Title, n.Message, n.Read, n.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}
	return nil
}

func (r *pgNotifications) MarkRead(ctx context.Context, id string) error {
	res, err := r.q.ExecContext(ctx, `UPDATE notifications SET read = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	return requireRow(res, "notification", id)
}

// ListByClinician returns a clinician's notifications, newest first
func (r *pgNotifications) ListByClinician(ctx context.Context, clinicianID string, unreadOnly bool) ([]*types.Notification, error) {
	query := `
		SELECT id, clinician_id, title, message, read, created_at
		FROM notifications
		WHERE clinician_id = $1`
	if unreadOnly {
		query += " AND read = FALSE"
	}
	query += " ORDER BY seq DESC"

	rows, err := r.q.QueryContext(ctx, query, clinicianID)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	notifications := []*types.Notification{}
	for rows.Next() {
		var n types.Notification
		if err := rows.Scan(&n.ID, &n.ClinicianID, &n.Title, &n.Message, &n.Read, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		notifications = append(notifications, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate notifications: %w", err)
	}
	return notifications, nil
}

var _ interfaces.Store = (*PostgresStore)(nil)
