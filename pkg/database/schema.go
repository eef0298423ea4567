package database

import (
	"context"
	"fmt"
)

// CreateSchema creates the scheduling tables and indexes
func (db *DB) CreateSchema(ctx context.Context) error {
	db.logger.WithComponent("database").Info("Creating database schema...")

	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}

	db.logger.WithComponent("database").Info("Database schema created successfully")
	return nil
}

var schemaStatements = []string{
	createCliniciansTable,
	createPatientsTable,
	createAppointmentsTable,
	createReferralsTable,
	createNotificationsTable,
	createIndexes,
}

const createCliniciansTable = `
	CREATE TABLE IF NOT EXISTS clinicians (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		specialization TEXT NOT NULL DEFAULT '',
		facility TEXT NOT NULL DEFAULT ''
	);`

const createPatientsTable = `
	CREATE TABLE IF NOT EXISTS patients (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		treating_clinician_id TEXT NOT NULL REFERENCES clinicians(id),
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);`

// appointment_date and time_of_day keep the engine's canonical text forms
const createAppointmentsTable = `
	CREATE TABLE IF NOT EXISTS appointments (
		id TEXT PRIMARY KEY,
		patient_id TEXT NOT NULL REFERENCES patients(id),
		clinician_id TEXT NOT NULL REFERENCES clinicians(id),
		appointment_date TEXT NOT NULL,
		time_of_day TEXT NOT NULL,
		kind TEXT NOT NULL CHECK (kind IN ('upcoming', 'past')),
		status TEXT NOT NULL CHECK (status IN ('scheduled', 'completed', 'cancelled')),
		reason TEXT NOT NULL DEFAULT '',
		referral_id TEXT NOT NULL DEFAULT '',
		started_at TIMESTAMPTZ,
		duration_minutes INTEGER NOT NULL DEFAULT 0,
		clinical JSONB,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);`

const createReferralsTable = `
	CREATE TABLE IF NOT EXISTS referrals (
		id TEXT PRIMARY KEY,
		patient_id TEXT NOT NULL REFERENCES patients(id),
		from_clinician_id TEXT NOT NULL REFERENCES clinicians(id),
		to_clinician_id TEXT NOT NULL REFERENCES clinicians(id),
		reason TEXT NOT NULL DEFAULT '',
		urgency TEXT NOT NULL CHECK (urgency IN ('routine', 'urgent', 'emergency')),
		notes TEXT NOT NULL DEFAULT '',
		response_notes TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL CHECK (status IN ('pending', 'accepted', 'declined')),
		created_date TIMESTAMPTZ NOT NULL,
		responded_date TIMESTAMPTZ,
		handoff_appointment_id TEXT NOT NULL DEFAULT '',
		CHECK (from_clinician_id <> to_clinician_id)
	);`

const createNotificationsTable = `
	CREATE TABLE IF NOT EXISTS notifications (
		seq BIGSERIAL PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		clinician_id TEXT NOT NULL,
		title TEXT NOT NULL,
		message TEXT NOT NULL,
		read BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL
	);`

const createIndexes = `
	CREATE INDEX IF NOT EXISTS idx_patients_treating_clinician ON patients(treating_clinician_id);
	CREATE INDEX IF NOT EXISTS idx_appointments_slot ON appointments(appointment_date, time_of_day) WHERE kind = 'upcoming' AND status = 'scheduled';
	CREATE INDEX IF NOT EXISTS idx_appointments_clinician ON appointments(clinician_id, appointment_date);
	CREATE INDEX IF NOT EXISTS idx_appointments_patient ON appointments(patient_id);
	CREATE INDEX IF NOT EXISTS idx_referrals_to ON referrals(to_clinician_id, status);
	CREATE INDEX IF NOT EXISTS idx_referrals_from ON referrals(from_clinician_id);
	CREATE INDEX IF NOT EXISTS idx_notifications_clinician ON notifications(clinician_id, seq DESC);`
