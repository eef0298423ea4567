package repository

import (
	"context"
	"errors"
	"io"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/medrex/scheduling-engine/pkg/config"
	"github.com/medrex/scheduling-engine/pkg/database"
	"github.com/medrex/scheduling-engine/pkg/interfaces"
	"github.com/medrex/scheduling-engine/pkg/logger"
	"github.com/medrex/scheduling-engine/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var appointmentRowColumns = []string{
	"id", "patient_id", "clinician_id", "appointment_date", "time_of_day", "kind", "status",
	"reason", "referral_id", "started_at", "duration_minutes", "clinical", "created_at", "updated_at",
}

func setupPostgresStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	log := logger.NewWithOutput("debug", io.Discard)
	return NewPostgresStore(database.Wrap(db, &config.DatabaseConfig{}, log), log), mock
}

func TestPostgresStore_AtomicCommits(t *testing.T) {
	store, mock := setupPostgresStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO clinicians (id, name, specialization, facility)")).
		WithArgs("dr-a", "Dr. Adams", "Cardiology", "North").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.Atomic(ctx, func(repos interfaces.Repositories) error {
		return repos.Clinicians.Create(ctx, &types.Clinician{
			ID: "dr-a", Name: "Dr. Adams", Specialization: "Cardiology", Facility: "North",
		})
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AtomicRollsBack(t *testing.T) {
	store, mock := setupPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	boom := errors.New("boom")
	err := store.Atomic(context.Background(), func(repos interfaces.Repositories) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CommitFailure(t *testing.T) {
	store, mock := setupPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(errors.New("serialization failure"))

	err := store.Atomic(context.Background(), func(repos interfaces.Repositories) error {
		return nil
	})
	require.Error(t, err)
	assert.True(t, types.IsErrorType(err, types.ErrorTypeInternal))

	var me *types.MedrexError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, types.ErrCodeTransactionFailed, me.Code)
}

func TestPostgresAppointments_GetByID(t *testing.T) {
	store, mock := setupPostgresStore(t)
	ctx := context.Background()

	rows := sqlmock.NewRows(appointmentRowColumns).AddRow(
		"a-1", "p-1", "dr-a", "2025-03-10", "10:00 AM", "past", "completed",
		"Follow-up", "", testNow, 20, []byte(`{"notes":"Stable","vitals":{"bp":"120/80"}}`), testNow, testNow,
	)
	mock.ExpectQuery(regexp.QuoteMeta("FROM appointments WHERE id = $1")).
		WithArgs("a-1").
		WillReturnRows(rows)

	apt, err := store.Repositories().Appointments.GetByID(ctx, "a-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, apt.Status)
	assert.Equal(t, types.KindPast, apt.Kind)
	assert.Equal(t, 20, apt.DurationMinutes)
	require.NotNil(t, apt.StartedAt)
	assert.Equal(t, testNow, *apt.StartedAt)
	require.NotNil(t, apt.Clinical)
	assert.Equal(t, "120/80", apt.Clinical.Vitals["bp"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAppointments_GetByIDNotFound(t *testing.T) {
	store, mock := setupPostgresStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM appointments WHERE id = $1")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(appointmentRowColumns))

	_, err := store.Repositories().Appointments.GetByID(context.Background(), "missing")
	assert.True(t, types.IsErrorType(err, types.ErrorTypeNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAppointments_UpdateMissingRow(t *testing.T) {
	store, mock := setupPostgresStore(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE appointments")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Repositories().Appointments.Update(context.Background(), newAppointment("a-9", "dr-a", "10:00 AM"))
	assert.True(t, types.IsErrorType(err, types.ErrorTypeNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAppointments_ListFilters(t *testing.T) {
	store, mock := setupPostgresStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE 1=1 AND clinician_id = $1 AND status = $2 ORDER BY created_at, id")).
		WithArgs("dr-a", "scheduled").
		WillReturnRows(sqlmock.NewRows(appointmentRowColumns).AddRow(
			"a-1", "p-1", "dr-a", "2025-03-10", "10:00 AM", "upcoming", "scheduled",
			"", "", nil, 0, nil, testNow, testNow,
		))

	appointments, err := store.Repositories().Appointments.List(context.Background(), &types.AppointmentFilters{
		ClinicianID: "dr-a",
		Status:      types.StatusScheduled,
	})
	require.NoError(t, err)
	require.Len(t, appointments, 1)
	assert.Nil(t, appointments[0].StartedAt)
	assert.Nil(t, appointments[0].Clinical)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresReferrals_UpdateAndList(t *testing.T) {
	store, mock := setupPostgresStore(t)
	ctx := context.Background()
	repos := store.Repositories()

	responded := testNow
	mock.ExpectExec(regexp.QuoteMeta("UPDATE referrals")).
		WithArgs("r-1", "accepted", "See you", responded, "a-7").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repos.Referrals.Update(ctx, &types.Referral{
		ID:                   "r-1",
		Status:               types.ReferralAccepted,
		ResponseNotes:        "See you",
		RespondedDate:        &responded,
		HandoffAppointmentID: "a-7",
	})
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE 1=1 AND to_clinician_id = $1 ORDER BY created_date, id")).
		WithArgs("dr-c").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "patient_id", "from_clinician_id", "to_clinician_id", "reason", "urgency", "notes",
			"response_notes", "status", "created_date", "responded_date", "handoff_appointment_id",
		}).AddRow("r-2", "p-2", "dr-b", "dr-c", "Consult", "urgent", "", "", "pending", testNow, nil, ""))

	refs, err := repos.Referrals.List(ctx, &types.ReferralFilters{ToClinicianID: "dr-c"})
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, types.UrgencyUrgent, refs[0].Urgency)
	assert.Equal(t, types.ReferralPending, refs[0].Status)
	assert.Nil(t, refs[0].RespondedDate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresNotifications(t *testing.T) {
	store, mock := setupPostgresStore(t)
	ctx := context.Background()
	repos := store.Repositories()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE notifications SET read = TRUE WHERE id = $1")).
		WithArgs("n-9").
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := repos.Notifications.MarkRead(ctx, "n-9")
	assert.True(t, types.IsErrorType(err, types.ErrorTypeNotFound))

	mock.ExpectQuery(regexp.QuoteMeta("AND read = FALSE ORDER BY seq DESC")).
		WithArgs("dr-a").
		WillReturnRows(sqlmock.NewRows([]string{"id", "clinician_id", "title", "message", "read", "created_at"}).
			AddRow("n-2", "dr-a", "Referral accepted", "msg", false, testNow).
			AddRow("n-1", "dr-a", "New referral", "msg", false, testNow))

	notifications, err := repos.Notifications.ListByClinician(ctx, "dr-a", true)
	require.NoError(t, err)
	require.Len(t, notifications, 2)
	assert.Equal(t, "n-2", notifications[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ApplySeed(t *testing.T) {
	store, mock := setupPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM clinicians WHERE id = $1")).
		WithArgs("dr-a").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "specialization", "facility"}))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO clinicians")).
		WithArgs("dr-a", "Dr. Adams", "", "").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	inserted, err := ApplySeed(context.Background(), store, &Seed{
		Clinicians: []SeedClinician{{ID: "dr-a", Name: "Dr. Adams"}},
	}, testNow)
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}
