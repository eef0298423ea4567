package scheduling

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/medrex/scheduling-engine/pkg/interfaces"
	"github.com/medrex/scheduling-engine/pkg/repository"
	"github.com/medrex/scheduling-engine/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func createReferral(t *testing.T, s *Service, patientID, from, to string) *types.Referral {
	t.Helper()
	ref, err := s.CreateReferral(context.Background(), &types.ReferralRequest{
		PatientID:       patientID,
		FromClinicianID: from,
		ToClinicianID:   to,
		Reason:          "Cardiac evaluation",
		Urgency:         types.UrgencyUrgent,
	})
	require.NoError(t, err)
	return ref
}

func notificationTitles(t *testing.T, s *Service, clinicianID string) []string {
	t.Helper()
	notifications, err := s.GetNotifications(context.Background(), clinicianID, false)
	require.NoError(t, err)
	titles := make([]string, 0, len(notifications))
	for _, n := range notifications {
		titles = append(titles, n.Title)
	}
	return titles
}

func TestCreateReferral_NotifiesBothClinicians(t *testing.T) {
	service, _, clock := setupTestService(t)

	ref := createReferral(t, service, "p-2", "dr-b", "dr-c")
	assert.Equal(t, types.ReferralPending, ref.Status)
	assert.Equal(t, clock.Now(), ref.CreatedDate)
	assert.Nil(t, ref.RespondedDate)

	assert.Equal(t, []string{"New referral"}, notificationTitles(t, service, "dr-c"))
	assert.Equal(t, []string{"Referral sent"}, notificationTitles(t, service, "dr-b"))
}

func TestReferral_NotificationsShareOperationTime(t *testing.T) {
	cfg := testConfig()
	cfg.Scheduling.TimeZone = "America/New_York"
	clock := &tickingClock{now: at(8, 0), step: time.Minute}
	service, _, _ := setupTestServiceWithConfig(t, cfg, WithClock(clock))
	ctx := context.Background()

	ref := createReferral(t, service, "p-2", "dr-b", "dr-c")
	assert.Equal(t, 1, clock.Reads())
	assert.Equal(t, "America/New_York", ref.CreatedDate.Location().String())

	for _, clinicianID := range []string{"dr-b", "dr-c"} {
		notifications, err := service.GetNotifications(ctx, clinicianID, false)
		require.NoError(t, err)
		require.Len(t, notifications, 1)
		assert.True(t, ref.CreatedDate.Equal(notifications[0].CreatedAt))
		assert.Equal(t, ref.CreatedDate.Location(), notifications[0].CreatedAt.Location())
	}

	responded, err := service.RespondToReferral(ctx, ref.ID, types.DecisionDeclined, "Not my area")
	require.NoError(t, err)
	assert.Equal(t, 2, clock.Reads())
	require.NotNil(t, responded.RespondedDate)

	notifications, err := service.GetNotifications(ctx, "dr-b", false)
	require.NoError(t, err)
	require.Len(t, notifications, 2)
	assert.True(t, responded.RespondedDate.Equal(notifications[0].CreatedAt))
	assert.True(t, notifications[0].CreatedAt.After(notifications[1].CreatedAt))
}

func TestCreateReferral_DefaultsToRoutine(t *testing.T) {
	service, _, _ := setupTestService(t)

	ref, err := service.CreateReferral(context.Background(), &types.ReferralRequest{
		PatientID: "p-1", FromClinicianID: "dr-a", ToClinicianID: "dr-b", Reason: "Second opinion",
	})
	require.NoError(t, err)
	assert.Equal(t, types.UrgencyRoutine, ref.Urgency)
}

func TestCreateReferral_Rejections(t *testing.T) {
	service, _, _ := setupTestService(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		req     *types.ReferralRequest
		errType types.ErrorType
	}{
		{"self referral", &types.ReferralRequest{PatientID: "p-1", FromClinicianID: "dr-a", ToClinicianID: "dr-a"}, types.ErrorTypeValidation},
		{"missing patient", &types.ReferralRequest{FromClinicianID: "dr-a", ToClinicianID: "dr-b"}, types.ErrorTypeValidation},
		{"bad urgency", &types.ReferralRequest{PatientID: "p-1", FromClinicianID: "dr-a", ToClinicianID: "dr-b", Urgency: "whenever"}, types.ErrorTypeValidation},
		{"unknown patient", &types.ReferralRequest{PatientID: "p-9", FromClinicianID: "dr-a", ToClinicianID: "dr-b"}, types.ErrorTypeNotFound},
		{"unknown receiver", &types.ReferralRequest{PatientID: "p-1", FromClinicianID: "dr-a", ToClinicianID: "dr-z"}, types.ErrorTypeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := service.CreateReferral(ctx, tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.errType, types.ErrorTypeOf(err))
		})
	}

	refs, err := service.GetReferrals(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, refs)
	assert.Empty(t, notificationTitles(t, service, "dr-b"))
}

func TestRespondToReferral_Decline(t *testing.T) {
	service, _, _ := setupTestService(t)
	ctx := context.Background()

	ref := createReferral(t, service, "p-2", "dr-b", "dr-c")

	declined, err := service.RespondToReferral(ctx, ref.ID, types.DecisionDeclined, "Outside my specialty")
	require.NoError(t, err)
	assert.Equal(t, types.ReferralDeclined, declined.Status)
	assert.NotNil(t, declined.RespondedDate)
	assert.Empty(t, declined.HandoffAppointmentID)

	patient, err := service.GetPatient(ctx, "p-2")
	require.NoError(t, err)
	assert.Equal(t, "dr-b", patient.TreatingClinicianID)

	appointments, err := service.GetAppointments(ctx, &types.AppointmentFilters{ClinicianID: "dr-c"})
	require.NoError(t, err)
	assert.Empty(t, appointments)

	notifications, err := service.GetNotifications(ctx, "dr-b", false)
	require.NoError(t, err)
	require.Len(t, notifications, 2)
	assert.Equal(t, "Referral declined", notifications[0].Title)
	assert.Contains(t, notifications[0].Message, "Outside my specialty")
	assert.False(t, notifications[0].Read)
}

func TestRespondToReferral_Accept(t *testing.T) {
	service, _, _ := setupTestService(t)
	ctx := context.Background()

	ref := createReferral(t, service, "p-2", "dr-b", "dr-c")

	accepted, err := service.RespondToReferral(ctx, ref.ID, types.DecisionAccepted, "")
	require.NoError(t, err)
	assert.Equal(t, types.ReferralAccepted, accepted.Status)
	require.NotEmpty(t, accepted.HandoffAppointmentID)

	patient, err := service.GetPatient(ctx, "p-2")
	require.NoError(t, err)
	assert.Equal(t, "dr-c", patient.TreatingClinicianID)

	handoff, err := service.GetAppointment(ctx, accepted.HandoffAppointmentID)
	require.NoError(t, err)
	assert.Equal(t, "dr-c", handoff.ClinicianID)
	assert.Equal(t, "p-2", handoff.PatientID)
	assert.Equal(t, "2025-03-11", handoff.Date)
	assert.Equal(t, "09:00 AM", handoff.TimeOfDay)
	assert.Equal(t, types.KindUpcoming, handoff.Kind)
	assert.Equal(t, types.StatusScheduled, handoff.Status)
	assert.Equal(t, "Referral handoff: Cardiac evaluation", handoff.Reason)
	assert.Equal(t, ref.ID, handoff.ReferralID)

	clinician, err := service.GetClinician(ctx, "dr-c")
	require.NoError(t, err)
	assert.Equal(t, 1, clinician.CurrentPatientCount)

	previous, err := service.GetClinician(ctx, "dr-b")
	require.NoError(t, err)
	assert.Equal(t, 0, previous.CurrentPatientCount)

	assert.Equal(t, []string{"Referral accepted", "Referral sent"}, notificationTitles(t, service, "dr-b"))
}

func TestRespondToReferral_AcceptBypassesSlotCheck(t *testing.T) {
	service, _, _ := setupTestService(t)
	ctx := context.Background()

	book(t, service, "p-1", "dr-a", "2025-03-11", "09:00 AM")
	ref := createReferral(t, service, "p-2", "dr-b", "dr-c")

	accepted, err := service.RespondToReferral(ctx, ref.ID, types.DecisionAccepted, "")
	require.NoError(t, err)

	booked, err := service.GetAppointments(ctx, &types.AppointmentFilters{Date: "2025-03-11", TimeOfDay: "09:00 AM"})
	require.NoError(t, err)
	assert.Len(t, booked, 2)
	assert.NotEmpty(t, accepted.HandoffAppointmentID)
}

func TestRespondToReferral_SecondResponseRejected(t *testing.T) {
	service, _, _ := setupTestService(t)
	ctx := context.Background()

	ref := createReferral(t, service, "p-2", "dr-b", "dr-c")
	_, err := service.RespondToReferral(ctx, ref.ID, types.DecisionDeclined, "No capacity")
	require.NoError(t, err)

	before := notificationTitles(t, service, "dr-b")

	_, err = service.RespondToReferral(ctx, ref.ID, types.DecisionAccepted, "")
	require.Error(t, err)
	assert.True(t, types.IsErrorType(err, types.ErrorTypeInvalidState))
	assert.Contains(t, err.Error(), "this referral has already been responded to")

	stored, err := service.GetReferral(ctx, ref.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ReferralDeclined, stored.Status)
	assert.Equal(t, "No capacity", stored.ResponseNotes)

	patient, err := service.GetPatient(ctx, "p-2")
	require.NoError(t, err)
	assert.Equal(t, "dr-b", patient.TreatingClinicianID)

	appointments, err := service.GetAppointments(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, appointments)

	assert.Equal(t, before, notificationTitles(t, service, "dr-b"))
}

func TestRespondToReferral_InvalidDecision(t *testing.T) {
	service, _, _ := setupTestService(t)
	ctx := context.Background()

	ref := createReferral(t, service, "p-2", "dr-b", "dr-c")

	_, err := service.RespondToReferral(ctx, ref.ID, "maybe", "")
	assert.True(t, types.IsErrorType(err, types.ErrorTypeValidation))

	stored, err := service.GetReferral(ctx, ref.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ReferralPending, stored.Status)
}

func TestRespondToReferral_UnknownReferral(t *testing.T) {
	service, _, _ := setupTestService(t)

	_, err := service.RespondToReferral(context.Background(), "missing", types.DecisionAccepted, "")
	assert.True(t, types.IsErrorType(err, types.ErrorTypeNotFound))
}

// failingAppointments rejects every write so acceptance fails midway
type failingAppointments struct {
	interfaces.AppointmentRepository
}

func (f *failingAppointments) Create(ctx context.Context, apt *types.Appointment) error {
	return errors.New("disk full")
}

// faultyStore swaps a failing appointment repository into transactions
type faultyStore struct {
	*repository.MemoryStore
}

func (s *faultyStore) Atomic(ctx context.Context, fn func(repos interfaces.Repositories) error) error {
	return s.MemoryStore.Atomic(ctx, func(repos interfaces.Repositories) error {
		repos.Appointments = &failingAppointments{AppointmentRepository: repos.Appointments}
		return fn(repos)
	})
}

func TestRespondToReferral_AcceptIsAllOrNothing(t *testing.T) {
	store := repository.NewMemoryStore()
	seedStore(t, store)
	ctx := context.Background()

	service, err := New(testConfig(), testLogger(), &faultyStore{MemoryStore: store}, WithClock(newFakeClock(at(8, 0))))
	require.NoError(t, err)

	ref := createReferral(t, service, "p-2", "dr-b", "dr-c")
	notificationsBefore := notificationTitles(t, service, "dr-b")

	_, err = service.RespondToReferral(ctx, ref.ID, types.DecisionAccepted, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	stored, err := service.GetReferral(ctx, ref.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ReferralPending, stored.Status)
	assert.Nil(t, stored.RespondedDate)

	patient, err := service.GetPatient(ctx, "p-2")
	require.NoError(t, err)
	assert.Equal(t, "dr-b", patient.TreatingClinicianID)

	assert.Equal(t, notificationsBefore, notificationTitles(t, service, "dr-b"))
}

func TestReferralListings(t *testing.T) {
	service, _, _ := setupTestService(t)
	ctx := context.Background()

	first := createReferral(t, service, "p-2", "dr-b", "dr-c")
	second := createReferral(t, service, "p-1", "dr-a", "dr-c")

	incoming, err := service.referrals.ListIncoming(ctx, "dr-c")
	require.NoError(t, err)
	require.Len(t, incoming, 2)
	assert.Equal(t, first.ID, incoming[0].ID)
	assert.Equal(t, second.ID, incoming[1].ID)

	outgoing, err := service.referrals.ListOutgoing(ctx, "dr-a")
	require.NoError(t, err)
	require.Len(t, outgoing, 1)
	assert.Equal(t, second.ID, outgoing[0].ID)

	pending, err := service.GetReferrals(ctx, &types.ReferralFilters{Status: types.ReferralPending})
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

// MockPublisher is a mock implementation of NotificationPublisher
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, n *types.Notification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

func (m *MockPublisher) Close() error {
	args := m.Called()
	return args.Error(0)
}

func TestCreateReferral_PublisherFailureIsBestEffort(t *testing.T) {
	publisher := &MockPublisher{}
	publisher.On("Publish", mock.Anything, mock.AnythingOfType("*types.Notification")).Return(errors.New("redis down"))

	service, _, _ := setupTestService(t, WithPublisher(publisher))

	ref := createReferral(t, service, "p-2", "dr-b", "dr-c")
	assert.Equal(t, types.ReferralPending, ref.Status)

	assert.Equal(t, []string{"New referral"}, notificationTitles(t, service, "dr-c"))
	publisher.AssertNumberOfCalls(t, "Publish", 2)
}

func TestRespondToReferral_PublishesToReferrer(t *testing.T) {
	publisher := &MockPublisher{}
	publisher.On("Publish", mock.Anything, mock.AnythingOfType("*types.Notification")).Return(nil)

	service, _, _ := setupTestService(t, WithPublisher(publisher))

	ref := createReferral(t, service, "p-2", "dr-b", "dr-c")
	_, err := service.RespondToReferral(context.Background(), ref.ID, types.DecisionAccepted, "")
	require.NoError(t, err)

	publisher.AssertCalled(t, "Publish", mock.Anything, mock.MatchedBy(func(n *types.Notification) bool {
		return n.ClinicianID == "dr-b" && n.Title == "Referral accepted"
	}))
	publisher.AssertNumberOfCalls(t, "Publish", 3)
}
