package scheduling

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/medrex/scheduling-engine/pkg/config"
	"github.com/medrex/scheduling-engine/pkg/logger"
	"github.com/medrex/scheduling-engine/pkg/repository"
	"github.com/medrex/scheduling-engine/pkg/types"
	"github.com/stretchr/testify/require"
)

// fakeClock is a settable Clock
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// tickingClock moves forward by step on every read and counts the reads
type tickingClock struct {
	mu    sync.Mutex
	now   time.Time
	step  time.Duration
	reads int
}

func (c *tickingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now
	c.now = c.now.Add(c.step)
	c.reads++
	return now
}

func (c *tickingClock) Reads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads
}

// at builds a UTC instant on 2025-03-10 at hour:minute
func at(hour, minute int) time.Time {
	return time.Date(2025, time.March, 10, hour, minute, 0, 0, time.UTC)
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Port: 8083},
		Scheduling: config.SchedulingConfig{
			TimeZone:                 "UTC",
			ConflictScope:            config.ConflictScopeShared,
			StartWindowBeforeMinutes: 15,
			StartWindowAfterMinutes:  30,
			HandoffTime:              "09:00 AM",
			WorkdayStart:             "09:00 AM",
			WorkdayEnd:               "05:00 PM",
			SlotMinutes:              30,
		},
		Monitoring: config.MonitoringConfig{
			MetricsPath: "/metrics",
			HealthPath:  "/health",
		},
	}
}

func testLogger() *logger.Logger {
	return logger.NewWithOutput("debug", io.Discard)
}

// seedStore loads three clinicians and two patients
func seedStore(t *testing.T, store *repository.MemoryStore) {
	t.Helper()
	seed := &repository.Seed{
		Clinicians: []repository.SeedClinician{
			{ID: "dr-a", Name: "Dr. Adams", Specialization: "Cardiology", Facility: "North"},
			{ID: "dr-b", Name: "Dr. Baker", Specialization: "Neurology", Facility: "North"},
			{ID: "dr-c", Name: "Dr. Chen", Specialization: "Oncology", Facility: "South"},
		},
		Patients: []repository.SeedPatient{
			{ID: "p-1", Name: "Pat One", TreatingClinicianID: "dr-a"},
			{ID: "p-2", Name: "Pat Two", TreatingClinicianID: "dr-b"},
		},
	}
	_, err := repository.ApplySeed(context.Background(), store, seed, at(8, 0))
	require.NoError(t, err)
}

// setupTestService creates a seeded service over a memory store with the
// clock at 2025-03-10 08:00 UTC
func setupTestService(t *testing.T, opts ...Option) (*Service, *repository.MemoryStore, *fakeClock) {
	t.Helper()
	return setupTestServiceWithConfig(t, testConfig(), opts...)
}

func setupTestServiceWithConfig(t *testing.T, cfg *config.Config, opts ...Option) (*Service, *repository.MemoryStore, *fakeClock) {
	t.Helper()

	store := repository.NewMemoryStore()
	seedStore(t, store)

	clock := newFakeClock(at(8, 0))
	opts = append([]Option{WithClock(clock)}, opts...)

	service, err := New(cfg, testLogger(), store, opts...)
	require.NoError(t, err)
	return service, store, clock
}

func book(t *testing.T, s *Service, patientID, clinicianID, date, timeOfDay string) *types.Appointment {
	t.Helper()
	apt, err := s.BookAppointment(context.Background(), &types.BookingRequest{
		PatientID:   patientID,
		ClinicianID: clinicianID,
		Date:        date,
		TimeOfDay:   timeOfDay,
		Reason:      "Follow-up",
	})
	require.NoError(t, err)
	return apt
}
