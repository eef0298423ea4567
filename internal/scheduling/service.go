package scheduling

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/medrex/scheduling-engine/pkg/config"
	"github.com/medrex/scheduling-engine/pkg/interfaces"
	"github.com/medrex/scheduling-engine/pkg/logger"
	"github.com/medrex/scheduling-engine/pkg/monitoring"
	"github.com/medrex/scheduling-engine/pkg/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/medrex/scheduling-engine/internal/scheduling"

// Service implements the SchedulingService interface.
//
// Every mutating operation runs under one engine-wide mutex so the ledger,
// registry and referral table behave as a single serially-applied store.
// The clock is read once per operation, after the lock is taken.
type Service struct {
	config    *config.Config
	logger    *logger.Logger
	store     interfaces.Store
	clock     Clock
	location  *time.Location
	metrics   *monitoring.MetricsCollector
	health    *monitoring.HealthManager
	tracer    trace.Tracer
	tracing   *monitoring.TracingManager
	publisher interfaces.NotificationPublisher

	detector  *ConflictDetector
	ledger    *Ledger
	registry  *PatientRegistry
	referrals *ReferralMachine
	notifier  *Notifier
	slotGrid  []string

	mu     sync.Mutex
	server *http.Server
}

// Option customizes a Service
type Option func(*Service)

// WithClock replaces the wall clock
func WithClock(clock Clock) Option {
	return func(s *Service) { s.clock = clock }
}

// WithPublisher fans emitted notifications out through p
func WithPublisher(p interfaces.NotificationPublisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithMetrics replaces the metrics collector
func WithMetrics(m *monitoring.MetricsCollector) Option {
	return func(s *Service) { s.metrics = m }
}

// WithTracing uses tm for engine spans and HTTP server spans
func WithTracing(tm *monitoring.TracingManager) Option {
	return func(s *Service) {
		s.tracing = tm
		s.tracer = tm.Tracer()
	}
}

// WithTracer replaces the tracer taken from the global provider
func WithTracer(t trace.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

// New creates a new scheduling service over store
func New(cfg *config.Config, log *logger.Logger, store interfaces.Store, opts ...Option) (*Service, error) {
	s := &Service{
		config: cfg,
		logger: log,
		store:  store,
		clock:  SystemClock,
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = monitoring.NewMetricsCollector("scheduling")
	}

	loc, err := cfg.Scheduling.Location()
	if err != nil {
		return nil, fmt.Errorf("invalid scheduling timezone: %w", err)
	}
	s.location = loc

	s.detector, err = NewConflictDetector(cfg.Scheduling.ConflictScope)
	if err != nil {
		return nil, err
	}

	s.slotGrid, err = SlotGrid(cfg.Scheduling.WorkdayStart, cfg.Scheduling.WorkdayEnd, cfg.Scheduling.SlotMinutes)
	if err != nil {
		return nil, fmt.Errorf("invalid workday: %w", err)
	}

	window := TimeWindow{
		Before: cfg.Scheduling.StartWindowBeforeMinutes,
		After:  cfg.Scheduling.StartWindowAfterMinutes,
	}

	repos := store.Repositories()
	s.notifier = NewNotifier(repos.Notifications, s.publisher, s.metrics, log)
	s.ledger = NewLedger(store, s.detector, window, s.metrics, log)
	s.registry = NewPatientRegistry(store, s.metrics, log)
	s.referrals, err = NewReferralMachine(store, s.registry, s.ledger, s.notifier, cfg.Scheduling.HandoffTime, s.metrics, log)
	if err != nil {
		return nil, err
	}

	s.health = monitoring.NewHealthManager("scheduling-service", "1.0.0", 5*time.Second)
	s.health.Require("store", store)
	if pinger, ok := s.publisher.(monitoring.Pinger); ok {
		s.health.Optional("notifications", pinger)
	}

	log.WithComponent("scheduling").WithFields(map[string]interface{}{
		"timezone":       loc.String(),
		"conflict_scope": s.detector.Scope(),
	}).Info("Scheduling engine initialized")

	return s, nil
}

// now reads the clock once in the facility location
func (s *Service) now() time.Time {
	return s.clock.Now().In(s.location)
}

// observe opens a span and returns the function that closes it
func (s *Service) observe(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "scheduling."+operation, trace.WithAttributes(attrs...))

	return ctx, func(err error) {
		outcome := "ok"
		if err != nil {
			outcome = string(types.ErrorTypeOf(err))
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			if outcome == string(types.ErrorTypeInternal) {
				s.metrics.RecordSystemError(outcome, operation)
			}
		}
		span.End()
		s.metrics.RecordOperation(operation, outcome, time.Since(start))
	}
}

// CheckSlot reports whether a slot can be booked and who blocks it
func (s *Service) CheckSlot(ctx context.Context, clinicianID, date, timeOfDay string) (check *types.SlotCheck, err error) {
	ctx, done := s.observe(ctx, "check_slot", attribute.String("clinician_id", clinicianID))
	defer func() { done(err) }()

	return s.ledger.CheckSlot(ctx, clinicianID, date, timeOfDay)
}

// GetAvailableSlots returns the open slots on the workday grid for date
func (s *Service) GetAvailableSlots(ctx context.Context, clinicianID, date string) (slots []string, err error) {
	ctx, done := s.observe(ctx, "available_slots", attribute.String("clinician_id", clinicianID))
	defer func() { done(err) }()

	slots = []string{}
	for _, timeOfDay := range s.slotGrid {
		check, err := s.ledger.CheckSlot(ctx, clinicianID, date, timeOfDay)
		if err != nil {
			return nil, err
		}
		if check.Available {
			slots = append(slots, timeOfDay)
		}
	}
	return slots, nil
}

// BookAppointment books a new appointment after re-checking the slot
func (s *Service) BookAppointment(ctx context.Context, req *types.BookingRequest) (apt *types.Appointment, err error) {
	ctx, done := s.observe(ctx, "book")
	defer func() { done(err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.ledger.Book(ctx, req, s.now())
}

// GetAppointment returns an appointment evaluated against the current time
func (s *Service) GetAppointment(ctx context.Context, aptID string) (*types.AppointmentView, error) {
	return s.ledger.Get(ctx, aptID, s.now())
}

// GetAppointments lists appointments, re-evaluating startability on every call
func (s *Service) GetAppointments(ctx context.Context, filters *types.AppointmentFilters) ([]*types.AppointmentView, error) {
	return s.ledger.List(ctx, filters, s.now())
}

// StartAppointment records the start of an encounter inside its window
func (s *Service) StartAppointment(ctx context.Context, aptID string) (apt *types.Appointment, err error) {
	ctx, done := s.observe(ctx, "start", attribute.String("appointment_id", aptID))
	defer func() { done(err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.ledger.StartSession(ctx, aptID, s.now())
}

// CompleteAppointment marks an appointment completed with its clinical payload
func (s *Service) CompleteAppointment(ctx context.Context, aptID string, payload *types.ClinicalPayload) (apt *types.Appointment, err error) {
	ctx, done := s.observe(ctx, "complete", attribute.String("appointment_id", aptID))
	defer func() { done(err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.ledger.MarkComplete(ctx, aptID, payload, s.now())
}

// CancelAppointment cancels a scheduled appointment
func (s *Service) CancelAppointment(ctx context.Context, aptID string) (apt *types.Appointment, err error) {
	ctx, done := s.observe(ctx, "cancel", attribute.String("appointment_id", aptID))
	defer func() { done(err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.ledger.Cancel(ctx, aptID, s.now())
}

// CreateReferral opens a pending referral
func (s *Service) CreateReferral(ctx context.Context, req *types.ReferralRequest) (ref *types.Referral, err error) {
	ctx, done := s.observe(ctx, "create_referral")
	defer func() { done(err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.referrals.Create(ctx, req, s.now())
}

// RespondToReferral accepts or declines a pending referral
func (s *Service) RespondToReferral(ctx context.Context, referralID string, decision types.ReferralDecision, notes string) (ref *types.Referral, err error) {
	ctx, done := s.observe(ctx, "respond_referral",
		attribute.String("referral_id", referralID),
		attribute.String("decision", string(decision)))
	defer func() { done(err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.referrals.Respond(ctx, referralID, decision, notes, s.now())
}

// GetReferral returns a referral
func (s *Service) GetReferral(ctx context.Context, referralID string) (*types.Referral, error) {
	return s.referrals.Get(ctx, referralID)
}

// GetReferrals lists referrals matching filters
func (s *Service) GetReferrals(ctx context.Context, filters *types.ReferralFilters) ([]*types.Referral, error) {
	return s.referrals.List(ctx, filters)
}

// ReassignPatient changes a patient's treating clinician
func (s *Service) ReassignPatient(ctx context.Context, patientID, clinicianID string) (patient *types.Patient, err error) {
	ctx, done := s.observe(ctx, "reassign", attribute.String("patient_id", patientID))
	defer func() { done(err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.registry.Reassign(ctx, patientID, clinicianID, s.now())
}

// GetPatient returns a patient
func (s *Service) GetPatient(ctx context.Context, patientID string) (*types.Patient, error) {
	return s.registry.Get(ctx, patientID)
}

// GetClinician returns a clinician with the current patient count
func (s *Service) GetClinician(ctx context.Context, clinicianID string) (*types.Clinician, error) {
	return s.registry.Clinician(ctx, clinicianID)
}

// GetNotifications lists a clinician's notifications
func (s *Service) GetNotifications(ctx context.Context, clinicianID string, unreadOnly bool) ([]*types.Notification, error) {
	return s.notifier.List(ctx, clinicianID, unreadOnly)
}

// MarkNotificationRead flips a notification's read flag
func (s *Service) MarkNotificationRead(ctx context.Context, notificationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.notifier.MarkRead(ctx, notificationID)
}

// Handler returns the service's HTTP handler
func (s *Service) Handler() http.Handler {
	router := mux.NewRouter()
	s.setupRoutes(router)
	return router
}

// Start starts the scheduling service HTTP server
func (s *Service) Start(addr string) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  time.Duration(s.config.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(s.config.Server.IdleTimeout) * time.Second,
	}

	s.logger.Infof("Starting Scheduling Service on %s", addr)
	return s.server.ListenAndServe()
}

// Stop stops the scheduling service
func (s *Service) Stop() error {
	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			s.logger.WithError(err).Warn("Failed to close notification publisher")
		}
	}
	if s.server != nil {
		s.logger.Info("Stopping Scheduling Service")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.server.Shutdown(ctx)
	}
	return nil
}

var _ interfaces.SchedulingService = (*Service)(nil)
