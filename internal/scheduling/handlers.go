package scheduling

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/medrex/scheduling-engine/pkg/monitoring"
	"github.com/medrex/scheduling-engine/pkg/types"
)

// setupRoutes configures HTTP routes for the scheduling service
func (s *Service) setupRoutes(router *mux.Router) {
	mm := monitoring.NewMonitoringMiddleware(s.metrics, s.tracing, s.logger, routeTemplate)
	router.Use(mm.HTTPMiddleware)

	api := router.PathPrefix("/api/v1").Subrouter()

	// Appointment routes
	api.HandleFunc("/appointments", s.bookAppointmentHandler).Methods("POST")
	api.HandleFunc("/appointments", s.getAppointmentsHandler).Methods("GET")
	api.HandleFunc("/appointments/{id}", s.getAppointmentHandler).Methods("GET")
	api.HandleFunc("/appointments/{id}/start", s.startAppointmentHandler).Methods("POST")
	api.HandleFunc("/appointments/{id}/complete", s.completeAppointmentHandler).Methods("POST")
	api.HandleFunc("/appointments/{id}/cancel", s.cancelAppointmentHandler).Methods("POST")

	// Slot routes
	api.HandleFunc("/slots", s.checkSlotHandler).Methods("GET")
	api.HandleFunc("/slots/available", s.getAvailableSlotsHandler).Methods("GET")

	// Referral routes
	api.HandleFunc("/referrals", s.createReferralHandler).Methods("POST")
	api.HandleFunc("/referrals/{id}", s.getReferralHandler).Methods("GET")
	api.HandleFunc("/referrals/{id}/respond", s.respondToReferralHandler).Methods("POST")

	// Clinician routes
	api.HandleFunc("/clinicians/{id}", s.getClinicianHandler).Methods("GET")
	api.HandleFunc("/clinicians/{id}/patients", s.getClinicianPatientsHandler).Methods("GET")
	api.HandleFunc("/clinicians/{id}/referrals", s.getClinicianReferralsHandler).Methods("GET")
	api.HandleFunc("/clinicians/{id}/notifications", s.getNotificationsHandler).Methods("GET")

	// Patient routes
	api.HandleFunc("/patients/{id}", s.getPatientHandler).Methods("GET")
	api.HandleFunc("/patients/{id}/reassign", s.reassignPatientHandler).Methods("POST")

	// Notification routes
	api.HandleFunc("/notifications/{id}/read", s.markNotificationReadHandler).Methods("POST")

	// Health and metrics
	router.Handle(s.healthPath(), s.health).Methods("GET")
	router.Handle(s.metricsPath(), s.metrics.Handler()).Methods("GET")

	s.logger.Info("Scheduling service routes configured")
}

func (s *Service) healthPath() string {
	if s.config.Monitoring.HealthPath != "" {
		return s.config.Monitoring.HealthPath
	}
	return "/health"
}

func (s *Service) metricsPath() string {
	if s.config.Monitoring.MetricsPath != "" {
		return s.config.Monitoring.MetricsPath
	}
	return "/metrics"
}

// routeTemplate labels a request by its matched route
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// bookAppointmentHandler handles appointment booking
func (s *Service) bookAppointmentHandler(w http.ResponseWriter, r *http.Request) {
	var req types.BookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeBadRequest(w, "Invalid request body", err)
		return
	}

	apt, err := s.BookAppointment(r.Context(), &req)
	if err != nil {
		s.writeErrorResponse(w, "Failed to book appointment", err)
		return
	}

	s.writeJSONResponse(w, http.StatusCreated, apt)
}

// getAppointmentsHandler lists appointments, each with its startable flag
func (s *Service) getAppointmentsHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filters := &types.AppointmentFilters{
		PatientID:   query.Get("patientId"),
		ClinicianID: query.Get("clinicianId"),
		Date:        query.Get("date"),
		Kind:        types.AppointmentKind(query.Get("kind")),
		Status:      types.AppointmentStatus(query.Get("status")),
	}

	views, err := s.GetAppointments(r.Context(), filters)
	if err != nil {
		s.writeErrorResponse(w, "Failed to get appointments", err)
		return
	}

	s.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"appointments": views,
		"count":        len(views),
	})
}

// getAppointmentHandler handles appointment retrieval
func (s *Service) getAppointmentHandler(w http.ResponseWriter, r *http.Request) {
	view, err := s.GetAppointment(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeErrorResponse(w, "Failed to get appointment", err)
		return
	}

	s.writeJSONResponse(w, http.StatusOK, view)
}

// startAppointmentHandler records the start of an encounter
func (s *Service) startAppointmentHandler(w http.ResponseWriter, r *http.Request) {
	apt, err := s.StartAppointment(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeErrorResponse(w, "Failed to start appointment", err)
		return
	}

	s.writeJSONResponse(w, http.StatusOK, apt)
}

// completeAppointmentHandler closes an appointment with its clinical payload.
// The body is optional.
func (s *Service) completeAppointmentHandler(w http.ResponseWriter, r *http.Request) {
	var payload *types.ClinicalPayload
	var body types.ClinicalPayload
	if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
		payload = &body
	} else if !errors.Is(err, io.EOF) {
		s.writeBadRequest(w, "Invalid request body", err)
		return
	}

	apt, err := s.CompleteAppointment(r.Context(), mux.Vars(r)["id"], payload)
	if err != nil {
		s.writeErrorResponse(w, "Failed to complete appointment", err)
		return
	}

	s.writeJSONResponse(w, http.StatusOK, apt)
}

// cancelAppointmentHandler handles appointment cancellation
func (s *Service) cancelAppointmentHandler(w http.ResponseWriter, r *http.Request) {
	apt, err := s.CancelAppointment(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeErrorResponse(w, "Failed to cancel appointment", err)
		return
	}

	s.writeJSONResponse(w, http.StatusOK, apt)
}

// checkSlotHandler reports whether a slot is free
func (s *Service) checkSlotHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	check, err := s.CheckSlot(r.Context(), query.Get("clinicianId"), query.Get("date"), query.Get("time"))
	if err != nil {
		s.writeErrorResponse(w, "Failed to check slot", err)
		return
	}

	response := map[string]interface{}{
		"date":        check.Date,
		"time_of_day": check.TimeOfDay,
		"available":   check.Available,
		"conflicts":   check.Conflicts,
	}
	if !check.Available {
		if clinician, err := s.registry.Clinician(r.Context(), check.Conflicts[0].ClinicianID); err == nil {
			response["blocking_clinician"] = clinician.Name
		} else {
			response["blocking_clinician"] = check.Conflicts[0].ClinicianID
		}
	}

	s.writeJSONResponse(w, http.StatusOK, response)
}

// getAvailableSlotsHandler lists the free slots of a day
func (s *Service) getAvailableSlotsHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	date := query.Get("date")

	slots, err := s.GetAvailableSlots(r.Context(), query.Get("clinicianId"), date)
	if err != nil {
		s.writeErrorResponse(w, "Failed to get available slots", err)
		return
	}

	s.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"date":  date,
		"slots": slots,
	})
}

// createReferralHandler handles referral creation
func (s *Service) createReferralHandler(w http.ResponseWriter, r *http.Request) {
	var req types.ReferralRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeBadRequest(w, "Invalid request body", err)
		return
	}

	ref, err := s.CreateReferral(r.Context(), &req)
	if err != nil {
		s.writeErrorResponse(w, "Failed to create referral", err)
		return
	}

	s.writeJSONResponse(w, http.StatusCreated, ref)
}

// getReferralHandler handles referral retrieval
func (s *Service) getReferralHandler(w http.ResponseWriter, r *http.Request) {
	ref, err := s.GetReferral(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeErrorResponse(w, "Failed to get referral", err)
		return
	}

	s.writeJSONResponse(w, http.StatusOK, ref)
}

type respondRequest struct {
	Decision types.ReferralDecision `json:"decision"`
	Notes    string                 `json:"notes"`
}

// respondToReferralHandler accepts or declines a referral
func (s *Service) respondToReferralHandler(w http.ResponseWriter, r *http.Request) {
	var req respondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeBadRequest(w, "Invalid request body", err)
		return
	}

	ref, err := s.RespondToReferral(r.Context(), mux.Vars(r)["id"], req.Decision, req.Notes)
	if err != nil {
		s.writeErrorResponse(w, "Failed to respond to referral", err)
		return
	}

	s.writeJSONResponse(w, http.StatusOK, ref)
}

// getClinicianHandler returns a clinician with the current patient count
func (s *Service) getClinicianHandler(w http.ResponseWriter, r *http.Request) {
	clinician, err := s.GetClinician(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeErrorResponse(w, "Failed to get clinician", err)
		return
	}

	s.writeJSONResponse(w, http.StatusOK, clinician)
}

// getClinicianPatientsHandler lists the patients a clinician treats
func (s *Service) getClinicianPatientsHandler(w http.ResponseWriter, r *http.Request) {
	patients, err := s.registry.ListByClinician(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeErrorResponse(w, "Failed to get patients", err)
		return
	}

	s.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"patients": patients,
		"count":    len(patients),
	})
}

// getClinicianReferralsHandler lists incoming or outgoing referrals
func (s *Service) getClinicianReferralsHandler(w http.ResponseWriter, r *http.Request) {
	clinicianID := mux.Vars(r)["id"]

	var refs []*types.Referral
	var err error
	switch direction := r.URL.Query().Get("direction"); direction {
	case "", "incoming":
		refs, err = s.referrals.ListIncoming(r.Context(), clinicianID)
	case "outgoing":
		refs, err = s.referrals.ListOutgoing(r.Context(), clinicianID)
	default:
		s.writeErrorResponse(w, "Invalid direction",
			types.NewValidationError(types.ErrCodeInvalidInput, "direction must be incoming or outgoing",
				map[string]interface{}{"direction": direction}))
		return
	}
	if err != nil {
		s.writeErrorResponse(w, "Failed to get referrals", err)
		return
	}

	s.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"referrals": refs,
		"count":     len(refs),
	})
}

// getNotificationsHandler lists a clinician's notifications, newest first
func (s *Service) getNotificationsHandler(w http.ResponseWriter, r *http.Request) {
	clinicianID := mux.Vars(r)["id"]

	unreadOnly := false
	if unread := r.URL.Query().Get("unread"); unread != "" {
		parsed, err := strconv.ParseBool(unread)
		if err != nil {
			s.writeBadRequest(w, "Invalid unread flag", err)
			return
		}
		unreadOnly = parsed
	}

	notifications, err := s.GetNotifications(r.Context(), clinicianID, unreadOnly)
	if err != nil {
		s.writeErrorResponse(w, "Failed to get notifications", err)
		return
	}

	unreadCount, err := s.notifier.UnreadCount(r.Context(), clinicianID)
	if err != nil {
		s.writeErrorResponse(w, "Failed to count notifications", err)
		return
	}

	s.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"notifications": notifications,
		"unread_count":  unreadCount,
	})
}

// markNotificationReadHandler flips a notification's read flag
func (s *Service) markNotificationReadHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.MarkNotificationRead(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeErrorResponse(w, "Failed to mark notification read", err)
		return
	}

	s.writeJSONResponse(w, http.StatusOK, map[string]string{"message": "Notification marked as read"})
}

// getPatientHandler handles patient retrieval
func (s *Service) getPatientHandler(w http.ResponseWriter, r *http.Request) {
	patient, err := s.GetPatient(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeErrorResponse(w, "Failed to get patient", err)
		return
	}

	s.writeJSONResponse(w, http.StatusOK, patient)
}

type reassignRequest struct {
	ClinicianID string `json:"clinician_id"`
}

// reassignPatientHandler changes a patient's treating clinician
func (s *Service) reassignPatientHandler(w http.ResponseWriter, r *http.Request) {
	var req reassignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeBadRequest(w, "Invalid request body", err)
		return
	}
	if req.ClinicianID == "" {
		s.writeErrorResponse(w, "Invalid request body",
			types.NewValidationError(types.ErrCodeInvalidInput, "clinician ID is required", nil))
		return
	}

	patient, err := s.ReassignPatient(r.Context(), mux.Vars(r)["id"], req.ClinicianID)
	if err != nil {
		s.writeErrorResponse(w, "Failed to reassign patient", err)
		return
	}

	s.writeJSONResponse(w, http.StatusOK, patient)
}

// writeJSONResponse writes a JSON response
func (s *Service) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Error("Failed to encode JSON response")
	}
}

// writeBadRequest reports an undecodable request
func (s *Service) writeBadRequest(w http.ResponseWriter, message string, err error) {
	s.writeErrorResponse(w, message,
		types.NewValidationError(types.ErrCodeInvalidInput, message, map[string]interface{}{"cause": err.Error()}))
}

// writeErrorResponse maps err onto an HTTP status and writes it
func (s *Service) writeErrorResponse(w http.ResponseWriter, message string, err error) {
	statusCode := statusFor(err)

	entry := s.logger.WithComponent("http").WithError(err)
	if statusCode >= http.StatusInternalServerError {
		entry.Error(message)
	} else {
		entry.Debug(message)
	}

	response := map[string]interface{}{
		"status": statusCode,
	}

	var me *types.MedrexError
	if errors.As(err, &me) && me.Type != types.ErrorTypeInternal {
		response["error"] = me.Message
		response["code"] = me.Code
		if len(me.Details) > 0 {
			response["details"] = me.Details
		}
	} else {
		response["error"] = message
		response["code"] = types.ErrCodeInternalError
	}

	if name := types.BlockingClinicianName(err); name != "" {
		response["blocking_clinician"] = name
	}

	s.writeJSONResponse(w, statusCode, response)
}

// statusFor maps the error taxonomy onto HTTP status codes
func statusFor(err error) int {
	switch types.ErrorTypeOf(err) {
	case types.ErrorTypeValidation:
		return http.StatusBadRequest
	case types.ErrorTypeNotFound:
		return http.StatusNotFound
	case types.ErrorTypeConflict, types.ErrorTypeInvalidState:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
