package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/medrex/scheduling-engine/pkg/interfaces"
	"github.com/medrex/scheduling-engine/pkg/types"
)

// MemoryStore is a process-local record store. Records are copied on the way
// in and out, so callers never share memory with the store.
//
// Atomic works on a private copy of the tables and swaps it in on success.
// Writes made outside Atomic are serialized with transactions through txMu.
type MemoryStore struct {
	txMu sync.Mutex
	mu   sync.RWMutex
	data *memoryTables
}

type memoryTables struct {
	appointments     map[string]*types.Appointment
	appointmentOrder []string
	patients         map[string]*types.Patient
	clinicians       map[string]*types.Clinician
	referrals        map[string]*types.Referral
	referralOrder    []string
	notifications    []*types.Notification
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: &memoryTables{
			appointments: make(map[string]*types.Appointment),
			patients:     make(map[string]*types.Patient),
			clinicians:   make(map[string]*types.Clinician),
			referrals:    make(map[string]*types.Referral),
		},
	}
}

// snapshot copies the table structure. Stored records are replaced, never
// mutated, so sharing the record pointers is safe.
func (t *memoryTables) snapshot() *memoryTables {
	c := &memoryTables{
		appointments:     make(map[string]*types.Appointment, len(t.appointments)),
		appointmentOrder: append([]string(nil), t.appointmentOrder...),
		patients:         make(map[string]*types.Patient, len(t.patients)),
		clinicians:       make(map[string]*types.Clinician, len(t.clinicians)),
		referrals:        make(map[string]*types.Referral, len(t.referrals)),
		referralOrder:    append([]string(nil), t.referralOrder...),
		notifications:    append([]*types.Notification(nil), t.notifications...),
	}
	for k, v := range t.appointments {
		c.appointments[k] = v
	}
	for k, v := range t.patients {
		c.patients[k] = v
	}
	for k, v := range t.clinicians {
		c.clinicians[k] = v
	}
	for k, v := range t.referrals {
		c.referrals[k] = v
	}
	return c
}

// Repositories returns repositories reading the committed tables
func (s *MemoryStore) Repositories() interfaces.Repositories {
	return s.repositories(&liveTables{store: s})
}

// Atomic runs fn against a private copy of the tables and commits it only
// when fn succeeds
func (s *MemoryStore) Atomic(ctx context.Context, fn func(repos interfaces.Repositories) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	working := s.data.snapshot()
	s.mu.RUnlock()

	if err := fn(s.repositories(&txTables{data: working})); err != nil {
		return err
	}

	s.mu.Lock()
	s.data = working
	s.mu.Unlock()
	return nil
}

// Ping always succeeds
func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *MemoryStore) repositories(access tableAccess) interfaces.Repositories {
	return interfaces.Repositories{
		Appointments:  &memoryAppointments{access: access},
		Patients:      &memoryPatients{access: access},
		Clinicians:    &memoryClinicians{access: access},
		Referrals:     &memoryReferrals{access: access},
		Notifications: &memoryNotifications{access: access},
	}
}

// tableAccess hands repositories the tables under the right lock
type tableAccess interface {
	read(fn func(t *memoryTables) error) error
	write(fn func(t *memoryTables) error) error
}

type liveTables struct {
	store *MemoryStore
}

func (l *liveTables) read(fn func(t *memoryTables) error) error {
	l.store.mu.RLock()
	defer l.store.mu.RUnlock()
	return fn(l.store.data)
}

func (l *liveTables) write(fn func(t *memoryTables) error) error {
	l.store.txMu.Lock()
	defer l.store.txMu.Unlock()

	l.store.mu.Lock()
	defer l.store.mu.Unlock()

	working := l.store.data.snapshot()
	if err := fn(working); err != nil {
		return err
	}
	l.store.data = working
	return nil
}

// txTables is owned by a single Atomic call and needs no locking
type txTables struct {
	data *memoryTables
}

func (t *txTables) read(fn func(t *memoryTables) error) error  { return fn(t.data) }
func (t *txTables) write(fn func(t *memoryTables) error) error { return fn(t.data) }

type memoryAppointments struct {
	access tableAccess
}

func (r *memoryAppointments) Create(ctx context.Context, apt *types.Appointment) error {
	return r.access.write(func(t *memoryTables) error {
		if _, exists := t.appointments[apt.ID]; exists {
			return fmt.Errorf("appointment already exists: %s", apt.ID)
		}
		t.appointments[apt.ID] = cloneAppointment(apt)
		t.appointmentOrder = append(t.appointmentOrder, apt.ID)
		return nil
	})
}

func (r *memoryAppointments) GetByID(ctx context.Context, id string) (*types.Appointment, error) {
	var apt *types.Appointment
	err := r.access.read(func(t *memoryTables) error {
		stored, ok := t.appointments[id]
		if !ok {
			return types.NewNotFoundError(types.ErrCodeNotFound, fmt.Sprintf("appointment not found: %s", id))
		}
		apt = cloneAppointment(stored)
		return nil
	})
	return apt, err
}

func (r *memoryAppointments) Update(ctx context.Context, apt *types.Appointment) error {
	return r.access.write(func(t *memoryTables) error {
		if _, ok := t.appointments[apt.ID]; !ok {
			return types.NewNotFoundError(types.ErrCodeNotFound, fmt.Sprintf("appointment not found: %s", apt.ID))
		}
		t.appointments[apt.ID] = cloneAppointment(apt)
		return nil
	})
}

// List returns matching appointments in booking order
func (r *memoryAppointments) List(ctx context.Context, filters *types.AppointmentFilters) ([]*types.Appointment, error) {
	result := []*types.Appointment{}
	err := r.access.read(func(t *memoryTables) error {
		for _, id := range t.appointmentOrder {
			if apt := t.appointments[id]; filters.Matches(apt) {
				result = append(result, cloneAppointment(apt))
			}
		}
		return nil
	})
	return result, err
}

type memoryPatients struct {
	access tableAccess
}

func (r *memoryPatients) Create(ctx context.Context, patient *types.Patient) error {
	return r.access.write(func(t *memoryTables) error {
		if _, exists := t.patients[patient.ID]; exists {
			return fmt.Errorf("patient already exists: %s", patient.ID)
		}
		p := *patient
		t.patients[patient.ID] = &p
		return nil
	})
}

func (r *memoryPatients) GetByID(ctx context.Context, id string) (*types.Patient, error) {
	var patient *types.Patient
	err := r.access.read(func(t *memoryTables) error {
		stored, ok := t.patients[id]
		if !ok {
			return types.NewNotFoundError(types.ErrCodeNotFound, fmt.Sprintf("patient not found: %s", id))
		}
		p := *stored
		patient = &p
		return nil
	})
	return patient, err
}

func (r *memoryPatients) Update(ctx context.Context, patient *types.Patient) error {
	return r.access.write(func(t *memoryTables) error {
		if _, ok := t.patients[patient.ID]; !ok {
			return types.NewNotFoundError(types.ErrCodeNotFound, fmt.Sprintf("patient not found: %s", patient.ID))
		}
		p := *patient
		t.patients[patient.ID] = &p
		return nil
	})
}

// ListByClinician returns a clinician's patients ordered by name
func (r *memoryPatients) ListByClinician(ctx context.Context, clinicianID string) ([]*types.Patient, error) {
	result := []*types.Patient{}
	err := r.access.read(func(t *memoryTables) error {
		for _, stored := range t.patients {
			if stored.TreatingClinicianID == clinicianID {
				p := *stored
				result = append(result, &p)
			}
		}
		return nil
	})
	sort.Slice(result, func(i, j int) bool {
		if result[i].Name != result[j].Name {
			return result[i].Name < result[j].Name
		}
		return result[i].ID < result[j].ID
	})
	return result, err
}

type memoryClinicians struct {
	access tableAccess
}

func (r *memoryClinicians) Create(ctx context.Context, clinician *types.Clinician) error {
	return r.access.write(func(t *memoryTables) error {
		if _, exists := t.clinicians[clinician.ID]; exists {
			return fmt.Errorf("clinician already exists: %s", clinician.ID)
		}
		c := *clinician
		c.CurrentPatientCount = 0
		t.clinicians[clinician.ID] = &c
		return nil
	})
}

func (r *memoryClinicians) GetByID(ctx context.Context, id string) (*types.Clinician, error) {
	var clinician *types.Clinician
	err := r.access.read(func(t *memoryTables) error {
		stored, ok := t.clinicians[id]
		if !ok {
			return types.NewNotFoundError(types.ErrCodeNotFound, fmt.Sprintf("clinician not found: %s", id))
		}
		c := *stored
		clinician = &c
		return nil
	})
	return clinician, err
}

func (r *memoryClinicians) List(ctx context.Context) ([]*types.Clinician, error) {
	result := []*types.Clinician{}
	err := r.access.read(func(t *memoryTables) error {
		for _, stored := range t.clinicians {
			c := *stored
			result = append(result, &c)
		}
		return nil
	})
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, err
}

type memoryReferrals struct {
	access tableAccess
}

func (r *memoryReferrals) Create(ctx context.Context, ref *types.Referral) error {
	return r.access.write(func(t *memoryTables) error {
		if _, exists := t.referrals[ref.ID]; exists {
			return fmt.Errorf("referral already exists: %s", ref.ID)
		}
		t.referrals[ref.ID] = cloneReferral(ref)
		t.referralOrder = append(t.referralOrder, ref.ID)
		return nil
	})
}

func (r *memoryReferrals) GetByID(ctx context.Context, id string) (*types.Referral, error) {
	var ref *types.Referral
	err := r.access.read(func(t *memoryTables) error {
		stored, ok := t.referrals[id]
		if !ok {
			return types.NewNotFoundError(types.ErrCodeNotFound, fmt.Sprintf("referral not found: %s", id))
		}
		ref = cloneReferral(stored)
		return nil
	})
	return ref, err
}

func (r *memoryReferrals) Update(ctx context.Context, ref *types.Referral) error {
	return r.access.write(func(t *memoryTables) error {
		if _, ok := t.referrals[ref.ID]; !ok {
			return types.NewNotFoundError(types.ErrCodeNotFound, fmt.Sprintf("referral not found: %s", ref.ID))
		}
		t.referrals[ref.ID] = cloneReferral(ref)
		return nil
	})
}

// List returns matching referrals in creation order
func (r *memoryReferrals) List(ctx context.Context, filters *types.ReferralFilters) ([]*types.Referral, error) {
	result := []*types.Referral{}
	err := r.access.read(func(t *memoryTables) error {
		for _, id := range t.referralOrder {
			if ref := t.referrals[id]; filters.Matches(ref) {
				result = append(result, cloneReferral(ref))
			}
		}
		return nil
	})
	return result, err
}

type memoryNotifications struct {
	access tableAccess
}

func (r *memoryNotifications) Create(ctx context.Context, n *types.Notification) error {
	return r.access.write(func(t *memoryTables) error {
		c := *n
		t.notifications = append(t.notifications, &c)
		return nil
	})
}

func (r *memoryNotifications) MarkRead(ctx context.Context, id string) error {
	return r.access.write(func(t *memoryTables) error {
		for i, stored := range t.notifications {
			if stored.ID == id {
				c := *stored
				c.Read = true
				t.notifications[i] = &c
				return nil
			}
		}
		return types.NewNotFoundError(types.ErrCodeNotFound, fmt.Sprintf("notification not found: %s", id))
	})
}

// ListByClinician returns a clinician's notifications, newest first
func (r *memoryNotifications) ListByClinician(ctx context.Context, clinicianID string, unreadOnly bool) ([]*types.Notification, error) {
	result := []*types.Notification{}
	err := r.access.read(func(t *memoryTables) error {
		for i := len(t.notifications) - 1; i >= 0; i-- {
			stored := t.notifications[i]
			if stored.ClinicianID != clinicianID || (unreadOnly && stored.Read) {
				continue
			}
			c := *stored
			result = append(result, &c)
		}
		return nil
	})
	return result, err
}

func cloneAppointment(apt *types.Appointment) *types.Appointment {
	c := *apt
	if apt.StartedAt != nil {
		started := *apt.StartedAt
		c.StartedAt = &started
	}
	if apt.Clinical != nil {
		payload := *apt.Clinical
		if apt.Clinical.Vitals != nil {
			payload.Vitals = make(map[string]string, len(apt.Clinical.Vitals))
			for k, v := range apt.Clinical.Vitals {
				payload.Vitals[k] = v
			}
		}
		payload.Prescriptions = append([]types.Prescription(nil), apt.Clinical.Prescriptions...)
		c.Clinical = &payload
	}
	return &c
}

func cloneReferral(ref *types.Referral) *types.Referral {
	c := *ref
	if ref.RespondedDate != nil {
		responded := *ref.RespondedDate
		c.RespondedDate = &responded
	}
	return &c
}

var _ interfaces.Store = (*MemoryStore)(nil)
