package scheduling

import (
	"context"
	"fmt"

	"github.com/medrex/scheduling-engine/pkg/config"
	"github.com/medrex/scheduling-engine/pkg/interfaces"
	"github.com/medrex/scheduling-engine/pkg/types"
)

// ConflictDetector decides whether a (date, time) slot can still be booked.
//
// With the shared scope every upcoming scheduled appointment on the calendar
// blocks the slot regardless of clinician, so the facility behaves as one
// bookable resource. The clinician scope gives each clinician their own
// calendar.
type ConflictDetector struct {
	scope string
}

// NewConflictDetector creates a detector for the given scope
func NewConflictDetector(scope string) (*ConflictDetector, error) {
	switch scope {
	case config.ConflictScopeShared, config.ConflictScopeClinician:
	case "":
		scope = config.ConflictScopeShared
	default:
		return nil, fmt.Errorf("unsupported conflict scope: %s", scope)
	}
	return &ConflictDetector{scope: scope}, nil
}

// Scope returns the resource model in use
func (d *ConflictDetector) Scope() string {
	return d.scope
}

// CheckSlot scans repo for entries blocking the proposed slot. Only
// upcoming scheduled entries conflict.
func (d *ConflictDetector) CheckSlot(ctx context.Context, repo interfaces.AppointmentRepository, clinicianID, date, timeOfDay string) (*types.SlotCheck, error) {
	if _, err := ParseDate(date); err != nil {
		return nil, err
	}
	normalized, err := NormalizeTimeOfDay(timeOfDay)
	if err != nil {
		return nil, err
	}

	filters := &types.AppointmentFilters{
		Date:   date,
		Kind:   types.KindUpcoming,
		Status: types.StatusScheduled,
	}
	if d.scope == config.ConflictScopeClinician {
		filters.ClinicianID = clinicianID
	}

	candidates, err := repo.List(ctx, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to check for conflicts: %w", err)
	}

	check := &types.SlotCheck{
		Date:      date,
		TimeOfDay: normalized,
		Conflicts: []*types.Appointment{},
	}
	for _, apt := range candidates {
		// compare canonical forms so "9:00 AM" blocks "09:00 AM"
		existing, err := NormalizeTimeOfDay(apt.TimeOfDay)
		if err != nil || existing != normalized {
			continue
		}
		check.Conflicts = append(check.Conflicts, apt)
	}
	check.Available = len(check.Conflicts) == 0

	return check, nil
}

// SlotGrid lists every slot start between start (inclusive) and end
// (exclusive of slots that would run past it)
func SlotGrid(start, end string, slotMinutes int) ([]string, error) {
	from, err := ParseTimeOfDay(start)
	if err != nil {
		return nil, err
	}
	to, err := ParseTimeOfDay(end)
	if err != nil {
		return nil, err
	}
	if slotMinutes <= 0 {
		return nil, types.NewValidationError(types.ErrCodeInvalidInput, "slot length must be positive", nil)
	}

	var grid []string
	for m := from; m+slotMinutes <= to; m += slotMinutes {
		grid = append(grid, FormatTimeOfDay(m))
	}
	return grid, nil
}
