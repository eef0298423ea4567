package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/medrex/scheduling-engine/pkg/interfaces"
	"github.com/medrex/scheduling-engine/pkg/types"
	"github.com/spf13/viper"
)

// Seed lists the clinicians and patients a store starts with
type Seed struct {
	Clinicians []SeedClinician `mapstructure:"clinicians"`
	Patients   []SeedPatient   `mapstructure:"patients"`
}

// SeedClinician is a clinician entry in a seed file
type SeedClinician struct {
	ID             string `mapstructure:"id"`
	Name           string `mapstructure:"name"`
	Specialization string `mapstructure:"specialization"`
	Facility       string `mapstructure:"facility"`
}

// SeedPatient is a patient entry in a seed file
type SeedPatient struct {
	ID                  string `mapstructure:"id"`
	Name                string `mapstructure:"name"`
	TreatingClinicianID string `mapstructure:"treating_clinician_id"`
}

// LoadSeed reads a YAML or JSON seed file
func LoadSeed(path string) (*Seed, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}

	var seed Seed
	if err := v.Unmarshal(&seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	return &seed, nil
}

// ApplySeed inserts every seeded record that is not already stored. It runs
// in one transaction; a patient whose treating clinician is unknown aborts it.
func ApplySeed(ctx context.Context, store interfaces.Store, seed *Seed, now time.Time) (int, error) {
	inserted := 0
	err := store.Atomic(ctx, func(repos interfaces.Repositories) error {
		inserted = 0
		for _, c := range seed.Clinicians {
			if _, err := repos.Clinicians.GetByID(ctx, c.ID); err == nil {
				continue
			} else if !types.IsErrorType(err, types.ErrorTypeNotFound) {
				return err
			}
			clinician := &types.Clinician{
				ID:             c.ID,
				Name:           c.Name,
				Specialization: c.Specialization,
				Facility:       c.Facility,
			}
			if err := repos.Clinicians.Create(ctx, clinician); err != nil {
				return fmt.Errorf("failed to seed clinician %s: %w", c.ID, err)
			}
			inserted++
		}

		for _, p := range seed.Patients {
			if _, err := repos.Patients.GetByID(ctx, p.ID); err == nil {
				continue
			} else if !types.IsErrorType(err, types.ErrorTypeNotFound) {
				return err
			}
			if _, err := repos.Clinicians.GetByID(ctx, p.TreatingClinicianID); err != nil {
				return fmt.Errorf("patient %s references unknown clinician: %w", p.ID, err)
			}
			patient := &types.Patient{
				ID:                  p.ID,
				Name:                p.Name,
				TreatingClinicianID: p.TreatingClinicianID,
				CreatedAt:           now,
				UpdatedAt:           now,
			}
			if err := repos.Patients.Create(ctx, patient); err != nil {
				return fmt.Errorf("failed to seed patient %s: %w", p.ID, err)
			}
			inserted++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}
