package repository

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/medrex/scheduling-engine/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const seedYAML = `
clinicians:
  - id: dr-a
    name: Dr. Adams
    specialization: Cardiology
    facility: North
  - id: dr-b
    name: Dr. Baker
    specialization: Neurology
    facility: North
patients:
  - id: p-1
    name: Pat One
    treating_clinician_id: dr-a
`

func writeSeed(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadSeed(t *testing.T) {
	seed, err := LoadSeed(writeSeed(t, seedYAML))
	require.NoError(t, err)

	require.Len(t, seed.Clinicians, 2)
	assert.Equal(t, "Dr. Baker", seed.Clinicians[1].Name)
	require.Len(t, seed.Patients, 1)
	assert.Equal(t, "dr-a", seed.Patients[0].TreatingClinicianID)
}

func TestLoadSeed_MissingFile(t *testing.T) {
	_, err := LoadSeed(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestApplySeed_Idempotent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	seed, err := LoadSeed(writeSeed(t, seedYAML))
	require.NoError(t, err)

	inserted, err := ApplySeed(ctx, store, seed, testNow)
	require.NoError(t, err)
	assert.Equal(t, 3, inserted)

	inserted, err = ApplySeed(ctx, store, seed, testNow)
	require.NoError(t, err)
	assert.Equal(t, 0, inserted)

	patient, err := store.Repositories().Patients.GetByID(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, testNow, patient.CreatedAt)
}

func TestApplySeed_UnknownClinicianAborts(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	seed := &Seed{
		Clinicians: []SeedClinician{{ID: "dr-a", Name: "Dr. Adams"}},
		Patients:   []SeedPatient{{ID: "p-1", Name: "Pat One", TreatingClinicianID: "dr-z"}},
	}

	_, err := ApplySeed(ctx, store, seed, testNow)
	require.Error(t, err)
	assert.True(t, types.IsErrorType(err, types.ErrorTypeNotFound))

	_, err = store.Repositories().Clinicians.GetByID(ctx, "dr-a")
	assert.True(t, types.IsErrorType(err, types.ErrorTypeNotFound))
}
