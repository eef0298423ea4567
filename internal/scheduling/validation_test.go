package scheduling

import (
	"testing"

	"github.com/medrex/scheduling-engine/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRequest_ReportsJSONFieldNames(t *testing.T) {
	err := validateRequest(&types.BookingRequest{PatientID: "p-1", Date: "2025-03-10", TimeOfDay: "10:00 AM"})
	require.Error(t, err)

	var me *types.MedrexError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, types.ErrCodeInvalidInput, me.Code)
	assert.Equal(t, "clinician_id is required", me.Message)
	assert.Equal(t, "clinician_id", me.Details["field"])
}

func TestValidateRequest_Urgency(t *testing.T) {
	err := validateRequest(&types.ReferralRequest{
		PatientID:       "p-1",
		FromClinicianID: "dr-a",
		ToClinicianID:   "dr-b",
		Urgency:         "whenever",
	})

	var me *types.MedrexError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, `unsupported urgency: "whenever"`, me.Message)
	assert.Equal(t, []string{"routine", "urgent", "emergency"}, me.Details["allowed"])

	assert.NoError(t, validateRequest(&types.ReferralRequest{
		PatientID:       "p-1",
		FromClinicianID: "dr-a",
		ToClinicianID:   "dr-b",
	}))
}
