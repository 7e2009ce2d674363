package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "qcgate/pkg/domain-errors"
)

type decisionInput struct {
	RejectionReason string   `validate:"omitempty,notblank,max=20"`
	SubjectID       string   `validate:"required,uuid"`
	Limit           int      `validate:"gte=0,max=100"`
	Status          string   `validate:"omitempty,oneof=PENDING APPROVED"`
	Approvers       []string `validate:"omitempty,dive,uuid"`
}

func TestStruct(t *testing.T) {
	valid := decisionInput{SubjectID: "8b0d1e4e-3a57-4d4b-9d1e-0b4f1f0c2a11"}

	t.Run("valid input passes", func(t *testing.T) {
		require.NoError(t, Struct(valid))
	})

	cases := []struct {
		name   string
		mutate func(*decisionInput)
		msg    string
	}{
		{"missing uuid", func(in *decisionInput) { in.SubjectID = "" }, "subject_id is required"},
		{"bad uuid", func(in *decisionInput) { in.SubjectID = "x" }, "subject_id must be a valid uuid"},
		{"limit too large", func(in *decisionInput) { in.Limit = 500 }, "limit must be at most 100"},
		{"blank reason", func(in *decisionInput) { in.RejectionReason = "   " }, "rejection_reason must not be blank"},
		{"unknown status", func(in *decisionInput) { in.Status = "DONE" }, "status must be one of [PENDING APPROVED]"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := valid
			tc.mutate(&in)
			err := Struct(in)
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
			assert.Equal(t, tc.msg, err.Error())
		})
	}
}

func TestToSnakeCase(t *testing.T) {
	assert.Equal(t, "subject_id", toSnakeCase("SubjectID"))
	assert.Equal(t, "approver_override", toSnakeCase("ApproverOverride"))
	assert.Equal(t, "limit", toSnakeCase("Limit"))
}
