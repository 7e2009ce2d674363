package domain

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "qcgate/pkg/domain-errors"
)

func TestParseUUIDIDs(t *testing.T) {
	t.Run("rejects empty string", func(t *testing.T) {
		_, err := ParseSubjectID("")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects invalid format", func(t *testing.T) {
		_, err := ParseRequestID("machine-42")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("nil UUID parses and reports IsNil", func(t *testing.T) {
		id, err := ParseUserID(uuid.Nil.String())
		require.NoError(t, err)
		assert.True(t, id.IsNil())
	})

	t.Run("accepts valid UUID", func(t *testing.T) {
		raw := uuid.New()
		id, err := ParseDepartmentID(raw.String())
		require.NoError(t, err)
		assert.Equal(t, DepartmentID(raw), id)
		assert.Equal(t, raw.String(), id.String())
	})
}

func TestParseSlugIDs(t *testing.T) {
	t.Run("trims and accepts role", func(t *testing.T) {
		id, err := ParseRoleID("  manager ")
		require.NoError(t, err)
		assert.Equal(t, RoleID("manager"), id)
	})

	t.Run("rejects blank category", func(t *testing.T) {
		_, err := ParseCategoryID("   ")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

func TestIDJSONRoundTrip(t *testing.T) {
	type payload struct {
		Subject SubjectID `json:"subject_id"`
		User    *UserID   `json:"user_id,omitempty"`
	}
	user := UserID(uuid.New())
	in := payload{Subject: SubjectID(uuid.New()), User: &user}

	raw, err := json.Marshal(in)
	require.NoError(t, err)
	assert.Contains(t, string(raw), in.Subject.String())

	var out payload
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, in.Subject, out.Subject)
	require.NotNil(t, out.User)
	assert.Equal(t, user, *out.User)

	err = json.Unmarshal([]byte(`{"subject_id":"nope"}`), &out)
	assert.Error(t, err)
}
