package seed

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/approval-engine/internal/domain/entity"
)

const sample = `
templates:
  - code: A-PR-STD
    name: Standard purchase request
    business_type: A
    workflow_type: PURCHASE_REQUEST
    selection_priority: 10
    is_active: true
    effective_from: 2026-01-01T00:00:00Z
    conditions:
      min_amount: 0
      max_amount: 5000
    rules:
      allow_resubmission: true
      max_resubmissions: 2
      notify_on_submit: true
    levels:
      - level: 1
        name: Manager
        approval_type: ANY
        approvers:
          - role: manager
        escalation_hours: 24
        escalate_to: [director]
directory:
  - user_id: mgr-1
    email: mgr-1@example.com
    roles: [manager]
    departments: [ops]
`

func TestParse(t *testing.T) {
	f, err := Parse([]byte(sample))
	require.NoError(t, err)

	require.Len(t, f.Templates, 1)
	tpl := f.Templates[0]
	assert.Equal(t, "A-PR-STD", tpl.Code)
	assert.Equal(t, entity.BusinessTypeA, tpl.BusinessType)
	require.NotNil(t, tpl.Conditions.MaxAmount)
	assert.Equal(t, 5000.0, *tpl.Conditions.MaxAmount)
	require.NotNil(t, tpl.EffectiveFrom)
	assert.Equal(t, 2026, tpl.EffectiveFrom.Year())
	assert.Equal(t, 2, tpl.Rules.MaxResubmissions)
	require.Len(t, tpl.Levels, 1)
	assert.Equal(t, entity.ApprovalTypeAny, tpl.Levels[0].ApprovalType)
	assert.Equal(t, "manager", tpl.Levels[0].Approvers[0].Role)
	assert.Equal(t, []string{"director"}, tpl.Levels[0].EscalateTo)

	require.Len(t, f.Directory, 1)
	assert.Equal(t, "mgr-1", f.Directory[0].UserID)
}

func TestParse_UnknownField(t *testing.T) {
	_, err := Parse([]byte("templates:\n  - code: X\n    colour: red\n"))
	assert.Error(t, err)
}

func TestParse_InvalidDirectory(t *testing.T) {
	tests := map[string]string{
		"missing id":    "directory:\n  - email: a@example.com\n",
		"duplicate id":  "directory:\n  - user_id: a\n  - user_id: a\n",
		"invalid email": "directory:\n  - user_id: a\n    email: not-an-email\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	f, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, f.Templates, 1)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
