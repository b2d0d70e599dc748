package directory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticDirectory_Resolve(t *testing.T) {
	d := NewStaticDirectory([]Member{
		{UserID: "zoe", Roles: []string{"manager"}, Departments: []string{"sales"}},
		{UserID: "amy", Roles: []string{"manager", "finance"}, Departments: []string{"ops"}},
		{UserID: "bob", Roles: []string{"manager"}, Departments: []string{"sales", "ops"}, Email: "bob@example.com"},
	})

	tests := []struct {
		name       string
		role, dept string
		want       []string
	}{
		{"role in department", "manager", "sales", []string{"bob", "zoe"}},
		{"any department", "manager", "*", []string{"amy", "bob", "zoe"}},
		{"other role", "finance", "ops", []string{"amy"}},
		{"nobody", "finance", "sales", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := d.Resolve(context.Background(), tt.role, tt.dept)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.Equal(t, "bob@example.com", d.Email("bob"))
	assert.Empty(t, d.Email("nobody"))
}
