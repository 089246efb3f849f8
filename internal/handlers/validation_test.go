package handlers_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/quickstack/pos-auth/internal/handlers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRequest(t *testing.T) {
	valid := handlers.LoginRequest{TenantID: tenantID, Email: "cashier@example.com", Password: "secret"}

	tests := []struct {
		name    string
		mutate  func(r *handlers.LoginRequest)
		field   string
		message string
	}{
		{name: "valid"},
		{name: "missing tenant", mutate: func(r *handlers.LoginRequest) { r.TenantID = "" }, field: "tenant_id", message: "this field is required"},
		{name: "tenant not a uuid", mutate: func(r *handlers.LoginRequest) { r.TenantID = "store-7" }, field: "tenant_id", message: "must be a valid UUID"},
		{name: "bad email", mutate: func(r *handlers.LoginRequest) { r.Email = "cashier" }, field: "email", message: "must be a valid email address"},
		{name: "oversized password", mutate: func(r *handlers.LoginRequest) { r.Password = strings.Repeat("p", 1025) }, field: "password", message: "must be at most 1024 characters"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			if tt.mutate != nil {
				tt.mutate(&req)
			}

			err := handlers.ValidateRequest(req)
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}

			var fe *handlers.FieldError
			require.True(t, errors.As(err, &fe))
			assert.Equal(t, tt.field, fe.Field)
			assert.Equal(t, tt.message, fe.Message)
			assert.NotContains(t, err.Error(), req.Password)
		})
	}
}
