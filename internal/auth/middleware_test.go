package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/quickstack/pos-auth/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubValidator struct {
	claims *models.AccessClaims
	err    error
	got    string
}

func (s *stubValidator) Validate(token string) (*models.AccessClaims, error) {
	s.got = token
	return s.claims, s.err
}

func TestAuthMiddleware(t *testing.T) {
	claims := &models.AccessClaims{TenantID: "tenant-1", RoleID: "role-1"}
	claims.Subject = "user-1"
	claims.ID = "jti-1"

	tests := []struct {
		name       string
		header     string
		validator  *stubValidator
		wantStatus int
		wantToken  string
	}{
		{name: "missing header", validator: &stubValidator{claims: claims}, wantStatus: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic abc", validator: &stubValidator{claims: claims}, wantStatus: http.StatusUnauthorized},
		{name: "empty token", header: "Bearer ", validator: &stubValidator{claims: claims}, wantStatus: http.StatusUnauthorized},
		{
			name:       "rejected token",
			header:     "Bearer expired",
			validator:  &stubValidator{err: models.NewInvalidToken(models.TokenKindAccess, models.TokenExpired)},
			wantStatus: http.StatusUnauthorized,
			wantToken:  "expired",
		},
		{name: "valid token", header: "bearer good", validator: &stubValidator{claims: claims}, wantStatus: http.StatusOK, wantToken: "good"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen *models.Principal
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen, _ = PrincipalFromContext(r.Context())
				w.WriteHeader(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/sessions", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()

			AuthMiddleware(tt.validator, discardLogger())(next).ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantToken, tt.validator.got)
			if tt.wantStatus == http.StatusOK {
				require.NotNil(t, seen)
				assert.Equal(t, "user-1", seen.UserID)
				assert.Equal(t, "tenant-1", seen.TenantID)
				assert.Equal(t, "jti-1", seen.TokenID)
			} else {
				assert.Nil(t, seen)
				assert.Contains(t, w.Body.String(), `"error":"unauthorized"`)
			}
		})
	}
}
