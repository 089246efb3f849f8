package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/quickstack/pos-auth/internal/auth"
	"github.com/quickstack/pos-auth/internal/models"
	"github.com/quickstack/pos-auth/internal/services"
	pkghttp "github.com/quickstack/pos-auth/pkg/http"
	"github.com/stretchr/testify/assert"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithAuthContext attaches an authenticated principal to the request
func WithAuthContext(req *http.Request, userID, tenantID string) *http.Request {
	return req.WithContext(auth.WithPrincipal(req.Context(), &models.Principal{
		UserID:   userID,
		TenantID: tenantID,
	}))
}

// WithRefreshCookie attaches the refresh token cookie to the request
func WithRefreshCookie(req *http.Request, token string) *http.Request {
	req.AddCookie(&http.Cookie{Name: auth.RefreshCookieName, Value: token})
	return req
}

// WithChiRouteContext adds chi URL parameters to request context for testing
func WithChiRouteContext(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"), "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
}

// RefreshCookie returns the refresh cookie set on the response, if any
func RefreshCookie(w *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == auth.RefreshCookieName {
			return c
		}
	}
	return nil
}

// MockAuthService implements AuthServiceInterface for testing
type MockAuthService struct {
	LoginFunc               func(ctx context.Context, in services.LoginInput) (*services.AuthResult, error)
	RefreshFunc             func(ctx context.Context, refreshToken string, meta services.ClientMeta) (*services.AuthResult, error)
	LogoutFunc              func(ctx context.Context, refreshToken, ipAddress string) error
	LogoutAllFunc           func(ctx context.Context, userID, ipAddress string) (int64, error)
	RegisterFunc            func(ctx context.Context, in services.RegisterInput) (*services.UserResponse, error)
	ChangePasswordFunc      func(ctx context.Context, userID, currentPassword, newPassword string) error
	SessionsFunc            func(ctx context.Context, userID, currentRefresh string) ([]models.Session, error)
	RevokeSessionFunc       func(ctx context.Context, userID, sessionID, ipAddress string) error
	RevokeOtherSessionsFunc func(ctx context.Context, userID, currentRefresh, ipAddress string) (int64, error)
}

func (m *MockAuthService) Login(ctx context.Context, in services.LoginInput) (*services.AuthResult, error) {
	if m.LoginFunc == nil {
		return nil, models.ErrUnauthorized
	}
	return m.LoginFunc(ctx, in)
}

func (m *MockAuthService) Refresh(ctx context.Context, refreshToken string, meta services.ClientMeta) (*services.AuthResult, error) {
	if m.RefreshFunc == nil {
		return nil, models.NewInvalidToken(models.TokenKindRefresh, models.TokenNotFound)
	}
	return m.RefreshFunc(ctx, refreshToken, meta)
}

func (m *MockAuthService) Logout(ctx context.Context, refreshToken, ipAddress string) error {
	if m.LogoutFunc == nil {
		return nil
	}
	return m.LogoutFunc(ctx, refreshToken, ipAddress)
}

func (m *MockAuthService) LogoutAll(ctx context.Context, userID, ipAddress string) (int64, error) {
	if m.LogoutAllFunc == nil {
		return 0, nil
	}
	return m.LogoutAllFunc(ctx, userID, ipAddress)
}

func (m *MockAuthService) Register(ctx context.Context, in services.RegisterInput) (*services.UserResponse, error) {
	if m.RegisterFunc == nil {
		return nil, models.ErrConflict
	}
	return m.RegisterFunc(ctx, in)
}

func (m *MockAuthService) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	if m.ChangePasswordFunc == nil {
		return nil
	}
	return m.ChangePasswordFunc(ctx, userID, currentPassword, newPassword)
}

func (m *MockAuthService) Sessions(ctx context.Context, userID, currentRefresh string) ([]models.Session, error) {
	if m.SessionsFunc == nil {
		return nil, nil
	}
	return m.SessionsFunc(ctx, userID, currentRefresh)
}

func (m *MockAuthService) RevokeSession(ctx context.Context, userID, sessionID, ipAddress string) error {
	if m.RevokeSessionFunc == nil {
		return nil
	}
	return m.RevokeSessionFunc(ctx, userID, sessionID, ipAddress)
}

func (m *MockAuthService) RevokeOtherSessions(ctx context.Context, userID, currentRefresh, ipAddress string) (int64, error) {
	if m.RevokeOtherSessionsFunc == nil {
		return 0, nil
	}
	return m.RevokeOtherSessionsFunc(ctx, userID, currentRefresh, ipAddress)
}

// MockPasswordResetService implements PasswordResetServiceInterface for testing
type MockPasswordResetService struct {
	InitiateFunc func(ctx context.Context, email, tenantID, ipAddress string) (*services.ResetInitiation, error)
	CompleteFunc func(ctx context.Context, token, newPassword string) error
}

func (m *MockPasswordResetService) Initiate(ctx context.Context, email, tenantID, ipAddress string) (*services.ResetInitiation, error) {
	if m.InitiateFunc == nil {
		return &services.ResetInitiation{}, nil
	}
	return m.InitiateFunc(ctx, email, tenantID, ipAddress)
}

func (m *MockPasswordResetService) Complete(ctx context.Context, token, newPassword string) error {
	if m.CompleteFunc == nil {
		return nil
	}
	return m.CompleteFunc(ctx, token, newPassword)
}
