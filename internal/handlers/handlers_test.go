package handlers_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"trustwork_backend/internal/auth"
	"trustwork_backend/internal/config"
	"trustwork_backend/internal/email"
	"trustwork_backend/internal/gateway"
	"trustwork_backend/internal/handlers"
	"trustwork_backend/internal/logger"
	"trustwork_backend/internal/middleware"
	"trustwork_backend/internal/models"
	"trustwork_backend/internal/realtime"
	"trustwork_backend/internal/repositories"
	"trustwork_backend/internal/routes"
	"trustwork_backend/internal/services"
	"trustwork_backend/internal/testutil"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const gatewaySecret = "handler-test-secret"

type api struct {
	t       *testing.T
	router  *gin.Engine
	db      *gorm.DB
	fx      *testutil.Fixtures
	tokens  *auth.TokenManager
	sandbox *gateway.Sandbox
}

func newAPI(t *testing.T) *api {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger.Init("test")

	db := testutil.NewTestDB(t)
	cfg := config.Default()
	sandbox := gateway.NewSandbox(gatewaySecret, "http://sandbox.local")
	container := services.NewServiceContainer(cfg, services.Infrastructure{
		DB:        db,
		Processor: sandbox,
		Mailer:    email.NewRecordingProvider(),
		Hub:       realtime.NewHub(64),
	})
	tokens := auth.NewTokenManager("jwt-secret", time.Hour)

	router := gin.New()
	router.Use(middleware.RequestIDMiddleware(), middleware.DBMiddleware(db))
	routes.RegisterRoutes(router, handlers.NewAppHandlers(container, db), nil,
		middleware.AuthMiddleware(tokens, repositories.NewProfileRepository(), db))

	return &api{
		t:       t,
		router:  router,
		db:      db,
		fx:      testutil.NewFixtures(t, db),
		tokens:  tokens,
		sandbox: sandbox,
	}
}

func (a *api) token(p *models.Profile) string {
	a.t.Helper()
	tok, err := a.tokens.GenerateToken(p.ID, string(p.Role))
	require.NoError(a.t, err)
	return tok
}

func (a *api) raw(method, path, token string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func (a *api) call(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	a.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(a.t, err)
	}
	return a.raw(method, path, token, payload)
}

// expect проверяет статус и разбирает тело ответа
func (a *api) expect(w *httptest.ResponseRecorder, status int, out interface{}) {
	a.t.Helper()
	require.Equal(a.t, status, w.Code, w.Body.String())
	if out != nil {
		require.NoError(a.t, json.Unmarshal(w.Body.Bytes(), out))
	}
}

type errorBody struct {
	Error struct {
		Code    string          `json:"code"`
		Domain  string          `json:"domain"`
		Message string          `json:"message"`
		Details json.RawMessage `json:"details"`
	} `json:"error"`
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body.Error.Code
}

func TestHealth(t *testing.T) {
	a := newAPI(t)

	var body map[string]interface{}
	a.expect(a.call(http.MethodGet, "/api/v1/health", "", nil), http.StatusOK, &body)
	assert.Equal(t, "ok", body["status"])

	w := a.call(http.MethodGet, "/api/v1/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHireToPayoutOverHTTP(t *testing.T) {
	a := newAPI(t)
	employer, _ := a.fx.Employer()
	freelancer, _ := a.fx.Freelancer("alice")
	a.fx.BankAccount(freelancer.ID, true)
	et, ft := a.token(employer), a.token(freelancer)

	var assignment models.Assignment
	a.expect(a.call(http.MethodPost, "/api/v1/assignments", et, map[string]interface{}{
		"title":       "Payments dashboard",
		"description": "Build a dashboard for reconciling card payments",
		"budget_max":  200_000,
		"budget_type": "fixed",
		"publish":     true,
	}), http.StatusCreated, &assignment)
	require.Equal(t, models.AssignmentStatusOpen, assignment.Status)

	var application models.Application
	a.expect(a.call(http.MethodPost, "/api/v1/applications", ft, map[string]interface{}{
		"assignment_id": assignment.ID,
		"cover_letter":  "I built two reconciliation dashboards last year and can start on Monday.",
	}), http.StatusCreated, &application)

	var accepted models.Application
	a.expect(a.call(http.MethodPatch, "/api/v1/applications/"+application.ID+"/status", et, map[string]interface{}{
		"status": "accepted",
	}), http.StatusOK, &accepted)
	assert.Equal(t, models.ApplicationStatusAccepted, accepted.Status)

	var gigs struct {
		Items []models.Gig `json:"items"`
		Total int64        `json:"total"`
	}
	a.expect(a.call(http.MethodGet, "/api/v1/gigs", ft, nil), http.StatusOK, &gigs)
	require.Len(t, gigs.Items, 1)
	gig := gigs.Items[0]
	assert.Equal(t, int64(200_000), gig.Budget)

	var defined struct {
		Milestones []models.Milestone `json:"milestones"`
	}
	a.expect(a.call(http.MethodPut, "/api/v1/gigs/"+gig.ID+"/milestones", et, map[string]interface{}{
		"milestones": []map[string]interface{}{
			{"title": "Design", "percentage": 100},
		},
	}), http.StatusOK, &defined)
	require.Len(t, defined.Milestones, 1)
	milestone := defined.Milestones[0]

	var checkout struct {
		Payment     models.EscrowPayment `json:"payment"`
		RedirectURL string               `json:"redirect_url"`
	}
	a.expect(a.call(http.MethodPost, "/api/v1/payments/checkout", et, map[string]interface{}{
		"gig_id":        gig.ID,
		"milestone_id":  milestone.ID,
		"freelancer_id": freelancer.ID,
		"gross_amount":  200_000,
		"buyer_email":   "client@example.com",
		"method":        "eft",
		"agreed":        true,
	}), http.StatusCreated, &checkout)
	assert.NotEmpty(t, checkout.RedirectURL)
	payment := checkout.Payment

	callback := a.sandbox.Callback(payment.ID, "paid", payment.TotalCharge)
	a.expect(a.raw(http.MethodPost, "/api/v1/payments/callback", "", callback), http.StatusOK, nil)

	path := "/api/v1/milestones/" + milestone.ID + "/transition"
	a.expect(a.call(http.MethodPost, path, ft, map[string]string{"action": "start"}), http.StatusOK, nil)
	a.expect(a.call(http.MethodPost, path, ft, map[string]string{"action": "submit"}), http.StatusOK, nil)
	var approved models.Milestone
	a.expect(a.call(http.MethodPost, path, et, map[string]string{"action": "approve", "expected_status": "submitted"}), http.StatusOK, &approved)
	assert.Equal(t, models.MilestoneStatusApproved, approved.Status)

	var released models.EscrowPayment
	a.expect(a.call(http.MethodGet, "/api/v1/payments/"+payment.ID, ft, nil), http.StatusOK, &released)
	assert.Equal(t, models.PaymentStatusReleased, released.Status)

	var detail struct {
		Status   models.GigStatus `json:"status"`
		Progress int              `json:"progress"`
	}
	a.expect(a.call(http.MethodGet, "/api/v1/gigs/"+gig.ID, et, nil), http.StatusOK, &detail)
	assert.Equal(t, 100, detail.Progress)
	assert.Equal(t, models.GigStatusCompleted, detail.Status)

	var unread struct {
		Count int64 `json:"count"`
	}
	a.expect(a.call(http.MethodGet, "/api/v1/notifications/unread-count", ft, nil), http.StatusOK, &unread)
	assert.Positive(t, unread.Count)

	var marked struct {
		Updated int `json:"updated"`
	}
	a.expect(a.call(http.MethodPost, "/api/v1/notifications/read-all", ft, nil), http.StatusOK, &marked)
	assert.Equal(t, int(unread.Count), marked.Updated)
	a.expect(a.call(http.MethodGet, "/api/v1/notifications/unread-count", ft, nil), http.StatusOK, &unread)
	assert.Zero(t, unread.Count)
}

func TestErrorResponses(t *testing.T) {
	a := newAPI(t)
	employer, _ := a.fx.Employer()
	freelancer, _ := a.fx.Freelancer("bob")
	et, ft := a.token(employer), a.token(freelancer)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   interface{}
		status int
		code   string
	}{
		{"no token", http.MethodGet, "/api/v1/gigs", "", nil, http.StatusUnauthorized, "UNAUTHENTICATED"},
		{"validation", http.MethodPost, "/api/v1/applications", ft, map[string]string{"cover_letter": "short"}, http.StatusBadRequest, "VALIDATION_FAILED"},
		{"wrong role", http.MethodPost, "/api/v1/applications", et, map[string]string{}, http.StatusForbidden, "UNAUTHORIZED"},
		{"admin only", http.MethodPost, "/api/v1/admin/safety-flags", et, map[string]string{}, http.StatusForbidden, "UNAUTHORIZED"},
		{"not found", http.MethodGet, "/api/v1/payments/" + "00000000-0000-0000-0000-000000000000", ft, nil, http.StatusNotFound, "NOT_FOUND"},
		{"bad milestone action", http.MethodPost, "/api/v1/milestones/x/transition", ft, map[string]string{"action": "dance"}, http.StatusBadRequest, "VALIDATION_FAILED"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := a.call(tc.method, tc.path, tc.token, tc.body)
			assert.Equal(t, tc.status, w.Code, w.Body.String())
			assert.Equal(t, tc.code, errorCode(t, w))
		})
	}
}

func TestCallbackRejectsBadSignature(t *testing.T) {
	a := newAPI(t)
	body := gateway.SignedCallback("someone-else", "ref", "sbx_ref", "paid", 100)

	w := a.raw(http.MethodPost, "/api/v1/payments/callback", "", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "GATEWAY_ERROR", errorCode(t, w))

	w = a.raw(http.MethodPost, "/api/v1/payments/callback", "", []byte("{not json"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBankAccountAndAdminVerify(t *testing.T) {
	a := newAPI(t)
	admin, _ := a.fx.Admin()
	freelancer, _ := a.fx.Freelancer("carol")
	ft := a.token(freelancer)

	var account struct {
		AccountNumber string `json:"account_number"`
		Verified      bool   `json:"verified"`
	}
	a.expect(a.call(http.MethodPut, "/api/v1/bank-account", ft, map[string]string{
		"bank_name":      "FNB",
		"account_number": "62001234567",
		"account_holder": "Carol",
	}), http.StatusOK, &account)
	assert.Equal(t, "*******4567", account.AccountNumber)
	assert.False(t, account.Verified)

	w := a.call(http.MethodPost, fmt.Sprintf("/api/v1/admin/bank-accounts/%s/verify", freelancer.ID), ft, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	a.expect(a.call(http.MethodPost, fmt.Sprintf("/api/v1/admin/bank-accounts/%s/verify", freelancer.ID), a.token(admin), nil), http.StatusOK, &account)
	assert.True(t, account.Verified)

	a.expect(a.call(http.MethodGet, "/api/v1/bank-account", ft, nil), http.StatusOK, &account)
	assert.True(t, account.Verified)
}
