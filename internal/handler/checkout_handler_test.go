package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-commerce-api/internal/dto"
	"github.com/noah-isme/course-commerce-api/internal/gateway"
	"github.com/noah-isme/course-commerce-api/internal/middleware"
	"github.com/noah-isme/course-commerce-api/internal/models"
	"github.com/noah-isme/course-commerce-api/internal/service"
	appErrors "github.com/noah-isme/course-commerce-api/pkg/errors"
)

type responseEnvelope struct {
	Success   bool                   `json:"success"`
	Data      map[string]interface{} `json:"data"`
	Error     string                 `json:"error"`
	ErrorType string                 `json:"errorType"`
	Code      string                 `json:"code"`
}

func newJSONContext(t *testing.T, method, target string, body interface{}) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(method, target, &buf)
	c.Request.Header.Set("Content-Type", "application/json")
	return c, rec
}

func asUser(c *gin.Context, userID string, role models.UserRole) {
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: userID, Email: userID + "@example.com", Role: role})
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) responseEnvelope {
	t.Helper()
	var env responseEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

type fakeCheckoutSrv struct {
	startResp  *dto.CheckoutResponse
	startErr   error
	enrollment *models.Enrollment
	err        error

	lastActor  service.Actor
	lastCourse string
	lastResult gateway.Result
}

func (f *fakeCheckoutSrv) StartCheckout(_ context.Context, actor service.Actor, _ dto.CheckoutRequest) (*dto.CheckoutResponse, error) {
	f.lastActor = actor
	return f.startResp, f.startErr
}

func (f *fakeCheckoutSrv) Reconcile(_ context.Context, actor service.Actor, courseID string, result gateway.Result) (*models.Enrollment, error) {
	f.lastActor, f.lastCourse, f.lastResult = actor, courseID, result
	return f.enrollment, f.err
}

func TestCheckoutHandlerStartRequiresUser(t *testing.T) {
	handler := NewCheckoutHandler(&fakeCheckoutSrv{})
	c, rec := newJSONContext(t, http.MethodPost, "/checkout", dto.CheckoutRequest{CourseID: "c1"})

	handler.Start(c)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCheckoutHandlerStartCreatesOrder(t *testing.T) {
	srv := &fakeCheckoutSrv{startResp: &dto.CheckoutResponse{
		Payment: &models.Payment{ID: "p1", Amount: 90000},
		Order:   &dto.CheckoutOrder{OrderID: "ord_1", Token: "snap-token"},
	}}
	handler := NewCheckoutHandler(srv)
	c, rec := newJSONContext(t, http.MethodPost, "/checkout", dto.CheckoutRequest{CourseID: "c1", CouponCode: "SAVE10"})
	asUser(c, "u1", models.RoleStudent)

	handler.Start(c)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "u1", srv.lastActor.UserID)
	assert.Equal(t, "u1@example.com", srv.lastActor.Email)
	env := decodeEnvelope(t, rec)
	order, ok := env.Data["order"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "snap-token", order["token"])
}

func TestCheckoutHandlerStartAlreadyEnrolled(t *testing.T) {
	srv := &fakeCheckoutSrv{startResp: &dto.CheckoutResponse{
		AlreadyEnrolled: true,
		Enrollment:      &models.Enrollment{ID: "e1", Status: models.EnrollmentSuccess},
	}}
	handler := NewCheckoutHandler(srv)
	c, rec := newJSONContext(t, http.MethodPost, "/checkout", dto.CheckoutRequest{CourseID: "c1"})
	asUser(c, "u1", models.RoleStudent)

	handler.Start(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeEnvelope(t, rec).Data["alreadyEnrolled"])
}

func TestCheckoutHandlerStartRejectsMalformedBody(t *testing.T) {
	handler := NewCheckoutHandler(&fakeCheckoutSrv{})
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPost, "/checkout", bytes.NewBufferString("{"))
	c.Request.Header.Set("Content-Type", "application/json")
	asUser(c, "u1", models.RoleStudent)

	handler.Start(c)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheckoutHandlerCallbackSuccess(t *testing.T) {
	srv := &fakeCheckoutSrv{enrollment: &models.Enrollment{ID: "e1", Status: models.EnrollmentSuccess}}
	handler := NewCheckoutHandler(srv)
	c, rec := newJSONContext(t, http.MethodPost, "/checkout/callback", dto.PaymentCallbackRequest{
		CourseID: "c1", PaymentID: "pay_1", OrderID: "ord_1", Signature: "sig",
	})
	asUser(c, "u1", models.RoleStudent)

	handler.Callback(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "c1", srv.lastCourse)
	success, ok := srv.lastResult.Success()
	require.True(t, ok)
	assert.Equal(t, "pay_1", success.PaymentID)
	assert.Equal(t, "SUCCESS", decodeEnvelope(t, rec).Data["status"])
}

func TestCheckoutHandlerCallbackPendingIsAccepted(t *testing.T) {
	cause := appErrors.WithType(
		appErrors.Wrap(assert.AnError, appErrors.ErrReconciliationFailed.Code, appErrors.ErrReconciliationFailed.Status, appErrors.ErrReconciliationFailed.Message),
		appErrors.TypeEnrollmentReconciliationFailed,
	)
	srv := &fakeCheckoutSrv{enrollment: &models.Enrollment{ID: "e1", Status: models.EnrollmentPending}, err: cause}
	handler := NewCheckoutHandler(srv)
	c, rec := newJSONContext(t, http.MethodPost, "/checkout/callback", dto.PaymentCallbackRequest{
		CourseID: "c1", PaymentID: "pay_1", OrderID: "ord_1", Signature: "sig",
	})
	asUser(c, "u1", models.RoleStudent)

	handler.Callback(c)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.False(t, env.Success)
	assert.Equal(t, string(appErrors.TypeEnrollmentReconciliationFailed), env.ErrorType)
	assert.Equal(t, "PENDING", env.Data["status"])
}

func TestCheckoutHandlerCallbackSignatureMismatch(t *testing.T) {
	srv := &fakeCheckoutSrv{err: appErrors.ErrSignatureMismatch}
	handler := NewCheckoutHandler(srv)
	c, rec := newJSONContext(t, http.MethodPost, "/checkout/callback", dto.PaymentCallbackRequest{
		CourseID: "c1", PaymentID: "pay_1", OrderID: "ord_1", Signature: "forged",
	})
	asUser(c, "u1", models.RoleStudent)

	handler.Callback(c)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "SIGNATURE_MISMATCH", decodeEnvelope(t, rec).Code)
}

func TestCheckoutHandlerFailureBuildsFailedResult(t *testing.T) {
	srv := &fakeCheckoutSrv{enrollment: &models.Enrollment{ID: "e1", Status: models.EnrollmentFailed}}
	handler := NewCheckoutHandler(srv)
	c, rec := newJSONContext(t, http.MethodPost, "/checkout/failure", dto.PaymentFailureRequest{
		CourseID: "c1", OrderID: "ord_1", Code: "DECLINED", Description: "card declined",
	})
	asUser(c, "u1", models.RoleStudent)

	handler.Failure(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	failure, ok := srv.lastResult.Failure()
	require.True(t, ok)
	assert.Equal(t, "DECLINED", failure.Code)
	assert.Equal(t, "ord_1", failure.OrderID)
}
