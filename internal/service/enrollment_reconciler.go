package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/course-commerce-api/internal/dto"
	"github.com/noah-isme/course-commerce-api/internal/gateway"
	"github.com/noah-isme/course-commerce-api/internal/models"
	"github.com/noah-isme/course-commerce-api/internal/realtime"
	"github.com/noah-isme/course-commerce-api/internal/repository"
	"github.com/noah-isme/course-commerce-api/pkg/database"
	appErrors "github.com/noah-isme/course-commerce-api/pkg/errors"
	"github.com/noah-isme/course-commerce-api/pkg/jobs"
)

// JobTypeReconcile marks retry jobs for PENDING attempts.
const JobTypeReconcile = "enrollment.reconcile"

// JobTypeReconcilePayment marks retry jobs for payments whose success
// callback arrived but never got an attempt row.
const JobTypeReconcilePayment = "payment.reconcile"

const finalizeRestarts = 3

// orphanHorizon bounds how far back the sweeper looks for open payments
// without an attempt.
const orphanHorizon = 24 * time.Hour

type enrollmentStore interface {
	FindSuccess(ctx context.Context, userID, courseID string) (*models.Enrollment, error)
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	ListByUser(ctx context.Context, userID string) ([]models.Enrollment, error)
	ListStalePending(ctx context.Context, before time.Time, limit int) ([]models.Enrollment, error)
	EnsurePending(ctx context.Context, a repository.PendingAttempt) (*models.Enrollment, error)
	Discard(ctx context.Context, id string) error
	RecordError(ctx context.Context, id, lastErr string) error
	MarkFailed(ctx context.Context, a repository.PendingAttempt, reason string) (*models.Enrollment, error)
	Finalize(ctx context.Context, p repository.FinalizeParams) (*repository.FinalizeResult, error)
}

type paymentStore interface {
	Create(ctx context.Context, payment *models.Payment) error
	FindByOrderID(ctx context.Context, orderID string) (*models.Payment, error)
	FindByID(ctx context.Context, id string) (*models.Payment, error)
	AttachGatewayRefs(ctx context.Context, id, gatewayPaymentID, signature, method string) error
	MarkFailed(ctx context.Context, id, code, reason string) (bool, error)
	ListOrphaned(ctx context.Context, before, since time.Time, limit int) ([]models.Payment, error)
}

type checkoutOpener interface {
	OpenOrder(ctx context.Context, req gateway.OrderRequest) (*gateway.Order, error)
}

type signatureVerifier interface {
	Verify(orderID, paymentID, signature string) bool
}

type paymentConfirmer interface {
	Confirm(ctx context.Context, paymentID string) (*gateway.Confirmation, error)
}

type recordMutator interface {
	Mutate(ctx context.Context, m realtime.Mutation) (realtime.Record, error)
}

type jobEnqueuer interface {
	Enqueue(job jobs.Job) error
}

// Actor is the authenticated caller.
type Actor struct {
	UserID string
	Email  string
	Admin  bool
}

// ReconcilerDeps wires an EnrollmentReconciler.
type ReconcilerDeps struct {
	Enrollments enrollmentStore
	Payments    paymentStore
	Courses     courseReader
	Pricing     *CouponService
	Checkout    checkoutOpener
	Signatures  signatureVerifier
	Confirmer   paymentConfirmer
	Sync        recordMutator
	Retries     jobEnqueuer
	Notifier    Notifier
	Metrics     *MetricsService
	Validator   *validator.Validate
	Logger      *zap.Logger
	Currency    string
	// StaleAfter is how long a PENDING attempt must sit before the sweeper
	// picks it up.
	StaleAfter time.Duration
}

// EnrollmentReconciler turns gateway callbacks into enrollments. SUCCESS is
// absorbing per (user, course); only an explicit gateway failure produces
// FAILED; everything else leaves the attempt PENDING for the retry queue.
type EnrollmentReconciler struct {
	deps      ReconcilerDeps
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

func NewEnrollmentReconciler(deps ReconcilerDeps) *EnrollmentReconciler {
	if deps.Validator == nil {
		deps.Validator = validator.New()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Notifier == nil {
		deps.Notifier = NewLogNotifier(deps.Logger)
	}
	if deps.Currency == "" {
		deps.Currency = "IDR"
	}
	if deps.StaleAfter <= 0 {
		deps.StaleAfter = 2 * time.Minute
	}
	return &EnrollmentReconciler{
		deps:      deps,
		validator: deps.Validator,
		logger:    deps.Logger.With(zap.String("component", "reconciler")),
		now:       time.Now,
	}
}

// StartCheckout prices the course, pins the quote on a created Payment and
// opens a gateway order for it. Owners get their enrollment back instead.
func (s *EnrollmentReconciler) StartCheckout(ctx context.Context, actor Actor, req dto.CheckoutRequest) (*dto.CheckoutResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid checkout payload")
	}
	if existing, err := s.findSuccess(ctx, actor.UserID, req.CourseID); err != nil {
		return nil, err
	} else if existing != nil {
		return &dto.CheckoutResponse{AlreadyEnrolled: true, Enrollment: existing}, nil
	}

	course, err := s.deps.Pricing.loadCourse(ctx, req.CourseID)
	if err != nil {
		return nil, err
	}
	quote, err := s.deps.Pricing.price(ctx, actor.UserID, course, req.CouponCode)
	if err != nil {
		return nil, err
	}
	if !quote.Valid {
		return nil, couponRejected(quote.Reason)
	}

	payment := &models.Payment{
		ID:        uuid.NewString(),
		UserID:    actor.UserID,
		CourseID:  course.ID,
		Amount:    quote.FinalAmount,
		Currency:  firstNonEmpty(course.Currency, s.deps.Currency),
		ListPrice: quote.OrderAmount,
		Discount:  quote.Discount,
		OrderID:   "ord_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
	}
	if actor.Email != "" {
		payment.CustomerEmail = &actor.Email
	}
	if quote.CouponID != "" {
		payment.CouponID, payment.CouponCode = &quote.CouponID, &quote.CouponCode
	}
	if err := s.deps.Payments.Create(ctx, payment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create payment")
	}

	if payment.Amount == 0 {
		return s.completeFreeCheckout(ctx, actor, course, payment)
	}

	order, err := s.deps.Checkout.OpenOrder(ctx, gateway.OrderRequest{
		OrderID:     payment.OrderID,
		Amount:      payment.Amount,
		CourseID:    course.ID,
		CourseTitle: course.Title,
		Category:    course.Category,
		Email:       actor.Email,
		UserID:      actor.UserID,
	})
	if err != nil {
		if _, markErr := s.deps.Payments.MarkFailed(ctx, payment.ID, "CHECKOUT_UNAVAILABLE", err.Error()); markErr != nil {
			s.logger.Warn("mark payment failed", zap.String("payment_id", payment.ID), zap.Error(markErr))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrUpstream.Code, appErrors.ErrUpstream.Status, "payment gateway unavailable, please retry")
	}

	return &dto.CheckoutResponse{
		Payment: payment,
		Order:   &dto.CheckoutOrder{OrderID: order.OrderID, Token: order.Token, RedirectURL: order.RedirectURL},
	}, nil
}

// completeFreeCheckout finalizes a fully discounted order without a gateway.
func (s *EnrollmentReconciler) completeFreeCheckout(ctx context.Context, actor Actor, course *models.Course, payment *models.Payment) (*dto.CheckoutResponse, error) {
	reference := "free_" + payment.OrderID
	pending, winner, err := s.claimAttempt(ctx, repository.PendingAttempt{
		UserID: actor.UserID, CourseID: course.ID, PaymentRecordID: payment.ID, PaymentReference: reference, PaymentMethod: "coupon",
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open enrollment")
	}
	if winner != nil {
		return &dto.CheckoutResponse{AlreadyEnrolled: true, Enrollment: winner}, nil
	}
	conf := &gateway.Confirmation{PaymentID: reference, OrderID: payment.OrderID, Amount: 0, Method: "coupon"}
	enrollment, err := s.finalize(ctx, pending, payment, conf, actor.Email)
	if err != nil {
		return nil, s.parkPending(ctx, pending, payment, actor.Email, err)
	}
	return &dto.CheckoutResponse{AlreadyEnrolled: false, Enrollment: enrollment, Payment: payment}, nil
}

// Reconcile applies a gateway result for (actor, courseID). It is safe to
// call any number of times with the same result. A captured payment that
// cannot be finalized returns the PENDING attempt together with
// ErrReconciliationFailed.
func (s *EnrollmentReconciler) Reconcile(ctx context.Context, actor Actor, courseID string, result gateway.Result) (*models.Enrollment, error) {
	if result.Empty() || courseID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "gateway result and course are required")
	}
	if existing, err := s.findSuccess(ctx, actor.UserID, courseID); err != nil {
		return nil, err
	} else if existing != nil {
		s.deps.Metrics.ObserveReconciliation("already_enrolled")
		return existing, nil
	}

	if failure, ok := result.Failure(); ok {
		return s.applyFailure(ctx, actor, courseID, failure)
	}
	success, _ := result.Success()

	if !s.deps.Signatures.Verify(success.OrderID, success.PaymentID, success.Signature) {
		s.deps.Metrics.ObserveReconciliation("signature_mismatch")
		s.logger.Warn("callback signature mismatch", zap.String("order_id", success.OrderID), zap.String("user_id", actor.UserID))
		return nil, appErrors.Clone(appErrors.ErrSignatureMismatch, "")
	}

	payment, err := s.ownedPayment(ctx, actor.UserID, courseID, success.OrderID)
	if err != nil {
		return nil, err
	}
	if payment.Status == models.PaymentStatusFailed {
		return nil, appErrors.Clone(appErrors.ErrPaymentFailed, "this order was already declined; start a new checkout")
	}
	if err := s.deps.Payments.AttachGatewayRefs(ctx, payment.ID, success.PaymentID, success.Signature, success.Method); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record payment")
	}

	pending, winner, err := s.claimAttempt(ctx, repository.PendingAttempt{
		UserID: actor.UserID, CourseID: courseID, PaymentRecordID: payment.ID,
		PaymentReference: success.PaymentID, PaymentMethod: success.Method,
	})
	if winner != nil {
		s.deps.Metrics.ObserveReconciliation("already_enrolled")
		return winner, nil
	}
	if err != nil {
		// The charge went through but no attempt row exists yet. Retry by
		// payment; the sweeper finds it through ListOrphaned after a restart.
		s.logger.Error("open pending attempt failed", zap.String("payment_id", payment.ID), zap.Error(err))
		s.deps.Metrics.ObserveReconciliation("pending")
		s.enqueuePaymentRetry(payment.ID)
		return nil, appErrors.WithType(appErrors.Wrap(err, appErrors.ErrReconciliationFailed.Code,
			appErrors.ErrReconciliationFailed.Status, appErrors.ErrReconciliationFailed.Message),
			appErrors.TypeEnrollmentReconciliationFailed)
	}

	email := actor.Email
	if email == "" && payment.CustomerEmail != nil {
		email = *payment.CustomerEmail
	}
	enrollment, err := s.confirmAndFinalize(ctx, pending, payment, success.PaymentID, email)
	if err != nil {
		if terminal(err) {
			if recErr := s.deps.Enrollments.RecordError(ctx, pending.ID, err.Error()); recErr != nil {
				s.logger.Warn("record enrollment error failed", zap.String("enrollment_id", pending.ID), zap.Error(recErr))
			}
			return nil, err
		}
		return pending, s.parkPending(ctx, pending, payment, email, err)
	}
	return enrollment, nil
}

// confirmAndFinalize checks the amount with the payments backend and runs
// the finalize transaction.
func (s *EnrollmentReconciler) confirmAndFinalize(ctx context.Context, pending *models.Enrollment, payment *models.Payment, gatewayPaymentID, email string) (*models.Enrollment, error) {
	conf, err := s.deps.Confirmer.Confirm(ctx, gatewayPaymentID)
	if err != nil {
		return nil, fmt.Errorf("confirm payment: %w", err)
	}
	if !confirmedStatus(conf.Status) {
		return nil, fmt.Errorf("payment %s not settled yet (status %q)", gatewayPaymentID, conf.Status)
	}
	if conf.Amount != payment.Amount {
		s.deps.Metrics.ObserveReconciliation("amount_mismatch")
		s.logger.Warn("confirmed amount mismatch",
			zap.String("payment_id", payment.ID),
			zap.Int64("pinned", payment.Amount),
			zap.Int64("confirmed", conf.Amount))
		return nil, appErrors.Clone(appErrors.ErrAmountMismatch, "")
	}
	if conf.PaymentID == "" {
		conf.PaymentID = gatewayPaymentID
	}
	return s.finalize(ctx, pending, payment, conf, email)
}

// finalize runs the finalize transaction through the sync layer. A lost race
// restarts from the idempotency check and returns the winner's record.
func (s *EnrollmentReconciler) finalize(ctx context.Context, pending *models.Enrollment, payment *models.Payment, conf *gateway.Confirmation, email string) (*models.Enrollment, error) {
	attempt := pending
	for restart := 0; restart < finalizeRestarts; restart++ {
		enrollment, result, err := s.commitFinalize(ctx, attempt, payment, conf)
		if err == nil {
			s.afterFinalize(ctx, enrollment, result, email)
			return enrollment, nil
		}
		if errors.Is(err, repository.ErrPaymentNotCapturable) {
			return nil, appErrors.Clone(appErrors.ErrPaymentFailed, "payment was declined before it could be captured")
		}
		if !errors.Is(err, repository.ErrAttemptClosed) && !database.IsUniqueViolation(err, repository.SuccessConstraint) {
			return nil, err
		}

		winner, findErr := s.findSuccess(ctx, pending.UserID, pending.CourseID)
		if findErr != nil {
			return nil, findErr
		}
		if winner == nil {
			var reopened *models.Enrollment
			reopened, winner, err = s.claimAttempt(ctx, repository.PendingAttempt{
				UserID: pending.UserID, CourseID: pending.CourseID, PaymentRecordID: payment.ID,
				PaymentReference: conf.PaymentID, PaymentMethod: conf.Method,
			})
			if err != nil {
				return nil, fmt.Errorf("reopen pending attempt: %w", err)
			}
			if winner == nil {
				attempt = reopened
				continue
			}
		}
		if winner.ID != attempt.ID {
			if err := s.deps.Enrollments.Discard(ctx, attempt.ID); err != nil {
				s.logger.Warn("discard superseded attempt failed", zap.String("enrollment_id", attempt.ID), zap.Error(err))
			}
		}
		s.deps.Metrics.ObserveReconciliation("already_enrolled")
		return winner, nil
	}
	return nil, fmt.Errorf("finalize did not settle after %d restarts", finalizeRestarts)
}

// claimAttempt opens or refreshes the PENDING attempt. When a SUCCESS landed
// first it is returned as winner instead.
func (s *EnrollmentReconciler) claimAttempt(ctx context.Context, a repository.PendingAttempt) (attempt, winner *models.Enrollment, err error) {
	attempt, err = s.deps.Enrollments.EnsurePending(ctx, a)
	if !errors.Is(err, repository.ErrAttemptClosed) {
		return attempt, nil, err
	}
	winner, err = s.findSuccess(ctx, a.UserID, a.CourseID)
	if err == nil && winner == nil {
		err = errors.New("attempt closed without a successful enrollment")
	}
	return nil, winner, err
}

func (s *EnrollmentReconciler) commitFinalize(ctx context.Context, pending *models.Enrollment, payment *models.Payment, conf *gateway.Confirmation) (*models.Enrollment, *repository.FinalizeResult, error) {
	params := repository.FinalizeParams{
		EnrollmentID:     pending.ID,
		PaymentRecordID:  payment.ID,
		PaymentReference: conf.PaymentID,
		PaymentMethod:    conf.Method,
		PaidAmount:       conf.Amount,
		CouponID:         payment.CouponID,
		UserID:           pending.UserID,
	}

	var result *repository.FinalizeResult
	commit := func(ctx context.Context) (realtime.Record, error) {
		res, err := s.deps.Enrollments.Finalize(ctx, params)
		if err != nil {
			return nil, err
		}
		result = res
		return res.Enrollment, nil
	}

	if s.deps.Sync == nil {
		if _, err := commit(ctx); err != nil {
			return nil, nil, err
		}
		return result.Enrollment, result, nil
	}

	optimistic := *pending
	optimistic.Status = models.EnrollmentSuccess
	optimistic.PaidAmount = conf.Amount
	enrolledAt := s.now().UTC()
	optimistic.EnrolledAt = &enrolledAt
	if _, err := s.deps.Sync.Mutate(ctx, realtime.Mutation{
		Collection: models.CollectionEnrollments,
		Op:         realtime.OpUpsert,
		Record:     &optimistic,
		Fields:     map[string]string{"userId": pending.UserID, "courseId": pending.CourseID},
		Commit:     commit,
	}); err != nil {
		return nil, nil, err
	}
	return result.Enrollment, result, nil
}

func (s *EnrollmentReconciler) afterFinalize(ctx context.Context, enrollment *models.Enrollment, result *repository.FinalizeResult, email string) {
	s.deps.Metrics.ObserveReconciliation("success")
	switch {
	case result.CouponRedeemed:
		s.deps.Metrics.ObserveCouponRedemption("redeemed")
	case result.CouponExhausted:
		s.deps.Metrics.ObserveCouponRedemption("exhausted")
		s.logger.Warn("coupon limit reached between quote and capture; enrolled at quoted price",
			zap.String("enrollment_id", enrollment.ID))
	}
	s.logger.Info("enrollment finalized",
		zap.String("enrollment_id", enrollment.ID),
		zap.String("user_id", enrollment.UserID),
		zap.String("course_id", enrollment.CourseID),
		zap.Int64("paid_amount", enrollment.PaidAmount))

	if course, err := s.deps.Courses.FindByID(ctx, enrollment.CourseID); err == nil {
		if err := s.deps.Notifier.EnrollmentConfirmed(ctx, email, course, enrollment); err != nil {
			s.logger.Warn("enrollment email failed", zap.String("enrollment_id", enrollment.ID), zap.Error(err))
		}
	}
}

// parkPending records why finalizing failed, queues a retry and returns the
// error the caller should see.
func (s *EnrollmentReconciler) parkPending(ctx context.Context, pending *models.Enrollment, payment *models.Payment, email string, cause error) error {
	if terminal(cause) {
		return cause
	}
	s.deps.Metrics.ObserveReconciliation("pending")
	s.logger.Error("reconciliation left pending",
		zap.String("enrollment_id", pending.ID),
		zap.String("payment_id", payment.ID),
		zap.Error(cause))

	if err := s.deps.Enrollments.RecordError(ctx, pending.ID, cause.Error()); err != nil {
		s.logger.Warn("record enrollment error failed", zap.String("enrollment_id", pending.ID), zap.Error(err))
	}
	s.enqueueRetry(pending.ID)

	if course, err := s.deps.Courses.FindByID(ctx, pending.CourseID); err == nil {
		if err := s.deps.Notifier.EnrollmentPending(ctx, email, course, pending); err != nil {
			s.logger.Warn("pending email failed", zap.String("enrollment_id", pending.ID), zap.Error(err))
		}
	}
	return appErrors.WithType(appErrors.Wrap(cause, appErrors.ErrReconciliationFailed.Code,
		appErrors.ErrReconciliationFailed.Status, appErrors.ErrReconciliationFailed.Message),
		appErrors.TypeEnrollmentReconciliationFailed)
}

func (s *EnrollmentReconciler) enqueueRetry(enrollmentID string) {
	if s.deps.Retries == nil {
		return
	}
	job := jobs.Job{ID: "reconcile:" + enrollmentID, Type: JobTypeReconcile, Payload: enrollmentID}
	if err := s.deps.Retries.Enqueue(job); err != nil {
		s.logger.Warn("enqueue reconcile retry failed", zap.String("enrollment_id", enrollmentID), zap.Error(err))
	}
}

func (s *EnrollmentReconciler) enqueuePaymentRetry(paymentID string) {
	if s.deps.Retries == nil {
		return
	}
	job := jobs.Job{ID: "reconcile-payment:" + paymentID, Type: JobTypeReconcilePayment, Payload: paymentID}
	if err := s.deps.Retries.Enqueue(job); err != nil {
		s.logger.Warn("enqueue payment retry failed", zap.String("payment_id", paymentID), zap.Error(err))
	}
}

func (s *EnrollmentReconciler) applyFailure(ctx context.Context, actor Actor, courseID string, failure gateway.Failure) (*models.Enrollment, error) {
	payment, err := s.ownedPayment(ctx, actor.UserID, courseID, failure.OrderID)
	if err != nil {
		return nil, err
	}
	if payment.Status == models.PaymentStatusCaptured {
		return nil, appErrors.Clone(appErrors.ErrConflict, "payment already captured")
	}
	reason := strings.TrimSpace(failure.Code + ": " + failure.Description)
	if _, err := s.deps.Payments.MarkFailed(ctx, payment.ID, failure.Code, failure.Description); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record payment failure")
	}
	enrollment, err := s.deps.Enrollments.MarkFailed(ctx, repository.PendingAttempt{
		UserID: actor.UserID, CourseID: courseID, PaymentRecordID: payment.ID,
	}, reason)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record failed attempt")
	}
	s.deps.Metrics.ObserveReconciliation("failed")
	s.logger.Info("payment failed", zap.String("order_id", failure.OrderID), zap.String("code", failure.Code))
	return enrollment, nil
}

func (s *EnrollmentReconciler) ownedPayment(ctx context.Context, userID, courseID, orderID string) (*models.Payment, error) {
	payment, err := s.deps.Payments.FindByOrderID(ctx, orderID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "order not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load payment")
	}
	if payment.UserID != userID || payment.CourseID != courseID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "order does not belong to this checkout")
	}
	return payment, nil
}

// RetryPending pushes one PENDING attempt through confirmation and finalize
// again. Errors are returned raw so the queue can back off.
func (s *EnrollmentReconciler) RetryPending(ctx context.Context, enrollmentID string) (*models.Enrollment, error) {
	enrollment, err := s.deps.Enrollments.FindByID(ctx, enrollmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, err
	}
	if enrollment.Status != models.EnrollmentPending {
		return enrollment, nil
	}
	if winner, err := s.findSuccess(ctx, enrollment.UserID, enrollment.CourseID); err != nil {
		return nil, err
	} else if winner != nil {
		if err := s.deps.Enrollments.Discard(ctx, enrollment.ID); err != nil {
			s.logger.Warn("discard superseded attempt failed", zap.String("enrollment_id", enrollment.ID), zap.Error(err))
		}
		return winner, nil
	}
	if enrollment.PaymentRecordID == nil || enrollment.PaymentReference == nil {
		return enrollment, appErrors.Clone(appErrors.ErrPreconditionFailed, "attempt has no captured payment to reconcile")
	}

	payment, err := s.deps.Payments.FindByID(ctx, *enrollment.PaymentRecordID)
	if err != nil {
		return enrollment, fmt.Errorf("load payment: %w", err)
	}
	email := ""
	if payment.CustomerEmail != nil {
		email = *payment.CustomerEmail
	}

	var final *models.Enrollment
	if strings.HasPrefix(*enrollment.PaymentReference, "free_") {
		final, err = s.finalize(ctx, enrollment, payment,
			&gateway.Confirmation{PaymentID: *enrollment.PaymentReference, Amount: 0, Method: "coupon"}, email)
	} else {
		final, err = s.confirmAndFinalize(ctx, enrollment, payment, *enrollment.PaymentReference, email)
	}
	if err != nil {
		if recErr := s.deps.Enrollments.RecordError(ctx, enrollment.ID, err.Error()); recErr != nil {
			s.logger.Warn("record enrollment error failed", zap.String("enrollment_id", enrollment.ID), zap.Error(recErr))
		}
		return enrollment, err
	}
	return final, nil
}

// RetryPayment opens the missing attempt for an open payment that already
// carries gateway refs and finalizes it.
func (s *EnrollmentReconciler) RetryPayment(ctx context.Context, paymentID string) (*models.Enrollment, error) {
	payment, err := s.deps.Payments.FindByID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "payment not found")
		}
		return nil, fmt.Errorf("load payment: %w", err)
	}
	if payment.Status != models.PaymentStatusCreated || payment.PaymentID == nil {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "payment has nothing left to reconcile")
	}
	method := ""
	if payment.Method != nil {
		method = *payment.Method
	}
	pending, winner, err := s.claimAttempt(ctx, repository.PendingAttempt{
		UserID: payment.UserID, CourseID: payment.CourseID, PaymentRecordID: payment.ID,
		PaymentReference: *payment.PaymentID, PaymentMethod: method,
	})
	if winner != nil {
		return winner, nil
	}
	if err != nil {
		return nil, err
	}
	email := ""
	if payment.CustomerEmail != nil {
		email = *payment.CustomerEmail
	}
	final, err := s.confirmAndFinalize(ctx, pending, payment, *payment.PaymentID, email)
	if err != nil {
		if recErr := s.deps.Enrollments.RecordError(ctx, pending.ID, err.Error()); recErr != nil {
			s.logger.Warn("record enrollment error failed", zap.String("enrollment_id", pending.ID), zap.Error(recErr))
		}
		return pending, err
	}
	return final, nil
}

// HandleRetryJob is the retry queue handler.
func (s *EnrollmentReconciler) HandleRetryJob(ctx context.Context, job jobs.Job) error {
	id, ok := job.Payload.(string)
	if !ok || id == "" {
		return fmt.Errorf("reconcile job %s: bad payload %T", job.ID, job.Payload)
	}
	var err error
	switch job.Type {
	case JobTypeReconcilePayment:
		_, err = s.RetryPayment(ctx, id)
	default:
		_, err = s.RetryPending(ctx, id)
	}
	if terminal(err) || errors.Is(err, appErrors.ErrNotFound) || errors.Is(err, appErrors.ErrPreconditionFailed) {
		s.logger.Warn("reconcile retry gave up", zap.String("job_id", job.ID), zap.Error(err))
		return nil
	}
	return err
}

// EnqueueStale queues every PENDING attempt untouched for StaleAfter, plus
// every open payment with gateway refs that never got an attempt.
func (s *EnrollmentReconciler) EnqueueStale(ctx context.Context, limit int) (int, error) {
	before := s.now().Add(-s.deps.StaleAfter)
	stale, err := s.deps.Enrollments.ListStalePending(ctx, before, limit)
	if err != nil {
		return 0, err
	}
	for i := range stale {
		s.enqueueRetry(stale[i].ID)
	}
	orphaned, err := s.deps.Payments.ListOrphaned(ctx, before, s.now().Add(-orphanHorizon), limit)
	if err != nil {
		return len(stale), err
	}
	for i := range orphaned {
		s.enqueuePaymentRetry(orphaned[i].ID)
	}
	return len(stale) + len(orphaned), nil
}

// RetryNow synchronously retries the given attempts, or the oldest stale
// ones when none are named.
func (s *EnrollmentReconciler) RetryNow(ctx context.Context, req dto.RetryPendingRequest) (*dto.RetryPendingResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid retry payload")
	}
	ids := req.EnrollmentIDs
	if len(ids) == 0 {
		stale, err := s.deps.Enrollments.ListStalePending(ctx, s.now().Add(-s.deps.StaleAfter), req.Limit)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list pending enrollments")
		}
		for i := range stale {
			ids = append(ids, stale[i].ID)
		}
	}

	out := &dto.RetryPendingResult{StillOpen: []string{}}
	for _, id := range ids {
		out.Attempted++
		enrollment, err := s.RetryPending(ctx, id)
		if err == nil && enrollment.Active() {
			out.Succeeded++
			continue
		}
		out.StillOpen = append(out.StillOpen, id)
	}
	return out, nil
}

// ListForUser returns every attempt of the caller.
func (s *EnrollmentReconciler) ListForUser(ctx context.Context, userID string) ([]models.Enrollment, error) {
	list, err := s.deps.Enrollments.ListByUser(ctx, userID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	return list, nil
}

// Get returns one attempt. Only its owner or an admin may read it.
func (s *EnrollmentReconciler) Get(ctx context.Context, actor Actor, id string) (*models.Enrollment, error) {
	enrollment, err := s.deps.Enrollments.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if enrollment.UserID != actor.UserID && !actor.Admin {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
	}
	return enrollment, nil
}

func (s *EnrollmentReconciler) findSuccess(ctx context.Context, userID, courseID string) (*models.Enrollment, error) {
	existing, err := s.deps.Enrollments.FindSuccess(ctx, userID, courseID)
	if err == nil {
		return existing, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
}

func couponRejected(reason QuoteReason) *appErrors.Error {
	return appErrors.New("COUPON_"+string(reason), http.StatusUnprocessableEntity,
		"coupon cannot be applied: "+strings.ToLower(strings.ReplaceAll(string(reason), "_", " ")))
}

// terminal reports errors a retry cannot fix.
func terminal(err error) bool {
	return errors.Is(err, appErrors.ErrAmountMismatch) || errors.Is(err, appErrors.ErrPaymentFailed)
}

// confirmedStatus reports whether the payments backend considers the charge
// settled. A reply without a status is not.
func confirmedStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "captured", "capture", "settlement", "success", "paid":
		return true
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
