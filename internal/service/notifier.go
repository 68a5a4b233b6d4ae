package service

import (
	"context"
	"fmt"
	"html"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"

	"github.com/noah-isme/course-commerce-api/internal/models"
)

// Notifier tells learners what happened to their purchase.
type Notifier interface {
	EnrollmentConfirmed(ctx context.Context, email string, course *models.Course, enrollment *models.Enrollment) error
	EnrollmentPending(ctx context.Context, email string, course *models.Course, enrollment *models.Enrollment) error
}

type mailSender interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// EmailNotifier sends transactional email through SendGrid.
type EmailNotifier struct {
	client mailSender
	from   *mail.Email
	logger *zap.Logger
}

func NewEmailNotifier(apiKey, fromEmail, fromName string, logger *zap.Logger) *EmailNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EmailNotifier{
		client: sendgrid.NewSendClient(apiKey),
		from:   mail.NewEmail(fromName, fromEmail),
		logger: logger,
	}
}

func (n *EmailNotifier) EnrollmentConfirmed(ctx context.Context, email string, course *models.Course, enrollment *models.Enrollment) error {
	subject := fmt.Sprintf("You're enrolled in %s", course.Title)
	body := fmt.Sprintf("Your payment was received and %s is now unlocked. Enrollment reference: %s.", course.Title, enrollment.ID)
	return n.send(ctx, email, subject, body)
}

func (n *EmailNotifier) EnrollmentPending(ctx context.Context, email string, course *models.Course, enrollment *models.Enrollment) error {
	subject := fmt.Sprintf("We have your payment for %s", course.Title)
	body := fmt.Sprintf("Your payment for %s was received and access is being finalized. "+
		"If the course is not unlocked shortly, contact support with reference %s.", course.Title, enrollment.ID)
	return n.send(ctx, email, subject, body)
}

func (n *EmailNotifier) send(ctx context.Context, to, subject, body string) error {
	if to == "" {
		return nil
	}
	msg := mail.NewSingleEmail(n.from, subject, mail.NewEmail("", to), body, "<p>"+html.EscapeString(body)+"</p>")
	resp, err := n.client.SendWithContext(ctx, msg)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("send email: status %d", resp.StatusCode)
	}
	n.logger.Debug("email sent", zap.String("subject", subject))
	return nil
}

// LogNotifier only logs. Used when no SendGrid key is configured.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) EnrollmentConfirmed(_ context.Context, _ string, course *models.Course, enrollment *models.Enrollment) error {
	n.logger.Info("enrollment confirmed", zap.String("course_id", course.ID), zap.String("enrollment_id", enrollment.ID))
	return nil
}

func (n *LogNotifier) EnrollmentPending(_ context.Context, _ string, course *models.Course, enrollment *models.Enrollment) error {
	n.logger.Info("enrollment pending", zap.String("course_id", course.ID), zap.String("enrollment_id", enrollment.ID))
	return nil
}
