package handler

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-commerce-api/internal/models"
	"github.com/noah-isme/course-commerce-api/internal/realtime"
)

type fakeSubscriber struct {
	snapshot     *realtime.Snapshot
	err          error
	query        realtime.Query
	unsubscribed bool
}

func (f *fakeSubscriber) Subscribe(_ context.Context, q realtime.Query, consumer realtime.Consumer) (func(), error) {
	f.query = q
	if f.err != nil {
		return nil, f.err
	}
	if f.snapshot != nil {
		snap := *f.snapshot
		snap.Query = q
		consumer(snap)
	}
	return func() { f.unsubscribed = true }, nil
}

func TestSyncHandlerStreamsScopedSnapshot(t *testing.T) {
	sub := &fakeSubscriber{snapshot: &realtime.Snapshot{Records: []realtime.Record{
		&models.Enrollment{ID: "e1", UserID: "u1", CourseID: "c1", Status: models.EnrollmentSuccess},
	}}}
	handler := NewSyncHandler(sub, time.Hour, nil)
	c, rec := newJSONContext(t, http.MethodGet, "/sync/enrollments?courseId=c1&userId=u2", nil)
	c.Params = gin.Params{{Key: "collection", Value: models.CollectionEnrollments}}
	asUser(c, "u1", models.RoleStudent)

	ctx, cancel := context.WithCancel(context.Background())
	c.Request = c.Request.WithContext(ctx)
	time.AfterFunc(100*time.Millisecond, cancel)

	handler.Stream(c)

	assert.Equal(t, map[string]string{"userId": "u1", "courseId": "c1"}, sub.query.Filters)
	assert.True(t, sub.unsubscribed)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, "event:snapshot")
	assert.Contains(t, body, `"id":"e1"`)
}

func TestSyncHandlerHeartbeat(t *testing.T) {
	handler := NewSyncHandler(&fakeSubscriber{}, 10*time.Millisecond, nil)
	c, rec := newJSONContext(t, http.MethodGet, "/sync/courses", nil)
	c.Params = gin.Params{{Key: "collection", Value: models.CollectionCourses}}
	asUser(c, "u1", models.RoleStudent)

	ctx, cancel := context.WithCancel(context.Background())
	c.Request = c.Request.WithContext(ctx)
	time.AfterFunc(60*time.Millisecond, cancel)

	handler.Stream(c)

	assert.Contains(t, rec.Body.String(), ": ping")
}

func TestSyncHandlerUnknownCollection(t *testing.T) {
	handler := NewSyncHandler(&fakeSubscriber{}, 0, nil)
	c, rec := newJSONContext(t, http.MethodGet, "/sync/payments", nil)
	c.Params = gin.Params{{Key: "collection", Value: "payments"}}
	asUser(c, "u1", models.RoleStudent)

	handler.Stream(c)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSyncHandlerSubscribeFailure(t *testing.T) {
	handler := NewSyncHandler(&fakeSubscriber{err: errors.New("db down")}, 0, nil)
	c, rec := newJSONContext(t, http.MethodGet, "/sync/courses", nil)
	c.Params = gin.Params{{Key: "collection", Value: models.CollectionCourses}}
	asUser(c, "u1", models.RoleStudent)

	handler.Stream(c)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
