package handler

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/course-commerce-api/internal/models"
	"github.com/noah-isme/course-commerce-api/internal/realtime"
	appErrors "github.com/noah-isme/course-commerce-api/pkg/errors"
	"github.com/noah-isme/course-commerce-api/pkg/response"
)

type snapshotSubscriber interface {
	Subscribe(ctx context.Context, q realtime.Query, consumer realtime.Consumer) (func(), error)
}

// syncCollections lists the streamable collections, the query parameters a
// client may filter on, and whether the stream is pinned to the caller.
var syncCollections = map[string]struct {
	filters []string
	perUser bool
}{
	models.CollectionCourses:     {filters: []string{"category"}},
	models.CollectionEnrollments: {filters: []string{"courseId", "status"}, perUser: true},
	models.CollectionProgress:    {filters: []string{"courseId"}, perUser: true},
}

type snapshotEvent struct {
	Collection string            `json:"collection"`
	Pending    bool              `json:"pending"`
	Records    []realtime.Record `json:"records"`
}

// SyncHandler streams live snapshots over server-sent events.
type SyncHandler struct {
	layer     snapshotSubscriber
	heartbeat time.Duration
	logger    *zap.Logger
}

// NewSyncHandler constructs the handler.
func NewSyncHandler(layer snapshotSubscriber, heartbeat time.Duration, logger *zap.Logger) *SyncHandler {
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncHandler{layer: layer, heartbeat: heartbeat, logger: logger}
}

// Stream godoc
// @Summary Live snapshots of a collection
// @Description Server-sent events. Each "snapshot" event replaces the previous result set.
// @Tags Sync
// @Produce text/event-stream
// @Param collection path string true "courses, enrollments or progress"
// @Param access_token query string false "Bearer token for EventSource clients"
// @Success 200 {string} string
// @Router /sync/{collection} [get]
func (h *SyncHandler) Stream(c *gin.Context) {
	if h.layer == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	collection := c.Param("collection")
	def, known := syncCollections[collection]
	if !known {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "unknown collection"))
		return
	}

	query := realtime.Query{Collection: collection, Filters: map[string]string{}}
	for _, name := range def.filters {
		if v := c.Query(name); v != "" {
			query.Filters[name] = v
		}
	}
	if def.perUser {
		query.Filters["userId"] = actor.UserID
	}

	// Only the newest snapshot matters, so a slow client just skips ahead.
	updates := make(chan realtime.Snapshot, 1)
	consumer := func(snap realtime.Snapshot) {
		for {
			select {
			case updates <- snap:
				return
			default:
			}
			select {
			case <-updates:
			default:
			}
		}
	}

	ctx := c.Request.Context()
	unsubscribe, err := h.layer.Subscribe(ctx, query, consumer)
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "subscription failed"))
		return
	}
	defer unsubscribe()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	logger := h.logger.With(zap.String("user_id", actor.UserID), zap.String("query", query.Key()))
	logger.Debug("sync stream opened")
	c.Status(http.StatusOK)
	c.Writer.Flush()
	for {
		select {
		case <-ctx.Done():
			logger.Debug("sync stream closed", zap.Error(ctx.Err()))
			return
		case <-heartbeat.C:
			if _, err := io.WriteString(c.Writer, ": ping\n\n"); err != nil {
				return
			}
		case snap := <-updates:
			records := snap.Records
			if records == nil {
				records = []realtime.Record{}
			}
			c.SSEvent("snapshot", snapshotEvent{Collection: collection, Pending: snap.Pending, Records: records})
		}
		c.Writer.Flush()
	}
}
