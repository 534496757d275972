// README: Server-sent event stream of floor events for live viewers.
package handlers

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"floortwin/internal/broadcast"
	"floortwin/internal/modules/floor"
)

const streamHeartbeat = 15 * time.Second

// Subscriber is the side of the hub a viewer needs.
type Subscriber interface {
	Subscribe(topics ...broadcast.Topic) (*broadcast.Subscription, error)
}

type StreamHandler struct {
	hub   Subscriber
	floor *floor.Service
	log   logrus.FieldLogger
}

func NewStreamHandler(hub Subscriber, svc *floor.Service, log logrus.FieldLogger) *StreamHandler {
	return &StreamHandler{hub: hub, floor: svc, log: log}
}

type snapshot struct {
	VenueID string `json:"venue_id"`
	Tables  any    `json:"tables"`
	Orders  any    `json:"orders"`
}

// Stream subscribes to every ?topic= given. Venue topics get a snapshot
// event first; everything after it is a delta.
func (h *StreamHandler) Stream(c *gin.Context) {
	raw := c.QueryArray("topic")
	if len(raw) == 0 {
		writeError(c, http.StatusBadRequest, "missing topic")
		return
	}
	topics := make([]broadcast.Topic, 0, len(raw))
	for _, v := range raw {
		t, err := broadcast.ParseTopic(v)
		if err != nil {
			writeError(c, http.StatusBadRequest, err.Error())
			return
		}
		topics = append(topics, t)
	}

	// Subscribe before reading the snapshot so no change falls in between.
	sub, err := h.hub.Subscribe(topics...)
	if err != nil {
		writeError(c, http.StatusServiceUnavailable, err.Error())
		return
	}
	defer sub.Close()

	ctx := c.Request.Context()
	var snaps []snapshot
	for _, t := range topics {
		venueID, ok := t.Venue()
		if !ok {
			continue
		}
		tables, err := h.floor.FloorSnapshot(ctx, venueID)
		if err != nil {
			writeFloorError(c, err)
			return
		}
		orders, err := h.floor.ActiveOrders(ctx, venueID)
		if err != nil {
			writeFloorError(c, err)
			return
		}
		snaps = append(snaps, snapshot{VenueID: string(venueID), Tables: tables, Orders: orders})
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	for _, s := range snaps {
		c.SSEvent("snapshot", s)
	}
	c.Writer.Flush()

	h.log.WithFields(logrus.Fields{
		"subscription": sub.ID,
		"topics":       topics,
	}).Debug("stream opened")

	heartbeat := time.NewTicker(streamHeartbeat)
	defer heartbeat.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case e, ok := <-sub.C():
			if !ok {
				return false
			}
			c.SSEvent(string(e.Type), e)
			return true
		case <-heartbeat.C:
			c.SSEvent("ping", gin.H{"dropped": sub.Dropped()})
			return true
		}
	})

	h.log.WithFields(logrus.Fields{
		"subscription": sub.ID,
		"dropped":      sub.Dropped(),
	}).Debug("stream closed")
}
