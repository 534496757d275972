// README: API gateway; registers HTTP routes and delegates to the floor service.
package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"floortwin/internal/http/handlers"
	"floortwin/internal/http/middleware"
	"floortwin/internal/modules/floor"
)

type ServerDeps struct {
	Floor *floor.Service
	Hub   handlers.Subscriber
	// Gatherer backs /metrics; nil leaves the route out.
	Gatherer prometheus.Gatherer
	Logger   logrus.FieldLogger
	// SweepThreshold is the default for on-demand sweeps.
	SweepThreshold time.Duration
}

type Server struct {
	deps ServerDeps
}

func NewServer(deps ServerDeps) *Server {
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	if deps.SweepThreshold <= 0 {
		deps.SweepThreshold = floor.DefaultWaitThreshold
	}
	return &Server{deps: deps}
}

func (s *Server) Routes() http.Handler {
	r := gin.New()
	r.Use(middleware.Logging(s.deps.Logger), middleware.Recovery(s.deps.Logger))

	floorHandler := handlers.NewFloorHandler(s.deps.Floor, s.deps.SweepThreshold)
	streamHandler := handlers.NewStreamHandler(s.deps.Hub, s.deps.Floor, s.deps.Logger)

	api := r.Group("/api")
	api.POST("/tables/:id/orders", floorHandler.CreateOrder)
	api.POST("/tables/:id/state", floorHandler.SetTableState)
	api.POST("/tables/:id/recompute", floorHandler.RecomputeTable)

	api.GET("/orders/:id", floorHandler.GetOrder)
	api.POST("/orders/:id/status", floorHandler.Transition)
	api.POST("/orders/:id/payments", floorHandler.RecordPayment)

	api.GET("/venues/:id/floor", floorHandler.Floor)
	api.GET("/venues/:id/orders", floorHandler.ActiveOrders)

	api.POST("/sweeps", floorHandler.Sweep)
	api.GET("/stream", streamHandler.Stream)

	if s.deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))
	}
	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	return r
}
