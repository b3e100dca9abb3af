// Package web serves the HTTP surface consumed by the browser UI: JSON
// snapshots, run control, Prometheus metrics and a websocket event stream.
package web

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/signalsfoundry/wan-balancer-sim/internal/logging"
	"github.com/signalsfoundry/wan-balancer-sim/internal/observability"
	"github.com/signalsfoundry/wan-balancer-sim/internal/sim"
)

const requestIDHeader = "X-Request-ID"

// Options configures a Server. Nil fields fall back to no-ops, except
// Gatherer which falls back to the metrics collector's gatherer.
type Options struct {
	Log      logging.Logger
	Metrics  *observability.RPCCollector
	Gatherer prometheus.Gatherer
	Hub      *Hub
}

// Server wires the controller into a gin engine.
type Server struct {
	ctrl     *sim.Controller
	log      logging.Logger
	metrics  *observability.RPCCollector
	gatherer prometheus.Gatherer
	hub      *Hub
	engine   *gin.Engine
}

// NewServer builds the HTTP surface. When opts.Hub is set the server
// subscribes it to controller events; the caller runs the hub.
func NewServer(ctrl *sim.Controller, opts Options) *Server {
	log := opts.Log
	if log == nil {
		log = logging.Noop()
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = opts.Metrics.Gatherer()
	}
	s := &Server{
		ctrl:     ctrl,
		log:      log.With(logging.String("component", "web")),
		metrics:  opts.Metrics,
		gatherer: gatherer,
		hub:      opts.Hub,
	}
	if s.hub != nil {
		ctrl.Subscribe(s.hub.Publish)
	}
	s.engine = s.routes()
	return s
}

// Handler returns the gin engine as an http.Handler.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestID(), s.observe())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	api := r.Group("/api")
	{
		api.GET("/topology", s.handleTopology)
		api.GET("/status", s.handleStatus)
		api.GET("/frame", s.handleFrame)
		api.GET("/stats", s.handleStats)
		api.POST("/start", s.handleStart)
		api.POST("/stop", s.handleStop)
	}

	if s.hub != nil {
		r.GET("/ws", func(c *gin.Context) {
			s.hub.ServeWS(c.Writer, c.Request, s.handleControl)
		})
	}
	return r
}

// requestID propagates or assigns X-Request-ID and stores a request logger
// on the context.
func (s *Server) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if incoming := c.GetHeader(requestIDHeader); incoming != "" {
			ctx = logging.ContextWithRequestID(ctx, incoming)
		}
		ctx, reqLog := logging.WithRequestLogger(ctx, s.log.With(logging.String("path", c.Request.URL.Path)))
		ctx = logging.ContextWithLogger(ctx, reqLog)
		c.Request = c.Request.WithContext(ctx)
		c.Header(requestIDHeader, logging.RequestIDFromContext(ctx))
		c.Next()
	}
}

func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		s.metrics.ObserveHTTP(c.FullPath(), c.Request.Method, c.Writer.Status())
	}
}

func (s *Server) handleTopology(c *gin.Context) {
	c.JSON(http.StatusOK, s.ctrl.Topology().Snapshot())
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.ctrl.Status())
}

func (s *Server) handleFrame(c *gin.Context) {
	c.JSON(http.StatusOK, s.ctrl.Frame())
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.ctrl.Stats())
}

func (s *Server) handleStart(c *gin.Context) {
	ctx := c.Request.Context()
	runID, err := s.ctrl.Start(ctx)
	if err != nil {
		logging.FromContext(ctx, s.log).Warn(ctx, "start request failed", logging.Err(err))
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run_id": runID})
}

func (s *Server) handleStop(c *gin.Context) {
	if err := s.ctrl.Stop(c.Request.Context()); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.ctrl.Status())
}

func (s *Server) handleControl(ctx context.Context, msg ControlMessage) {
	var err error
	switch msg.Action {
	case "start":
		_, err = s.ctrl.Start(ctx)
	case "stop":
		err = s.ctrl.Stop(ctx)
	default:
		s.log.Debug(ctx, "unknown websocket action", logging.String("action", msg.Action))
		return
	}
	if err != nil {
		s.log.Warn(ctx, "websocket control failed",
			logging.String("action", msg.Action),
			logging.Err(err),
		)
	}
}

// statusFor maps controller errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, sim.ErrConfigurationRejected),
		errors.Is(err, sim.ErrRunActive),
		errors.Is(err, sim.ErrTopologyFrozen):
		return http.StatusConflict
	case errors.Is(err, sim.ErrInvalidSetting),
		errors.Is(err, sim.ErrInvalidLink),
		errors.Is(err, sim.ErrInvalidTopology):
		return http.StatusBadRequest
	case errors.Is(err, sim.ErrLinkNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
