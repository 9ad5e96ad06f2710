// Package query serves the read API: latest and as-of rollup rows straight
// from the state stores.
package query

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"DealMetrics/internal/metric"
	"DealMetrics/internal/observability"
	"DealMetrics/internal/store"
)

// Server exposes rollup state over HTTP. Reads go to the same stores the
// engine appends to, so a returned row is always a fully absorbed state.
type Server struct {
	stores  map[string]store.Store
	schemas map[string]metric.Schema
	health  *observability.HealthChecker
	log     zerolog.Logger
	metrics *observability.Metrics
}

func NewServer(stores map[string]store.Store, schemas map[string]metric.Schema, health *observability.HealthChecker, log zerolog.Logger, metrics *observability.Metrics) *Server {
	return &Server{
		stores:  stores,
		schemas: schemas,
		health:  health,
		log:     log,
		metrics: metrics,
	}
}

// Router builds the gin engine with all routes attached.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", gin.WrapF(s.health.LivenessHandler))
	r.GET("/readyz", gin.WrapF(s.health.ReadinessHandler))

	api := r.Group("/api/v1")
	api.GET("/rollups", s.listRollups)
	api.GET("/rollups/:rollup/latest", s.getLatest)
	api.GET("/rollups/:rollup/asof", s.getAsOf)

	return r
}

func (s *Server) listRollups(c *gin.Context) {
	names := make([]string, 0, len(s.schemas))
	for name := range s.schemas {
		names = append(names, name)
	}
	c.JSON(http.StatusOK, gin.H{"rollups": names})
}

// getLatest returns the latest row for a grouping key:
// GET /api/v1/rollups/:rollup/latest?server=S&login=N (account rollups)
// GET /api/v1/rollups/:rollup/latest?server=S&position=N (position rollup)
// GET /api/v1/rollups/:rollup/latest?login=N (daily snapshots)
func (s *Server) getLatest(c *gin.Context) {
	s.lookup(c, "latest", func(st store.Store, rollup string, key store.Key) (store.Row, error) {
		return st.GetLatest(c.Request.Context(), rollup, key)
	})
}

// getAsOf returns the newest row at or before ?unix=<seconds>.
func (s *Server) getAsOf(c *gin.Context) {
	unix, err := strconv.ParseInt(c.Query("unix"), 10, 64)
	if err != nil {
		s.reject(c, "asof", http.StatusBadRequest, "unix query parameter must be an integer")
		return
	}
	s.lookup(c, "asof", func(st store.Store, rollup string, key store.Key) (store.Row, error) {
		return st.GetAsOf(c.Request.Context(), rollup, key, unix)
	})
}

func (s *Server) lookup(c *gin.Context, endpoint string, fetch func(store.Store, string, store.Key) (store.Row, error)) {
	start := time.Now()
	rollup := c.Param("rollup")

	st, ok := s.stores[rollup]
	if !ok {
		s.reject(c, endpoint, http.StatusNotFound, "unknown rollup")
		return
	}

	key, err := s.keyFromQuery(rollup, c)
	if err != nil {
		s.reject(c, endpoint, http.StatusBadRequest, err.Error())
		return
	}

	row, err := fetch(st, rollup, key)
	if err != nil {
		s.log.Error().Err(err).Str("rollup", rollup).Str("key", string(key)).Msg("store lookup failed")
		if s.metrics != nil {
			s.metrics.QueryErrors.WithLabelValues(endpoint, "store").Inc()
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	if row == nil {
		s.reject(c, endpoint, http.StatusNotFound, "no state for key")
		return
	}

	if s.metrics != nil {
		s.metrics.QueryRequests.WithLabelValues(endpoint, "ok").Inc()
		s.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}
	c.JSON(http.StatusOK, row)
}

func (s *Server) reject(c *gin.Context, endpoint string, status int, msg string) {
	if s.metrics != nil {
		s.metrics.QueryRequests.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
	}
	c.JSON(status, gin.H{"error": msg})
}

// keyFromQuery derives the grouping key for a rollup from query parameters,
// mirroring the calculators' key derivation.
func (s *Server) keyFromQuery(rollup string, c *gin.Context) (store.Key, error) {
	switch rollup {
	case metric.RollupPositionByDeal:
		position, err := strconv.ParseInt(c.Query("position"), 10, 64)
		if err != nil {
			position = 0
		}
		return metric.PositionKey(c.Query("server"), position)
	case metric.RollupDailySnapshot:
		login, err := strconv.ParseInt(c.Query("login"), 10, 64)
		if err != nil || login == 0 {
			return "", errLoginRequired
		}
		return metric.LoginKey(login), nil
	default:
		login, err := strconv.ParseInt(c.Query("login"), 10, 64)
		if err != nil {
			login = 0
		}
		return metric.AccountKey(c.Query("server"), login)
	}
}
