// Package sandbox serves the Base and Drive wire protocols over the in-memory
// mocks so the HTTP clients can be exercised without the hosted service.
package sandbox

import (
	"errors"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/asyncdeta/deta_sdk_go/internal/logger"
	basemock "github.com/asyncdeta/deta_sdk_go/pkg/base/mock"
	"github.com/asyncdeta/deta_sdk_go/pkg/detaerr"
	drivemock "github.com/asyncdeta/deta_sdk_go/pkg/drive/mock"
)

const (
	// BasePrefix roots the Base routes; clients use <addr>/base/v1/ as base URL.
	BasePrefix = "/base/v1"
	// DrivePrefix roots the Drive routes; clients use <addr>/drive/v1/ as drive URL.
	DrivePrefix = "/drive/v1"
)

// Config tunes the sandbox.
type Config struct {
	// ProjectKey, when set, is the only X-API-Key accepted and its prefix the
	// only project id routed.
	ProjectKey string
	// Latency is added to every request.
	Latency time.Duration
	// FailRate is the probability in [0,1] of answering with FailCode instead.
	FailRate float64
	FailCode int
	// RateLimit caps requests per second per API key; 0 disables it.
	RateLimit float64
	RateBurst int
	Logger    *slog.Logger
}

// Server routes requests to the mocks.
type Server struct {
	cfg    Config
	bases  *basemock.Mock
	drives *drivemock.Mock
	engine *gin.Engine
	log    *slog.Logger
}

// New builds the gin engine. Nil mocks are replaced with empty ones.
func New(cfg Config, bases *basemock.Mock, drives *drivemock.Mock) *Server {
	if bases == nil {
		bases = basemock.New()
	}
	if drives == nil {
		drives = drivemock.New()
	}
	s := &Server{
		cfg:    cfg,
		bases:  bases,
		drives: drives,
		log:    logger.OrDiscard(cfg.Logger),
	}

	engine := gin.New()
	// Keys and upload ids may carry %2F; keep them in one path segment.
	engine.UseRawPath = true
	engine.UnescapePathValues = true
	engine.Use(gin.Recovery(), s.requestLog(), s.auth(), s.throttle(), s.inject())

	b := engine.Group(BasePrefix + "/:project/:base")
	b.GET("/items/:key", s.getItem)
	b.PUT("/items", s.putItems)
	b.POST("/items", s.insertItem)
	b.PATCH("/items/:key", s.updateItem)
	b.DELETE("/items/:key", s.deleteItem)
	b.POST("/query", s.query)

	d := engine.Group(DrivePrefix + "/:project/:drive")
	d.POST("/files", s.putFile)
	d.GET("/files", s.listFiles)
	d.DELETE("/files", s.deleteFiles)
	d.GET("/files/download", s.download)
	d.POST("/uploads", s.startUpload)
	d.POST("/uploads/:upload/parts", s.uploadPart)
	d.PATCH("/uploads/:upload", s.finishUpload)
	d.DELETE("/uploads/:upload", s.abortUpload)

	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"errors": []string{"route not found"}})
	})

	s.engine = engine
	return s
}

// Handler exposes the engine for http.Server or httptest.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("sandbox request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"elapsed", time.Since(start),
		)
	}
}

func (s *Server) auth() gin.HandlerFunc {
	want := strings.TrimSpace(s.cfg.ProjectKey)
	project, _, _ := strings.Cut(want, "_")
	return func(c *gin.Context) {
		key := c.GetHeader("X-API-Key")
		if key == "" || (want != "" && key != want) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"errors": []string{"Unauthorized"}})
			return
		}
		if project != "" && c.Param("project") != "" && c.Param("project") != project {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"errors": []string{"project does not match key"}})
			return
		}
		c.Next()
	}
}

func (s *Server) throttle() gin.HandlerFunc {
	if s.cfg.RateLimit <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	burst := s.cfg.RateBurst
	if burst < 1 {
		burst = 1
	}
	var (
		mu       sync.Mutex
		limiters = make(map[string]*rate.Limiter)
	)
	return func(c *gin.Context) {
		key := c.GetHeader("X-API-Key")
		mu.Lock()
		l, ok := limiters[key]
		if !ok {
			l = rate.NewLimiter(rate.Limit(s.cfg.RateLimit), burst)
			limiters[key] = l
		}
		mu.Unlock()
		if !l.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"errors": []string{"rate limit exceeded"}})
			return
		}
		c.Next()
	}
}

func (s *Server) inject() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.Latency > 0 {
			select {
			case <-time.After(s.cfg.Latency):
			case <-c.Request.Context().Done():
				c.Abort()
				return
			}
		}
		if s.cfg.FailRate > 0 && rand.Float64() < s.cfg.FailRate {
			code := s.cfg.FailCode
			if code == 0 {
				code = http.StatusInternalServerError
			}
			c.AbortWithStatusJSON(code, gin.H{"errors": []string{"failure injected"}})
			return
		}
		c.Next()
	}
}

// fail writes err in the service's {"errors": [...]} shape.
func fail(c *gin.Context, err error) {
	var de *detaerr.Error
	if errors.As(err, &de) {
		status := de.StatusCode
		if status == 0 {
			status = statusFor(de)
		}
		msgs := de.Messages
		if len(msgs) == 0 {
			msgs = []string{de.Error()}
		}
		c.JSON(status, gin.H{"errors": msgs})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"errors": []string{err.Error()}})
}

func statusFor(err error) int {
	switch {
	case detaerr.IsNotFound(err):
		return http.StatusNotFound
	case detaerr.IsKeyConflict(err):
		return http.StatusConflict
	case detaerr.IsBadRequest(err), detaerr.IsInvalidArgument(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func badBody(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"errors": []string{"invalid request body: " + err.Error()}})
}
