package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/burrowq/burrow/pkg/command"
	"github.com/burrowq/burrow/pkg/errors"
	"github.com/burrowq/burrow/pkg/log"
	"github.com/burrowq/burrow/pkg/metrics"
	"github.com/burrowq/burrow/pkg/types"
)

const sessionHeader = "X-Session-Token"

// sessionSweepInterval is how often expired sessions are purged
const sessionSweepInterval = 5 * time.Minute

// Server is the HTTP shell over the command registry
type Server struct {
	registry   *command.Registry
	ctx        *command.Context
	sessionTTL time.Duration
	logger     zerolog.Logger

	httpServer *http.Server
	stopSweep  chan struct{}
}

// NewServer creates an API server
func NewServer(registry *command.Registry, cmdCtx *command.Context, listenAddr string, sessionTTL time.Duration) *Server {
	s := &Server{
		registry:   registry,
		ctx:        cmdCtx,
		sessionTTL: sessionTTL,
		logger:     log.WithComponent("api"),
		stopSweep:  make(chan struct{}),
	}
	s.httpServer = &http.Server{
		Addr:    listenAddr,
		Handler: s.router(),
	}
	return s
}

func (s *Server) router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.requestLogger())
	r.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", sessionHeader},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))

	r.GET("/healthz", s.handleHealth)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := r.Group("/api")
	{
		api.GET("/tools", s.handleTools)
		api.POST("/sessions", s.handleCreateSession)
		api.DELETE("/sessions", s.handleDeleteSession)
		api.POST("/commands/:name", s.handleCommand)
	}
	return r
}

// Start begins serving and the session sweep loop. It blocks until the
// listener fails or Stop is called.
func (s *Server) Start() error {
	go s.sweepSessions()
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("API server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop shuts the server down gracefully
func (s *Server) Stop(ctx context.Context) error {
	close(s.stopSweep)
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) sweepSessions() {
	ticker := time.NewTicker(sessionSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			removed, err := s.ctx.Store.CleanupExpiredSessions()
			if err != nil {
				s.logger.Error().Err(err).Msg("Session sweep failed")
				continue
			}
			if removed > 0 {
				s.logger.Debug().Int("removed", removed).Msg("Expired sessions purged")
			}
		case <-s.stopSweep:
			return
		}
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		elapsed := time.Since(start)

		metrics.APIRequestsTotal.WithLabelValues(c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		metrics.APIRequestDuration.WithLabelValues(c.Request.Method).Observe(elapsed.Seconds())

		s.logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("elapsed", elapsed).
			Msg("Request")
	}
}

// handleCommand is the generic dispatch endpoint. The JSON body is the
// raw argument map; a session token, when present, supplies worker_name
// for commands that want one.
func (s *Server) handleCommand(c *gin.Context) {
	name := c.Param("name")

	raw := map[string]any{}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&raw); err != nil {
			c.JSON(http.StatusBadRequest, command.Fail(
				errors.Validationf("request body is not a JSON object: %v", err)))
			return
		}
	}

	if token := c.GetHeader(sessionHeader); token != "" {
		sess, err := s.ctx.Store.GetSession(token)
		if err != nil || sess.Expired(time.Now().UTC()) {
			c.JSON(http.StatusUnauthorized, command.Fail(
				errors.Authorizationf("invalid or expired session token")))
			return
		}
		if _, ok := raw["worker_name"]; !ok {
			raw["worker_name"] = sess.AgentName
		}
		if _, ok := raw["project"]; !ok && sess.ProjectID != "" {
			raw["project"] = sess.ProjectID
		}
	}

	res := s.registry.Dispatch(s.ctx, name, raw)
	c.JSON(statusFor(res), res)
}

func (s *Server) handleHealth(c *gin.Context) {
	health := s.ctx.Store.HealthCheck()
	status := http.StatusOK
	if !health.Healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, health)
}

func (s *Server) handleTools(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tools": s.registry.ToolDescriptors()})
}

type createSessionRequest struct {
	AgentName string `json:"agent_name" binding:"required"`
	Project   string `json:"project,omitempty"`
}

// handleCreateSession issues a TTL-bound token for an agent name
func (s *Server) handleCreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, command.Fail(
			errors.Validationf("agent_name is required")))
		return
	}

	projectID := ""
	if req.Project != "" {
		p, err := s.ctx.Projects.Resolve(req.Project)
		if err != nil {
			c.JSON(statusForErr(err), command.Fail(err))
			return
		}
		projectID = p.ID
	}

	now := time.Now().UTC()
	sess := &types.Session{
		Token:     uuid.NewString(),
		AgentName: req.AgentName,
		ProjectID: projectID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.sessionTTL),
	}
	if err := s.ctx.Store.CreateSession(sess); err != nil {
		c.JSON(statusForErr(err), command.Fail(err))
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"token":      sess.Token,
		"agent_name": sess.AgentName,
		"expires_at": sess.ExpiresAt,
	})
}

// handleDeleteSession revokes the caller's token
func (s *Server) handleDeleteSession(c *gin.Context) {
	token := c.GetHeader(sessionHeader)
	if token == "" {
		c.JSON(http.StatusBadRequest, command.Fail(
			errors.Validationf("%s header is required", sessionHeader)))
		return
	}
	if err := s.ctx.Store.DeleteSession(token); err != nil {
		c.JSON(statusForErr(err), command.Fail(err))
		return
	}
	c.Status(http.StatusNoContent)
}

// statusFor maps a command result to an HTTP status
func statusFor(res *command.Result) int {
	if res.Success {
		return http.StatusOK
	}
	return statusForKind(errors.Kind(res.ErrorKind))
}

func statusForErr(err error) int {
	return statusForKind(errors.KindOf(err))
}

func statusForKind(kind errors.Kind) int {
	switch kind {
	case errors.KindValidation:
		return http.StatusBadRequest
	case errors.KindNotFound:
		return http.StatusNotFound
	case errors.KindConflict, errors.KindState:
		return http.StatusConflict
	case errors.KindAuthorization:
		return http.StatusForbidden
	case errors.KindLock:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
