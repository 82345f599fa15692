// Package httpapi is the optional, read-only status and reporting HTTP surface named in
// SPEC_FULL.md §4.8: list/show jobs and stream stage transitions, never mutate a job. Grounded
// on the teacher's internal/api/router.go gin setup (gin.New + Recovery + custom logger
// middleware) and pkg/middleware's bearer-auth shape.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jfima/amanu/internal/cost"
	"github.com/jfima/amanu/internal/jobstore"
	"github.com/jfima/amanu/pkg/logger"
)

// Server exposes GET /jobs, GET /jobs/:id, GET /report, and GET /stream (SSE) behind bearer
// auth, with SSE connections instead scoped by a short-lived grant token.
type Server struct {
	store       *jobstore.FSStore
	index       *cost.Index
	broadcaster *Broadcaster
	tokenHash   string
	jwtSecret   []byte
}

// New builds the status server's gin engine wiring.
func New(store *jobstore.FSStore, index *cost.Index, broadcaster *Broadcaster, tokenHash string, jwtSecret []byte) *Server {
	return &Server{store: store, index: index, broadcaster: broadcaster, tokenHash: tokenHash, jwtSecret: jwtSecret}
}

// Broadcaster exposes the server's event fan-out so stage executors/the pipeline driver can
// publish transitions as they happen.
func (s *Server) Broadcaster() *Broadcaster { return s.broadcaster }

// Engine builds the gin engine. Call Run on the result to serve.
func (s *Server) Engine() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	logger.SetGinOutput()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.GinLogger())

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	authed := r.Group("/")
	authed.Use(BearerMiddleware(s.tokenHash))
	{
		authed.GET("/jobs", s.listJobs)
		authed.GET("/jobs/:id", s.showJob)
		authed.GET("/report", s.report)
		authed.POST("/jobs/:id/stream-grant", s.issueGrant)
	}

	r.GET("/stream", GrantMiddleware(s.jwtSecret), func(c *gin.Context) {
		s.broadcaster.ServeSSE(c.Writer, c.Request)
	})

	return r
}

func (s *Server) listJobs(c *gin.Context) {
	filter := jobstore.Filter{Status: jobstore.JobStatusFilter(c.Query("status"))}
	jobs, err := s.store.List(filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

func (s *Server) showJob(c *gin.Context) {
	job, err := s.store.Load(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, job)
}

func (s *Server) report(c *gin.Context) {
	var since time.Time
	if raw := c.Query("since"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			since = t
		}
	}
	totals, err := s.index.Report(since, c.Query("provider"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, totals)
}

func (s *Server) issueGrant(c *gin.Context) {
	jobID := c.Param("id")
	if _, err := s.store.Load(jobID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	token, err := IssueGrant(s.jwtSecret, jobID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"grant": token, "expires_in_seconds": int(grantTTL.Seconds())})
}
