// Package api is the read-only administrative HTTP interface exposing
// cluster status. It runs on a separate worker from the supervisor's
// decision loop and only ever reads immutable snapshots (spec.md §5).
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"governor/coordination"
)

// Server exposes /health, /cluster/status, and /cluster/leader, grounded on
// the teacher's APIServer (controller_go/api.go), trimmed to read-only
// cluster inspection since this module has no app-management surface.
type Server struct {
	engine *gin.Engine
	cc     coordination.CC
	self   string
}

// NewServer builds a Server bound to cc for cluster-view reads. self is
// reported in responses so operators can tell which node answered.
func NewServer(self string, cc coordination.CC) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET"},
	}))

	s := &Server{engine: engine, cc: cc, self: self}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/cluster/status", s.handleStatus)
	s.engine.GET("/cluster/leader", s.handleLeader)
}

// Run blocks serving HTTP on addr.
func (s *Server) Run(addr string) error {
	return s.engine.Run(addr)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "node": s.self})
}

func (s *Server) handleStatus(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	view, err := s.cc.GetCluster(ctx)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	members := make([]gin.H, 0, len(view.Members))
	for _, m := range view.Members {
		members = append(members, gin.H{"name": m.Name, "conn_url": m.ConnURL})
	}

	leaderName := ""
	if view.Leader != nil {
		leaderName = view.Leader.Name
	}

	c.JSON(http.StatusOK, gin.H{
		"node":         s.self,
		"leader":       leaderName,
		"members":      members,
		"last_op":      view.LastLeaderOperation,
		"initializer":  view.Initialize,
	})
}

func (s *Server) handleLeader(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	view, err := s.cc.GetCluster(ctx)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	if view.Leader == nil {
		c.JSON(http.StatusNotFound, gin.H{"leader": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"leader": view.Leader.Name, "conn_url": view.Leader.ConnURL})
}
