package api

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/dyluth/guidepost/internal/publish"
	"github.com/dyluth/guidepost/pkg/bundle"
	"github.com/gin-gonic/gin"
)

// GuideRequest is the body of PUT /v1/guides/:id/draft and
// POST /v1/guides/:id/publish.
type GuideRequest struct {
	Patches map[bundle.Lang]bundle.GuidePatch `json:"patches"`
	Source  bundle.PublishSource              `json:"source,omitempty"`
}

// ErrorResponse wraps every error body.
type ErrorResponse struct {
	Error publish.Outcome `json:"error"`
}

// HealthResponse is the JSON response structure for health checks.
type HealthResponse struct {
	Status string `json:"status"`
	Store  string `json:"store,omitempty"`
	Error  string `json:"error,omitempty"`
}

// handleHealth returns 200 if the store is reachable, 503 otherwise.
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := s.backend.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, HealthResponse{
			Status: "unhealthy",
			Store:  "disconnected",
			Error:  err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, HealthResponse{Status: "healthy", Store: "connected"})
}

func (s *Server) handleVersion(c *gin.Context) {
	version, err := s.backend.GetVersion(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"version": version})
}

func (s *Server) handleBundle(c *gin.Context) {
	view, err := s.backend.GetBundle(c.Request.Context(), bundle.Lang(c.Param("lang")))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) handleGetDraft(c *gin.Context) {
	view, err := s.backend.GetDraft(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) handleGetWorkflow(c *gin.Context) {
	rec, err := s.backend.GetWorkflow(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) handleLockStatus(c *gin.Context) {
	view, err := s.backend.LockStatus(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) handleSaveDraft(c *gin.Context) {
	req, ok := bindGuideRequest(c)
	if !ok {
		return
	}
	p, _ := GetPrincipal(c)

	result, err := s.backend.SaveDraft(c.Request.Context(), p.Name, c.Param("id"), req.Patches)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handlePublish(c *gin.Context) {
	req, ok := bindGuideRequest(c)
	if !ok {
		return
	}
	p, _ := GetPrincipal(c)

	result, err := s.backend.Publish(c.Request.Context(), p.Name, c.Param("id"), req.Patches, publish.PublishMeta{Source: req.Source})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func bindGuideRequest(c *gin.Context) (*GuideRequest, bool) {
	var req GuideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, publish.CodeInvalidRequest, "invalid request body: "+err.Error())
		return nil, false
	}
	if len(req.Patches) == 0 {
		abortWithError(c, http.StatusBadRequest, publish.CodeInvalidRequest, "patches is required")
		return nil, false
	}
	return &req, true
}

// writeError reports err with the status and body Classify assigns to it.
func writeError(c *gin.Context, err error) {
	outcome := publish.Classify(err)
	if outcome.Status >= http.StatusInternalServerError {
		log.Printf("[API] %s %s failed: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.AbortWithStatusJSON(outcome.Status, ErrorResponse{Error: outcome})
}

func abortWithError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{Error: publish.Outcome{
		Status:  status,
		Code:    code,
		Message: message,
	}})
}
