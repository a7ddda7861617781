// Package api exposes the publish service over HTTP with gin.
//
// Read-side routes (version, bundles) are public. Editor routes require a
// bearer token; saving drafts and publishing additionally require a
// privileged role.
package api

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/dyluth/guidepost/internal/config"
	"github.com/dyluth/guidepost/internal/publish"
	"github.com/dyluth/guidepost/pkg/bundle"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Backend is the subset of *publish.Service the API calls.
type Backend interface {
	SaveDraft(ctx context.Context, principal, guideID string, patches map[bundle.Lang]bundle.GuidePatch) (*publish.DraftResult, error)
	Publish(ctx context.Context, principal, guideID string, patches map[bundle.Lang]bundle.GuidePatch, meta publish.PublishMeta) (*publish.PublishResult, error)
	GetDraft(ctx context.Context, guideID string) (*publish.GuideView, error)
	GetBundle(ctx context.Context, lang bundle.Lang) (*publish.BundleView, error)
	GetVersion(ctx context.Context) (int64, error)
	GetWorkflow(ctx context.Context, guideID string) (*bundle.WorkflowRecord, error)
	LockStatus(ctx context.Context) (*publish.LockView, error)
	Ping(ctx context.Context) error
}

// Server serves the HTTP API.
type Server struct {
	backend Backend
	auth    *config.AuthConfig
	engine  *gin.Engine
	server  *http.Server
}

// NewServer builds the router. auth may be nil, in which case every
// authenticated route answers 401.
func NewServer(backend Backend, auth *config.AuthConfig) *Server {
	if auth == nil {
		auth = &config.AuthConfig{}
	}

	s := &Server{backend: backend, auth: auth}

	engine := gin.New()
	engine.Use(gin.Recovery(), RequestID())

	engine.GET("/healthz", s.handleHealth)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := engine.Group("/v1")
	{
		v1.GET("/version", s.handleVersion)
		v1.GET("/bundles/:lang", s.handleBundle)

		editor := v1.Group("", Authenticate(auth))
		{
			editor.GET("/guides/:id/draft", s.handleGetDraft)
			editor.GET("/guides/:id/workflow", s.handleGetWorkflow)
			editor.GET("/lock", s.handleLockStatus)

			privileged := editor.Group("", RequirePrivileged(auth))
			privileged.PUT("/guides/:id/draft", s.handleSaveDraft)
			privileged.POST("/guides/:id/publish", s.handlePublish)
		}
	}

	s.engine = engine
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves on addr in the background.
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[API] Server error: %v", err)
		}
	}()

	log.Printf("[API] Listening on %s", addr)
	return nil
}

// Shutdown gracefully stops the server. In-flight publishes run to completion.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
