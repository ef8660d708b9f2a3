package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/developer-mesh/answercache/pkg/answer"
	"github.com/developer-mesh/answercache/pkg/answer/analytics"
	"github.com/developer-mesh/answercache/pkg/answer/analyzer"
	"github.com/developer-mesh/answercache/pkg/answer/cache"
	"github.com/developer-mesh/answercache/pkg/answer/ratelimit"
	"github.com/developer-mesh/answercache/pkg/answer/warmup"
)

// Service is the part of answer.Service the API exposes
type Service interface {
	Enabled() bool
	Answer(ctx context.Context, req answer.AnswerRequest) (*cache.Answer, error)
	LookupAnswer(ctx context.Context, subjectID, question string) (*cache.Answer, bool)
	StoreAnswer(ctx context.Context, subjectID, question string, a *cache.Answer) error
	InvalidateSubject(ctx context.Context, subjectID string) int
	InvalidateCategory(ctx context.Context, category string) int
	Warmup(req warmup.Request) (string, error)
	WarmupStatus(subjectID string) (warmup.Status, bool)
	CancelWarmup(subjectID string) bool
	AnalyzeContent(ctx context.Context, c *analyzer.Content) []analyzer.Question
	GetCacheStats() cache.Stats
	GetRateLimitInfo() ratelimit.Info
	SetTier(tier ratelimit.Tier) error
	GetAnalyticsSummary() analytics.Summary
}

type askRequest struct {
	Question string `json:"question" binding:"required"`
	Context  string `json:"context"`
}

type storeRequest struct {
	Question string `json:"question" binding:"required"`
	Answer   string `json:"answer" binding:"required"`
	Model    string `json:"model"`
}

type warmupRequest struct {
	Questions []string          `json:"questions"`
	Content   *analyzer.Content `json:"content"`
	Context   string            `json:"context"`
	Config    *warmupConfig     `json:"config"`
}

type warmupConfig struct {
	MaxQuestions   int   `json:"max_questions"`
	StaggerDelayMs int64 `json:"stagger_delay_ms"`
	TimeoutMs      int64 `json:"timeout_ms"`
}

type tierRequest struct {
	Tier string `json:"tier" binding:"required"`
}

type answerResponse struct {
	SubjectID string        `json:"subject_id"`
	Source    cache.Source  `json:"source"`
	Answer    *cache.Answer `json:"answer"`
}

func (s *Server) askHandler(c *gin.Context) {
	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, ErrBadRequest, err.Error())
		return
	}
	subjectID := c.Param("subjectID")
	a, err := s.svc.Answer(c.Request.Context(), answer.AnswerRequest{
		SubjectID:      subjectID,
		Question:       req.Question,
		SubjectContext: req.Context,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, answerResponse{SubjectID: subjectID, Source: a.Source, Answer: a})
}

func (s *Server) lookupHandler(c *gin.Context) {
	subjectID := c.Param("subjectID")
	q := c.Query("q")
	if q == "" {
		abort(c, http.StatusBadRequest, ErrBadRequest, "query parameter q is required")
		return
	}
	a, ok := s.svc.LookupAnswer(c.Request.Context(), subjectID, q)
	if !ok {
		abort(c, http.StatusNotFound, ErrNotFound, "no cached answer")
		return
	}
	c.JSON(http.StatusOK, answerResponse{SubjectID: subjectID, Source: a.Source, Answer: a})
}

func (s *Server) storeHandler(c *gin.Context) {
	var req storeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, ErrBadRequest, err.Error())
		return
	}
	a := &cache.Answer{Content: req.Answer, Model: req.Model}
	if err := s.svc.StoreAnswer(c.Request.Context(), c.Param("subjectID"), req.Question, a); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) invalidateHandler(c *gin.Context) {
	removed := s.svc.InvalidateSubject(c.Request.Context(), c.Param("subjectID"))
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

func (s *Server) invalidateCategoryHandler(c *gin.Context) {
	removed := s.svc.InvalidateCategory(c.Request.Context(), c.Param("category"))
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

func (s *Server) warmupHandler(c *gin.Context) {
	var req warmupRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			abort(c, http.StatusBadRequest, ErrBadRequest, err.Error())
			return
		}
	}
	wr := warmup.Request{
		SubjectID:      c.Param("subjectID"),
		Questions:      req.Questions,
		Content:        req.Content,
		SubjectContext: req.Context,
	}
	if req.Config != nil {
		wr.Config = &warmup.Config{
			MaxQuestions: req.Config.MaxQuestions,
			StaggerDelay: time.Duration(req.Config.StaggerDelayMs) * time.Millisecond,
			Timeout:      time.Duration(req.Config.TimeoutMs) * time.Millisecond,
		}
	}
	jobID, err := s.svc.Warmup(wr)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job_id": jobID, "subject_id": wr.SubjectID})
}

func (s *Server) warmupStatusHandler(c *gin.Context) {
	st, ok := s.svc.WarmupStatus(c.Param("subjectID"))
	if !ok {
		abort(c, http.StatusNotFound, ErrNotFound, "no warmup job for subject")
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) cancelWarmupHandler(c *gin.Context) {
	if !s.svc.CancelWarmup(c.Param("subjectID")) {
		abort(c, http.StatusNotFound, ErrNotFound, "no running warmup job for subject")
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) analyzeHandler(c *gin.Context) {
	var content analyzer.Content
	if err := c.ShouldBindJSON(&content); err != nil {
		abort(c, http.StatusBadRequest, ErrBadRequest, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"questions": s.svc.AnalyzeContent(c.Request.Context(), &content)})
}

func (s *Server) cacheStatsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.svc.GetCacheStats())
}

func (s *Server) rateLimitHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.svc.GetRateLimitInfo())
}

func (s *Server) setTierHandler(c *gin.Context) {
	var req tierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, ErrBadRequest, err.Error())
		return
	}
	tier, err := ratelimit.ParseTier(req.Tier)
	if err != nil {
		abort(c, http.StatusBadRequest, ErrBadRequest, err.Error())
		return
	}
	if err := s.svc.SetTier(tier); err != nil {
		abort(c, http.StatusBadRequest, ErrBadRequest, err.Error())
		return
	}
	c.JSON(http.StatusOK, s.svc.GetRateLimitInfo())
}

func (s *Server) analyticsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.svc.GetAnalyticsSummary())
}

func (s *Server) healthHandler(c *gin.Context) {
	status := "ok"
	if !s.svc.Enabled() {
		status = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{"status": status, "cache_enabled": s.svc.Enabled()})
}
