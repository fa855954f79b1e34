package server

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/zen-systems/helpgate/pkg/faq"
	"github.com/zen-systems/helpgate/pkg/logger"
	"github.com/zen-systems/helpgate/pkg/router"
	"github.com/zen-systems/helpgate/pkg/session"
)

type sessionRequest struct {
	SessionID string `json:"session_id"`
}

// escalatedByCustomer marks escalations requested through the API.
const escalatedByCustomer = "customer"

type escalateRequest struct {
	SessionID string `json:"session_id" binding:"required"`
	Reason    string `json:"reason"`
}

// sessionInfo is a session without its message log.
type sessionInfo struct {
	ID           string         `json:"session_id"`
	Status       session.Status `json:"status"`
	CreatedAt    time.Time      `json:"created_at"`
	LastActiveAt time.Time      `json:"last_active_at"`
	MessageCount int            `json:"message_count"`
	TotalTokens  int            `json:"total_tokens"`
	Escalations  int            `json:"escalations"`
}

func infoOf(s *session.Session) sessionInfo {
	return sessionInfo{
		ID:           s.ID,
		Status:       s.Status,
		CreatedAt:    s.CreatedAt,
		LastActiveAt: s.LastActiveAt,
		MessageCount: len(s.Messages),
		TotalTokens:  s.TotalTokens,
		Escalations:  len(s.Escalations),
	}
}

func (s *Server) health(c *gin.Context) {
	status := gin.H{"status": "ok", "faq_loaded": false, "faq_entries": 0}
	if s.index != nil {
		status["faq_loaded"] = s.index.Loaded()
		status["faq_entries"] = s.index.Len()
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) chat(c *gin.Context) {
	var req router.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, badRequest("invalid request body: "+err.Error()))
		return
	}
	start := time.Now()
	decision, err := s.router.Route(c.Request.Context(), req)
	s.usage.record(decision, err, time.Since(start))
	if err != nil {
		writeError(c, toAPIError(err))
		return
	}
	c.JSON(http.StatusOK, decision)
}

func (s *Server) createSession(c *gin.Context) {
	var req sessionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, badRequest("invalid request body: "+err.Error()))
			return
		}
	}
	created, err := s.sessions.Create(c.Request.Context(), strings.TrimSpace(req.SessionID))
	if err != nil {
		writeError(c, toAPIError(err))
		return
	}
	c.JSON(http.StatusCreated, infoOf(created))
}

func (s *Server) getSession(c *gin.Context) {
	sess, err := s.sessions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, toAPIError(err))
		return
	}
	c.JSON(http.StatusOK, infoOf(sess))
}

func (s *Server) transcript(c *gin.Context) {
	sess, err := s.sessions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, toAPIError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id":   sess.ID,
		"status":       sess.Status,
		"total_tokens": sess.TotalTokens,
		"messages":     sess.Messages,
		"escalations":  sess.Escalations,
	})
}

func (s *Server) escalate(c *gin.Context) {
	var req escalateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, badRequest("invalid request body: "+err.Error()))
		return
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "manual"
	}
	e, err := s.sessions.Escalate(c.Request.Context(), req.SessionID, reason, escalatedByCustomer)
	if err != nil {
		writeError(c, toAPIError(err))
		return
	}
	logger.FromContext(c.Request.Context()).Info("manual escalation created",
		"session", req.SessionID, "escalation_id", e.ID, "reason", reason)
	c.JSON(http.StatusOK, gin.H{
		"escalation_id": e.ID,
		"session_id":    req.SessionID,
		"status":        "created",
		"reason":        reason,
	})
}

func (s *Server) listSessions(c *gin.Context) {
	page, size, err := pageParams(c)
	if err != nil {
		writeError(c, badRequest(err.Error()))
		return
	}
	status := session.Status(c.Query("status"))
	if status != "" && !status.Valid() {
		writeError(c, badRequest("unknown status "+strconv.Quote(string(status))))
		return
	}
	summaries, err := s.sessions.List(c.Request.Context(), session.ListOptions{
		Status: status,
		Offset: (page - 1) * size,
		Limit:  size,
	})
	if err != nil {
		writeError(c, toAPIError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sessions": summaries,
		"page":     page,
		"limit":    size,
	})
}

func (s *Server) usageReport(c *gin.Context) {
	c.JSON(http.StatusOK, s.usage.report())
}

func (s *Server) searchFAQ(c *gin.Context) {
	query := strings.TrimSpace(c.Query("query"))
	if query == "" {
		writeError(c, badRequest("query is required"))
		return
	}
	limit, err := listLimit(c)
	if err != nil {
		writeError(c, badRequest(err.Error()))
		return
	}
	if s.index == nil {
		writeError(c, toAPIError(faq.ErrIndexUnavailable))
		return
	}
	res, err := s.index.Search(query, c.Query("category"))
	if err != nil {
		writeError(c, toAPIError(err))
		return
	}
	if len(res.Ranked) > limit {
		res.Ranked = res.Ranked[:limit]
	}
	if len(res.Accepted) > limit {
		res.Accepted = res.Accepted[:limit]
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) suggestions(c *gin.Context) {
	limit, err := listLimit(c)
	if err != nil {
		writeError(c, badRequest(err.Error()))
		return
	}
	if s.index == nil {
		writeError(c, toAPIError(faq.ErrIndexUnavailable))
		return
	}
	entries, err := s.index.Suggestions(limit)
	if err != nil {
		writeError(c, toAPIError(err))
		return
	}
	questions := make([]gin.H, 0, len(entries))
	for _, e := range entries {
		questions = append(questions, gin.H{"id": e.ID, "question": e.Question, "category": e.Category})
	}
	c.JSON(http.StatusOK, gin.H{"suggestions": questions})
}

func listLimit(c *gin.Context) (int, error) {
	raw := c.Query("limit")
	if raw == "" {
		return defaultListLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, &limitError{raw: raw}
	}
	return min(n, maxListLimit), nil
}

// pageParams reads 1-based page and page size query parameters.
func pageParams(c *gin.Context) (page, size int, err error) {
	page, size = 1, defaultPageSize
	if raw := c.Query("page"); raw != "" {
		page, err = strconv.Atoi(raw)
		if err != nil || page <= 0 {
			return 0, 0, fmt.Errorf("page must be a positive integer, got %q", raw)
		}
	}
	if raw := c.Query("limit"); raw != "" {
		size, err = strconv.Atoi(raw)
		if err != nil || size <= 0 {
			return 0, 0, &limitError{raw: raw}
		}
	}
	return page, min(size, maxPageSize), nil
}

type limitError struct{ raw string }

func (e *limitError) Error() string {
	return "limit must be a positive integer, got " + strconv.Quote(e.raw)
}
