package web

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-esol/pkg/export"
	"github.com/teslashibe/go-esol/pkg/report"
	"github.com/teslashibe/go-esol/pkg/topic"
	"github.com/teslashibe/go-esol/pkg/transcript"
)

// handleHealth reports liveness
func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":   "ok",
		"version":  Version,
		"sessions": len(s.hub.Sessions()),
		"monitors": s.hub.ClientCount(),
	})
}

// handleListTopics returns the topic catalog
func (s *Server) handleListTopics(c *fiber.Ctx) error {
	return c.JSON(s.cfg.Catalog.All())
}

// handleGetTopic returns one topic
func (s *Server) handleGetTopic(c *fiber.Ctx) error {
	id, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid topic id"})
	}
	t, err := s.cfg.Catalog.Get(id)
	if errors.Is(err, topic.ErrUnknownTopic) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(t)
}

// handleListSessions returns the latest event of every connected learner
func (s *Server) handleListSessions(c *fiber.Ctx) error {
	return c.JSON(s.hub.Sessions())
}

// handleAssess runs the report requestor once on a posted transcript
func (s *Server) handleAssess(c *fiber.Ctx) error {
	turns, err := transcript.Decode(bytes.NewReader(c.Body()))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	rep, err := s.cfg.Metrics.InstrumentReporter(s.cfg.Reporter).Generate(c.UserContext(), turns)
	if err != nil {
		status := fiber.StatusBadGateway
		if errors.Is(err, report.ErrEmptyTranscript) {
			status = fiber.StatusBadRequest
		}
		s.logger.Warn("assessment failed", "error", err)
		return c.Status(status).JSON(fiber.Map{"error": "no report", "detail": err.Error()})
	}

	return c.JSON(fiber.Map{"report": rep, "transcript": turns})
}

// handleExport writes a finished session's report to Google Docs
func (s *Server) handleExport(c *fiber.Ctx) error {
	if s.cfg.Exporter == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "docs export is disabled"})
	}
	if !s.cfg.Exporter.IsAuthenticated() {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error":    "not connected to Google",
			"auth_url": "/api/docs/auth",
		})
	}

	cs, ok := s.lookup(c.Params("id"))
	if !ok || cs.Report == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "no report for session"})
	}

	title := fmt.Sprintf("ESOL practice: %s (%s)", cs.Topic.Title, cs.StartedAt.Format("2 Jan 2006 15:04"))
	docID, err := s.cfg.Exporter.ExportReport(c.UserContext(), title, cs.Transcript, cs.Report)
	if err != nil {
		s.logger.Warn("export failed", "session_id", cs.ID, "error", err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": err.Error()})
	}

	return c.JSON(fiber.Map{
		"document_id": docID,
		"url":         export.DocURL(docID),
	})
}

// handleDocsAuth starts the Google consent flow
func (s *Server) handleDocsAuth(c *fiber.Ctx) error {
	if s.cfg.Exporter == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "docs export is disabled"})
	}
	return c.Redirect(s.cfg.Exporter.AuthURL(), fiber.StatusTemporaryRedirect)
}

// handleDocsCallback completes the Google consent flow
func (s *Server) handleDocsCallback(c *fiber.Ctx) error {
	if s.cfg.Exporter == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "docs export is disabled"})
	}
	if msg := c.Query("error"); msg != "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
	}

	if err := s.cfg.Exporter.HandleCallback(c.UserContext(), c.Query("state"), c.Query("code")); err != nil {
		s.logger.Warn("docs callback failed", "error", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	return c.SendString("Connected to Google Docs. You can close this window.")
}
