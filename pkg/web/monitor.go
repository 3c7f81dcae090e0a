package web

import (
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-esol/pkg/hub"
)

// handleMonitorWS streams session events to a supervisor
func (s *Server) handleMonitorWS(c *websocket.Conn) {
	if s.ctx.Err() != nil {
		return
	}
	hub.NewClient(s.hub, c).Run()
}
