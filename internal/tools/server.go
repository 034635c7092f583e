package tools

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

// Server exposes the tool surface over loopback HTTP for the agent session.
type Server struct {
	echo    *echo.Echo
	service *Service
}

// NewServer builds the HTTP layer over svc.
func NewServer(svc *Service) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{echo: e, service: svc}

	e.POST("/tools/post_finding", s.handlePostFinding)
	e.POST("/tools/reply_to_thread", s.handleReplyToThread)
	e.POST("/tools/resolve_thread", s.handleResolveThread)
	e.GET("/tools/get_run_state", s.handleRunState)
	e.POST("/tools/submit_pass_results", s.handleSubmitPassResults)
	e.POST("/tools/escalate_dispute", s.handleEscalateDispute)

	return s
}

// Start listens on addr. Blocks until Shutdown.
func (s *Server) Start(addr string) error {
	log.Info().Str("addr", addr).Msg("Tool server listening")
	if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handlePostFinding(c echo.Context) error {
	var req PostFindingRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}
	resp, err := s.service.PostFinding(c.Request().Context(), req)
	if err != nil {
		return c.JSON(http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleReplyToThread(c echo.Context) error {
	var req ReplyRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}
	resp, err := s.service.ReplyToThread(c.Request().Context(), req)
	if err != nil {
		return c.JSON(http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleResolveThread(c echo.Context) error {
	var req ResolveRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}
	resp, err := s.service.ResolveThread(c.Request().Context(), req)
	if err != nil {
		return c.JSON(http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleRunState(c echo.Context) error {
	resp, err := s.service.RunState(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleSubmitPassResults(c echo.Context) error {
	var req SubmitPassRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}
	resp, err := s.service.SubmitPassResults(c.Request().Context(), req)
	if err != nil {
		return c.JSON(http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleEscalateDispute(c echo.Context) error {
	var req EscalateRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}
	resp, err := s.service.EscalateDispute(c.Request().Context(), req)
	if err != nil {
		return c.JSON(http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, resp)
}
