package v1

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/lineai/server/chat"
	errs "github.com/hrygo/lineai/server/internal/errors"
)

// MessageResponse is the body of POST /api/v1/messages.
type MessageResponse struct {
	chat.Result
	// Reply is the text to deliver to the end user.
	Reply string `json:"reply"`
}

// CreateMessage processes an inbound message.
// POST /api/v1/messages
func (s *APIV1Service) CreateMessage(c echo.Context) error {
	var req chat.Request
	if err := c.Bind(&req); err != nil {
		slog.Warn("invalid message request", "error", err)
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}

	result := s.ChatService.ProcessMessage(c.Request().Context(), req)
	return c.JSON(http.StatusOK, MessageResponse{
		Result: result,
		Reply:  result.ReplyText(chat.Apology),
	})
}

// GetSessionSummary returns the conversation summary of a user.
// GET /api/v1/sessions/:userID/summary
func (s *APIV1Service) GetSessionSummary(c echo.Context) error {
	summary, err := s.ChatService.GetSessionSummary(c.Param("userID"))
	if err != nil {
		if errs.IsCode(err, errs.ErrCodeSessionNotFound) {
			return errorJSON(c, http.StatusNotFound, "session not found")
		}
		return errorJSON(c, http.StatusInternalServerError, "failed to build summary")
	}
	return c.JSON(http.StatusOK, summary)
}

// DeleteSession removes a user's session.
// DELETE /api/v1/sessions/:userID
func (s *APIV1Service) DeleteSession(c echo.Context) error {
	s.ChatService.ClearSession(c.Param("userID"))
	return c.NoContent(http.StatusNoContent)
}

// GetSessionStats returns session counts.
// GET /api/v1/sessions
func (s *APIV1Service) GetSessionStats(c echo.Context) error {
	return c.JSON(http.StatusOK, s.ChatService.SessionStats())
}
