package server

import (
	"net/url"
	"time"

	"prefrontal/app/model"

	"github.com/gofiber/fiber/v2"
)

type messageRequest struct {
	ID        string    `json:"id"`
	Time      time.Time `json:"time"`
	UserID    string    `json:"user_id" validate:"required"`
	Nickname  string    `json:"nickname"`
	Text      string    `json:"text" validate:"required"`
	ReplyToID string    `json:"reply_to_id"`
}

type notificationRequest struct {
	Type model.NotificationType `json:"type" validate:"required,oneof=new_message cold_chat"`
	Time time.Time              `json:"time"`
	Data any                    `json:"data" validate:"required"`
}

func (s *Server) health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "healthy",
	})
}

func (s *Server) ready(c *fiber.Ctx) error {
	if s.readiness != nil && s.readiness.Enabled() && !s.readiness.IsConnected() {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "not ready",
			"reason": "NATS not connected",
		})
	}

	return c.JSON(fiber.Map{
		"status": "ready",
	})
}

func (s *Server) listStreams(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"streams": s.streams.Keys(),
	})
}

func (s *Server) getStream(c *fiber.Ctx) error {
	key, err := streamKey(c)
	if err != nil {
		return err
	}

	status, ok := s.streams.Status(key)
	if !ok {
		return fiber.NewError(fiber.StatusNotFound, "conversation not found")
	}

	return c.JSON(status)
}

func (s *Server) deleteStream(c *fiber.Ctx) error {
	key, err := streamKey(c)
	if err != nil {
		return err
	}

	if !s.streams.Remove(key) {
		return fiber.NewError(fiber.StatusNotFound, "conversation not found")
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) postMessage(c *fiber.Ctx) error {
	key, err := streamKey(c)
	if err != nil {
		return err
	}

	var req messageRequest
	if err = c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid JSON body")
	}
	if err = s.validate.Struct(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	if req.Time.IsZero() {
		req.Time = time.Now()
	}

	msg := model.Message{
		ID:        req.ID,
		StreamKey: key,
		Time:      req.Time,
		UserID:    req.UserID,
		Nickname:  req.Nickname,
		Text:      req.Text,
		ReplyToID: req.ReplyToID,
	}

	if !s.ingress.Add(model.PlatformHTTP, msg) {
		return fiber.NewError(fiber.StatusServiceUnavailable, "inbound queue is full")
	}

	return c.SendStatus(fiber.StatusAccepted)
}

func (s *Server) postNotification(c *fiber.Ctx) error {
	key, err := streamKey(c)
	if err != nil {
		return err
	}

	var req notificationRequest
	if err = c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid JSON body")
	}
	if err = s.validate.Struct(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	if req.Time.IsZero() {
		req.Time = time.Now()
	}

	result, ok := s.notifier.Notify(model.Notification{
		Type:      req.Type,
		StreamKey: key,
		Time:      req.Time,
		Data:      req.Data,
	})
	if !ok {
		return fiber.NewError(fiber.StatusNotFound, "conversation not found")
	}

	response := fiber.Map{
		"outcome": result.Outcome.String(),
	}
	if result.Err != nil {
		response["error"] = result.Err.Error()
	}

	return c.JSON(response)
}

func streamKey(c *fiber.Ctx) (string, error) {
	key, err := url.PathUnescape(c.Params("key"))
	if err != nil {
		return "", fiber.NewError(fiber.StatusBadRequest, "invalid stream key")
	}

	if _, _, err = model.ParseStreamKey(key); err != nil {
		return "", fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	return key, nil
}
