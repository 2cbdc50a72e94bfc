package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"

	"github.com/agentx/aitalk/internal/protocol"
	"github.com/agentx/aitalk/internal/services"
)

const (
	turnTimeout  = 90 * time.Second
	writeTimeout = 10 * time.Second

	turnFailedMessage = "Sorry, I couldn't process that. Please try again."
)

// Conversation is the server turn pipeline used by the chat socket.
type Conversation interface {
	Greeting() string
	StartSession(userID string) *services.ChatSession
	HandleAudio(ctx context.Context, session *services.ChatSession, audio []byte) (*services.TurnResult, error)
	EndSession(session *services.ChatSession)
}

// ChatHandler serves the voice conversation websocket
type ChatHandler struct {
	conversation Conversation
	logger       logrus.FieldLogger
}

func NewChatHandler(conversation Conversation, logger logrus.FieldLogger) *ChatHandler {
	return &ChatHandler{conversation: conversation, logger: logger}
}

// Serve handles WebSocket /ws/chat?user_id=<id>. Each audio_data frame is
// answered with user_message (when speech was understood) and ai_message, or
// with an error frame when the turn failed. The socket stays open across
// failed turns and malformed frames.
func (h *ChatHandler) Serve(c *websocket.Conn) {
	userID, _ := c.Locals("user_id").(string)
	log := h.logger.WithField("user_id", userID)

	session := h.conversation.StartSession(userID)
	defer func() {
		c.Close()
		h.conversation.EndSession(session)
		log.Info("Client disconnected")
	}()

	if greeting := h.conversation.Greeting(); greeting != "" {
		if err := send(c, protocol.AIMessage(greeting)); err != nil {
			log.WithError(err).Warn("Failed to send greeting")
			return
		}
	}

	for {
		messageType, data, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.WithError(err).Warn("Connection closed unexpectedly")
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		frame, err := protocol.Decode(data)
		if errors.Is(err, protocol.ErrUnknownType) {
			log.WithField("type", frame.Type).Debug("Ignoring unknown frame type")
			continue
		}
		if err != nil {
			log.WithError(err).Warn("Dropping malformed frame")
			continue
		}
		if frame.Type != protocol.TypeAudioData {
			continue
		}

		if err := h.handleTurn(c, session, frame.Audio); err != nil {
			log.WithError(err).Warn("Failed to write to client")
			return
		}
	}
}

func (h *ChatHandler) handleTurn(c *websocket.Conn, session *services.ChatSession, audio []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), turnTimeout)
	defer cancel()

	result, err := h.conversation.HandleAudio(ctx, session, audio)
	if err != nil {
		h.logger.WithError(err).WithField("user_id", session.UserID).Error("Turn failed")
		return send(c, protocol.ErrorMessage(turnFailedMessage))
	}

	if result.UserText != "" {
		if err := send(c, protocol.UserMessage(result.UserText)); err != nil {
			return err
		}
	}
	return send(c, protocol.AIMessage(result.Reply))
}

func send(c *websocket.Conn, frame protocol.Frame) error {
	data, err := protocol.Encode(frame)
	if err != nil {
		return err
	}
	if err := c.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.WriteMessage(websocket.TextMessage, data)
}
