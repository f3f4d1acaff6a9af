package http

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/fyrsmithlabs/groundd/internal/conversation"
	"github.com/fyrsmithlabs/groundd/internal/errkind"
	"github.com/fyrsmithlabs/groundd/internal/logging"
	"github.com/fyrsmithlabs/groundd/internal/reference"
	"github.com/fyrsmithlabs/groundd/internal/repository"
)

// CreateChatRequest is the request body for POST /api/v1/projects/:project/chats.
type CreateChatRequest struct {
	Title string `json:"title"`
}

// ChatResponse is a chat with its messages.
type ChatResponse struct {
	Chat     *repository.Chat         `json:"chat"`
	Messages []repository.ChatMessage `json:"messages"`
}

// ConverseRequest is one turn. Multipart requests carry the same fields as
// form values plus an optional "audio" file.
type ConverseRequest struct {
	Text          string   `json:"text"`
	Language      string   `json:"language"`
	TopK          int      `json:"top_k"`
	Temperature   *float64 `json:"temperature"`
	GenerateAudio bool     `json:"generate_audio"`
	Nonce         string   `json:"nonce"`
	DocumentIDs   []string `json:"document_ids"`
	Model         string   `json:"model"`
}

// TurnResponse is the outcome of a turn. Answer is the text in the user's
// language; Audio is the synthesized answer when requested.
type TurnResponse struct {
	Chat      *repository.Chat        `json:"chat"`
	Request   *repository.ChatMessage `json:"request"`
	Response  *repository.ChatMessage `json:"response"`
	Answer    string                  `json:"answer"`
	Reference reference.Blob          `json:"reference"`
	Model     string                  `json:"model"`
	Audio     []byte                  `json:"audio,omitempty"`
}

func turnResponse(res *conversation.Result) TurnResponse {
	return TurnResponse{
		Chat:      res.Chat,
		Request:   res.Request,
		Response:  res.Response,
		Answer:    res.Answer(),
		Reference: res.Reference,
		Model:     string(res.Model),
		Audio:     res.Response.Audio,
	}
}

// FeedbackRequest is the request body for POST /api/v1/messages/:message/feedback.
type FeedbackRequest struct {
	Liked   bool   `json:"liked"`
	Message string `json:"message"`
}

func (s *Server) handleCreateChat(c echo.Context) error {
	who := callerOf(c)
	if who.userID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, HeaderUserID+" header is required")
	}
	var req CreateChatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	chat, err := s.conversations.CreateChat(c.Request().Context(), conversation.NewChat{
		ProjectID:        c.Param("project"),
		UserID:           who.userID,
		Title:            req.Title,
		APIKey:           who.apiKey,
		AllowPlatformKey: who.allowPlatform,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, chat)
}

func (s *Server) handleListChats(c echo.Context) error {
	chats, err := s.store.ListChats(c.Request().Context(), c.Param("project"), callerOf(c).userID)
	if err != nil {
		return err
	}
	if chats == nil {
		chats = []repository.Chat{}
	}
	return c.JSON(http.StatusOK, chats)
}

func (s *Server) handleGetChat(c echo.Context) error {
	ctx := c.Request().Context()
	chat, err := s.store.GetChat(ctx, c.Param("chat"))
	if err != nil {
		return err
	}
	msgs, err := s.store.ListMessages(ctx, chat.ID)
	if err != nil {
		return err
	}
	if msgs == nil {
		msgs = []repository.ChatMessage{}
	}
	return c.JSON(http.StatusOK, ChatResponse{Chat: chat, Messages: msgs})
}

// handleConverse answers one turn. With ?stream=true the answer is sent as
// server-sent events: "delta" events with partial text, then one "done" or
// "error" event.
func (s *Server) handleConverse(c echo.Context) error {
	req, audio, err := s.converseRequest(c)
	if err != nil {
		return err
	}
	who := callerOf(c)
	turn := conversation.Turn{
		ChatID:           c.Param("chat"),
		UserID:           who.userID,
		Text:             req.Text,
		Audio:            audio,
		Language:         req.Language,
		TopK:             req.TopK,
		Temperature:      req.Temperature,
		GenerateAudio:    req.GenerateAudio,
		Nonce:            req.Nonce,
		APIKey:           who.apiKey,
		AllowPlatformKey: who.allowPlatform,
		DocumentIDs:      req.DocumentIDs,
		Model:            req.Model,
	}
	if turn.Text == "" && len(turn.Audio) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "text or audio is required")
	}

	ctx := logging.WithChatID(c.Request().Context(), turn.ChatID)
	if c.QueryParam("stream") != "true" {
		res, err := s.conversations.Converse(ctx, turn)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, turnResponse(res))
	}

	stream, err := s.conversations.ConverseStream(ctx, turn)
	if err != nil {
		return err
	}
	startSSE(c)
	for ev := range stream {
		switch ev.Type {
		case conversation.EventDelta:
			err = writeSSE(c, string(ev.Type), map[string]string{"delta": ev.Delta})
		case conversation.EventDone:
			err = writeSSE(c, string(ev.Type), turnResponse(ev.Result))
		case conversation.EventError:
			err = writeSSE(c, string(ev.Type), errorResponse(ev.Err))
		}
		if err != nil {
			// Client went away; the orchestrator stops on the canceled context.
			s.logger.Debug(ctx, "stream write failed")
		}
	}
	return nil
}

// converseRequest decodes a JSON or multipart turn.
func (s *Server) converseRequest(c echo.Context) (ConverseRequest, []byte, error) {
	var req ConverseRequest
	if !strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm) {
		if err := c.Bind(&req); err != nil {
			return req, nil, echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
		return req, nil, nil
	}

	r := c.Request()
	r.Body = http.MaxBytesReader(c.Response(), r.Body, s.config.MaxAudioBytes+1<<20)
	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return req, nil, echo.NewHTTPError(http.StatusRequestEntityTooLarge, "request too large")
		}
		return req, nil, echo.NewHTTPError(http.StatusBadRequest, "invalid multipart form")
	}

	req.Text = c.FormValue("text")
	req.Language = c.FormValue("language")
	req.Nonce = c.FormValue("nonce")
	req.Model = c.FormValue("model")
	req.DocumentIDs = form.Value["document_ids"]
	if v := c.FormValue("top_k"); v != "" {
		if req.TopK, err = strconv.Atoi(v); err != nil {
			return req, nil, formError("top_k", err)
		}
	}
	if v := c.FormValue("temperature"); v != "" {
		t, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return req, nil, formError("temperature", err)
		}
		req.Temperature = &t
	}
	if v := c.FormValue("generate_audio"); v != "" {
		if req.GenerateAudio, err = strconv.ParseBool(v); err != nil {
			return req, nil, formError("generate_audio", err)
		}
	}

	files := form.File["audio"]
	if len(files) == 0 {
		return req, nil, nil
	}
	if files[0].Size > s.config.MaxAudioBytes {
		return req, nil, echo.NewHTTPError(http.StatusRequestEntityTooLarge, "audio too large")
	}
	f, err := files[0].Open()
	if err != nil {
		return req, nil, fmt.Errorf("opening audio: %w", err)
	}
	defer f.Close()
	audio, err := io.ReadAll(f)
	if err != nil {
		return req, nil, fmt.Errorf("reading audio: %w", err)
	}
	return req, audio, nil
}

func formError(field string, err error) error {
	return errkind.E(errkind.Validation, "http.converse", fmt.Errorf("%s: %w", field, err))
}

func (s *Server) handleChatFeedback(c echo.Context) error {
	var req FeedbackRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ctx := c.Request().Context()
	msg, err := s.store.GetMessage(ctx, c.Param("message"))
	if err != nil {
		return err
	}
	if msg.Role != repository.RoleAssistant {
		return echo.NewHTTPError(http.StatusBadRequest, "feedback is only accepted on answers")
	}

	fb := &repository.ChatFeedback{
		MessageID: msg.ID,
		UserID:    callerOf(c).userID,
		Liked:     req.Liked,
		Message:   req.Message,
	}
	if err := s.store.CreateChatFeedback(ctx, fb); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, fb)
}
