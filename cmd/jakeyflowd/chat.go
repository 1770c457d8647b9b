package main

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/jakeyflow/core/llm"
	"github.com/jakeyflow/core/llm/assembler"
	"github.com/jakeyflow/core/llm/router"
	"github.com/jakeyflow/core/platform/chatadapter"
)

// ChatService wires the Conversation Assembler (C6) and the Provider
// Router (C4) into one end-to-end handler: assemble messages, route the
// completion request, persist the reply, and deliver it through a
// ChatPlatform.
type ChatService struct {
	assembler *assembler.Assembler
	router    *router.Router
	storage   assembler.Storage
	platform  chatadapter.ChatPlatform
	logger    *zap.Logger
}

// NewChatService constructs a ChatService. platform may be nil, in which
// case replies are returned in the HTTP response only.
func NewChatService(a *assembler.Assembler, r *router.Router, storage assembler.Storage, platform chatadapter.ChatPlatform, logger *zap.Logger) *ChatService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatService{assembler: a, router: r, storage: storage, platform: platform, logger: logger}
}

type chatCompletionRequest struct {
	UserID           string `json:"user_id"`
	ChannelID        string `json:"channel_id"`
	Message          string `json:"message"`
	SystemPrompt     string `json:"system_prompt"`
	Model            string `json:"model"`
	PreferredProvider string `json:"preferred_provider"`
}

type chatCompletionResponse struct {
	Reply    string `json:"reply"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Failover bool   `json:"failover"`
}

// ServeHTTP implements POST /v1/chat/completions: assemble history plus the
// incoming message, route the completion, persist and deliver the reply.
func (c *ChatService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req chatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.UserID == "" || req.Message == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user_id and message are required"})
		return
	}

	ctx := r.Context()

	assembled, err := c.assembler.Assemble(ctx, assembler.Request{
		UserID:           req.UserID,
		ChannelID:        req.ChannelID,
		BaseSystemPrompt: req.SystemPrompt,
		CurrentMessage:   llm.Message{Role: llm.RoleUser, Content: req.Message},
		Model:            req.Model,
	})
	if err != nil {
		c.logger.Error("assembly failed", zap.Error(err), zap.String("request_id", RequestIDFromContext(ctx)))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to assemble conversation"})
		return
	}

	result, err := c.router.RouteGenerateText(ctx, router.Request{
		Messages:          assembled.Messages,
		Model:             req.Model,
		PreferredProvider: llm.ProviderName(req.PreferredProvider),
		UserID:            req.UserID,
		TraceID:           RequestIDFromContext(ctx),
	})
	if err != nil {
		c.logger.Warn("routing failed", zap.Error(err), zap.String("request_id", RequestIDFromContext(ctx)))
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "all providers failed"})
		return
	}

	reply := ""
	if len(result.Response.Choices) > 0 {
		reply = result.Response.Choices[0].Message.Content
	}

	if c.storage != nil {
		meta := map[string]string{"provider": string(result.Provider), "model": result.Model}
		if err := c.storage.AppendAssistantReply(ctx, req.UserID, req.ChannelID, reply, meta); err != nil {
			c.logger.Warn("failed to persist reply", zap.Error(err))
		}
	}

	if c.platform != nil {
		if err := c.platform.Send(ctx, req.UserID, req.ChannelID, reply); err != nil {
			c.logger.Warn("platform delivery failed", zap.Error(err))
		}
	}

	writeJSON(w, http.StatusOK, chatCompletionResponse{
		Reply:    reply,
		Provider: string(result.Provider),
		Model:    result.Model,
		Failover: result.Failover,
	})
}
