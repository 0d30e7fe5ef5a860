package httpapi

import (
	"encoding/json"
	"net/http"
)

// chatMessage is the OpenAI chat-completion message shape, trimmed to the
// fields process_query can actually use (the last user message's content).
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatCompletionChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatCompletionResponse struct {
	ID      string                  `json:"id"`
	Object  string                  `json:"object"`
	Model   string                  `json:"model"`
	Choices []chatCompletionChoice  `json:"choices"`
}

// handleChatCompletions adapts process_query to the OpenAI chat-completions
// shape: the last user message becomes the query text, and the winning
// answer becomes the assistant's reply.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req chatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	var lastUserText string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			lastUserText = req.Messages[i].Content
			break
		}
	}
	if lastUserText == "" || len(lastUserText) > maxQueryLen {
		writeError(w, http.StatusBadRequest, "no usable user message found")
		return
	}

	result := s.orch.ProcessQuery(r.Context(), lastUserText, nil)

	resp := chatCompletionResponse{
		ID:     result.QueryID,
		Object: "chat.completion",
		Model:  "kitbash",
		Choices: []chatCompletionChoice{{
			Index:        0,
			Message:      chatMessage{Role: "assistant", Content: result.Answer},
			FinishReason: "stop",
		}},
	}
	writeJSON(w, http.StatusOK, resp)
}

type modelsResponse struct {
	Object string      `json:"object"`
	Data   []modelData `json:"data"`
}

type modelData struct {
	ID     string `json:"id"`
	Object string `json:"object"`
}

// handleModels reports the single synthetic model backing /v1/chat/completions.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, modelsResponse{
		Object: "list",
		Data:   []modelData{{ID: "kitbash", Object: "model"}},
	})
}
