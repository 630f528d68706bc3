// ABOUTME: Fake conversation-state service handlers
// ABOUTME: Thread CRUD, metadata search, and a scripted or echoing SSE stream endpoint

package fakeapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/2389/threadsync/internal/auth"
)

// SeedThread stores a thread with existing history and pending interrupts.
func (s *Server) SeedThread(id string, metadata map[string]any, messages []Message, interrupts ...json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if _, ok := s.threads[id]; !ok {
		s.order = append(s.order, id)
	}
	s.threads[id] = &thread{
		ID:         id,
		Status:     "idle",
		Metadata:   metadata,
		CreatedAt:  now,
		UpdatedAt:  now,
		Messages:   messages,
		Interrupts: interrupts,
	}
}

// HasThread reports whether the conversation-state side holds id.
func (s *Server) HasThread(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.threads[id]
	return ok
}

// Messages returns a copy of a thread's persisted messages.
func (s *Server) Messages(id string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	th, ok := s.threads[id]
	if !ok {
		return nil
	}
	return slices.Clone(th.Messages)
}

// SetScript replaces the stream for a thread with fixed frames. Each frame
// is written as "data: <frame>" followed by a blank line, so a script can
// include malformed payloads and the "[DONE]" sentinel.
func (s *Server) SetScript(threadID string, frames ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[threadID] = frames
}

func (s *Server) handleCreateThread(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Metadata map[string]any `json:"metadata"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}

	s.mu.Lock()
	s.seq++
	id := fmt.Sprintf("t%d", s.seq)
	now := s.now()
	s.threads[id] = &thread{
		ID:        id,
		Status:    "idle",
		Metadata:  req.Metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.order = append(s.order, id)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"thread_id":  id,
		"created_at": formatTime(now),
		"metadata":   req.Metadata,
	})
}

func (s *Server) handleGetThread(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	s.mu.Lock()
	th, ok := s.threads[id]
	var body map[string]any
	if ok {
		interrupts := th.Interrupts
		if interrupts == nil {
			interrupts = []json.RawMessage{}
		}
		body = map[string]any{
			"thread_id": th.ID,
			"values":    map[string]any{"messages": slices.Clone(th.Messages)},
			"tasks":     []map[string]any{{"interrupts": interrupts}},
		}
	}
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "thread not found")
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleDeleteThread(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	s.mu.Lock()
	_, ok := s.threads[id]
	if ok {
		delete(s.threads, id)
		s.order = slices.DeleteFunc(s.order, func(v string) bool { return v == id })
	}
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "thread not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSearchThreads(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Limit    int            `json:"limit"`
		Offset   int            `json:"offset"`
		Metadata map[string]any `json:"metadata"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Limit <= 0 {
		req.Limit = 10
	}
	if c := auth.FromContext(r.Context()); c != nil && !c.IsAdmin() {
		if req.Metadata == nil {
			req.Metadata = map[string]any{}
		}
		req.Metadata["user_id"] = c.Subject
	}

	s.mu.Lock()
	out := []map[string]any{}
	skipped := 0
	for _, id := range s.order {
		th := s.threads[id]
		if !metadataMatches(th.Metadata, req.Metadata) {
			continue
		}
		if skipped < req.Offset {
			skipped++
			continue
		}
		if len(out) == req.Limit {
			break
		}
		out = append(out, map[string]any{
			"thread_id":  th.ID,
			"status":     th.Status,
			"created_at": formatTime(th.CreatedAt),
			"updated_at": formatTime(th.UpdatedAt),
			"metadata":   th.Metadata,
			"values":     map[string]any{"messages": slices.Clone(th.Messages)},
		})
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, out)
}

func metadataMatches(have, want map[string]any) bool {
	for k, v := range want {
		if fmt.Sprint(have[k]) != fmt.Sprint(v) {
			return false
		}
	}
	return true
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req struct {
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	var userText string
	for _, m := range req.Messages {
		if m.Role == "user" {
			userText = m.Content
		}
	}

	s.mu.Lock()
	th, ok := s.threads[id]
	var script []string
	if ok {
		script = s.scripts[id]
		now := s.now()
		s.msgSeq++
		th.Messages = append(th.Messages, Message{
			ID:        fmt.Sprintf("m%d", s.msgSeq),
			Type:      "human",
			Content:   userText,
			Timestamp: formatTime(now),
		})
		th.UpdatedAt = now
		th.Status = "busy"
	}
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "thread not found")
		return
	}

	flusher, canFlush := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	write := func(frame string) {
		fmt.Fprintf(w, "data: %s\n\n", frame)
		if canFlush {
			flusher.Flush()
		}
	}

	if script != nil {
		for _, frame := range script {
			if r.Context().Err() != nil {
				return
			}
			write(frame)
		}
		s.finishStream(id, "")
		return
	}

	reply := EchoReply(userText)
	for _, word := range strings.SplitAfter(reply, " ") {
		if r.Context().Err() != nil {
			return
		}
		data, _ := json.Marshal(map[string]any{"type": "delta", "data": word})
		write(string(data))
	}
	s.finishStream(id, reply)
	write(`{"type":"finish","data":{}}`)
	write("[DONE]")
}

// finishStream marks the thread idle and persists the assistant reply, if any.
func (s *Server) finishStream(id, reply string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	th, ok := s.threads[id]
	if !ok {
		return
	}
	th.Status = "idle"
	if reply == "" {
		return
	}
	s.msgSeq++
	th.Messages = append(th.Messages, Message{
		ID:        fmt.Sprintf("m%d", s.msgSeq),
		Type:      "ai",
		Content:   reply,
		Timestamp: formatTime(s.now()),
	})
}

// EchoReply is the fake agent's answer to input.
func EchoReply(input string) string {
	lower := strings.ToLower(input)
	if strings.Contains(lower, "markdown") || strings.Contains(lower, "list") {
		return "Here is a **markdown** reply:\n\n- First item\n- Second item with `code`\n"
	}
	return fmt.Sprintf("Echo: %s", input)
}
