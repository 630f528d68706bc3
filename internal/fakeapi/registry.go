// ABOUTME: Fake cloud thread-registry handlers
// ABOUTME: Lists, filters by external id, creates, reads, and deletes registry entries

package fakeapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"time"
)

// RegistryThread is one registry entry.
type RegistryThread struct {
	ID         string         `json:"id"`
	ExternalID string         `json:"external_id"`
	Title      string         `json:"title,omitempty"`
	Status     string         `json:"status"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// SeedRegistry stores an entry and returns its registry id.
func (s *Server) SeedRegistry(externalID, title string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addRegistryLocked(RegistryThread{ExternalID: externalID, Title: title})
}

// HasRegistryThread reports whether a registry entry with id exists.
func (s *Server) HasRegistryThread(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.registry[id]
	return ok
}

// RegistryThreads returns all registry entries in creation order.
func (s *Server) RegistryThreads() []RegistryThread {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RegistryThread, 0, len(s.regOrder))
	for _, id := range s.regOrder {
		out = append(out, *s.registry[id])
	}
	return out
}

func (s *Server) addRegistryLocked(rt RegistryThread) string {
	s.regSeq++
	rt.ID = fmt.Sprintf("reg-%d", s.regSeq)
	if rt.Status == "" {
		rt.Status = "regular"
	}
	rt.CreatedAt = s.now().UTC()
	s.registry[rt.ID] = &rt
	s.regOrder = append(s.regOrder, rt.ID)
	return rt.ID
}

func (s *Server) handleListRegistry(w http.ResponseWriter, r *http.Request) {
	externalID := r.URL.Query().Get("external_id")

	s.mu.Lock()
	threads := []RegistryThread{}
	for _, id := range s.regOrder {
		rt := s.registry[id]
		if externalID != "" && rt.ExternalID != externalID {
			continue
		}
		threads = append(threads, *rt)
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"threads": threads})
}

func (s *Server) handleCreateRegistry(w http.ResponseWriter, r *http.Request) {
	var req RegistryThread
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.ExternalID == "" {
		writeError(w, http.StatusBadRequest, "external_id is required")
		return
	}

	s.mu.Lock()
	id := s.addRegistryLocked(req)
	rt := *s.registry[id]
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, rt)
}

func (s *Server) handleGetRegistry(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	rt, ok := s.registry[r.PathValue("id")]
	var out RegistryThread
	if ok {
		out = *rt
	}
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "registry thread not found")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDeleteRegistry(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	s.mu.Lock()
	_, ok := s.registry[id]
	if ok {
		delete(s.registry, id)
		s.regOrder = slices.DeleteFunc(s.regOrder, func(v string) bool { return v == id })
	}
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "registry thread not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
