package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"gitlab.com/audioparty/backend/internal/models"
	"gitlab.com/audioparty/backend/internal/rooms"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := map[string]interface{}{
		"status":      "ok",
		"rooms":       s.signalingService.Registry().Len(),
		"connections": s.signalingService.ClientCount(),
	}
	for store, state := range s.db.Health(ctx) {
		status[store] = state
		if state != "ok" {
			status["status"] = "degraded"
		}
	}

	respondJSON(w, http.StatusOK, status)
}

func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	code := rooms.NormalizeCode(mux.Vars(r)["code"])
	registry := s.signalingService.Registry()

	status := models.RoomStatus{
		RoomID:   code,
		Capacity: registry.Capacity(),
	}
	if rooms.ValidCode(code) {
		if room, ok := registry.GetRoom(code); ok {
			status.Exists = true
			status.ParticipantCount = room.Count()
			status.Full = room.Count() >= room.Capacity
		}
	}

	respondJSON(w, http.StatusOK, status)
}

// Admin handlers

func (s *Server) handleAdminSessions(w http.ResponseWriter, r *http.Request) {
	list := s.signalingService.Registry().List()

	sessions := make([]models.SessionInfo, 0, len(list))
	for _, room := range list {
		sessions = append(sessions, models.SessionInfo{
			RoomID:           room.Code,
			HostID:           room.HostID,
			ParticipantCount: room.Count(),
			CreatedAt:        room.CreatedAt.UnixMilli(),
			CurrentSong:      room.CurrentSong,
			DiscordSharing:   room.Sharing,
		})
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
	})
}

func (s *Server) handleAdminEndSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RoomID string `json:"roomId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RoomID == "" {
		respondJSON(w, http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"error":   "roomId is required",
		})
		return
	}

	if !s.signalingService.EndRoom(req.RoomID) {
		respondJSON(w, http.StatusNotFound, map[string]interface{}{
			"success": false,
			"error":   "Session not found",
		})
		return
	}

	s.log.WithField("room_id", rooms.NormalizeCode(req.RoomID)).Info("Session ended by admin")
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Session ended",
	})
}

func (s *Server) handleAdminHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	sessions, err := s.historyStore.Recent(r.Context(), limit)
	if err != nil {
		s.log.WithError(err).Error("Failed to load session history")
		http.Error(w, "Failed to load history", http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
	})
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
