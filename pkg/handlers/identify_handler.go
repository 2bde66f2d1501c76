package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gitlab.com/audioparty/backend/internal/models"
)

// Archiver keeps a copy of submitted samples.
type Archiver interface {
	ArchiveSample(ctx context.Context, roomID string, data []byte) (string, error)
}

// IdentifyHandler forwards audio samples to an external recognizer and
// returns its answer unchanged.
type IdentifyHandler struct {
	url      string
	maxBytes int64
	archiver Archiver
	client   *http.Client
	log      *logrus.Entry
}

func NewIdentifyHandler(url string, maxBytes int64, archiver Archiver) *IdentifyHandler {
	return &IdentifyHandler{
		url:      url,
		maxBytes: maxBytes,
		archiver: archiver,
		client:   &http.Client{Timeout: 20 * time.Second},
		log:      logrus.WithField("component", "identify"),
	}
}

func (h *IdentifyHandler) IdentifySong(w http.ResponseWriter, r *http.Request) {
	if h.url == "" {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"success": false,
			"error":   "Song recognition not configured",
		})
		return
	}

	// base64 inflates by 4/3; allow for that plus the JSON envelope
	limit := h.maxBytes*4/3 + 1024
	var req models.IdentifyRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit)).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, failure("Audio sample too large"))
			return
		}
		writeJSON(w, http.StatusBadRequest, failure("Invalid request body"))
		return
	}

	if req.AudioData == "" {
		writeJSON(w, http.StatusBadRequest, failure("No audio data provided"))
		return
	}

	audio, err := decodeAudio(req.AudioData)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, failure("Invalid audio data"))
		return
	}
	if int64(len(audio)) > h.maxBytes {
		writeJSON(w, http.StatusRequestEntityTooLarge, failure("Audio sample too large"))
		return
	}

	logCtx := h.log.WithFields(logrus.Fields{
		"room_id": req.RoomID,
		"bytes":   len(audio),
	})

	if h.archiver != nil {
		if key, err := h.archiver.ArchiveSample(r.Context(), req.RoomID, audio); err != nil {
			logCtx.WithError(err).Warn("Failed to archive sample")
		} else {
			logCtx = logCtx.WithField("key", key)
		}
	}

	upstream, err := http.NewRequestWithContext(r.Context(), http.MethodPost, h.url, bytes.NewReader(audio))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, failure("Recognition failed"))
		return
	}
	upstream.Header.Set("Content-Type", "application/octet-stream")

	resp, err := h.client.Do(upstream)
	if err != nil {
		logCtx.WithError(err).Warn("Recognizer request failed")
		writeJSON(w, http.StatusBadGateway, failure("Recognition failed"))
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil || !json.Valid(body) {
		logCtx.WithField("status", resp.StatusCode).Warn("Recognizer returned an unreadable answer")
		writeJSON(w, http.StatusBadGateway, failure("Recognition failed"))
		return
	}

	logCtx.WithField("status", resp.StatusCode).Info("Song identification completed")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	w.Write(body)
}

// decodeAudio accepts plain base64 as well as a data: URL.
func decodeAudio(data string) ([]byte, error) {
	if strings.HasPrefix(data, "data:") {
		if i := strings.Index(data, ","); i >= 0 {
			data = data[i+1:]
		}
	}
	return base64.StdEncoding.DecodeString(data)
}

func failure(msg string) map[string]interface{} {
	return map[string]interface{}{"success": false, "error": msg}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
