package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeArchiver struct {
	samples [][]byte
	err     error
}

func (f *fakeArchiver) ArchiveSample(_ context.Context, _ string, data []byte) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.samples = append(f.samples, data)
	return "samples/key", nil
}

func identifyRequest(t *testing.T, body interface{}) *http.Request {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	return httptest.NewRequest(http.MethodPost, "/api/identify-song", bytes.NewReader(data))
}

func TestIdentifySong_NotConfigured(t *testing.T) {
	h := NewIdentifyHandler("", 1024, nil)
	rec := httptest.NewRecorder()
	h.IdentifySong(rec, identifyRequest(t, map[string]string{"audioData": "AAAA"}))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"success":false,"error":"Song recognition not configured"}`, rec.Body.String())
}

func TestIdentifySong_ProxiesVerbatim(t *testing.T) {
	audio := []byte("RIFF....WAVEfmt fake pcm")
	answer := `{"success":true,"song":{"title":"One More Time","artist":"Daft Punk"}}`

	recognizer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/octet-stream", r.Header.Get("Content-Type"))
		got, _ := io.ReadAll(r.Body)
		assert.Equal(t, audio, got)
		w.Write([]byte(answer))
	}))
	defer recognizer.Close()

	archive := &fakeArchiver{}
	h := NewIdentifyHandler(recognizer.URL, 1024, archive)
	rec := httptest.NewRecorder()
	h.IdentifySong(rec, identifyRequest(t, map[string]string{
		"audioData": base64.StdEncoding.EncodeToString(audio),
		"roomId":    "AB3K9Q",
	}))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, answer, rec.Body.String())
	require.Len(t, archive.samples, 1)
	assert.Equal(t, audio, archive.samples[0])
}

func TestIdentifySong_ArchiveFailureDoesNotBlock(t *testing.T) {
	recognizer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":false,"error":"No match found"}`))
	}))
	defer recognizer.Close()

	h := NewIdentifyHandler(recognizer.URL, 1024, &fakeArchiver{err: errors.New("bucket gone")})
	rec := httptest.NewRecorder()
	h.IdentifySong(rec, identifyRequest(t, map[string]string{
		"audioData": "data:audio/wav;base64," + base64.StdEncoding.EncodeToString([]byte("pcm")),
	}))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "No match found")
}

func TestIdentifySong_BadInput(t *testing.T) {
	h := NewIdentifyHandler("http://127.0.0.1:1", 16, nil)

	rec := httptest.NewRecorder()
	h.IdentifySong(rec, identifyRequest(t, map[string]string{}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.IdentifySong(rec, identifyRequest(t, map[string]string{"audioData": "not base64!"}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.IdentifySong(rec, identifyRequest(t, map[string]string{
		"audioData": base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{1}, 17)),
	}))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	rec = httptest.NewRecorder()
	huge := `{"audioData":"` + strings.Repeat("A", 4096) + `"}`
	h.IdentifySong(rec, httptest.NewRequest(http.MethodPost, "/api/identify-song", strings.NewReader(huge)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestIdentifySong_RecognizerDown(t *testing.T) {
	h := NewIdentifyHandler("http://127.0.0.1:1", 1024, nil)
	rec := httptest.NewRecorder()
	h.IdentifySong(rec, identifyRequest(t, map[string]string{"audioData": base64.StdEncoding.EncodeToString([]byte("pcm"))}))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}
