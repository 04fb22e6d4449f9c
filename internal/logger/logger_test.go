package logger

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestSetup_level(t *testing.T) {
	require.Equal(t, zerolog.WarnLevel, Setup(zerolog.WarnLevel, false).GetLevel())
	require.Equal(t, zerolog.DebugLevel, Setup(zerolog.WarnLevel, true).GetLevel())
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)

	handler := RequestLogger(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		zerolog.Ctx(r.Context()).Info().Msg("inside")
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("hi"))
	}))

	r := httptest.NewRequest(http.MethodGet, "/assets/app.js", nil)
	r.Header.Set("X-Forwarded-For", "203.0.113.1")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	require.Equal(t, http.StatusTeapot, w.Code)

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	var inner map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &inner))
	require.Equal(t, "/assets/app.js", inner["path"])
	require.Equal(t, "203.0.113.1", inner["client_ip"])

	var done map[string]any
	require.NoError(t, json.Unmarshal(lines[1], &done))
	require.Equal(t, "http request", done["message"])
	require.InDelta(t, float64(http.StatusTeapot), done["status"], 0)
	require.InDelta(t, 2, done["bytes"], 0)
}
