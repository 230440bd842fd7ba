package analysis

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/technosupport/ts-vigil/internal/data"
)

func TestGeminiProvider_Analyze(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models/test-model:generateContent", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("x-goog-api-key"))

		var req geminiRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Contents, 1)
		require.Len(t, req.Contents[0].Parts, 2)
		assert.Equal(t, "describe\n\nmotion", req.Contents[0].Parts[0].Text)
		assert.NotEmpty(t, req.Contents[0].Parts[1].InlineData.Data)

		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":" A dog "},{"text":"sleeps."}]}}]}`))
	}))
	defer srv.Close()

	g := NewGeminiProvider(GeminiConfig{Endpoint: srv.URL, APIKey: "secret", Model: "test-model"})
	out, err := g.Analyze(context.Background(), data.VisionRequest{Image: []byte("img"), Prompt: "describe", Context: "motion"})
	require.NoError(t, err)
	assert.Equal(t, "A dog sleeps.", out)
}

func TestGeminiProvider_StatusClassification(t *testing.T) {
	tests := []struct {
		status    int
		permanent bool
	}{
		{http.StatusServiceUnavailable, false},
		{http.StatusTooManyRequests, false},
		{http.StatusBadRequest, true},
		{http.StatusForbidden, true},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
			io.WriteString(w, "nope")
		}))
		g := NewGeminiProvider(GeminiConfig{Endpoint: srv.URL})
		_, err := g.Analyze(context.Background(), data.VisionRequest{Prompt: "x"})
		srv.Close()

		require.Error(t, err)
		assert.ErrorIs(t, err, data.ErrAIProvider)
		assert.Equal(t, tt.permanent, data.IsPermanent(err), "status %d", tt.status)
	}
}

func TestGeminiProvider_Blocked(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates":[],"promptFeedback":{"blockReason":"SAFETY"}}`))
	}))
	defer srv.Close()

	_, err := NewGeminiProvider(GeminiConfig{Endpoint: srv.URL}).Analyze(context.Background(), data.VisionRequest{Prompt: "x"})
	require.Error(t, err)
	assert.True(t, data.IsPermanent(err))
}

func TestFaceServiceClient_Identify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/recognize", r.URL.Path)
		file, _, err := r.FormFile("file")
		require.NoError(t, err)
		b, _ := io.ReadAll(file)
		assert.Equal(t, "jpeg-bytes", string(b))

		w.Write([]byte(`{"recognitions":[
			{"bbox":[10,20,50,80],"confidence":0.99,"identity":"alice","similarity":0.82,"is_known":true},
			{"bbox":[100,20,140,80],"confidence":0.95,"identity":"bob","similarity":0.31,"is_known":true},
			{"bbox":[200,20,240,80],"confidence":0.9,"identity":null,"similarity":null,"is_known":false}
		]}`))
	}))
	defer srv.Close()

	c := NewFaceServiceClient(FaceServiceConfig{Endpoint: srv.URL, MinSimilarity: 0.5})
	got, err := c.Identify(context.Background(), []byte("jpeg-bytes"))
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, "alice", got[0].PersonID)
	assert.InDelta(t, 0.82, got[0].Confidence, 1e-9)
	assert.Equal(t, data.BoundingBox{X: 10, Y: 20, Width: 40, Height: 60}, got[0].Box)
	assert.Empty(t, got[1].PersonID, "low similarity is unidentified")
	assert.Empty(t, got[2].PersonID)
}

func TestFaceServiceClient_Error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewFaceServiceClient(FaceServiceConfig{Endpoint: srv.URL}).Identify(context.Background(), []byte("x"))
	assert.ErrorContains(t, err, "status 503")
}
