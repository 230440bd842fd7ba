package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/technosupport/ts-vigil/internal/data"
)

type FaceServiceConfig struct {
	Endpoint string
	// MinSimilarity below which a known identity is treated as unidentified.
	MinSimilarity float64
	Timeout       time.Duration
}

// FaceServiceClient talks to a recognition service exposing POST /recognize.
type FaceServiceClient struct {
	config FaceServiceConfig
	client *http.Client
}

func NewFaceServiceClient(cfg FaceServiceConfig) *FaceServiceClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MinSimilarity == 0 {
		cfg.MinSimilarity = 0.5
	}
	return &FaceServiceClient{config: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

type recognition struct {
	BBox       []float64 `json:"bbox"`
	Confidence float64   `json:"confidence"`
	Identity   *string   `json:"identity"`
	Similarity *float64  `json:"similarity"`
	IsKnown    bool      `json:"is_known"`
}

type recognizeResponse struct {
	Recognitions []recognition `json:"recognitions"`
}

func (c *FaceServiceClient) Identify(ctx context.Context, image []byte) ([]data.FaceCandidate, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", "frame.jpg")
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(image); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	url := strings.TrimRight(c.config.Endpoint, "/") + "/recognize"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("face service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("face service: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out recognizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("face service: decode: %w", err)
	}

	candidates := make([]data.FaceCandidate, 0, len(out.Recognitions))
	for _, r := range out.Recognitions {
		fc := data.FaceCandidate{Confidence: r.Confidence, Box: toBox(r.BBox)}
		if r.IsKnown && r.Identity != nil && r.Similarity != nil && *r.Similarity >= c.config.MinSimilarity {
			fc.PersonID = *r.Identity
			fc.Confidence = *r.Similarity
		}
		candidates = append(candidates, fc)
	}
	return candidates, nil
}

// toBox converts [x1, y1, x2, y2] corners.
func toBox(b []float64) data.BoundingBox {
	if len(b) < 4 {
		return data.BoundingBox{}
	}
	return data.BoundingBox{X: b[0], Y: b[1], Width: b[2] - b[0], Height: b[3] - b[1]}
}
