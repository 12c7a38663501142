package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"

	"github.com/ecolens-api/internal/config"
	"github.com/ecolens-api/internal/domain"
)

const maxResponseBytes = 1 << 20

// Client calls a Gradio "run/predict" endpoint with a single image input.
type Client struct {
	httpClient *http.Client
	url        string
	topK       int
}

func NewClient(cfg config.ClassifierConfig) *Client {
	return newClient(cfg, &http.Client{Timeout: cfg.Timeout})
}

func newClient(cfg config.ClassifierConfig, hc *http.Client) *Client {
	topK := cfg.TopK
	if topK <= 0 {
		topK = 5
	}
	return &Client{httpClient: hc, url: cfg.URL, topK: topK}
}

type predictRequest struct {
	Data []string `json:"data"`
}

type predictResponse struct {
	Data []json.RawMessage `json:"data"`
}

type labelOutput struct {
	Label       string `json:"label"`
	Confidences []struct {
		Label      string  `json:"label"`
		Confidence float64 `json:"confidence"`
	} `json:"confidences"`
}

// Predict sends dataURL to the classifier and returns the top predictions,
// highest probability first.
func (c *Client) Predict(ctx context.Context, dataURL string) ([]domain.Prediction, error) {
	body, err := json.Marshal(predictRequest{Data: []string{dataURL}})
	if err != nil {
		return nil, fmt.Errorf("encode classifier request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build classifier request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("classifier request: %v: %w", err, domain.ErrUpstream)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read classifier response: %v: %w", err, domain.ErrUpstream)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("classifier returned %d: %w", resp.StatusCode, domain.ErrUpstream)
	}

	var out predictResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode classifier response: %v: %w", err, domain.ErrUpstream)
	}
	if len(out.Data) == 0 {
		return nil, fmt.Errorf("classifier returned no outputs: %w", domain.ErrUpstream)
	}
	preds, err := parseOutput(out.Data[0])
	if err != nil {
		return nil, err
	}
	return topPredictions(preds, c.topK), nil
}

// parseOutput accepts the Gradio Label component shape or a plain label->prob map.
func parseOutput(raw json.RawMessage) ([]domain.Prediction, error) {
	var lo labelOutput
	if err := json.Unmarshal(raw, &lo); err == nil && (len(lo.Confidences) > 0 || lo.Label != "") {
		if len(lo.Confidences) == 0 {
			return []domain.Prediction{{Label: lo.Label, Prob: 1}}, nil
		}
		preds := make([]domain.Prediction, 0, len(lo.Confidences))
		for _, c := range lo.Confidences {
			preds = append(preds, domain.Prediction{Label: c.Label, Prob: c.Confidence})
		}
		return preds, nil
	}

	var probs map[string]float64
	if err := json.Unmarshal(raw, &probs); err != nil {
		return nil, fmt.Errorf("unrecognised classifier output: %w", domain.ErrUpstream)
	}
	preds := make([]domain.Prediction, 0, len(probs))
	for label, p := range probs {
		preds = append(preds, domain.Prediction{Label: label, Prob: p})
	}
	return preds, nil
}

func topPredictions(preds []domain.Prediction, k int) []domain.Prediction {
	sort.SliceStable(preds, func(i, j int) bool {
		if preds[i].Prob == preds[j].Prob {
			return preds[i].Label < preds[j].Label
		}
		return preds[i].Prob > preds[j].Prob
	})
	if len(preds) > k {
		preds = preds[:k]
	}
	return preds
}
