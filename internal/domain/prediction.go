package domain

type PredictRequest struct {
	DataURL string `json:"dataUrl"`
}

// Prediction is one label of a classifier answer.
type Prediction struct {
	Label string  `json:"label"`
	Prob  float64 `json:"prob"`
}
