package handler

import (
	"net/http"

	"github.com/ecolens-api/internal/application/predict"
	"github.com/ecolens-api/internal/domain"
	"github.com/ecolens-api/internal/infrastructure/logging"
)

// base64 inflates by 4/3; leave room for the JSON wrapper.
const maxPredictBody = predict.MaxImageBytes*4/3 + 1<<16

type PredictHandler struct {
	svc    predict.Service
	logger *logging.Service
}

func NewPredictHandler(svc predict.Service, logger *logging.Service) *PredictHandler {
	return &PredictHandler{svc: svc, logger: logger}
}

func (h *PredictHandler) Predict(w http.ResponseWriter, r *http.Request) {
	var req domain.PredictRequest
	if err := decodeJSON(w, r, &req, maxPredictBody); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	preds, err := h.svc.Classify(r.Context(), req)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, PredictionsEnvelope{Predictions: preds})
}
