package predict

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/ecolens-api/internal/domain"
	"github.com/ecolens-api/internal/infrastructure/logging"
	"go.uber.org/zap"
)

// MaxImageBytes bounds the decoded image size accepted for classification.
const MaxImageBytes = 8 << 20

var dataURLRe = regexp.MustCompile(`^data:image/[a-zA-Z0-9.+-]+;base64,`)

type classifier interface {
	Predict(ctx context.Context, dataURL string) ([]domain.Prediction, error)
}

type classifierMetrics interface {
	ClassifierCall(result string)
}

type ServiceDeps struct {
	Classifier classifier
	Logger     *logging.Service
	Metrics    classifierMetrics
}

type Service interface {
	Classify(ctx context.Context, req domain.PredictRequest) ([]domain.Prediction, error)
}

type service struct {
	classifier classifier
	logger     *logging.Service
	metrics    classifierMetrics
}

func NewService(deps ServiceDeps) Service {
	var m classifierMetrics = nopMetrics{}
	if deps.Metrics != nil {
		m = deps.Metrics
	}
	return &service{classifier: deps.Classifier, logger: deps.Logger.Named("predict"), metrics: m}
}

func (s *service) Classify(ctx context.Context, req domain.PredictRequest) ([]domain.Prediction, error) {
	if err := validateDataURL(req.DataURL); err != nil {
		return nil, err
	}
	preds, err := s.classifier.Predict(ctx, req.DataURL)
	if err != nil {
		s.metrics.ClassifierCall("error")
		s.logger.Error("classifier call failed", zap.Error(err))
		if !errors.Is(err, domain.ErrUpstream) {
			err = fmt.Errorf("classify: %v: %w", err, domain.ErrUpstream)
		}
		return nil, domain.NewReasonError(err, "upstream_error", "Prediction service unavailable")
	}
	s.metrics.ClassifierCall("ok")
	return preds, nil
}

func validateDataURL(dataURL string) error {
	if dataURL == "" {
		return fmt.Errorf("missing dataUrl in request body: %w", domain.ErrBadRequest)
	}
	loc := dataURLRe.FindStringIndex(dataURL)
	if loc == nil {
		return fmt.Errorf("dataUrl must be a base64 image data URL: %w", domain.ErrBadRequest)
	}
	payload := dataURL[loc[1]:]
	if base64.StdEncoding.DecodedLen(len(payload)) > MaxImageBytes {
		return fmt.Errorf("image exceeds %d bytes: %w", MaxImageBytes, domain.ErrBadRequest)
	}
	if _, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload)); err != nil || payload == "" {
		return fmt.Errorf("dataUrl payload is not valid base64: %w", domain.ErrBadRequest)
	}
	return nil
}

type nopMetrics struct{}

func (nopMetrics) ClassifierCall(string) {}
