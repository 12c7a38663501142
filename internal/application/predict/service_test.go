package predict

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ecolens-api/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type mockClassifier struct{ mock.Mock }

func (m *mockClassifier) Predict(ctx context.Context, dataURL string) ([]domain.Prediction, error) {
	args := m.Called(ctx, dataURL)
	if p, _ := args.Get(0).([]domain.Prediction); p != nil {
		return p, args.Error(1)
	}
	return nil, args.Error(1)
}

type countingMetrics struct{ calls map[string]int }

func (c *countingMetrics) ClassifierCall(result string) {
	if c.calls == nil {
		c.calls = map[string]int{}
	}
	c.calls[result]++
}

const validImage = "data:image/png;base64,iVBORw0KGgo="

// --- tests ---

func TestClassify_OK(t *testing.T) {
	cl := &mockClassifier{}
	m := &countingMetrics{}
	want := []domain.Prediction{{Label: "plastic", Prob: 0.9}}
	cl.On("Predict", mock.Anything, validImage).Return(want, nil)

	got, err := NewService(ServiceDeps{Classifier: cl, Metrics: m}).Classify(context.Background(), domain.PredictRequest{DataURL: validImage})
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, 1, m.calls["ok"])
}

func TestClassify_RejectsBadInput(t *testing.T) {
	cl := &mockClassifier{}
	svc := NewService(ServiceDeps{Classifier: cl})
	cases := []string{
		"",
		"https://example.com/cat.png",
		"data:text/plain;base64,aGVsbG8=",
		"data:image/png;base64,",
		"data:image/png;base64,@@@not-base64@@@",
		"data:image/png;base64," + strings.Repeat("A", MaxImageBytes*2),
	}
	for _, in := range cases {
		_, err := svc.Classify(context.Background(), domain.PredictRequest{DataURL: in})
		name := in
		if len(name) > 40 {
			name = name[:40]
		}
		assert.True(t, errors.Is(err, domain.ErrBadRequest), name)
	}
	cl.AssertNotCalled(t, "Predict", mock.Anything, mock.Anything)
}

func TestClassify_UpstreamFailure(t *testing.T) {
	cl := &mockClassifier{}
	m := &countingMetrics{}
	cl.On("Predict", mock.Anything, validImage).Return(nil, errors.New("connection reset"))

	_, err := NewService(ServiceDeps{Classifier: cl, Metrics: m}).Classify(context.Background(), domain.PredictRequest{DataURL: validImage})
	assert.True(t, errors.Is(err, domain.ErrUpstream))
	var re *domain.ReasonError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "upstream_error", re.Reason)
	assert.NotContains(t, re.Error(), "connection reset")
	assert.Equal(t, 1, m.calls["error"])
}
