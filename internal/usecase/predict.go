package usecase

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"prediction-api/internal/domain"
	"prediction-api/internal/logging"
)

const (
	completionModel       = "yandexgpt"
	completionTemperature = 0.5
)

// CompletionClient runs a single synchronous completion and returns the text
// of the first candidate.
type CompletionClient interface {
	Complete(ctx context.Context, model string, temperature float64, messages []domain.ChatMessage) (string, error)
}

type PredictService struct {
	llm CompletionClient
}

func NewPredictService(llm CompletionClient) (*PredictService, error) {
	if llm == nil {
		return nil, errors.New("usecase: completion client must not be nil")
	}
	return &PredictService{llm: llm}, nil
}

// Predict asks the model the request's question and returns its validated
// answer. Errors are always *Error; anything other than ErrorValidation must
// be reported to the caller without detail.
func (s *PredictService) Predict(ctx context.Context, in domain.PredictionRequest) (domain.PredictionResponse, error) {
	logger := logging.FromContext(ctx).With(zap.Int64("id", in.ID))
	logger.Info("processing prediction request")

	raw, err := s.llm.Complete(ctx, completionModel, completionTemperature, buildQuery(in.Query))
	if err != nil {
		err = newError(ErrorInternal, "completion_error", err)
		logger.Error("internal error processing request", zap.Error(err))
		return domain.PredictionResponse{}, err
	}
	logger.Debug("model completion received", zap.String("completion", raw))

	out, err := parsePrediction(raw)
	if err != nil {
		var ucErr *Error
		if errors.As(err, &ucErr) && ucErr.Code == ErrorValidation {
			logger.Error("validation error", zap.Error(err))
		} else {
			logger.Error("internal error processing request", zap.Error(err))
		}
		return domain.PredictionResponse{}, err
	}

	logger.Info("successfully processed request", zap.Int("sources", len(out.Sources)))
	return out, nil
}
