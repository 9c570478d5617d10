package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"prediction-api/internal/domain"
	"prediction-api/internal/logging"
	"prediction-api/internal/usecase"
)

const (
	headerRequestID     = "X-Request-Id"
	internalErrorDetail = "Internal server error"
)

type Predictor interface {
	Predict(ctx context.Context, in domain.PredictionRequest) (domain.PredictionResponse, error)
}

type Handler struct {
	svc    Predictor
	logger *zap.Logger
}

type predictionPayload struct {
	ID    *int64  `json:"id"`
	Query *string `json:"query"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func NewHandler(svc Predictor, logger *zap.Logger) (*Handler, error) {
	if svc == nil {
		return nil, errors.New("handler: predictor must not be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}, nil
}

// Handle serves POST /api/request behind an API Gateway proxy integration.
func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	start := time.Now()

	requestID := headerValue(event.Headers, headerRequestID)
	if requestID == "" {
		requestID = event.RequestContext.RequestID
	}
	if requestID == "" {
		requestID = newRequestID()
	}
	logger := h.logger.With(zap.String("request_id", requestID))
	ctx = logging.WithContext(ctx, logger)

	body := []byte(event.Body)
	if event.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(event.Body)
		if err != nil {
			body = nil
		} else {
			body = decoded
		}
	}
	logger.Info("incoming request",
		zap.String("method", event.HTTPMethod),
		zap.String("url", event.Path),
		zap.ByteString("body", body),
	)

	var (
		status  int
		payload any
	)
	if event.HTTPMethod != http.MethodPost {
		status, payload = http.StatusMethodNotAllowed, errorResponse{Detail: "Method Not Allowed"}
	} else {
		status, payload = h.predict(ctx, body)
	}

	out, err := json.Marshal(payload)
	if err != nil {
		logger.Error("encode response", zap.Error(err))
		status = http.StatusInternalServerError
		out = []byte(`{"detail":"` + internalErrorDetail + `"}`)
	}

	logger.Info("request completed",
		zap.Int("status", status),
		zap.ByteString("body", out),
		zap.Duration("duration", time.Since(start)),
	)

	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":  "application/json",
			headerRequestID: requestID,
		},
		Body: string(out),
	}, nil
}

// predict runs one prediction and returns the status and body to send.
func (h *Handler) predict(ctx context.Context, body []byte) (int, any) {
	logger := logging.FromContext(ctx)

	in, err := decodeRequest(body)
	if err != nil {
		logger.Warn("invalid request body", zap.Error(err))
		return http.StatusBadRequest, errorResponse{Detail: err.Error()}
	}

	out, err := h.svc.Predict(ctx, in)
	if err != nil {
		var ucErr *usecase.Error
		if errors.As(err, &ucErr) {
			if ucErr.Code == usecase.ErrorValidation {
				return http.StatusBadRequest, errorResponse{Detail: ucErr.Detail()}
			}
		} else {
			logger.Error("unexpected error processing request", zap.Error(err))
		}
		return http.StatusInternalServerError, errorResponse{Detail: internalErrorDetail}
	}
	return http.StatusOK, out
}

func decodeRequest(body []byte) (domain.PredictionRequest, error) {
	var p predictionPayload
	if err := json.Unmarshal(body, &p); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return domain.PredictionRequest{}, errors.New("invalid request: field " + typeErr.Field + " has the wrong type")
		}
		return domain.PredictionRequest{}, errors.New("invalid request: body must be a JSON object")
	}
	if p.ID == nil {
		return domain.PredictionRequest{}, errors.New("invalid request: id is required")
	}
	if p.Query == nil {
		return domain.PredictionRequest{}, errors.New("invalid request: query is required")
	}
	return domain.PredictionRequest{ID: *p.ID, Query: *p.Query}, nil
}

func headerValue(headers map[string]string, key string) string {
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

var newRequestID = func() string {
	return uuid.NewString()
}
