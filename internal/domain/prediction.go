package domain

// PredictionRequest is the body accepted by POST /api/request.
type PredictionRequest struct {
	ID    int64  `json:"id"`
	Query string `json:"query"`
}

// PredictionResponse is the validated answer returned to the caller.
// Answer is nil when the question has no numbered choice.
type PredictionResponse struct {
	ID        int64    `json:"id"`
	Answer    *int64   `json:"answer"`
	Reasoning string   `json:"reasoning"`
	Sources   []string `json:"sources"`
}
