package yandexgpt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// KeySource supplies the API key sent with every completion request.
type KeySource interface {
	APIKey(ctx context.Context) (string, error)
}

// Getter is the subset of the parameter store client used to resolve keys.
type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// StaticKey is a KeySource backed by a key read from the environment.
type StaticKey string

func (k StaticKey) APIKey(_ context.Context) (string, error) {
	key := strings.TrimSpace(string(k))
	if key == "" {
		return "", errors.New("yandexgpt: API key is empty")
	}
	return key, nil
}

// tokenPayload is the JSON shape stored in SSM for the API key.
type tokenPayload struct {
	Token string `json:"token"`
}

// ParamStoreKey resolves the API key from SSM on first use and reuses it for
// the lifetime of the process. A failed fetch is not cached; the next call
// tries again.
type ParamStoreKey struct {
	getter Getter
	name   string

	mu     sync.Mutex
	apiKey string
}

// NewParamStoreKey returns a KeySource reading <paramPrefix>/yandex-api-key.
func NewParamStoreKey(g Getter, paramPrefix string) (*ParamStoreKey, error) {
	if g == nil {
		return nil, errors.New("yandexgpt: paramstore getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("yandexgpt: parameter prefix must not be empty")
	}
	return &ParamStoreKey{getter: g, name: paramPrefix + "/yandex-api-key"}, nil
}

func (p *ParamStoreKey) APIKey(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.apiKey != "" {
		return p.apiKey, nil
	}
	key, err := fetchAPIKey(ctx, p.getter, p.name)
	if err != nil {
		return "", err
	}
	p.apiKey = key
	return key, nil
}

func fetchAPIKey(ctx context.Context, getter Getter, name string) (string, error) {
	if getter == nil {
		return "", errors.New("yandexgpt: paramstore getter is nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("yandexgpt: key parameter name is empty")
	}

	raw, err := getter.GetParameter(ctx, name)
	if err != nil {
		return "", fmt.Errorf("yandexgpt: fetch key from paramstore: %w", err)
	}
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return "", fmt.Errorf("yandexgpt: unmarshal paramstore key value as JSON: %w", err)
	}
	if strings.TrimSpace(tp.Token) == "" {
		return "", errors.New("yandexgpt: API key is empty")
	}
	return tp.Token, nil
}
