package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mealmesh/ordering-backend/pkg/breaker"
	"github.com/mealmesh/ordering-backend/pkg/config"
	pkgerrors "github.com/mealmesh/ordering-backend/pkg/errors"
	"github.com/mealmesh/ordering-backend/pkg/logger"
)

const errorBodyReadLimit int64 = 2048

// ConsumerClient talks to the consumer service.
type ConsumerClient struct {
	httpClient *http.Client
	baseURL    string
	breaker    *breaker.Breaker
	logg       *logger.Logger
}

// NewConsumerClient builds the consumer-service client.
func NewConsumerClient(cfg config.CollaboratorsConfig, logg *logger.Logger) (*ConsumerClient, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.ConsumerBaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("consumer base url is required")
	}
	return &ConsumerClient{
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		baseURL:    baseURL,
		breaker: breaker.New(breaker.Settings{
			Name:     "consumer-service",
			MaxFails: cfg.BreakerMaxFails,
			OpenFor:  cfg.BreakerOpenFor,
		}, logg),
		logg: logg,
	}, nil
}

type validateOrderRequest struct {
	OrderTotal decimal.Decimal `json:"orderTotal"`
}

// ValidateOrder asks the consumer service whether this consumer may place
// an order of the given total. A definitive rejection comes back as
// VALIDATION_ERROR or NOT_FOUND; transport trouble and 5xx responses come
// back as DEPENDENCY_ERROR so the caller knows nothing was decided.
func (c *ConsumerClient) ValidateOrder(ctx context.Context, consumerID uuid.UUID, orderTotal decimal.Decimal) error {
	// Definitive business rejections are captured outside the breaker so
	// they never count toward tripping it.
	var rejection error
	err := c.breaker.Do(func() error {
		body, err := json.Marshal(validateOrderRequest{OrderTotal: orderTotal})
		if err != nil {
			return err
		}
		url := fmt.Sprintf("%s/consumers/%s/validate-order", c.baseURL, consumerID)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "consumer service unreachable")
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNoContent:
			return nil
		case resp.StatusCode == http.StatusNotFound:
			rejection = pkgerrors.New(pkgerrors.CodeNotFound, "consumer not found")
			return nil
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			rejection = pkgerrors.New(pkgerrors.CodeValidation, remoteMessage(resp.Body, "consumer validation failed"))
			return nil
		default:
			return pkgerrors.New(pkgerrors.CodeDependency,
				fmt.Sprintf("consumer service returned %d", resp.StatusCode))
		}
	})
	if err != nil {
		return err
	}
	return rejection
}

func remoteMessage(body io.Reader, fallback string) string {
	raw, err := io.ReadAll(io.LimitReader(body, errorBodyReadLimit))
	if err != nil || len(raw) == 0 {
		return fallback
	}
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil || envelope.Error.Message == "" {
		return fallback
	}
	return envelope.Error.Message
}
