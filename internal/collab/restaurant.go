package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/mealmesh/ordering-backend/pkg/breaker"
	"github.com/mealmesh/ordering-backend/pkg/config"
	pkgerrors "github.com/mealmesh/ordering-backend/pkg/errors"
	"github.com/mealmesh/ordering-backend/pkg/logger"
)

// RestaurantClient talks to the restaurant service.
type RestaurantClient struct {
	httpClient *http.Client
	baseURL    string
	breaker    *breaker.Breaker
	logg       *logger.Logger
}

// NewRestaurantClient builds the restaurant-service client.
func NewRestaurantClient(cfg config.CollaboratorsConfig, logg *logger.Logger) (*RestaurantClient, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.RestaurantBaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("restaurant base url is required")
	}
	return &RestaurantClient{
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		baseURL:    baseURL,
		breaker: breaker.New(breaker.Settings{
			Name:     "restaurant-service",
			MaxFails: cfg.BreakerMaxFails,
			OpenFor:  cfg.BreakerOpenFor,
		}, logg),
		logg: logg,
	}, nil
}

// GetRestaurant fetches one restaurant. NOT_FOUND is a definitive answer
// and does not count toward the breaker; transport trouble and 5xx map to
// DEPENDENCY_ERROR.
func (c *RestaurantClient) GetRestaurant(ctx context.Context, restaurantID uuid.UUID) (*Restaurant, error) {
	var restaurant *Restaurant
	var rejection error
	err := c.breaker.Do(func() error {
		url := fmt.Sprintf("%s/restaurants/%s", c.baseURL, restaurantID)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "restaurant service unreachable")
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			var decoded Restaurant
			if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode restaurant response")
			}
			restaurant = &decoded
			return nil
		case resp.StatusCode == http.StatusNotFound:
			rejection = pkgerrors.New(pkgerrors.CodeNotFound, "restaurant not found")
			return nil
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			rejection = pkgerrors.New(pkgerrors.CodeValidation, remoteMessage(resp.Body, "restaurant rejected the request"))
			return nil
		default:
			return pkgerrors.New(pkgerrors.CodeDependency,
				fmt.Sprintf("restaurant service returned %d", resp.StatusCode))
		}
	})
	if err != nil {
		return nil, err
	}
	if rejection != nil {
		return nil, rejection
	}
	return restaurant, nil
}
