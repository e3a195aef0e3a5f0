package api

// PRICES API CLIENT

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// PricedItem is one rental position flattened from the upstream payload.
type PricedItem struct {
	Name          string // display name
	Category      string
	Subcategory   string
	DurationValue string
	DurationLabel string
	Price         string
	ExternalKey   string
}

// priceRecord mirrors the upstream /prices JSON.
type priceRecord struct {
	Value          json.Number `json:"value"`
	CategoryEntity struct {
		Name string `json:"name"`
	} `json:"categoryEntity"`
	SubCategoryEntity struct {
		Name       string `json:"name"`
		Categories []struct {
			Name string `json:"name"`
		} `json:"categories"`
	} `json:"subCategoryEntity"`
	TimeEntity struct {
		Time int    `json:"time"`
		Name string `json:"name"`
	} `json:"timeEntity"`
}

func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// GetPrices fetches the full priced catalog from the external pricing service.
func (c *Client) GetPrices(ctx context.Context) ([]PricedItem, error) {
	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodGet,
		fmt.Sprintf("%s/prices", c.baseURL),
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var records []priceRecord
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	items := make([]PricedItem, 0, len(records))
	for _, rec := range records {
		name := rec.SubCategoryEntity.Name
		if len(rec.SubCategoryEntity.Categories) > 0 {
			name = rec.SubCategoryEntity.Categories[0].Name
		}
		durationValue := strconv.Itoa(rec.TimeEntity.Time)
		items = append(items, PricedItem{
			Name:          name,
			Category:      rec.CategoryEntity.Name,
			Subcategory:   rec.SubCategoryEntity.Name,
			DurationValue: durationValue,
			DurationLabel: rec.TimeEntity.Name,
			Price:         rec.Value.String(),
			ExternalKey:   rec.CategoryEntity.Name + ":" + rec.SubCategoryEntity.Name + ":" + durationValue,
		})
	}

	c.logger.Debug("Fetched priced catalog", zap.Int("items", len(items)))
	return items, nil
}
