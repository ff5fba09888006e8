package woo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"ms-membership/internal/config"
	"ms-membership/internal/logger"
	"ms-membership/internal/models"
)

// Client pulls orders and products from the WooCommerce REST API.
// All outbound requests go through the injected rate limiter, so tests
// can substitute an effectively unlimited one.
type Client struct {
	baseURL        string
	consumerKey    string
	consumerSecret string
	pageSize       int
	maxRetries     int

	client  *http.Client
	limiter *rate.Limiter
	logger  *logger.Logger
}

func NewClient(cfg config.WooConfig, httpClient *http.Client, limiter *rate.Limiter, log *logger.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Client{
		baseURL:        cfg.BaseURL,
		consumerKey:    cfg.ConsumerKey,
		consumerSecret: cfg.ConsumerSecret,
		pageSize:       pageSize,
		maxRetries:     maxRetries,
		client:         httpClient,
		limiter:        limiter,
		logger:         log,
	}
}

// FetchOrdersByProduct pages through all completed/processing orders
// containing the given product, oldest first.
func (c *Client) FetchOrdersByProduct(ctx context.Context, productID int64) ([]models.WooOrder, error) {
	var all []models.WooOrder

	for page := 1; ; page++ {
		query := url.Values{}
		query.Set("product", strconv.FormatInt(productID, 10))
		query.Set("status", "completed,processing")
		query.Set("orderby", "date")
		query.Set("order", "asc")
		query.Set("page", strconv.Itoa(page))
		query.Set("per_page", strconv.Itoa(c.pageSize))

		var orders []models.WooOrder
		if err := c.getJSON(ctx, "/orders", query, &orders); err != nil {
			return nil, fmt.Errorf("fetch orders for product %d page %d: %w", productID, page, err)
		}

		all = append(all, orders...)
		if len(orders) < c.pageSize {
			break
		}
	}

	c.logger.Debug("WOO", fmt.Sprintf("Fetched %d orders for product %d", len(all), productID))
	return all, nil
}

// FetchProducts pages through all published products.
func (c *Client) FetchProducts(ctx context.Context) ([]models.WooProduct, error) {
	var all []models.WooProduct

	for page := 1; ; page++ {
		query := url.Values{}
		query.Set("status", "publish")
		query.Set("page", strconv.Itoa(page))
		query.Set("per_page", strconv.Itoa(c.pageSize))

		var products []models.WooProduct
		if err := c.getJSON(ctx, "/products", query, &products); err != nil {
			return nil, fmt.Errorf("fetch products page %d: %w", page, err)
		}

		all = append(all, products...)
		if len(products) < c.pageSize {
			break
		}
	}

	return all, nil
}

// FetchProduct fetches one product by id, used to recover a clean name
// during disentanglement.
func (c *Client) FetchProduct(ctx context.Context, productID int64) (*models.WooProduct, error) {
	var product models.WooProduct
	path := fmt.Sprintf("/products/%d", productID)
	if err := c.getJSON(ctx, path, url.Values{}, &product); err != nil {
		return nil, fmt.Errorf("fetch product %d: %w", productID, err)
	}
	return &product, nil
}

// getJSON performs one rate-limited GET with retries. Transient
// failures (network errors, 429, 5xx) back off exponentially up to the
// retry cap; anything else surfaces immediately.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	query.Set("consumer_key", c.consumerKey)
	query.Set("consumer_secret", c.consumerSecret)
	requestURL := fmt.Sprintf("%s%s?%s", c.baseURL, path, query.Encode())

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * 500 * time.Millisecond
			c.logger.Warn("WOO", fmt.Sprintf("Retrying %s in %v (attempt %d/%d): %v", path, backoff, attempt+1, c.maxRetries, lastErr))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		body, err := c.doGet(ctx, requestURL)
		if err != nil {
			lastErr = err
			if isTransient(err) {
				continue
			}
			return err
		}

		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode response from %s: %w", path, err)
		}
		return nil
	}

	return fmt.Errorf("giving up on %s after %d attempts: %w", path, c.maxRetries, lastErr)
}

// transientError marks HTTP statuses worth retrying.
type transientError struct {
	status int
}

func (e *transientError) Error() string {
	return fmt.Sprintf("store API returned status %d", e.status)
}

func isTransient(err error) bool {
	if _, ok := err.(*transientError); ok {
		return true
	}
	// Connection resets, timeouts and DNS failures arrive as url.Error.
	if _, ok := err.(*url.Error); ok {
		return true
	}
	return false
}

func (c *Client) doGet(ctx context.Context, requestURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func(body io.ReadCloser) {
		if err := body.Close(); err != nil {
			c.logger.Error("WOO", fmt.Sprintf("Failed to close response body: %v", err))
		}
	}(resp.Body)

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, &transientError{status: resp.StatusCode}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("store API returned status %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}
