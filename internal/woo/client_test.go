package woo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"ms-membership/internal/config"
	"ms-membership/internal/logger"
	"ms-membership/internal/models"
)

func testClient(t *testing.T, server *httptest.Server, pageSize, maxRetries int) *Client {
	t.Helper()
	cfg := config.WooConfig{
		BaseURL:        server.URL,
		ConsumerKey:    "ck_test",
		ConsumerSecret: "cs_test",
		PageSize:       pageSize,
		MaxRetries:     maxRetries,
	}
	return NewClient(cfg, server.Client(), rate.NewLimiter(rate.Inf, 1), logger.NewLogger())
}

func orderPage(ids ...int64) []models.WooOrder {
	orders := make([]models.WooOrder, 0, len(ids))
	for _, id := range ids {
		orders = append(orders, models.WooOrder{ID: id, Status: "completed"})
	}
	return orders
}

func TestFetchOrdersByProductPaginates(t *testing.T) {
	var queries []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/orders", r.URL.Path)
		assert.Equal(t, "77", r.URL.Query().Get("product"))
		assert.Equal(t, "completed,processing", r.URL.Query().Get("status"))
		assert.Equal(t, "ck_test", r.URL.Query().Get("consumer_key"))

		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		queries = append(queries, r.URL.Query().Get("page"))

		var payload []models.WooOrder
		switch page {
		case 1:
			payload = orderPage(1, 2)
		case 2:
			payload = orderPage(3)
		}
		_ = json.NewEncoder(w).Encode(payload)
	}))
	defer server.Close()

	client := testClient(t, server, 2, 3)
	orders, err := client.FetchOrdersByProduct(context.Background(), 77)
	require.NoError(t, err)

	// A short page ends the walk: two full-page requests, no third.
	assert.Equal(t, []string{"1", "2"}, queries)
	require.Len(t, orders, 3)
	assert.Equal(t, int64(1), orders[0].ID)
	assert.Equal(t, int64(3), orders[2].ID)
}

func TestGetJSONRetriesTransientErrors(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(models.WooProduct{ID: 5, Name: "Talk"})
	}))
	defer server.Close()

	client := testClient(t, server, 10, 3)
	start := time.Now()
	product, err := client.FetchProduct(context.Background(), 5)
	require.NoError(t, err)

	assert.Equal(t, 3, attempts)
	assert.Equal(t, "Talk", product.Name)
	// Two backoffs: 500ms then 1s.
	assert.GreaterOrEqual(t, time.Since(start), 1500*time.Millisecond)
}

func TestGetJSONGivesUpAfterRetryCap(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := testClient(t, server, 10, 2)
	_, err := client.FetchProduct(context.Background(), 5)
	require.Error(t, err)
	assert.Equal(t, 2, attempts)
	assert.Contains(t, err.Error(), "giving up")
}

func TestGetJSONDoesNotRetryClientErrors(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := testClient(t, server, 10, 3)
	_, err := client.FetchProduct(context.Background(), 5)
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestFetchProductsParsesEventDates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "publish", r.URL.Query().Get("status"))
		fmt.Fprint(w, `[{"id": 9, "name": "Spring Lecture", "status": "publish", "event_date": "2024-04-02T19:00:00"}]`)
	}))
	defer server.Close()

	client := testClient(t, server, 10, 3)
	products, err := client.FetchProducts(context.Background())
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, time.Date(2024, 4, 2, 19, 0, 0, 0, time.UTC), products[0].EventDate.Time)
}
