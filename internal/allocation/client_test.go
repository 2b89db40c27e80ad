package allocation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smallbiznis/allocsync/internal/observability/metrics"
)

const (
	providerID = "3fa85f64-5717-4562-b3fc-2c963f66afa6"
	resourceID = "0b1c2d3e-4f50-4617-8293-a4b5c6d7e8f9"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(Config{BaseURL: srv.URL, Token: "secret", PageSize: 2}, srv.Client(), zap.NewNop(), nil)
	require.NoError(t, err)
	return client, srv
}

func TestNewClientValidatesConfig(t *testing.T) {
	_, err := NewClient(Config{Token: "x"}, nil, nil, nil)
	assert.True(t, errors.Is(err, ErrInvalidConfig))

	_, err = NewClient(Config{BaseURL: "https://alloc.example"}, nil, nil, nil)
	assert.True(t, errors.Is(err, ErrInvalidConfig))

	_, err = NewClient(Config{BaseURL: "not a url", Token: "x"}, nil, nil, nil)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestNormalizeID(t *testing.T) {
	got, err := NormalizeID(providerID)
	require.NoError(t, err)
	assert.Equal(t, "3fa85f6457174562b3fc2c963f66afa6", got)

	_, err = NormalizeID("project-1")
	assert.True(t, errors.Is(err, ErrInvalidID))
}

func TestListOrdersFollowsNextLink(t *testing.T) {
	var srvURL string
	var calls int
	client, srv := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "Token secret", r.Header.Get("Authorization"))
		assert.Equal(t, "/api/marketplace-orders/", r.URL.Path)
		assert.Equal(t, "3fa85f6457174562b3fc2c963f66afa6", r.URL.Query().Get("provider_uuid"))
		assert.Equal(t, "pending-provider", r.URL.Query().Get("state"))

		switch r.URL.Query().Get("page") {
		case "1":
			w.Header().Set("Link", fmt.Sprintf(`<%s/api/marketplace-orders/?page=2&page_size=2&provider_uuid=3fa85f6457174562b3fc2c963f66afa6&state=pending-provider>; rel="next"`, srvURL))
			_, _ = io.WriteString(w, `[{"uuid":"o1","project_uuid":"p1","limits":{"pre-paid":10,"cpu":2}},{"uuid":"o2","project_uuid":"p1"}]`)
		case "2":
			_, _ = io.WriteString(w, `[{"uuid":"o3","project_uuid":"p2"}]`)
		default:
			t.Errorf("unexpected page %q", r.URL.Query().Get("page"))
		}
	}))
	srvURL = srv.URL

	orders, err := client.ListOrders(context.Background(), providerID, OrderStatePendingProvider)
	require.NoError(t, err)
	require.Len(t, orders, 3)
	assert.Equal(t, 2, calls)
	assert.Equal(t, "o3", orders[2].UUID)
	assert.Equal(t, Limits{{Type: "pre-paid", Value: 10}, {Type: "cpu", Value: 2}}, orders[0].Limits)
}

func TestNotFoundMapsToSentinel(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"Not found."}`, http.StatusNotFound)
	}))

	_, err := client.GetOffering(context.Background(), resourceID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, OpGetOffering, apiErr.Operation)
	assert.False(t, apiErr.Retryable())
}

func TestServerErrorIsRetryable(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	err := client.ApproveOrder(context.Background(), resourceID)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.HTTPStatus())
	assert.True(t, apiErr.Retryable())
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestApproveOrderPath(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/marketplace-orders/0b1c2d3e4f5046178293a4b5c6d7e8f9/approve_by_provider/", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))

	require.NoError(t, client.ApproveOrder(context.Background(), resourceID))
}

func TestPlanPeriodsWindow(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "3", r.URL.Query().Get("month"))
		assert.Equal(t, "2026", r.URL.Query().Get("year"))
		_, _ = io.WriteString(w, `[{"uuid":"pp-old"},{"uuid":"pp-new"}]`)
	}))

	periods, err := client.PlanPeriods(context.Background(), resourceID, 3, 2026)
	require.NoError(t, err)
	require.Len(t, periods, 2)
	assert.Equal(t, "pp-new", periods[1].UUID)
}

func TestSubmitUsageBody(t *testing.T) {
	var got UsageReport
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/marketplace-component-usages/set_usage/", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))

	report := UsageReport{
		PlanPeriod: resourceID,
		Usages:     []ComponentUsage{{Type: "pre-paid", Amount: 3, Description: "2 jobs"}},
	}
	require.NoError(t, client.SubmitUsage(context.Background(), report))
	assert.Equal(t, report, got)

	assert.True(t, errors.Is(client.SubmitUsage(context.Background(), UsageReport{PlanPeriod: "nope"}), ErrInvalidID))
}

func TestExternalCallsAreMetered(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := metrics.NewForTest(registry)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[]`)
	}))
	t.Cleanup(srv.Close)
	client, err := NewClient(Config{BaseURL: srv.URL, Token: "secret"}, srv.Client(), zap.NewNop(), m)
	require.NoError(t, err)

	_, err = client.ResourceTeam(context.Background(), resourceID)
	require.NoError(t, err)

	count, err := testutil.GatherAndCount(registry, "allocsync_external_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestNextLink(t *testing.T) {
	assert.Equal(t, "https://a/x?page=2", nextLink(`<https://a/x?page=2>; rel="next", <https://a/x?page=1>; rel="prev"`))
	assert.Equal(t, "https://a/x?page=3", nextLink(`<https://a/x?page=1>; rel="prev", <https://a/x?page=3>; rel=next`))
	assert.Equal(t, "", nextLink(`<https://a/x?page=1>; rel="prev"`))
	assert.Equal(t, "", nextLink(""))
}
