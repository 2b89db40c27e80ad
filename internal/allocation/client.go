package allocation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/smallbiznis/allocsync/internal/observability/metrics"
	"github.com/smallbiznis/allocsync/internal/observability/tracing"
	"go.uber.org/zap"
)

const (
	defaultTimeout  = 30 * time.Second
	defaultPageSize = 100
	maxPages        = 1000
	maxErrorBody    = 4096
)

const (
	OpListOrders    = "list_orders"
	OpApproveOrder  = "approve_order"
	OpListResources = "list_resources"
	OpResourceTeam  = "resource_team"
	OpGetOffering   = "get_offering"
	OpPlanPeriods   = "plan_periods"
	OpSubmitUsage   = "submit_usage"
)

// Config holds the connection settings of the allocation service.
type Config struct {
	BaseURL  string
	Token    string
	Timeout  time.Duration
	PageSize int
}

func (c Config) withDefaults() Config {
	cfg := c
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	cfg.Token = strings.TrimSpace(cfg.Token)
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	return cfg
}

// Client is a typed wrapper over the allocation service HTTP API. It holds no
// per-call state and is safe for concurrent use.
type Client struct {
	cfg     Config
	base    *url.URL
	http    *http.Client
	log     *zap.Logger
	metrics *metrics.SyncMetrics
}

// NewClient validates cfg and builds a client. A nil httpClient gets a
// dedicated client using cfg.Timeout.
func NewClient(cfg Config, httpClient *http.Client, log *zap.Logger, m *metrics.SyncMetrics) (*Client, error) {
	cfg = cfg.withDefaults()
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: base url is required", ErrInvalidConfig)
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("%w: token is required", ErrInvalidConfig)
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("%w: base url %q", ErrInvalidConfig, cfg.BaseURL)
	}
	if httpClient == nil {
		httpClient = tracing.WrapHTTPClient(&http.Client{Timeout: cfg.Timeout})
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		cfg:     cfg,
		base:    base,
		http:    httpClient,
		log:     log.Named("allocation.client"),
		metrics: m,
	}, nil
}

// NormalizeID validates an external identifier and returns its canonical
// dashless hex form.
func NormalizeID(raw string) (string, error) {
	parsed, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, raw)
	}
	return strings.ReplaceAll(parsed.String(), "-", ""), nil
}

// ListOrders returns all orders of the provider in the given state.
func (c *Client) ListOrders(ctx context.Context, providerID string, state OrderState) ([]Order, error) {
	provider, err := NormalizeID(providerID)
	if err != nil {
		return nil, err
	}
	query := url.Values{}
	query.Set("provider_uuid", provider)
	if state != "" {
		query.Set("state", string(state))
	}
	return getList[Order](ctx, c, OpListOrders, "/api/marketplace-orders/", query)
}

// ApproveOrder approves a pending order on behalf of the provider.
func (c *Client) ApproveOrder(ctx context.Context, orderID string) error {
	id, err := NormalizeID(orderID)
	if err != nil {
		return err
	}
	path := "/api/marketplace-orders/" + id + "/approve_by_provider/"
	_, err = c.do(ctx, OpApproveOrder, http.MethodPost, c.endpoint(path, nil), nil, nil)
	return err
}

// ListResources returns the provider resources matching filter.
func (c *Client) ListResources(ctx context.Context, filter ResourceFilter) ([]Resource, error) {
	query := url.Values{}
	if filter.ProviderID != "" {
		provider, err := NormalizeID(filter.ProviderID)
		if err != nil {
			return nil, err
		}
		query.Set("provider_uuid", provider)
	}
	if filter.ProjectID != "" {
		project, err := NormalizeID(filter.ProjectID)
		if err != nil {
			return nil, err
		}
		query.Set("project_uuid", project)
	}
	if filter.State != "" {
		query.Set("state", string(filter.State))
	}
	return getList[Resource](ctx, c, OpListResources, "/api/marketplace-provider-resources/", query)
}

// ResourceTeam returns the members of the project owning the resource.
func (c *Client) ResourceTeam(ctx context.Context, resourceID string) ([]TeamMember, error) {
	id, err := NormalizeID(resourceID)
	if err != nil {
		return nil, err
	}
	var members []TeamMember
	path := "/api/marketplace-provider-resources/" + id + "/team/"
	if _, err := c.do(ctx, OpResourceTeam, http.MethodGet, c.endpoint(path, nil), nil, &members); err != nil {
		return nil, err
	}
	return members, nil
}

// GetOffering fetches an offering with its components.
func (c *Client) GetOffering(ctx context.Context, offeringID string) (Offering, error) {
	id, err := NormalizeID(offeringID)
	if err != nil {
		return Offering{}, err
	}
	var offering Offering
	path := "/api/marketplace-provider-offerings/" + id + "/"
	if _, err := c.do(ctx, OpGetOffering, http.MethodGet, c.endpoint(path, nil), nil, &offering); err != nil {
		return Offering{}, err
	}
	return offering, nil
}

// PlanPeriods lists the plan periods of a resource. A zero month or year
// disables the window filter.
func (c *Client) PlanPeriods(ctx context.Context, resourceID string, month, year int) ([]PlanPeriod, error) {
	id, err := NormalizeID(resourceID)
	if err != nil {
		return nil, err
	}
	query := url.Values{}
	if month > 0 && year > 0 {
		query.Set("month", strconv.Itoa(month))
		query.Set("year", strconv.Itoa(year))
	}
	var periods []PlanPeriod
	path := "/api/marketplace-resources/" + id + "/plan_periods/"
	if _, err := c.do(ctx, OpPlanPeriods, http.MethodGet, c.endpoint(path, query), nil, &periods); err != nil {
		return nil, err
	}
	return periods, nil
}

// SubmitUsage reports component usage for one plan period.
func (c *Client) SubmitUsage(ctx context.Context, report UsageReport) error {
	if _, err := NormalizeID(report.PlanPeriod); err != nil {
		return err
	}
	if len(report.Usages) == 0 {
		return nil
	}
	payload, err := json.Marshal(report)
	if err != nil {
		return err
	}
	_, err = c.do(ctx, OpSubmitUsage, http.MethodPost, c.endpoint("/api/marketplace-component-usages/set_usage/", nil), payload, nil)
	return err
}

func getList[T any](ctx context.Context, c *Client, operation, path string, query url.Values) ([]T, error) {
	if query == nil {
		query = url.Values{}
	}
	query.Set("page", "1")
	query.Set("page_size", strconv.Itoa(c.cfg.PageSize))

	next := c.endpoint(path, query)
	var out []T
	for page := 0; next != ""; page++ {
		if page >= maxPages {
			return nil, fmt.Errorf("allocation: %s: pagination exceeded %d pages", operation, maxPages)
		}
		var items []T
		header, err := c.do(ctx, operation, http.MethodGet, next, nil, &items)
		if err != nil {
			return nil, err
		}
		out = append(out, items...)
		next = nextLink(header.Get("Link"))
	}
	return out, nil
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.base
	u.Path = strings.TrimRight(c.base.Path, "/") + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func (c *Client) do(
	ctx context.Context,
	operation string,
	method string,
	target string,
	body []byte,
	out any,
) (http.Header, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Token "+c.cfg.Token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.ObserveExternalCall(operation, 0, time.Since(start))
		return nil, fmt.Errorf("allocation: %s: %w", operation, err)
	}
	defer resp.Body.Close()
	c.metrics.ObserveExternalCall(operation, resp.StatusCode, time.Since(start))

	if resp.StatusCode >= http.StatusBadRequest {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		apiErr := &APIError{
			Operation:  operation,
			Method:     method,
			Path:       req.URL.Path,
			StatusCode: resp.StatusCode,
			Body:       string(raw),
		}
		c.log.Debug("allocation request failed",
			zap.String("operation", operation),
			zap.String("path", req.URL.Path),
			zap.Int("status", resp.StatusCode),
		)
		return nil, apiErr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.Header, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return nil, fmt.Errorf("allocation: %s: decode response: %w", operation, err)
	}
	return resp.Header, nil
}

// nextLink extracts the rel="next" target of an RFC 8288 Link header.
func nextLink(header string) string {
	if header == "" {
		return ""
	}
	for _, part := range strings.Split(header, ",") {
		segments := strings.Split(part, ";")
		if len(segments) < 2 {
			continue
		}
		target := strings.TrimSpace(segments[0])
		if !strings.HasPrefix(target, "<") || !strings.HasSuffix(target, ">") {
			continue
		}
		for _, param := range segments[1:] {
			param = strings.TrimSpace(param)
			if strings.EqualFold(param, `rel="next"`) || strings.EqualFold(param, "rel=next") {
				return strings.Trim(target, "<>")
			}
		}
	}
	return ""
}
