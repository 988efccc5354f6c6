package fhir

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

	"golang.org/x/oauth2/clientcredentials"

	"github.com/custodia-labs/fhirsync/internal/core/domain"
	"github.com/custodia-labs/fhirsync/internal/core/ports/driven"
	"github.com/custodia-labs/fhirsync/internal/logger"
)

const (
	// DefaultTimeout bounds every HTTP request.
	DefaultTimeout = 30 * time.Second

	// mediaType is the FHIR JSON media type.
	mediaType = "application/fhir+json"

	// maxErrorBody caps how much of an error response is read.
	maxErrorBody = 64 << 10
)

// Ensure Client implements the interfaces.
var (
	_ driven.FHIRClient       = (*Client)(nil)
	_ driven.TextSearcher     = (*Client)(nil)
	_ driven.ResourceSearcher = (*Client)(nil)
	_ driven.Prober           = (*Client)(nil)
)

// Client talks to a FHIR R4 REST server.
type Client struct {
	base    *url.URL
	http    *http.Client
	limiter *RateLimiter
}

// NewClient creates a client for the configured server. When client
// credentials are set, requests carry a bearer token obtained with the
// client-credentials grant and refreshed on expiry.
func NewClient(ctx context.Context, settings domain.ServerSettings) (*Client, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	base, err := url.Parse(strings.TrimRight(settings.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	var hc *http.Client
	if settings.HasCredentials() {
		cc := clientcredentials.Config{
			ClientID:     settings.ClientID,
			ClientSecret: settings.ClientSecret,
			TokenURL:     settings.TokenURL,
		}
		hc = cc.Client(ctx)
	} else {
		hc = &http.Client{}
	}
	hc.Timeout = DefaultTimeout

	return &Client{
		base:    base,
		http:    hc,
		limiter: NewRateLimiter(settings.RequestsPerSecond),
	}, nil
}

// BaseURL returns the server base URL.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// CreateResource POSTs r and returns the stored resource.
func (c *Client) CreateResource(ctx context.Context, r domain.Resource) (domain.Resource, error) {
	resourceType := r.ResourceType()
	if resourceType == "" {
		return nil, fmt.Errorf("%w: resource has no resourceType", domain.ErrInvalidInput)
	}

	var out domain.Resource
	resp, err := c.do(ctx, http.MethodPost, c.endpoint(resourceType), r, &out)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", resourceType, err)
	}

	// Servers may answer 201 with only a Location header
	if out == nil {
		out = r.Clone()
		if id := idFromLocation(resp.Header.Get("Location"), resourceType); id != "" {
			out[domain.FieldID] = id
		}
	}
	return out, nil
}

// ReadResource GETs resourceType/id.
func (c *Client) ReadResource(ctx context.Context, resourceType, id string) (domain.Resource, error) {
	if resourceType == "" || id == "" {
		return nil, fmt.Errorf("%w: resource type and id are required", domain.ErrInvalidInput)
	}

	var out domain.Resource
	if _, err := c.do(ctx, http.MethodGet, c.endpoint(resourceType, id), nil, &out); err != nil {
		return nil, fmt.Errorf("read %s/%s: %w", resourceType, id, err)
	}
	return out, nil
}

// UpdateResource PUTs r to its type and id.
func (c *Client) UpdateResource(ctx context.Context, r domain.Resource) (domain.Resource, error) {
	resourceType, id := r.ResourceType(), r.ID()
	if resourceType == "" || id == "" {
		return nil, fmt.Errorf("%w: resource type and id are required", domain.ErrInvalidInput)
	}

	var out domain.Resource
	if _, err := c.do(ctx, http.MethodPut, c.endpoint(resourceType, id), r, &out); err != nil {
		return nil, fmt.Errorf("update %s/%s: %w", resourceType, id, err)
	}
	if out == nil {
		out = r.Clone()
	}
	return out, nil
}

// DeleteResource DELETEs resourceType/id.
func (c *Client) DeleteResource(ctx context.Context, resourceType, id string) error {
	if resourceType == "" || id == "" {
		return fmt.Errorf("%w: resource type and id are required", domain.ErrInvalidInput)
	}

	if _, err := c.do(ctx, http.MethodDelete, c.endpoint(resourceType, id), nil, nil); err != nil {
		return fmt.Errorf("delete %s/%s: %w", resourceType, id, err)
	}
	return nil
}

// FetchResources lists resources of resourceType matching opts.
func (c *Client) FetchResources(ctx context.Context, resourceType string, opts domain.Query) ([]domain.Resource, error) {
	bundle, err := c.searchBundle(ctx, resourceType, searchValues(opts))
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", resourceType, err)
	}
	return bundle.Entries, nil
}

// Search runs a full-text search. A "q" parameter is sent as _content.
func (c *Client) Search(ctx context.Context, resourceType string, query domain.Query) (*domain.Bundle, error) {
	values := searchValues(query)
	if text := values.Get("q"); text != "" {
		values.Del("q")
		values.Set("_content", text)
	}

	bundle, err := c.searchBundle(ctx, resourceType, values)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", resourceType, err)
	}
	return bundle, nil
}

// SearchResources runs a parameter search through POST _search.
func (c *Client) SearchResources(ctx context.Context, resourceType string, query domain.Query) ([]domain.Resource, error) {
	if resourceType == "" {
		return nil, fmt.Errorf("%w: resource type is required", domain.ErrInvalidInput)
	}

	var raw bundleJSON
	form := searchValues(query)
	if _, err := c.do(ctx, http.MethodPost, c.endpoint(resourceType, "_search"), form, &raw); err != nil {
		return nil, fmt.Errorf("search %s: %w", resourceType, err)
	}
	return raw.toBundle().Entries, nil
}

// Probe checks that the server answers its capability statement.
func (c *Client) Probe(ctx context.Context) error {
	if _, err := c.do(ctx, http.MethodGet, c.endpoint("metadata"), nil, nil); err != nil {
		return fmt.Errorf("probe %s: %w", c.base.Host, err)
	}
	return nil
}

// searchBundle GETs a search Bundle.
func (c *Client) searchBundle(ctx context.Context, resourceType string, values url.Values) (*domain.Bundle, error) {
	if resourceType == "" {
		return nil, fmt.Errorf("%w: resource type is required", domain.ErrInvalidInput)
	}

	target := c.endpoint(resourceType)
	if len(values) > 0 {
		target += "?" + values.Encode()
	}

	var raw bundleJSON
	if _, err := c.do(ctx, http.MethodGet, target, nil, &raw); err != nil {
		return nil, err
	}
	return raw.toBundle(), nil
}

// endpoint joins path segments onto the base URL.
func (c *Client) endpoint(segments ...string) string {
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	return c.base.String() + "/" + strings.Join(escaped, "/")
}

// do sends one request. body is JSON-encoded unless it is url.Values,
// which is sent as a form. out is left nil for an empty response body.
func (c *Client) do(ctx context.Context, method, target string, body, out any) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	var reader io.Reader
	contentType := ""
	switch b := body.(type) {
	case nil:
	case url.Values:
		reader = strings.NewReader(b.Encode())
		contentType = "application/x-www-form-urlencoded"
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}
		reader = bytes.NewReader(data)
		contentType = mediaType
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", mediaType)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	logger.Debug("fhir %s %s", method, target)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		c.limiter.Backoff(retryAfter(resp.Header.Get("Retry-After"), time.Now()))
	}
	if resp.StatusCode >= 400 {
		return resp, statusError(resp)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp, nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp, fmt.Errorf("read response: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return resp, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return resp, fmt.Errorf("decode response: %w", err)
	}
	return resp, nil
}

// operationOutcome is the FHIR error payload.
type operationOutcome struct {
	ResourceType string `json:"resourceType"`
	Issue        []struct {
		Severity    string `json:"severity"`
		Code        string `json:"code"`
		Diagnostics string `json:"diagnostics"`
		Details     struct {
			Text string `json:"text"`
		} `json:"details"`
	} `json:"issue"`
}

// statusError builds a StatusError from an error response, preferring
// the OperationOutcome issue text over the HTTP status text.
func statusError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var oo operationOutcome
	if err := json.Unmarshal(data, &oo); err == nil && oo.ResourceType == "OperationOutcome" {
		var parts []string
		for _, issue := range oo.Issue {
			switch {
			case issue.Details.Text != "":
				parts = append(parts, issue.Details.Text)
			case issue.Diagnostics != "":
				parts = append(parts, issue.Diagnostics)
			case issue.Code != "":
				parts = append(parts, issue.Code)
			}
		}
		if len(parts) > 0 {
			return domain.NewStatusError(resp.StatusCode, strings.Join(parts, "; "))
		}
	}

	return domain.NewStatusError(resp.StatusCode, http.StatusText(resp.StatusCode))
}

// retryAfter parses a Retry-After header given in seconds or as an HTTP date.
func retryAfter(header string, now time.Time) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(header); err == nil {
		return at.Sub(now)
	}
	return 0
}

// idFromLocation extracts the id from "<base>/<type>/<id>[/_history/<vid>]".
func idFromLocation(location, resourceType string) string {
	if location == "" {
		return ""
	}
	if u, err := url.Parse(location); err == nil {
		location = u.Path
	}
	parts := strings.Split(strings.Trim(location, "/"), "/")
	for i := len(parts) - 2; i >= 0; i-- {
		if parts[i] == resourceType {
			return parts[i+1]
		}
	}
	return ""
}

// searchValues converts a query into URL parameters.
func searchValues(q domain.Query) url.Values {
	values := url.Values{}
	for k, v := range q {
		values.Set(k, v)
	}
	return values
}

// bundleJSON is the wire shape of a search Bundle.
type bundleJSON struct {
	ResourceType string `json:"resourceType"`
	Total        *int   `json:"total"`
	Entry        []struct {
		Resource domain.Resource `json:"resource"`
	} `json:"entry"`
}

// toBundle keeps entry resources and falls back to the entry count
// when the server omits total.
func (b bundleJSON) toBundle() *domain.Bundle {
	bundle := &domain.Bundle{Entries: make([]domain.Resource, 0, len(b.Entry))}
	for _, e := range b.Entry {
		if e.Resource != nil {
			bundle.Entries = append(bundle.Entries, e.Resource)
		}
	}
	bundle.Total = len(bundle.Entries)
	if b.Total != nil {
		bundle.Total = *b.Total
	}
	return bundle
}

