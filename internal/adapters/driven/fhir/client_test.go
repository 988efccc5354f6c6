package fhir

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/fhirsync/internal/core/domain"
)

// recorded is one request seen by the test server.
type recorded struct {
	Method      string
	Path        string
	Query       string
	ContentType string
	Auth        string
	Body        string
}

// fhirServer is an httptest server with a programmable handler.
type fhirServer struct {
	*httptest.Server
	mu       sync.Mutex
	requests []recorded
	handler  http.HandlerFunc
}

func newFHIRServer(t *testing.T, handler http.HandlerFunc) *fhirServer {
	t.Helper()
	s := &fhirServer{handler: handler}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		s.mu.Lock()
		s.requests = append(s.requests, recorded{
			Method:      r.Method,
			Path:        r.URL.Path,
			Query:       r.URL.RawQuery,
			ContentType: r.Header.Get("Content-Type"),
			Auth:        r.Header.Get("Authorization"),
			Body:        string(body),
		})
		s.mu.Unlock()
		r.Body = io.NopCloser(strings.NewReader(string(body)))
		s.handler(w, r)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *fhirServer) last() recorded {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[len(s.requests)-1]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", mediaType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, srv *fhirServer) *Client {
	t.Helper()
	c, err := NewClient(context.Background(), domain.ServerSettings{BaseURL: srv.URL + "/fhir/R4/"})
	require.NoError(t, err)
	return c
}

func TestNewClient_InvalidSettings(t *testing.T) {
	_, err := NewClient(context.Background(), domain.ServerSettings{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = NewClient(context.Background(), domain.ServerSettings{BaseURL: "fhir.example.org"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestClient_CreateResource(t *testing.T) {
	srv := newFHIRServer(t, func(w http.ResponseWriter, r *http.Request) {
		var in domain.Resource
		_ = json.NewDecoder(r.Body).Decode(&in)
		in["id"] = "srv-1"
		writeJSON(w, http.StatusCreated, in)
	})
	c := newTestClient(t, srv)

	out, err := c.CreateResource(context.Background(), domain.Resource{"resourceType": "Patient", "active": true})

	require.NoError(t, err)
	assert.Equal(t, "srv-1", out.ID())
	assert.Equal(t, true, out["active"])

	req := srv.last()
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/fhir/R4/Patient", req.Path)
	assert.Equal(t, mediaType, req.ContentType)
	assert.JSONEq(t, `{"resourceType":"Patient","active":true}`, req.Body)
}

func TestClient_CreateResource_LocationOnly(t *testing.T) {
	srv := newFHIRServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "http://example.org/fhir/R4/Patient/abc/_history/1")
		w.WriteHeader(http.StatusCreated)
	})
	c := newTestClient(t, srv)

	out, err := c.CreateResource(context.Background(), domain.Resource{"resourceType": "Patient"})

	require.NoError(t, err)
	assert.Equal(t, "abc", out.ID())
}

func TestClient_CreateResource_MissingType(t *testing.T) {
	srv := newFHIRServer(t, func(w http.ResponseWriter, r *http.Request) {})
	c := newTestClient(t, srv)

	_, err := c.CreateResource(context.Background(), domain.Resource{"active": true})

	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Empty(t, srv.requests)
}

func TestClient_ReadUpdateDelete(t *testing.T) {
	srv := newFHIRServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, map[string]any{"resourceType": "Patient", "id": "p1"})
		case http.MethodPut:
			var in domain.Resource
			_ = json.NewDecoder(r.Body).Decode(&in)
			in["meta"] = map[string]any{"versionId": "2"}
			writeJSON(w, http.StatusOK, in)
		case http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		}
	})
	c := newTestClient(t, srv)
	ctx := context.Background()

	got, err := c.ReadResource(ctx, "Patient", "p1")
	require.NoError(t, err)
	assert.Equal(t, "p1", got.ID())
	assert.Equal(t, "/fhir/R4/Patient/p1", srv.last().Path)

	updated, err := c.UpdateResource(ctx, domain.Resource{"resourceType": "Patient", "id": "p1", "active": false})
	require.NoError(t, err)
	assert.Equal(t, http.MethodPut, srv.last().Method)
	assert.Equal(t, map[string]any{"versionId": "2"}, updated["meta"])

	require.NoError(t, c.DeleteResource(ctx, "Patient", "p1"))
	assert.Equal(t, http.MethodDelete, srv.last().Method)
}

func TestClient_RequiresTypeAndID(t *testing.T) {
	srv := newFHIRServer(t, func(w http.ResponseWriter, r *http.Request) {})
	c := newTestClient(t, srv)
	ctx := context.Background()

	_, err := c.ReadResource(ctx, "Patient", "")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = c.UpdateResource(ctx, domain.Resource{"resourceType": "Patient"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.ErrorIs(t, c.DeleteResource(ctx, "", "p1"), domain.ErrInvalidInput)
	_, err = c.FetchResources(ctx, "", nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestClient_OperationOutcomeBecomesStatusError(t *testing.T) {
	srv := newFHIRServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"resourceType": "OperationOutcome",
			"issue": []map[string]any{
				{"severity": "error", "code": "invalid", "details": map[string]any{"text": "Invalid birthDate"}},
				{"severity": "error", "code": "required", "diagnostics": "name is required"},
			},
		})
	})
	c := newTestClient(t, srv)

	_, err := c.UpdateResource(context.Background(), domain.Resource{"resourceType": "Patient", "id": "p1"})

	var se *domain.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadRequest, se.StatusCode())
	assert.Equal(t, "Invalid birthDate; name is required", se.Message)
	assert.Contains(t, err.Error(), "update Patient/p1")
}

func TestClient_PlainErrorStatus(t *testing.T) {
	srv := newFHIRServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "<html>gone</html>", http.StatusNotFound)
	})
	c := newTestClient(t, srv)

	_, err := c.ReadResource(context.Background(), "Patient", "missing")

	var se *domain.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.Status)
	assert.Equal(t, "Not Found", se.Message)
}

func TestClient_FetchResources(t *testing.T) {
	srv := newFHIRServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"resourceType": "Bundle",
			"entry": []map[string]any{
				{"resource": map[string]any{"resourceType": "Patient", "id": "a"}},
				{"resource": map[string]any{"resourceType": "Patient", "id": "b"}},
				{"fullUrl": "urn:uuid:no-resource"},
			},
		})
	})
	c := newTestClient(t, srv)

	list, err := c.FetchResources(context.Background(), "Patient", domain.Query{"family": "Smith", "_count": "2"})

	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].ID())
	assert.Equal(t, "_count=2&family=Smith", srv.last().Query)
}

func TestClient_Search_UsesContentParameter(t *testing.T) {
	srv := newFHIRServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"resourceType": "Bundle",
			"total":        7,
			"entry":        []map[string]any{{"resource": map[string]any{"resourceType": "Patient", "id": "a"}}},
		})
	})
	c := newTestClient(t, srv)

	bundle, err := c.Search(context.Background(), "Patient", domain.Query{"q": "smith"})

	require.NoError(t, err)
	assert.Equal(t, 7, bundle.Total)
	assert.Len(t, bundle.Entries, 1)
	assert.Equal(t, "_content=smith", srv.last().Query)
}

func TestClient_SearchResources_PostsForm(t *testing.T) {
	srv := newFHIRServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"resourceType": "Bundle"})
	})
	c := newTestClient(t, srv)

	list, err := c.SearchResources(context.Background(), "Observation", domain.Query{"code": "8867-4"})

	require.NoError(t, err)
	assert.Empty(t, list)
	req := srv.last()
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/fhir/R4/Observation/_search", req.Path)
	assert.Equal(t, "application/x-www-form-urlencoded", req.ContentType)
	assert.Equal(t, "code=8867-4", req.Body)
}

func TestClient_Probe(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	srv := newFHIRServer(t, func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"resourceType": "CapabilityStatement"})
	})
	c := newTestClient(t, srv)

	require.NoError(t, c.Probe(context.Background()))
	assert.Equal(t, "/fhir/R4/metadata", srv.last().Path)

	healthy.Store(false)
	err := c.Probe(context.Background())
	var se *domain.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusServiceUnavailable, se.Status)
}

func TestClient_TransportErrorIsNetworkError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	c, err := NewClient(context.Background(), domain.ServerSettings{BaseURL: "http://" + addr + "/fhir"})
	require.NoError(t, err)

	err = c.Probe(context.Background())

	var opErr *net.OpError
	assert.True(t, errors.As(err, &opErr), "got %v", err)
}

func TestClient_ClientCredentials(t *testing.T) {
	var tokenCalls atomic.Int32
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenCalls.Add(1)
		_ = r.ParseForm()
		assert.Equal(t, "client_credentials", r.Form.Get("grant_type"))
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token": "tok-123",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
	defer tokenSrv.Close()

	srv := newFHIRServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"resourceType": "CapabilityStatement"})
	})

	c, err := NewClient(context.Background(), domain.ServerSettings{
		BaseURL:      srv.URL,
		TokenURL:     tokenSrv.URL,
		ClientID:     "client",
		ClientSecret: "secret",
	})
	require.NoError(t, err)

	require.NoError(t, c.Probe(context.Background()))
	require.NoError(t, c.Probe(context.Background()))

	assert.Equal(t, "Bearer tok-123", srv.last().Auth)
	assert.Equal(t, int32(1), tokenCalls.Load(), "token is reused until expiry")
}

func TestClient_TooManyRequestsSetsBackoff(t *testing.T) {
	srv := newFHIRServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "120")
		w.WriteHeader(http.StatusTooManyRequests)
	})
	c := newTestClient(t, srv)

	err := c.Probe(context.Background())

	var se *domain.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusTooManyRequests, se.Status)
	assert.False(t, c.limiter.Allow(), "further requests are held back")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = c.Probe(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRetryAfter(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.Zero(t, retryAfter("", now))
	assert.Zero(t, retryAfter("soon", now))
	assert.Equal(t, 5*time.Second, retryAfter("5", now))
	assert.Equal(t, 90*time.Second, retryAfter("Fri, 01 Mar 2024 12:01:30 GMT", now))
}

func TestIDFromLocation(t *testing.T) {
	tests := []struct {
		location string
		want     string
	}{
		{"", ""},
		{"http://example.org/fhir/Patient/abc", "abc"},
		{"http://example.org/fhir/Patient/abc/_history/2", "abc"},
		{"Patient/xyz/_history/1", "xyz"},
		{"http://example.org/fhir/Observation/abc", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, idFromLocation(tt.location, "Patient"), tt.location)
	}
}
