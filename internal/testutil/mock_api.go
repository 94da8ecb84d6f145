// Package testutil provides testing utilities for the API caller.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// MockAPIResponse defines the behavior for a mock endpoint response.
type MockAPIResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockAPI is a configurable mock JSON API server for testing.
//
// Responses are resolved in order: a response registered for the exact
// path and query, then a handler for the path, then the default echo
// handler which returns the query parameters as a JSON object.
type MockAPI struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)
	queries  map[string]MockAPIResponse

	// Tracking
	RequestCount      int
	InFlight          int
	MaxInFlight       int
	LastRequestHeader http.Header
	queryCounts       map[string]int
}

// NewMockAPI creates a new mock API server.
func NewMockAPI() *MockAPI {
	mock := &MockAPI{
		handlers:    make(map[string]func(w http.ResponseWriter, r *http.Request)),
		queries:     make(map[string]MockAPIResponse),
		queryCounts: make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Encode sorts by key, so equal parameter sets match regardless of order
		query := r.URL.Path + "?" + r.URL.Query().Encode()

		mock.mu.Lock()
		mock.RequestCount++
		mock.InFlight++
		if mock.InFlight > mock.MaxInFlight {
			mock.MaxInFlight = mock.InFlight
		}
		mock.LastRequestHeader = r.Header.Clone()
		mock.queryCounts[query]++
		resp, hasQuery := mock.queries[query]
		handler, hasHandler := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		defer func() {
			mock.mu.Lock()
			mock.InFlight--
			mock.mu.Unlock()
		}()

		switch {
		case hasQuery:
			writeResponse(w, resp)
		case hasHandler:
			handler(w, r)
		default:
			mock.defaultHandler(w, r)
		}
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockAPI) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockAPI) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockAPI) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.MaxInFlight = 0
	m.LastRequestHeader = nil
	m.queryCounts = make(map[string]int)
}

// SetHandler sets a custom handler for a specific path.
func (m *MockAPI) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a simple response for a path.
func (m *MockAPI) SetResponse(path string, resp MockAPIResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		writeResponse(w, resp)
	})
}

// SetQueryResponse configures a response for one path and encoded query,
// e.g. SetQueryResponse("/items", "id=2", ...). The query must be in
// url.Values.Encode form.
func (m *MockAPI) SetQueryResponse(path, query string, resp MockAPIResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries[path+"?"+query] = resp
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockAPI) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetQueryCount returns how often path was requested with the encoded query.
func (m *MockAPI) GetQueryCount(path, query string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.queryCounts[path+"?"+query]
}

// GetMaxInFlight returns the highest number of concurrent requests seen.
func (m *MockAPI) GetMaxInFlight() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.MaxInFlight
}

// GetLastRequestHeader returns the headers of the most recent request.
func (m *MockAPI) GetLastRequestHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastRequestHeader
}

// defaultHandler echoes the query parameters as a JSON object. Repeated
// keys become arrays.
func (m *MockAPI) defaultHandler(w http.ResponseWriter, r *http.Request) {
	echo := make(map[string]any)
	for name, values := range r.URL.Query() {
		if len(values) == 1 {
			echo[name] = values[0]
			continue
		}
		echo[name] = values
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(echo)
}

func writeResponse(w http.ResponseWriter, resp MockAPIResponse) {
	// Add delay if specified
	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}

	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}

	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

// NewJSONResponse creates a standard 200 OK response with a JSON body.
func NewJSONResponse(data string) MockAPIResponse {
	return MockAPIResponse{
		StatusCode: http.StatusOK,
		Body:       data,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewDelayedResponse creates a 200 OK response sent after delay.
func NewDelayedResponse(data string, delay time.Duration) MockAPIResponse {
	resp := NewJSONResponse(data)
	resp.Delay = delay
	return resp
}

// NewNotFoundResponse creates a 404 Not Found response.
func NewNotFoundResponse() MockAPIResponse {
	return MockAPIResponse{
		StatusCode: http.StatusNotFound,
		Body:       `{"error": "Not found"}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockAPIResponse {
	return MockAPIResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "Internal server error"}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewMalformedResponse creates a 200 OK response whose body is not JSON.
func NewMalformedResponse() MockAPIResponse {
	return MockAPIResponse{
		StatusCode: http.StatusOK,
		Body:       `<html>maintenance</html>`,
		Headers: map[string]string{
			"Content-Type": "text/html",
		},
	}
}
