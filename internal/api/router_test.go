package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Bidon15/erc20kit/internal/repository"
)

// MockRepository is a mock implementation of repository.Repository for testing.
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Save(ctx context.Context, r *repository.Record) error {
	return m.Called(ctx, r).Error(0)
}

func (m *MockRepository) Latest(ctx context.Context, network, contract string) (*repository.Record, error) {
	args := m.Called(ctx, network, contract)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.Record), args.Error(1)
}

func (m *MockRepository) List(ctx context.Context, network string) ([]*repository.Record, error) {
	args := m.Called(ctx, network)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*repository.Record), args.Error(1)
}

func (m *MockRepository) Close() error {
	return m.Called().Error(0)
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *APIError       `json:"error"`
	Meta  *Meta           `json:"meta"`
}

func serve(t *testing.T, h http.Handler, method, target string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var body envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func seededStore(t *testing.T) *repository.MemoryStore {
	t.Helper()
	store := repository.NewMemoryStore()
	ctx := context.Background()
	for _, r := range []*repository.Record{
		{RunID: "run-1", Network: "development", ContractName: "Migrations", Address: common.HexToAddress("0x01"), BlockNumber: 1},
		{RunID: "run-1", Network: "development", ContractName: "TestToken", Address: common.HexToAddress("0x02"), BlockNumber: 2},
		{RunID: "run-2", Network: "development", ContractName: "TestToken", Address: common.HexToAddress("0x03"), BlockNumber: 5},
		{RunID: "run-3", Network: "sepolia", ContractName: "TestToken", Address: common.HexToAddress("0x04"), BlockNumber: 9},
	} {
		require.NoError(t, store.Save(ctx, r))
	}
	return store
}

func TestHealth(t *testing.T) {
	h := NewRouter(repository.NewMemoryStore(), nil, Options{})

	rec, body := serve(t, h, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, string(body.Data))
	assert.NotEmpty(t, rec.Header().Get("Content-Type"))
}

func TestList(t *testing.T) {
	h := NewRouter(seededStore(t), nil, Options{})

	tests := []struct {
		name      string
		target    string
		wantTotal int
		wantAddrs []common.Address
	}{
		{
			name:      "all records of a network",
			target:    "/v1/deployments/development",
			wantTotal: 3,
			wantAddrs: []common.Address{common.HexToAddress("0x01"), common.HexToAddress("0x02"), common.HexToAddress("0x03")},
		},
		{
			name:      "filtered by contract",
			target:    "/v1/deployments/development?contract=TestToken",
			wantTotal: 2,
			wantAddrs: []common.Address{common.HexToAddress("0x02"), common.HexToAddress("0x03")},
		},
		{
			name:      "unknown network",
			target:    "/v1/deployments/mainnet",
			wantTotal: 0,
			wantAddrs: []common.Address{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := serve(t, h, http.MethodGet, tt.target)
			require.Equal(t, http.StatusOK, rec.Code)
			require.NotNil(t, body.Meta)
			assert.Equal(t, tt.wantTotal, body.Meta.Total)

			var records []*repository.Record
			require.NoError(t, json.Unmarshal(body.Data, &records))
			addrs := make([]common.Address, 0, len(records))
			for _, r := range records {
				addrs = append(addrs, r.Address)
			}
			assert.Equal(t, tt.wantAddrs, addrs)
		})
	}
}

func TestLatest(t *testing.T) {
	h := NewRouter(seededStore(t), nil, Options{})

	rec, body := serve(t, h, http.MethodGet, "/v1/deployments/development/TestToken")
	require.Equal(t, http.StatusOK, rec.Code)

	var record repository.Record
	require.NoError(t, json.Unmarshal(body.Data, &record))
	assert.Equal(t, common.HexToAddress("0x03"), record.Address)
	assert.Equal(t, "run-2", record.RunID)

	rec, body = serve(t, h, http.MethodGet, "/v1/deployments/sepolia/Migrations")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	require.NotNil(t, body.Error)
	assert.Equal(t, "not_found", body.Error.Code)
	assert.Equal(t, "deployment not found", body.Error.Message)
}

func TestRepositoryFailures(t *testing.T) {
	repo := new(MockRepository)
	repo.On("List", mock.Anything, "development").Return(nil, errors.New("connection reset"))
	repo.On("Latest", mock.Anything, "development", "TestToken").Return(nil, errors.New("connection reset"))
	h := NewRouter(repo, nil, Options{})

	rec, body := serve(t, h, http.MethodGet, "/v1/deployments/development")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotNil(t, body.Error)
	assert.Equal(t, "internal_error", body.Error.Code)
	assert.NotContains(t, rec.Body.String(), "connection reset")

	rec, _ = serve(t, h, http.MethodGet, "/v1/deployments/development/TestToken")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	repo.AssertExpectations(t)
}

func TestUnknownRoute(t *testing.T) {
	h := NewRouter(repository.NewMemoryStore(), nil, Options{})

	rec, body := serve(t, h, http.MethodGet, "/v2/anything")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	require.NotNil(t, body.Error)
	assert.Equal(t, "not_found", body.Error.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h := NewRouter(repository.NewMemoryStore(), nil, Options{})

	serve(t, h, http.MethodGet, "/health")
	rec, _ := serve(t, h, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "erc20kit_http_requests_total")
}

func TestCORS(t *testing.T) {
	h := NewRouter(repository.NewMemoryStore(), nil, Options{CORSOrigins: []string{"https://explorer.example"}})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://explorer.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "https://explorer.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://elsewhere.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
