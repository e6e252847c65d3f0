package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"store-records-service/internal/domain"
	"store-records-service/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockOrderStorer is a mock implementation of store.OrderStorer
type MockOrderStorer struct {
	mock.Mock
}

func (m *MockOrderStorer) ComposeOrder(ctx context.Context, order *domain.Order, productIDs []int64) (*domain.Order, *store.ProductResolution, error) {
	args := m.Called(ctx, order, productIDs)
	var composed *domain.Order
	if arg0 := args.Get(0); arg0 != nil {
		composed = arg0.(*domain.Order)
	}
	var resolution *store.ProductResolution
	if arg1 := args.Get(1); arg1 != nil {
		resolution = arg1.(*store.ProductResolution)
	}
	return composed, resolution, args.Error(2)
}

func (m *MockOrderStorer) GetOrderByID(ctx context.Context, id int64) (*domain.Order, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Order), args.Error(1)
}

func (m *MockOrderStorer) GetOrderByNaturalKey(ctx context.Context, date, client string) (*domain.Order, error) {
	args := m.Called(ctx, date, client)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Order), args.Error(1)
}

func (m *MockOrderStorer) ListOrders(ctx context.Context, params store.ListOrdersParams) ([]domain.Order, int, error) {
	args := m.Called(ctx, params)
	var orders []domain.Order
	if arg0 := args.Get(0); arg0 != nil {
		orders = arg0.([]domain.Order)
	}
	return orders, args.Int(1), args.Error(2)
}

func (m *MockOrderStorer) DeleteOrder(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// orderEnvelope mirrors the JSON envelope for single-order responses.
type orderEnvelope struct {
	Success bool         `json:"success"`
	Data    domain.Order `json:"data"`
	Error   string       `json:"error"`
}

func TestHTTPHandler_CreateOrder_Success(t *testing.T) {
	mockOrderStore := new(MockOrderStorer)
	server := setupTestChiServer(t, nil, nil, mockOrderStore)
	defer server.Close()

	inputPayload := OrderCreateInput{
		Date:     "2024-01-01",
		Client:   "Ana",
		Products: []int64{4},
	}
	composed := &domain.Order{
		ID:          2,
		Date:        "2024-01-01",
		Client:      "Ana",
		TotalAmount: 2.5,
		Products: []domain.Product{
			{ID: 4, Name: "Cola", Price: 2.5, Stock: 10, CategoryID: 1, OrderID: PtrTo(int64(2))},
		},
	}
	resolution := &store.ProductResolution{Resolved: composed.Products, Skipped: []int64{}}

	mockOrderStore.On("ComposeOrder", mock.Anything, mock.MatchedBy(func(o *domain.Order) bool {
		return o.Date == "2024-01-01" && o.Client == "Ana"
	}), []int64{4}).Return(composed, resolution, nil).Once()

	reqBody, _ := json.Marshal(inputPayload)
	res, err := http.Post(server.URL+"/orders", "application/json", bytes.NewBuffer(reqBody))
	require.NoError(t, err)
	defer res.Body.Close()

	require.Equal(t, http.StatusCreated, res.StatusCode)
	var envelope orderEnvelope
	require.NoError(t, json.NewDecoder(res.Body).Decode(&envelope))
	assert.True(t, envelope.Success)
	assert.Equal(t, 2.5, envelope.Data.TotalAmount)
	require.Len(t, envelope.Data.Products, 1)
	assert.Equal(t, "Cola", envelope.Data.Products[0].Name)

	mockOrderStore.AssertExpectations(t)
}

func TestHTTPHandler_CreateOrder_MissingDate(t *testing.T) {
	mockOrderStore := new(MockOrderStorer)
	server := setupTestChiServer(t, nil, nil, mockOrderStore)
	defer server.Close()

	inputPayload := OrderCreateInput{Client: "Ana"}
	reqBody, _ := json.Marshal(inputPayload)

	res, err := http.Post(server.URL+"/orders", "application/json", bytes.NewBuffer(reqBody))
	require.NoError(t, err)
	defer res.Body.Close()

	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	var errResp ErrorResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&errResp))
	assert.False(t, errResp.Success)
	assert.Contains(t, errResp.Error, "Validation failed")

	// Validation failures must not create a partial order.
	mockOrderStore.AssertNotCalled(t, "ComposeOrder", mock.Anything, mock.Anything, mock.Anything)
}

func TestHTTPHandler_CreateOrder_UnknownProductsTolerated(t *testing.T) {
	mockOrderStore := new(MockOrderStorer)
	server := setupTestChiServer(t, nil, nil, mockOrderStore)
	defer server.Close()

	inputPayload := OrderCreateInput{
		Date:     "2024-01-01",
		Client:   "Ana",
		Products: []int64{9999},
	}
	composed := &domain.Order{
		ID:          3,
		Date:        "2024-01-01",
		Client:      "Ana",
		TotalAmount: 0,
		Products:    []domain.Product{},
	}
	resolution := &store.ProductResolution{Resolved: []domain.Product{}, Skipped: []int64{9999}}

	mockOrderStore.On("ComposeOrder", mock.Anything, mock.AnythingOfType("*domain.Order"), []int64{9999}).
		Return(composed, resolution, nil).Once()

	reqBody, _ := json.Marshal(inputPayload)
	res, err := http.Post(server.URL+"/orders", "application/json", bytes.NewBuffer(reqBody))
	require.NoError(t, err)
	defer res.Body.Close()

	require.Equal(t, http.StatusCreated, res.StatusCode, "unknown product ids are dropped, not an error")
	var envelope orderEnvelope
	require.NoError(t, json.NewDecoder(res.Body).Decode(&envelope))
	assert.Equal(t, 0.0, envelope.Data.TotalAmount)
	assert.Empty(t, envelope.Data.Products)

	mockOrderStore.AssertExpectations(t)
}

func TestHTTPHandler_ListOrders_Defaults(t *testing.T) {
	mockOrderStore := new(MockOrderStorer)
	server := setupTestChiServer(t, nil, nil, mockOrderStore)
	defer server.Close()

	orders := []domain.Order{
		{ID: 1, Date: "2024-01-01", Client: "Ana", TotalAmount: 2.5, Products: []domain.Product{}},
	}
	mockOrderStore.On("ListOrders", mock.Anything, store.ListOrdersParams{Limit: 5, Offset: 0}).
		Return(orders, 1, nil).Once()

	res, err := http.Get(server.URL + "/orders/allorders")
	require.NoError(t, err)
	defer res.Body.Close()

	require.Equal(t, http.StatusOK, res.StatusCode)
	var envelope listEnvelope
	require.NoError(t, json.NewDecoder(res.Body).Decode(&envelope))
	assert.Equal(t, 1, envelope.Page)
	assert.Equal(t, 5, envelope.PerPage)
	assert.Equal(t, 1, envelope.TotalItems)
	assert.Equal(t, 1, envelope.TotalPages)

	mockOrderStore.AssertExpectations(t)
}

func TestHTTPHandler_GetOrderByID_NotFound(t *testing.T) {
	mockOrderStore := new(MockOrderStorer)
	server := setupTestChiServer(t, nil, nil, mockOrderStore)
	defer server.Close()

	mockOrderStore.On("GetOrderByID", mock.Anything, int64(99)).Return(nil, store.ErrOrderNotFound).Once()

	res, err := http.Get(server.URL + "/orders/99")
	require.NoError(t, err)
	defer res.Body.Close()

	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	var errResp ErrorResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&errResp))
	assert.Equal(t, store.ErrOrderNotFound.Error(), errResp.Error)

	mockOrderStore.AssertExpectations(t)
}

func TestHTTPHandler_DeleteOrder_ByNaturalKey(t *testing.T) {
	mockOrderStore := new(MockOrderStorer)
	server := setupTestChiServer(t, nil, nil, mockOrderStore)
	defer server.Close()

	order := &domain.Order{ID: 2, Date: "2024-01-01", Client: "Ana"}
	mockOrderStore.On("GetOrderByNaturalKey", mock.Anything, "2024-01-01", "Ana").Return(order, nil).Once()
	mockOrderStore.On("DeleteOrder", mock.Anything, order.ID).Return(nil).Once()

	req, err := http.NewRequest(http.MethodDelete, server.URL+"/orders/deleteorder?date=2024-01-01&client=Ana", nil)
	require.NoError(t, err)

	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	assert.Equal(t, http.StatusOK, res.StatusCode)
	var resp SuccessResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&resp))
	assert.True(t, resp.Success)

	mockOrderStore.AssertExpectations(t)
}

func TestHTTPHandler_DeleteOrder_MissingParams(t *testing.T) {
	mockOrderStore := new(MockOrderStorer)
	server := setupTestChiServer(t, nil, nil, mockOrderStore)
	defer server.Close()

	req, err := http.NewRequest(http.MethodDelete, server.URL+"/orders/deleteorder?date=2024-01-01", nil)
	require.NoError(t, err)

	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	mockOrderStore.AssertNotCalled(t, "GetOrderByNaturalKey", mock.Anything, mock.Anything, mock.Anything)
}

func TestHTTPHandler_DeleteOrder_NotFound(t *testing.T) {
	mockOrderStore := new(MockOrderStorer)
	server := setupTestChiServer(t, nil, nil, mockOrderStore)
	defer server.Close()

	mockOrderStore.On("GetOrderByNaturalKey", mock.Anything, "2024-01-01", "Nobody").
		Return(nil, store.ErrOrderNotFound).Once()

	req, err := http.NewRequest(http.MethodDelete, server.URL+"/orders/deleteorder?date=2024-01-01&client=Nobody", nil)
	require.NoError(t, err)

	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	mockOrderStore.AssertExpectations(t)
}
