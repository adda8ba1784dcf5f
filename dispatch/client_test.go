package dispatch

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct {
	SKU   string `json:"sku"`
	Count int    `json:"count"`
}

func TestClient_GetDecodesJSON(t *testing.T) {
	t.Parallel()

	mock := NewMockTransport().StubResponse(http.StatusOK, `{"sku":"widget","count":3}`)
	d := New(testRegistry("a"), WithTransport(mock))
	orders := NewClient(d, "orders")

	var got item
	require.NoError(t, orders.Get(context.Background(), "/items/42", &got))
	assert.Equal(t, item{SKU: "widget", Count: 3}, got)
	assert.Equal(t, "/items/42", mock.LastRequest().URL.Path)
}

func TestClient_PostMarshalsBody(t *testing.T) {
	t.Parallel()

	var sent string
	mock := NewMockTransport().OnRequest(func(req *http.Request) {
		b, _ := io.ReadAll(req.Body)
		sent = string(b)
	}).StubResponse(http.StatusCreated, `{"sku":"widget","count":1}`)

	d := New(testRegistry("a"), WithTransport(mock))
	orders := NewClient(d, "orders")

	var created item
	err := orders.Post(context.Background(), "/items", item{SKU: "widget", Count: 1}, &created)
	require.NoError(t, err)

	assert.JSONEq(t, `{"sku":"widget","count":1}`, sent)
	assert.Equal(t, "application/json", mock.LastRequest().Header.Get("Content-Type"))
	assert.Equal(t, 1, created.Count)
}

func TestClient_PathPrefix(t *testing.T) {
	t.Parallel()

	mock := NewMockTransport().StubResponse(http.StatusOK, `{}`)
	d := New(testRegistry("a"), WithTransport(mock))
	orders := NewClient(d, "orders", WithPathPrefix("/api/v1/"))

	var got item
	require.NoError(t, orders.Get(context.Background(), "items", &got))
	assert.Equal(t, "/api/v1/items", mock.LastRequest().URL.Path)
}

func TestClient_QueryString(t *testing.T) {
	t.Parallel()

	mock := NewMockTransport().StubResponse(http.StatusOK, `{}`)
	d := New(testRegistry("a"), WithTransport(mock))
	orders := NewClient(d, "orders")

	var got item
	require.NoError(t, orders.Get(context.Background(), "/items?page=2&q=widget", &got))
	assert.Equal(t, "page=2&q=widget", mock.LastRequest().URL.RawQuery)
}

func TestClient_ErrorStatusBecomesStatusError(t *testing.T) {
	t.Parallel()

	mock := NewMockTransport().StubResponse(http.StatusConflict, "already exists")
	d := New(testRegistry("a"), WithTransport(mock))
	orders := NewClient(d, "orders")

	err := orders.Post(context.Background(), "/items", item{SKU: "widget"}, nil)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusConflict, se.StatusCode)
	assert.Equal(t, "orders", se.Service)
	assert.Contains(t, se.Error(), "already exists")
}

func TestClient_CustomErrorDecoder(t *testing.T) {
	t.Parallel()

	custom := func(service string, resp *http.Response) error {
		resp.Body.Close()
		return &StatusError{Service: service, StatusCode: resp.StatusCode, Body: []byte("decoded")}
	}

	mock := NewMockTransport().StubResponse(http.StatusBadRequest, "raw")
	d := New(testRegistry("a"), WithTransport(mock))
	d.RegisterClient("orders", Properties{ErrorDecoder: custom})
	orders := NewClient(d, "orders")

	err := orders.Get(context.Background(), "/items", nil)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, []byte("decoded"), se.Body)
}

func TestClient_Decode404LeavesZeroValue(t *testing.T) {
	t.Parallel()

	mock := NewMockTransport().StubResponse(http.StatusNotFound, `{"error":"missing"}`)
	d := New(testRegistry("a"), WithTransport(mock))
	d.RegisterClient("orders", Properties{Decode404: boolPtr(true)})
	orders := NewClient(d, "orders")

	var got item
	require.NoError(t, orders.Get(context.Background(), "/items/404", &got))
	assert.Equal(t, item{}, got)
}

func TestClient_404WithoutDecodeIsError(t *testing.T) {
	t.Parallel()

	mock := NewMockTransport().StubResponse(http.StatusNotFound, "missing")
	d := New(testRegistry("a"), WithTransport(mock))
	orders := NewClient(d, "orders")

	err := orders.Get(context.Background(), "/items/404", nil)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.StatusCode)
}

func TestClient_DeleteNoContent(t *testing.T) {
	t.Parallel()

	mock := NewMockTransport().StubResponse(http.StatusNoContent, "")
	d := New(testRegistry("a"), WithTransport(mock))
	orders := NewClient(d, "orders")

	require.NoError(t, orders.Delete(context.Background(), "/items/42"))
	assert.Equal(t, http.MethodDelete, mock.LastRequest().Method)
}
