package aleo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetMappingValue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "POST", r.Method)

		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "2.0", req.Jsonrpc)
		assert.Equal(t, "getMappingValue", req.Method)

		params, err := json.Marshal(req.Params)
		require.NoError(t, err)
		var p getMappingValueParams
		require.NoError(t, json.Unmarshal(params, &p))
		assert.Equal(t, "veil_lend.aleo", p.ProgramID)
		assert.Equal(t, "supplied_total", p.MappingName)
		assert.Equal(t, "0u8", p.Key)

		json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      1,
			"result":  "5000000u128",
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.URL, nil, nil, nil)

	value, err := c.GetMappingValue(context.Background(), "veil_lend.aleo", "supplied_total", "0u8")
	require.NoError(t, err)
	assert.Equal(t, "5000000u128", value)
}

func TestGetMappingValue_NullResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":null}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.URL, nil, nil, nil)

	value, err := c.GetMappingValue(context.Background(), "veil_token.aleo", "balances", "{account: aleo1x, token_id: 1field}")
	require.NoError(t, err)
	assert.Equal(t, "", value)
}

func TestGetMappingValue_RPCError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32602,"message":"unknown mapping"}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.URL, nil, nil, nil)

	_, err := c.GetMappingValue(context.Background(), "veil_lend.aleo", "nope", "0u8")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mapping")
}

func TestGetMappingValue_RetriesThenSucceeds(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":"42u64"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.URL, nil, nil, nil)

	value, err := c.GetMappingValue(context.Background(), "veil_lend.aleo", "next_loan_id", "0u8")
	require.NoError(t, err)
	assert.Equal(t, "42u64", value)
	assert.Equal(t, 2, attempts)
}

func TestLatestHeight(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "GET", r.Method)
		assert.Equal(t, "/latest/height", r.URL.Path)
		w.Write([]byte("4821\n"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.URL, nil, nil, nil)

	height, err := c.LatestHeight(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint32(4821), height)
}

func TestLatestHeight_Malformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not a height"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.URL, nil, nil, nil)

	// Height lookups propagate failures rather than failing closed; builders
	// must not run against a guessed height.
	_, err := c.LatestHeight(context.Background())
	require.Error(t, err)
}
