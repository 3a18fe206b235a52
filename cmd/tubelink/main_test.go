package main

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type seen struct {
	method, path, query, key string
	body                     map[string]string
}

func adminServer(t *testing.T, status int, resp string) (*httptest.Server, *seen) {
	t.Helper()
	s := &seen{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.method, s.path, s.query = r.Method, r.URL.Path, r.URL.RawQuery
		s.key = r.Header.Get("X-Admin-API-Key")
		if b, _ := io.ReadAll(r.Body); len(b) > 0 {
			_ = json.Unmarshal(b, &s.body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(resp))
	}))
	t.Cleanup(srv.Close)
	return srv, s
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCredentialGet_SendsAdminKey(t *testing.T) {
	srv, s := adminServer(t, http.StatusOK, `{"tenant_id":"store-1","status":"ACTIVE"}`)

	out, err := run(t, "credential", "get", "store-1", "--admin-api-url", srv.URL, "--admin-api-key", "k1")
	require.NoError(t, err)
	assert.Equal(t, http.MethodGet, s.method)
	assert.Equal(t, "/v2/tenants/store-1/google/credential", s.path)
	assert.Equal(t, "k1", s.key)
	assert.Contains(t, out, `"status":"ACTIVE"`)
}

func TestCredentialStatus_Body(t *testing.T) {
	srv, s := adminServer(t, http.StatusOK, `{}`)

	_, err := run(t, "credential", "status", "store-1", "REVOKED", "--reason", "manual",
		"--admin-api-url", srv.URL, "--admin-api-key", "k1")
	require.NoError(t, err)
	assert.Equal(t, http.MethodPut, s.method)
	assert.Equal(t, "/v2/tenants/store-1/google/credential/status", s.path)
	assert.Equal(t, map[string]string{"status": "REVOKED", "reason": "manual"}, s.body)
}

func TestScan_Threshold(t *testing.T) {
	srv, s := adminServer(t, http.StatusOK, `{"selected":0}`)

	_, err := run(t, "scan", "--threshold", "10m", "--admin-api-url", srv.URL, "--admin-api-key", "k1")
	require.NoError(t, err)
	assert.Equal(t, "/v2/admin/google/scan", s.path)
	assert.Equal(t, "threshold=10m0s", s.query)
}

func TestAPIErrorCode(t *testing.T) {
	srv, _ := adminServer(t, http.StatusConflict, `{"code":"CREDENTIAL_REVOKED","message":"x"}`)

	_, err := run(t, "credential", "refresh", "store-1", "--admin-api-url", srv.URL, "--admin-api-key", "k1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=409")
	assert.Contains(t, err.Error(), "CREDENTIAL_REVOKED")
}

func TestMissingAPIKey(t *testing.T) {
	t.Setenv("TUBELINK_ADMIN_KEY", "")
	_, err := run(t, "credential", "get", "store-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key")
}

func TestKeysGen_Offline(t *testing.T) {
	t.Setenv("TUBELINK_ADMIN_KEY", "")
	out, err := run(t, "keys", "gen")
	require.NoError(t, err)

	k := strings.TrimSpace(out)
	assert.Len(t, k, 64)
	_, err = hex.DecodeString(k)
	assert.NoError(t, err)
}
