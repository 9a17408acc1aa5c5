package www

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"floorcore/config"
	"floorcore/dispatch"
	"floorcore/engine"
)

type apiClient struct {
	t      *testing.T
	base   string
	client *http.Client
}

func newTestServer(t *testing.T) *apiClient {
	t.Helper()
	cfg := config.Defaults()
	cfg.Scheduler.Mode = "discrete"
	cfg.Units = []config.UnitConfig{
		{ID: "m1", Kind: "machine", Capacity: 10, CycleDuration: time.Hour},
		{ID: "w1", Kind: "warehouse", Capacity: 1000},
	}
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	cfg.Web.AdminPasswordHash = string(hash)
	cfg.Web.SessionSecret = "test-session-secret-0123456789ab"

	reg := prometheus.NewRegistry()
	eng, err := engine.New(engine.Config{AppConfig: cfg, Clock: clock.NewMock(), Registerer: reg})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		eng.Run(ctx)
		close(done)
	}()

	router, err := NewRouter(eng, &cfg.Web, reg, nil)
	require.NoError(t, err)
	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
		eng.Close()
	})

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &apiClient{t: t, base: srv.URL, client: &http.Client{Jar: jar}}
}

func (c *apiClient) do(method, path string, body any) (int, map[string]any) {
	c.t.Helper()
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(c.t, err)
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.base+path, rdr)
	require.NoError(c.t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(c.t, err)

	out := map[string]any{}
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(c.t, json.Unmarshal(raw, &out))
	} else {
		out["raw"] = string(raw)
	}
	return resp.StatusCode, out
}

func TestHealthAndUnits(t *testing.T) {
	c := newTestServer(t)

	code, body := c.do(http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])

	code, body = c.do(http.MethodGet, "/api/units", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body["raw"], `"id":"m1"`)

	code, body = c.do(http.MethodGet, "/api/units/w1", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "warehouse", body["kind"])
	assert.Equal(t, "idle", body["state"])

	code, _ = c.do(http.MethodGet, "/api/units/nope", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestInventoryEndpoint(t *testing.T) {
	c := newTestServer(t)

	code, body := c.do(http.MethodGet, "/api/units/w1/inventory", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "w1", body["unit_id"])
	assert.Equal(t, []any{}, body["entries"])

	code, _ = c.do(http.MethodGet, "/api/units/m1/inventory", nil)
	assert.Equal(t, http.StatusConflict, code)
}

func TestSubmitAndQueryOrders(t *testing.T) {
	c := newTestServer(t)

	code, body := c.do(http.MethodPost, "/api/orders", map[string]any{"id": "o-1", "kind": "machine"})
	require.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, "o-1", body["id"])

	require.Eventually(t, func() bool {
		code, body := c.do(http.MethodGet, "/api/orders/o-1", nil)
		return code == http.StatusOK && body["status"] == string(dispatch.StatusAssigned)
	}, time.Second, 5*time.Millisecond)

	code, body = c.do(http.MethodGet, "/api/orders?status=assigned", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body["raw"], `"id":"o-1"`)

	code, body = c.do(http.MethodPost, "/api/orders", map[string]any{"id": "o-1", "kind": "machine"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Contains(t, body["error"], "already exists")

	code, _ = c.do(http.MethodPost, "/api/orders", map[string]any{"kind": "warehouse", "payload": map[string]any{"op": "shred", "material": "steel", "quantity": 1}})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = c.do(http.MethodPost, "/api/orders", map[string]any{"kind": "robot"})
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = c.do(http.MethodPost, "/api/orders", map[string]any{"kind": "warehouse", "payload": map[string]any{"material": "steel"}})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = c.do(http.MethodGet, "/api/orders/missing", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestAdminRoutesRequireLogin(t *testing.T) {
	c := newTestServer(t)

	code, _ := c.do(http.MethodPost, "/api/units/w1/block", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = c.do(http.MethodPost, "/api/login", map[string]string{"username": "admin", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = c.do(http.MethodPost, "/api/login", map[string]string{"username": "admin", "password": "s3cret"})
	require.Equal(t, http.StatusOK, code)

	code, body := c.do(http.MethodPost, "/api/units/w1/block", map[string]string{"reason": "stocktake"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "blocked", body["state"])

	code, _ = c.do(http.MethodPost, "/api/units/w1/reset", nil)
	assert.Equal(t, http.StatusConflict, code, "reset needs a faulted unit")

	code, body = c.do(http.MethodPost, "/api/units/w1/unblock", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "idle", body["state"])

	code, body = c.do(http.MethodPost, "/api/units/w1/fault", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "faulted", body["state"])
	code, body = c.do(http.MethodPost, "/api/units/w1/reset", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "idle", body["state"])

	// w1 is the only warehouse; block it so the order stays pending
	code, _ = c.do(http.MethodPost, "/api/units/w1/block", nil)
	require.Equal(t, http.StatusOK, code)
	code, _ = c.do(http.MethodPost, "/api/orders", map[string]any{"id": "r-1", "kind": "warehouse"})
	require.Equal(t, http.StatusAccepted, code)
	code, body = c.do(http.MethodDelete, "/api/orders/r-1", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "cancelled", body["status"])
	code, _ = c.do(http.MethodDelete, "/api/orders/r-1", nil)
	assert.Equal(t, http.StatusConflict, code)
	code, _ = c.do(http.MethodPost, "/api/orders/r-1/release", nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = c.do(http.MethodGet, "/api/orders/r-1", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = c.do(http.MethodPost, "/api/logout", nil)
	require.Equal(t, http.StatusOK, code)
	code, _ = c.do(http.MethodPost, "/api/units/w1/unblock", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestOptionalCollaboratorsAndMetrics(t *testing.T) {
	c := newTestServer(t)

	code, _ := c.do(http.MethodGet, "/api/events", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	code, _ = c.do(http.MethodGet, "/api/nodestate", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)

	code, body := c.do(http.MethodGet, "/api/diagnostics", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "events_published")
	require.Eventually(t, func() bool {
		_, body := c.do(http.MethodGet, "/api/diagnostics", nil)
		_, ok := body["scheduler"]
		return ok
	}, time.Second, 5*time.Millisecond)

	code, body = c.do(http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, strings.Contains(body["raw"].(string), "floorcore_events_total"))
}
