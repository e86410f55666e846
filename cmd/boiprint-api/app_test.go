package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/BearBump/BoiPrint/config"
	"github.com/BearBump/BoiPrint/internal/api/courier_api"
	"github.com/BearBump/BoiPrint/internal/integrations/courier"
	"github.com/BearBump/BoiPrint/internal/integrations/courier/fake"
	"github.com/BearBump/BoiPrint/internal/integrations/courier/session"
	"github.com/BearBump/BoiPrint/internal/services/orders"
	"github.com/BearBump/BoiPrint/internal/storage/memorders"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func newTestService() (*orders.Service, *session.Manager) {
	c := fake.New()
	sess := session.New(c, courier.TokenRequest{})
	return orders.New(memorders.New(), c, sess), sess
}

func TestRouter_ServiceRoutes(t *testing.T) {
	dir := t.TempDir()
	sw := filepath.Join(dir, "swagger.json")
	require.NoError(t, os.WriteFile(sw, []byte(`{"swagger":"2.0"}`), 0o600))

	svc, sess := newTestService()
	h := newRouter(apiOpts{
		swaggerPath: sw,
		ready: map[string]func(ctx context.Context) error{
			"store": func(ctx context.Context) error { return nil },
		},
	}, courier_api.New(svc, sess))

	// /metrics lists http_requests_total only once a request went through the middleware.
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	for path, want := range map[string]string{
		"/":             "BoiPrint Server is running",
		"/healthz":      `"ok"`,
		"/readyz":       `"ready"`,
		"/swagger.json": `"swagger"`,
		"/metrics":      "http_requests_total",
	} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code, path)
		require.Contains(t, rec.Body.String(), want, path)
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/courier/cities", nil)
	req.Header.Set("Origin", "http://shop.boiprint.test")
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "Dhaka")
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouter_ReadyzReportsFailures(t *testing.T) {
	svc, sess := newTestService()
	h := newRouter(apiOpts{
		ready: map[string]func(ctx context.Context) error{
			"redis": func(ctx context.Context) error { return errors.New("connection refused") },
		},
	}, courier_api.New(svc, sess))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "connection refused")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/swagger.json", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_RecoversPanics(t *testing.T) {
	svc, sess := newTestService()
	mux := newRouter(apiOpts{}, courier_api.New(svc, sess)).(*chi.Mux)
	mux.Get("/boom", func(w http.ResponseWriter, r *http.Request) { panic("boom") })

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRunBoiPrintAPI_ServesAndStops(t *testing.T) {
	svc, sess := newTestService()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addrCh := make(chan string, 1)
	consumed := make(chan struct{})
	opts := apiOpts{
		httpAddr: "127.0.0.1:0",
		onListen: func(httpAddr string) { addrCh <- httpAddr },
	}
	consumers := []consumerLoop{{name: "t", run: func(ctx context.Context) error {
		close(consumed)
		<-ctx.Done()
		return ctx.Err()
	}}}

	errCh := make(chan error, 1)
	go func() { errCh <- runBoiPrintAPI(ctx, opts, svc, sess, consumers) }()

	httpAddr := <-addrCh
	resp, err := http.Post("http://"+httpAddr+"/api/courier/save-order", "application/json",
		strings.NewReader(`{"orderData":{"customerName":"A","customerPhone":"01700000000","deliveryAddress":"B","cityId":1,"zoneId":2,"areaId":3}}`))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	select {
	case <-consumed:
	case <-time.After(time.Second):
		t.Fatal("consumer loop was not started")
	}

	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)
}

func TestRunBoiPrintAPI_MissingSwagger(t *testing.T) {
	svc, sess := newTestService()
	err := runBoiPrintAPI(context.Background(), apiOpts{
		httpAddr:    "127.0.0.1:0",
		swaggerPath: filepath.Join(t.TempDir(), "missing.json"),
	}, svc, sess, nil)
	require.Error(t, err)
}

func TestServiceSettings_FromConfig(t *testing.T) {
	cfg := &config.Config{
		Pathao:   config.PathaoConfig{StoreID: 77},
		BoiPrint: config.BoiPrintConfig{DispatchLeaseSeconds: 90, ConfirmBackoffMillis: 250},
	}
	st := serviceSettings(cfg)
	require.Equal(t, int64(77), st.StoreID)
	require.Equal(t, 90*time.Second, st.DispatchLease)
	require.Equal(t, 250*time.Millisecond, st.ConfirmBackoff)
	require.Equal(t, "courier.dispatch.reconcile", st.ReconcileTopic)
}

func TestMustOpenStore_MemoryWithoutDatabase(t *testing.T) {
	_, ok := mustOpenStore(config.DatabaseConfig{}, time.Second).(*memorders.Storage)
	require.True(t, ok)
}
