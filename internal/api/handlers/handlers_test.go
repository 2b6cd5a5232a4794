package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barbrew/control-plane/internal/mode"
	"github.com/barbrew/control-plane/internal/notify"
	"github.com/barbrew/control-plane/internal/ordermanager"
	"github.com/barbrew/control-plane/pkg/contracts"
	"github.com/barbrew/control-plane/pkg/models"
)

type fakeRecipes struct{ byCode map[int]models.Recipe }

func (f *fakeRecipes) Get(menuCode int) (models.Recipe, bool) {
	r, ok := f.byCode[menuCode]
	return r, ok
}
func (f *fakeRecipes) All() []models.Recipe { return nil }

type fakeRobot struct{}

func (fakeRobot) ReadRegister(ctx context.Context, addr int) (int, error)  { return 0, nil }
func (fakeRobot) WriteRegister(ctx context.Context, addr, value int) error { return nil }
func (fakeRobot) SendCommand(ctx context.Context, cmdCode int) error       { return nil }
func (fakeRobot) WaitForInit(ctx context.Context, target int, timeout time.Duration) error {
	return nil
}
func (fakeRobot) StopProgram(ctx context.Context) error          { return nil }
func (fakeRobot) StartProgram(ctx context.Context, idx int) error { return nil }

type fakeClock struct{}

func (fakeClock) Now() time.Time { return time.Unix(1_700_000_000, 0) }
func (fakeClock) Sleep(ctx context.Context, d time.Duration) error { return nil }

func newTestHandlers() *Handlers {
	sink := notify.NewService()
	modeCtl := mode.New(fakeRobot{}, sink, nil)
	orders := ordermanager.New(&fakeRecipes{byCode: map[int]models.Recipe{1: {MenuCode: 1, MenuName: "Hot Latte"}}}, modeCtl, fakeClock{}, sink)
	return New(orders, modeCtl, sink, "test-version")
}

func TestCreateOrder_ValidRequestReturns201WithOrder(t *testing.T) {
	h := newTestHandlers()
	body, _ := json.Marshal(createOrderRequest{MenuCode: 1, OrderNo: "A1"})
	req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.CreateOrder(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var order models.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &order))
	assert.Equal(t, "A1", order.OrderNo)
	assert.Equal(t, models.OrderWaiting, order.Status)
}

func TestCreateOrder_MissingOrderNoReturns400(t *testing.T) {
	h := newTestHandlers()
	body, _ := json.Marshal(createOrderRequest{MenuCode: 1})
	req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.CreateOrder(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateOrder_MalformedBodyReturns400(t *testing.T) {
	h := newTestHandlers()
	req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()

	h.CreateOrder(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListOrders_ReturnsEveryActiveOrder(t *testing.T) {
	h := newTestHandlers()
	h.Orders.Add(1, "A1")
	h.Orders.Add(1, "A2")

	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	rec := httptest.NewRecorder()
	h.ListOrders(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var orders []models.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &orders))
	assert.Len(t, orders, 2)
}

func withURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestGetOrder_KnownUUIDReturns200(t *testing.T) {
	h := newTestHandlers()
	order := h.Orders.Add(1, "A1")

	req := withURLParam(httptest.NewRequest(http.MethodGet, "/orders/"+order.UUID, nil), "id", order.UUID)
	rec := httptest.NewRecorder()
	h.GetOrder(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetOrder_UnknownUUIDReturns404(t *testing.T) {
	h := newTestHandlers()
	req := withURLParam(httptest.NewRequest(http.MethodGet, "/orders/ghost", nil), "id", "ghost")
	rec := httptest.NewRecorder()
	h.GetOrder(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelOrder_KnownUUIDReturns204(t *testing.T) {
	h := newTestHandlers()
	order := h.Orders.Add(1, "A1")

	req := withURLParam(httptest.NewRequest(http.MethodDelete, "/orders/"+order.UUID, nil), "id", order.UUID)
	rec := httptest.NewRecorder()
	h.CancelOrder(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestCancelOrder_UnknownUUIDReturns404(t *testing.T) {
	h := newTestHandlers()
	req := withURLParam(httptest.NewRequest(http.MethodDelete, "/orders/ghost", nil), "id", "ghost")
	rec := httptest.NewRecorder()
	h.CancelOrder(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSetMode_AutoAndManualAreCaseInsensitive(t *testing.T) {
	h := newTestHandlers()

	for _, mode := range []string{"auto", "AUTO", "Auto"} {
		body, _ := json.Marshal(setModeRequest{Mode: mode})
		req := httptest.NewRequest(http.MethodPost, "/mode", bytes.NewReader(body))
		rec := httptest.NewRecorder()
		h.SetMode(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Equal(t, models.ModeAuto, h.Mode.Get())

	for _, mode := range []string{"manual", "MANUAL", "Manual"} {
		body, _ := json.Marshal(setModeRequest{Mode: mode})
		req := httptest.NewRequest(http.MethodPost, "/mode", bytes.NewReader(body))
		rec := httptest.NewRecorder()
		h.SetMode(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Equal(t, models.ModeManual, h.Mode.Get())
}

func TestSetMode_UnknownModeReturns400(t *testing.T) {
	h := newTestHandlers()
	body, _ := json.Marshal(setModeRequest{Mode: "SLEEP"})
	req := httptest.NewRequest(http.MethodPost, "/mode", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.SetMode(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth_ReturnsHealthyStatus(t *testing.T) {
	h := newTestHandlers()
	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}

func TestVersionInfo_ReturnsConfiguredVersion(t *testing.T) {
	h := newTestHandlers()
	rec := httptest.NewRecorder()
	h.VersionInfo(rec, httptest.NewRequest(http.MethodGet, "/version", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "test-version")
}

// syncRecorder wraps httptest.NewRecorder's buffer with a mutex so a test
// goroutine can safely poll it while the handler goroutine keeps writing.
type syncRecorder struct {
	mu   sync.Mutex
	rec  *httptest.ResponseRecorder
}

func newSyncRecorder() *syncRecorder {
	return &syncRecorder{rec: httptest.NewRecorder()}
}

func (s *syncRecorder) Header() http.Header {
	return s.rec.Header()
}

func (s *syncRecorder) Write(b []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.Write(b)
}

func (s *syncRecorder) WriteHeader(statusCode int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec.WriteHeader(statusCode)
}

func (s *syncRecorder) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec.Flush()
}

func (s *syncRecorder) contains(needle string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return bytes.Contains(s.rec.Body.Bytes(), []byte(needle))
}

func TestEvents_StreamsPublishedOrderEvent(t *testing.T) {
	h := newTestHandlers()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	rec := newSyncRecorder()

	done := make(chan struct{})
	go func() {
		h.Events(rec, req)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return rec.contains("event: connected")
	}, time.Second, time.Millisecond)

	h.Notify.Publish(contracts.OrderEvent{Type: "order_status", OrderUUID: "u-1"})

	require.Eventually(t, func() bool {
		return rec.contains("order_status")
	}, time.Second, time.Millisecond)

	cancel()
	<-done
}
