package http_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	ledgerapp "github.com/wyfcoding/commissionledger/internal/ledger/application"
	ledgermysql "github.com/wyfcoding/commissionledger/internal/ledger/infrastructure/persistence/mysql"
	"github.com/wyfcoding/commissionledger/internal/settlement/application"
	"github.com/wyfcoding/commissionledger/internal/settlement/infrastructure/events"
	"github.com/wyfcoding/commissionledger/internal/settlement/infrastructure/persistence/mysql"
	"github.com/wyfcoding/commissionledger/internal/settlement/infrastructure/processor"
	settlementhttp "github.com/wyfcoding/commissionledger/internal/settlement/interfaces/http"
	"github.com/wyfcoding/commissionledger/pkg/db/dbtest"
	"github.com/wyfcoding/commissionledger/pkg/metrics"
)

type seqIDs struct{ n int64 }

func (s *seqIDs) Next() int64 {
	s.n++
	return s.n
}

func newRouter(t *testing.T, requestLimit gin.HandlerFunc) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	database := dbtest.New(t, append(ledgermysql.Models(), mysql.Models()...)...)
	m := metrics.New("test")
	ids := &seqIDs{}
	ledgerSvc := ledgerapp.NewLedgerService(
		database,
		ledgermysql.NewOrderLineRepository(database),
		ledgermysql.NewDistributionRepository(database),
		ledgermysql.NewBalanceRepository(database),
		nil,
		ids,
		m,
		ledgerapp.Options{PlatformUserID: "platform", HoldWindow: 14 * 24 * time.Hour, MaxTransferAttempts: 3},
		slog.Default(),
	)

	accounts := mysql.NewAccountRepository(database)
	requests := mysql.NewPayoutRequestRepository(database)
	payouts := mysql.NewPayoutRepository(database)
	proc := processor.NewMemory()
	opts := application.Options{MinimumPayout: decimal.NewFromInt(25), Currency: "USD", BatchWindow: 24 * time.Hour}

	handler := settlementhttp.NewSettlementHandler(
		application.NewAccountService(accounts, proc, slog.Default()),
		application.NewPayoutRequestService(accounts, requests, payouts, ledgerSvc, ids, m, opts, slog.Default()),
		application.NewBatchSettlementService(application.BatchDeps{
			Tx:        database,
			Ledger:    ledgerSvc,
			Accounts:  accounts,
			Requests:  requests,
			Batches:   mysql.NewBatchRepository(database),
			Payouts:   payouts,
			Processor: proc,
			Events:    events.NoopPublisher{},
			IDs:       ids,
		}, m, opts, slog.Default()),
		requestLimit,
	)

	router := gin.New()
	handler.RegisterRoutes(router.Group("/api/v1"))
	return router
}

func do(t *testing.T, router *gin.Engine, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	out := map[string]any{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w, out
}

func TestPayoutRequestErrorsCarryCode(t *testing.T) {
	router := newRouter(t, nil)

	w, body := do(t, router, http.MethodPost, "/api/v1/payout-requests", map[string]any{"user_id": "u-1", "role": "affiliate", "amount": "30"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "NOT_CONNECTED", body["code"])

	w, _ = do(t, router, http.MethodPost, "/api/v1/accounts/connect", map[string]any{"user_id": "u-1", "email": "u1@example.com", "country": "US"})
	require.Equal(t, http.StatusOK, w.Code)

	w, body = do(t, router, http.MethodPost, "/api/v1/payout-requests", map[string]any{"user_id": "u-1", "role": "seller", "amount": "30"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "VERIFICATION_REQUIRED", body["code"])

	w, body = do(t, router, http.MethodPost, "/api/v1/payout-requests", map[string]any{"user_id": "u-1", "role": "affiliate", "amount": "10"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "BELOW_MINIMUM", body["code"])

	w, body = do(t, router, http.MethodPost, "/api/v1/payout-requests", map[string]any{"user_id": "u-1", "role": "affiliate", "amount": "30"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "INSUFFICIENT_BALANCE", body["code"])

	w, _ = do(t, router, http.MethodPost, "/api/v1/payout-requests", map[string]any{"user_id": "u-1", "role": "platform"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = do(t, router, http.MethodPost, "/api/v1/payout-requests", map[string]any{"role": "seller"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBalancesAndReviewRoutes(t *testing.T) {
	router := newRouter(t, nil)

	w, body := do(t, router, http.MethodGet, "/api/v1/balances/u-9?role=seller", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "0", body["current_balance"])

	w, _ = do(t, router, http.MethodGet, "/api/v1/balances/u-9?role=owner", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = do(t, router, http.MethodPost, "/api/v1/payout-requests/abc/approve", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body = do(t, router, http.MethodPost, "/api/v1/payout-requests/404/approve", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", body["code"])

	w, _ = do(t, router, http.MethodPost, "/api/v1/payout-requests/404/reject", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = do(t, router, http.MethodGet, "/api/v1/accounts/nobody", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, body = do(t, router, http.MethodPost, "/api/v1/ops/settle", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, body["successful"])
}

func TestRequestLimitRunsBeforeHandler(t *testing.T) {
	limited := func(c *gin.Context) {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded", "key": settlementhttp.UserKey(c)})
	}
	router := newRouter(t, limited)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payout-requests", bytes.NewBufferString(`{"user_id":"u-1","role":"seller"}`))
	req.Header.Set("X-User-ID", "u-1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), `"key":"u-1"`)

	// 其它路由不受影响
	w, _ = do(t, router, http.MethodGet, "/api/v1/balances/u-1?role=seller", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
