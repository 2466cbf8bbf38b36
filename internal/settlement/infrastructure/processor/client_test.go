package processor

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/commissionledger/internal/settlement/domain"
	"github.com/wyfcoding/commissionledger/pkg/metrics"
)

func newTestClient(t *testing.T, h http.HandlerFunc, breakerFailures uint32) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(Config{
		BaseURL:         srv.URL,
		APIKey:          "sk_test",
		Timeout:         time.Second,
		BreakerFailures: breakerFailures,
		BreakerTimeout:  time.Minute,
	}, metrics.New("test"), slog.Default())
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func transferInput() domain.TransferInput {
	return domain.TransferInput{
		Destination:    "acct_1",
		Amount:         decimal.RequireFromString("200.00"),
		Currency:       "USD",
		IdempotencyKey: "key-1",
	}
}

func TestCreateTransferSendsIdempotencyKey(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/transfers", r.URL.Path)
		assert.Equal(t, "key-1", r.Header.Get("Idempotency-Key"))
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))

		var in domain.TransferInput
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, "acct_1", in.Destination)
		assert.True(t, in.Amount.Equal(decimal.RequireFromString("200")))

		writeJSON(w, http.StatusOK, domain.Transfer{ID: "tr_1", Status: domain.TransferSucceeded, Amount: in.Amount})
	}, 0)

	tr, err := c.CreateTransfer(context.Background(), transferInput())
	require.NoError(t, err)
	assert.Equal(t, "tr_1", tr.ID)
}

func TestCreateTransferClassifiesErrors(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		body         any
		wantRejected bool
		wantTerminal bool
		wantUnknown  bool
	}{
		{name: "server error", status: http.StatusBadGateway, body: map[string]any{}, wantUnknown: true},
		{name: "rate limited", status: http.StatusTooManyRequests, body: map[string]any{}, wantUnknown: true},
		{
			name:         "account closed",
			status:       http.StatusBadRequest,
			body:         map[string]any{"error": map[string]string{"code": "account_closed", "message": "closed"}},
			wantRejected: true,
			wantTerminal: true,
		},
		{
			name:         "insufficient funds",
			status:       http.StatusPaymentRequired,
			body:         map[string]any{"error": map[string]string{"code": "insufficient_funds"}},
			wantRejected: true,
		},
		{
			name:         "failed transfer body",
			status:       http.StatusOK,
			body:         domain.Transfer{ID: "tr_2", Status: domain.TransferFailed, FailureCode: "invalid_destination"},
			wantRejected: true,
			wantTerminal: true,
		},
		{
			name:        "pending transfer body",
			status:      http.StatusOK,
			body:        domain.Transfer{ID: "tr_3", Status: domain.TransferPending},
			wantUnknown: true,
		},
		{
			name:        "transfer body without status",
			status:      http.StatusOK,
			body:        domain.Transfer{ID: "tr_4"},
			wantUnknown: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, tt.body)
			}, 0)

			_, err := c.CreateTransfer(context.Background(), transferInput())
			require.Error(t, err)
			assert.Equal(t, tt.wantUnknown, errors.Is(err, domain.ErrTransferUnknown))
			assert.Equal(t, tt.wantRejected, errors.Is(err, domain.ErrTransferRejected))

			var rej *domain.RejectionError
			if tt.wantRejected {
				require.ErrorAs(t, err, &rej)
				assert.Equal(t, tt.wantTerminal, rej.Terminal)
			}
		})
	}
}

func TestFindTransfer(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/transfers", r.URL.Path)
		if r.URL.Query().Get("idempotency_key") == "known" {
			writeJSON(w, http.StatusOK, map[string]any{"data": []domain.Transfer{{ID: "tr_9", Status: domain.TransferSucceeded}}})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": []domain.Transfer{}})
	}, 0)

	tr, err := c.FindTransfer(context.Background(), "known")
	require.NoError(t, err)
	assert.Equal(t, "tr_9", tr.ID)

	_, err = c.FindTransfer(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrTransferNotFound)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{})
	}, 2)

	for i := 0; i < 2; i++ {
		_, err := c.CreateTransfer(context.Background(), transferInput())
		require.ErrorIs(t, err, domain.ErrTransferUnknown)
	}

	_, err := c.CreateTransfer(context.Background(), transferInput())
	assert.ErrorIs(t, err, domain.ErrTransferUnknown)
	assert.Equal(t, int32(2), calls.Load(), "open breaker must not reach the processor")

	_, err = c.GetAccountStatus(context.Background(), "acct_1")
	assert.ErrorIs(t, err, domain.ErrProcessorUnavailable)
}

func TestGetAccountStatusAndPayouts(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/accounts/acct_1":
			writeJSON(w, http.StatusOK, domain.AccountStatus{AccountID: "acct_1", PayoutsEnabled: true, RequirementsDue: []string{}})
		case "/v1/accounts/acct_1/payouts":
			assert.Equal(t, "5", r.URL.Query().Get("limit"))
			writeJSON(w, http.StatusOK, map[string]any{"data": []domain.ProcessorPayout{{ID: "po_1", Currency: "USD"}}})
		default:
			writeJSON(w, http.StatusNotFound, map[string]any{})
		}
	}, 0)

	st, err := c.GetAccountStatus(context.Background(), "acct_1")
	require.NoError(t, err)
	assert.True(t, st.PayoutsEnabled)

	payouts, err := c.ListPayouts(context.Background(), "acct_1", 5)
	require.NoError(t, err)
	require.Len(t, payouts, 1)
	assert.Equal(t, "po_1", payouts[0].ID)
}

func TestMemoryProcessorIsIdempotent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	st, err := m.CreateConnectedAccount(ctx, domain.CreateAccountInput{UserID: "u1"})
	require.NoError(t, err)

	in := transferInput()
	in.Destination = st.AccountID
	first, err := m.CreateTransfer(ctx, in)
	require.NoError(t, err)
	second, err := m.CreateTransfer(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, m.Transfers(), 1)

	m.RejectNext(st.AccountID, "account_closed", true)
	in.IdempotencyKey = "key-2"
	_, err = m.CreateTransfer(ctx, in)
	var rej *domain.RejectionError
	require.ErrorAs(t, err, &rej)
	assert.True(t, rej.Terminal)

	found, err := m.FindTransfer(ctx, "key-2")
	require.NoError(t, err)
	assert.Equal(t, domain.TransferFailed, found.Status)

	m.HoldNext(st.AccountID)
	in.IdempotencyKey = "key-3"
	_, err = m.CreateTransfer(ctx, in)
	require.ErrorIs(t, err, domain.ErrTransferUnknown)
	_, err = m.CreateTransfer(ctx, in)
	require.ErrorIs(t, err, domain.ErrTransferUnknown)
	assert.Len(t, m.Transfers(), 1)

	require.True(t, m.SettleHeld("key-3"))
	settled, err := m.CreateTransfer(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, domain.TransferSucceeded, settled.Status)
	assert.Len(t, m.Transfers(), 2)
}
