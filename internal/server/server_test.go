package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	payoutrepository "github.com/rubhub/payouts/internal/payout/repository"
	payoutservice "github.com/rubhub/payouts/internal/payout/service"
	"github.com/rubhub/payouts/internal/scheduler"
	servicerequestrepository "github.com/rubhub/payouts/internal/servicerequest/repository"
	servicerequestservice "github.com/rubhub/payouts/internal/servicerequest/service"
	settlementdomain "github.com/rubhub/payouts/internal/settlement/domain"
	"github.com/rubhub/payouts/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRunner struct {
	calls   int
	summary *settlementdomain.Summary
	err     error
}

func (f *fakeRunner) RunOnce(ctx context.Context) (*settlementdomain.Summary, error) {
	f.calls++
	_ = ctx
	return f.summary, f.err
}

type testServer struct {
	srv      *Server
	fixtures *testutil.Fixtures
	node     *snowflake.Node
}

func newTestServer(t *testing.T, runner SettlementRunner) testServer {
	t.Helper()

	db := testutil.OpenDB(t)
	node := testutil.NewNode(t)
	log := zap.NewNop()

	requestSvc := servicerequestservice.New(servicerequestservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Repo:  servicerequestrepository.Provide(),
	})
	paymentSvc := payoutservice.New(payoutservice.Params{
		DB:   db,
		Log:  log,
		Repo: payoutrepository.Provide(),
	})

	engine := NewEngine(log)
	gin.SetMode(gin.TestMode)

	return testServer{
		srv:      newServer(engine, log, requestSvc, paymentSvc, runner),
		fixtures: testutil.NewFixtures(db, node),
		node:     node,
	}
}

func (ts testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ts.srv.Engine().ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.NoError(t, json.Unmarshal(envelope.Data, out))
}

func decodeErrorType(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error.Type
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestRunSettlementReturnsSummary(t *testing.T) {
	runner := &fakeRunner{summary: &settlementdomain.Summary{
		RunID:                "run-1",
		RequestsMaterialized: 2,
		PayoutsCompleted:     2,
		TotalPayouts:         79200,
		TotalFees:            10800,
		FeeTransferStatus:    settlementdomain.FeeTransferCompleted,
	}}
	ts := newTestServer(t, runner)

	rec := ts.do(t, http.MethodPost, "/internal/settlements/run", nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, runner.calls)

	var got struct {
		RunID             string   `json:"run_id"`
		PayoutsCompleted  int      `json:"payouts_completed"`
		TotalFees         int64    `json:"total_fees"`
		FeeTransferStatus string   `json:"fee_transfer_status"`
		Errors            []string `json:"errors"`
	}
	decodeData(t, rec, &got)
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, 2, got.PayoutsCompleted)
	assert.Equal(t, int64(10800), got.TotalFees)
	assert.Equal(t, string(settlementdomain.FeeTransferCompleted), got.FeeTransferStatus)
	assert.Empty(t, got.Errors)
}

func TestRunSettlementConflictsWhileRunInFlight(t *testing.T) {
	runner := &fakeRunner{err: scheduler.ErrRemoteLockHeld}
	ts := newTestServer(t, runner)

	rec := ts.do(t, http.MethodPost, "/internal/settlements/run", nil)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "run_in_progress", decodeErrorType(t, rec))
}

func TestRunSettlementUnavailableWithoutScheduler(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/internal/settlements/run", nil)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "service_unavailable", decodeErrorType(t, rec))
}

func TestRunSettlementTimeout(t *testing.T) {
	runner := &fakeRunner{err: context.DeadlineExceeded}
	ts := newTestServer(t, runner)

	rec := ts.do(t, http.MethodPost, "/internal/settlements/run", nil)

	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
}

func TestListPaymentsRejectsUnknownStatus(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodGet, "/internal/payments?status=settled", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", decodeErrorType(t, rec))
}

func TestListPaymentsEmpty(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodGet, "/internal/payments?status=PENDING", nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var got struct {
		Payments []json.RawMessage `json:"payments"`
	}
	decodeData(t, rec, &got)
	assert.NotNil(t, got.Payments)
	assert.Empty(t, got.Payments)
}

func TestListFeeTransfersRejectsBadPageToken(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodGet, "/internal/fee-transfers?page_token=not-a-token", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetPaymentNotFound(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodGet, "/internal/payments/"+ts.node.Generate().String(), nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeErrorType(t, rec))
}

func TestGetPaymentRejectsMalformedID(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodGet, "/internal/payments/abc", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateServiceRequestComputesFees(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/internal/service-requests", map[string]any{
		"therapist_id": ts.node.Generate().String(),
		"base_price":   40000,
		"travel_fee":   5000,
	})

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var got struct {
		Status            string `json:"status"`
		PaymentStatus     string `json:"payment_status"`
		RubgoServiceFee   int64  `json:"rubgo_service_fee"`
		TherapistEarnings int64  `json:"therapist_earnings"`
		TotalPrice        int64  `json:"total_price"`
		Currency          string `json:"currency"`
	}
	decodeData(t, rec, &got)
	assert.Equal(t, "pending", got.Status)
	assert.Equal(t, "unpaid", got.PaymentStatus)
	assert.Equal(t, int64(5400), got.RubgoServiceFee)
	assert.Equal(t, int64(39600), got.TherapistEarnings)
	assert.Equal(t, int64(45000), got.TotalPrice)
	assert.Equal(t, "ZAR", got.Currency)
}

func TestCreateServiceRequestValidation(t *testing.T) {
	ts := newTestServer(t, nil)

	cases := []struct {
		name string
		body map[string]any
	}{
		{
			name: "missing_therapist",
			body: map[string]any{"base_price": 100},
		},
		{
			name: "negative_amount",
			body: map[string]any{"therapist_id": ts.node.Generate().String(), "base_price": -1},
		},
		{
			name: "discount_exceeds_price",
			body: map[string]any{"therapist_id": ts.node.Generate().String(), "base_price": 100, "discount_amount": 200},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/internal/service-requests", tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestServiceRequestLifecycle(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/internal/service-requests", map[string]any{
		"therapist_id": ts.node.Generate().String(),
		"base_price":   30000,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		ID string `json:"id"`
	}
	decodeData(t, rec, &created)
	base := "/internal/service-requests/" + created.ID

	rec = ts.do(t, http.MethodPost, base+"/complete", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "pending booking cannot complete")

	for _, step := range []string{"paid", "accept", "start", "complete"} {
		rec = ts.do(t, http.MethodPost, base+"/"+step, nil)
		require.Equal(t, http.StatusOK, rec.Code, "%s: %s", step, rec.Body.String())
	}

	rec = ts.do(t, http.MethodPost, base+"/paid", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "already paid")
	rec = ts.do(t, http.MethodPost, base+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got struct {
		Status          string `json:"status"`
		PaymentStatus   string `json:"payment_status"`
		PayoutProcessed bool   `json:"payout_processed"`
	}
	decodeData(t, rec, &got)
	assert.Equal(t, "completed", got.Status)
	assert.Equal(t, "paid", got.PaymentStatus)
	assert.False(t, got.PayoutProcessed)
}

func TestGetServiceRequestNotFound(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodGet, "/internal/service-requests/"+ts.node.Generate().String(), nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetServiceRequestSeeded(t *testing.T) {
	ts := newTestServer(t, nil)
	seeded, err := ts.fixtures.SeedRequest(context.Background(), testutil.RequestSeed{
		BasePrice: 40000,
		TravelFee: 5000,
		CreatedAt: time.Now().Add(-time.Hour),
	})
	require.NoError(t, err)

	rec := ts.do(t, http.MethodGet, "/internal/service-requests/"+seeded.ID.String(), nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var got struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	decodeData(t, rec, &got)
	assert.Equal(t, seeded.ID.String(), got.ID)
	assert.Equal(t, "completed", got.Status)
}
