package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/rubhub/payouts/internal/clock"
	"github.com/rubhub/payouts/internal/config"
	"github.com/rubhub/payouts/internal/migration"
	"github.com/rubhub/payouts/internal/observability"
	"github.com/rubhub/payouts/internal/payout"
	"github.com/rubhub/payouts/internal/scheduler"
	"github.com/rubhub/payouts/internal/server"
	"github.com/rubhub/payouts/internal/servicerequest"
	"github.com/rubhub/payouts/internal/settlement"
	"github.com/rubhub/payouts/pkg/db"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

type testEnv struct {
	app     *fx.App
	db      *gorm.DB
	genID   *snowflake.Node
	baseURL string
	httpSrv *httptest.Server
	dir     string
}

var env *testEnv

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)

	dir, err := os.MkdirTemp("", "rubhub-e2e-")
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to create temp dir:", err)
		os.Exit(1)
	}
	if err := writePayoutConfig(dir); err != nil {
		fmt.Fprintln(os.Stderr, "failed to write payout config:", err)
		os.Exit(1)
	}
	setDefaultEnv(dir)

	env, err = startEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to start test environment:", err)
		_ = os.RemoveAll(dir)
		os.Exit(1)
	}
	env.dir = dir

	code := m.Run()
	env.shutdown()
	os.Exit(code)
}

func TestE2E_HealthCheck(t *testing.T) {
	resp, _ := doJSON(t, http.MethodGet, "/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
}

func TestE2E_WeeklySettlement(t *testing.T) {
	resetDatabase(t, env.db)

	therapist := env.genID.Generate().String()
	first := bookAndComplete(t, therapist, 40000, 5000, 0)
	second := bookAndComplete(t, therapist, 30000, 0, 2000)

	// Unpaid bookings stay out of the run.
	unpaid := createBooking(t, therapist, 20000, 0, 0)
	for _, step := range []string{"accept", "start", "complete"} {
		transition(t, unpaid, step)
	}

	var summary struct {
		RunID                string   `json:"run_id"`
		RequestsDiscovered   int      `json:"requests_discovered"`
		RequestsMaterialized int      `json:"requests_materialized"`
		PayoutsCompleted     int      `json:"payouts_completed"`
		TotalPayouts         int64    `json:"total_payouts"`
		TotalFees            int64    `json:"total_fees"`
		FeeTransferStatus    string   `json:"fee_transfer_status"`
		Errors               []string `json:"errors"`
	}
	resp, body := doJSON(t, http.MethodPost, "/internal/settlements/run", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("settlement run: status %d body %s", resp.StatusCode, body)
	}
	decodeData(t, body, &summary)

	// 45000 -> fee 5400, 28000 -> fee 3360.
	if summary.RequestsDiscovered != 2 || summary.RequestsMaterialized != 2 {
		t.Fatalf("unexpected discovery counts: %+v", summary)
	}
	if summary.PayoutsCompleted != 2 {
		t.Fatalf("expected 2 payouts, got %d (errors %v)", summary.PayoutsCompleted, summary.Errors)
	}
	if summary.TotalFees != 8760 {
		t.Fatalf("expected fees 8760, got %d", summary.TotalFees)
	}
	if summary.TotalPayouts != 39600+24640 {
		t.Fatalf("expected payouts %d, got %d", 39600+24640, summary.TotalPayouts)
	}
	if summary.FeeTransferStatus != "completed" {
		t.Fatalf("expected completed fee transfer, got %q", summary.FeeTransferStatus)
	}

	var payments struct {
		Payments []struct {
			RequestID         string `json:"request_id"`
			Status            string `json:"status"`
			TherapistEarnings int64  `json:"therapist_earnings"`
			RubgoServiceFee   int64  `json:"rubgo_service_fee"`
			TotalAmount       int64  `json:"total_amount"`
		} `json:"payments"`
	}
	resp, body = doJSON(t, http.MethodGet, "/internal/payments?status=completed", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list payments: status %d body %s", resp.StatusCode, body)
	}
	decodeData(t, body, &payments)
	if len(payments.Payments) != 2 {
		t.Fatalf("expected 2 completed payments, got %d", len(payments.Payments))
	}
	seen := map[string]bool{}
	for _, p := range payments.Payments {
		seen[p.RequestID] = true
		if p.TherapistEarnings+p.RubgoServiceFee != p.TotalAmount {
			t.Fatalf("payment for %s does not add up: %+v", p.RequestID, p)
		}
	}
	if !seen[first] || !seen[second] {
		t.Fatalf("payments do not cover the settled bookings: %v", seen)
	}

	var transfers struct {
		FeeTransfers []struct {
			Amount int64  `json:"amount"`
			Status string `json:"status"`
		} `json:"fee_transfers"`
	}
	resp, body = doJSON(t, http.MethodGet, "/internal/fee-transfers", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list fee transfers: status %d body %s", resp.StatusCode, body)
	}
	decodeData(t, body, &transfers)
	if len(transfers.FeeTransfers) != 1 || transfers.FeeTransfers[0].Amount != summary.TotalFees {
		t.Fatalf("expected one fee transfer of %d, got %+v", summary.TotalFees, transfers.FeeTransfers)
	}

	var booking struct {
		PayoutProcessed bool `json:"payout_processed"`
	}
	resp, body = doJSON(t, http.MethodGet, "/internal/service-requests/"+first, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get booking: status %d body %s", resp.StatusCode, body)
	}
	decodeData(t, body, &booking)
	if !booking.PayoutProcessed {
		t.Fatalf("expected booking %s to be marked processed", first)
	}

	// A second run finds nothing new.
	resp, body = doJSON(t, http.MethodPost, "/internal/settlements/run", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("second run: status %d body %s", resp.StatusCode, body)
	}
	decodeData(t, body, &summary)
	if summary.RequestsDiscovered != 0 || summary.PayoutsCompleted != 0 {
		t.Fatalf("second run should be empty: %+v", summary)
	}
	if summary.FeeTransferStatus != "none" {
		t.Fatalf("second run should not move fees, got %q", summary.FeeTransferStatus)
	}
}

func TestE2E_CancelledBookingIsNeverSettled(t *testing.T) {
	resetDatabase(t, env.db)

	id := createBooking(t, env.genID.Generate().String(), 25000, 0, 0)
	transition(t, id, "paid")
	transition(t, id, "cancel")

	resp, body := doJSON(t, http.MethodPost, "/internal/service-requests/"+id+"/complete", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 completing a cancelled booking, got %d body %s", resp.StatusCode, body)
	}

	var summary struct {
		RequestsDiscovered int `json:"requests_discovered"`
	}
	resp, body = doJSON(t, http.MethodPost, "/internal/settlements/run", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("settlement run: status %d body %s", resp.StatusCode, body)
	}
	decodeData(t, body, &summary)
	if summary.RequestsDiscovered != 0 {
		t.Fatalf("cancelled booking was discovered: %+v", summary)
	}
}

func startEnv() (*testEnv, error) {
	var (
		srv    *server.Server
		dbConn *gorm.DB
		genID  *snowflake.Node
	)

	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(func(cfg config.Config) (*snowflake.Node, error) {
			return snowflake.NewNode(cfg.NodeID)
		}),
		db.Module,
		migration.Module,
		clock.Module,
		servicerequest.Module,
		payout.Module,
		settlement.Module,
		scheduler.Module,
		server.Module,
		fx.Populate(&srv, &dbConn, &genID),
		fx.NopLogger,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		return nil, err
	}

	httpSrv := httptest.NewServer(srv.Engine())
	return &testEnv{
		app:     app,
		db:      dbConn,
		genID:   genID,
		baseURL: httpSrv.URL,
		httpSrv: httpSrv,
	}, nil
}

func (e *testEnv) shutdown() {
	if e == nil {
		return
	}
	if e.httpSrv != nil {
		e.httpSrv.Close()
	}
	if e.app != nil {
		_ = e.app.Stop(context.Background())
	}
	if e.dir != "" {
		_ = os.RemoveAll(e.dir)
	}
}

func setDefaultEnv(dir string) {
	setEnvIfEmpty("ENVIRONMENT", "test")
	setEnvIfEmpty("LOG_LEVEL", "error")
	setEnvIfEmpty("HTTP_ADDR", "127.0.0.1:0")
	setEnvIfEmpty("DATABASE_TYPE", "sqlite")
	setEnvIfEmpty("DATABASE_NAME", filepath.Join(dir, "payouts.db"))
	// sqlite allows one writer; transfers fan out across goroutines.
	setEnvIfEmpty("DATABASE_MAX_OPEN_CONN", "1")
	setEnvIfEmpty("PAYOUT_CONFIG_PATH", filepath.Join(dir, "payout.yml"))
	_ = os.Unsetenv("REDIS_ADDR")
}

func writePayoutConfig(dir string) error {
	body := `
payout:
  concurrency: 2
  transferTimeout: 5s
  gateway:
    provider: sandbox
`
	return os.WriteFile(filepath.Join(dir, "payout.yml"), []byte(body), 0o600)
}

func setEnvIfEmpty(key, value string) {
	if strings.TrimSpace(os.Getenv(key)) != "" {
		return
	}
	_ = os.Setenv(key, value)
}

func resetDatabase(t *testing.T, dbConn *gorm.DB) {
	t.Helper()
	for _, table := range []string{"payments", "fee_transfers", "service_requests"} {
		if err := dbConn.Exec("DELETE FROM " + table).Error; err != nil {
			t.Fatalf("truncate %s: %v", table, err)
		}
	}
}

func createBooking(t *testing.T, therapistID string, base, travel, discount int64) string {
	t.Helper()

	resp, body := doJSON(t, http.MethodPost, "/internal/service-requests", map[string]any{
		"therapist_id":    therapistID,
		"base_price":      base,
		"travel_fee":      travel,
		"discount_amount": discount,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create booking: status %d body %s", resp.StatusCode, body)
	}
	var created struct {
		ID string `json:"id"`
	}
	decodeData(t, body, &created)
	return created.ID
}

func bookAndComplete(t *testing.T, therapistID string, base, travel, discount int64) string {
	t.Helper()

	id := createBooking(t, therapistID, base, travel, discount)
	for _, step := range []string{"paid", "accept", "start", "complete"} {
		transition(t, id, step)
	}
	return id
}

func transition(t *testing.T, id, step string) {
	t.Helper()

	resp, body := doJSON(t, http.MethodPost, "/internal/service-requests/"+id+"/"+step, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("%s booking %s: status %d body %s", step, id, resp.StatusCode, body)
	}
}

func doJSON(t *testing.T, method, path string, payload any) (*http.Response, []byte) {
	t.Helper()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("encode json: %v", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, env.baseURL+path, body)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return resp, data
}

func decodeData(t *testing.T, body []byte, out any) {
	t.Helper()

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		t.Fatalf("decode envelope: %v (%s)", err, body)
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		t.Fatalf("decode data: %v (%s)", err, envelope.Data)
	}
}
