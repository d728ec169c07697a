package escrow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/adkarma/adkarma/internal/campaign"
	"github.com/adkarma/adkarma/internal/ledger"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// paidRecorderStub mirrors the earnings release gate: Unpaid is what was
// earned minus what RecordPaid has seen.
type paidRecorderStub struct {
	mu     sync.Mutex
	earned map[string]decimal.Decimal // campaignID|creatorID -> earned
	calls  map[string]decimal.Decimal // campaignID|creatorID -> paid
}

func (p *paidRecorderStub) earn(campaignID, creatorID string, amount decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.earned == nil {
		p.earned = make(map[string]decimal.Decimal)
	}
	p.earned[campaignID+"|"+creatorID] = amount
}

func (p *paidRecorderStub) Unpaid(_ context.Context, campaignID, creatorID string) (decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := campaignID + "|" + creatorID
	return p.earned[key].Sub(p.calls[key]), nil
}

func (p *paidRecorderStub) RecordPaid(_ context.Context, campaignID, creatorID string, amount decimal.Decimal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.calls == nil {
		p.calls = make(map[string]decimal.Decimal)
	}
	key := campaignID + "|" + creatorID
	p.calls[key] = p.calls[key].Add(amount)
	return nil
}

var _ PaidRecorder = (*paidRecorderStub)(nil)

type testEnv struct {
	svc       *Service
	ledgerSvc *ledger.Service
	campaigns *campaign.MemoryStore
	brand     *ledger.Wallet
	creator   *ledger.Wallet
	paid      *paidRecorderStub
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	ledgerStore := ledger.NewMemoryStore()
	ledgerSvc := ledger.NewService(ledgerStore)
	campaigns := campaign.NewMemoryStore()
	paid := &paidRecorderStub{}

	svc := NewService(NewMemoryStore(), ledgerStore, campaigns).WithPaidRecorder(paid)

	brand, err := ledgerSvc.CreateWallet(ctx, "brand-1", ledger.OwnerBrand)
	if err != nil {
		t.Fatalf("create brand wallet: %v", err)
	}
	creator, err := ledgerSvc.CreateWallet(ctx, "creator-1", ledger.OwnerCreator)
	if err != nil {
		t.Fatalf("create creator wallet: %v", err)
	}

	if err := campaigns.Create(ctx, &campaign.Campaign{
		ID:             "cmp_1",
		BrandID:        "brand-1",
		Name:           "Summer launch",
		Type:           campaign.TypeView,
		Status:         campaign.StatusActive,
		CommissionRate: dec("0.15"),
		CreatedAt:      time.Now(),
	}); err != nil {
		t.Fatalf("create campaign: %v", err)
	}

	if err := ledgerSvc.Fund(ctx, brand.ID, dec("50000"), "cmp_1"); err != nil {
		t.Fatalf("fund brand: %v", err)
	}
	// Reconciled earnings back every release unless a test says otherwise.
	paid.earn("cmp_1", "creator-1", dec("50000"))

	return &testEnv{svc: svc, ledgerSvc: ledgerSvc, campaigns: campaigns,
		brand: brand, creator: creator, paid: paid}
}

// ---------------------------------------------------------------------------
// Lock
// ---------------------------------------------------------------------------

func TestLockMovesFundsAndCreatesEscrow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	esc, err := env.svc.Lock(ctx, "cmp_1", dec("15000"))
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	if esc.Status != StatusLocked {
		t.Errorf("status = %s, want LOCKED", esc.Status)
	}
	if !esc.CommissionAmount.Equal(dec("2250")) {
		t.Errorf("commission = %s, want 2250 (15%% of 15000)", esc.CommissionAmount)
	}

	w, _ := env.ledgerSvc.Get(ctx, env.brand.ID)
	if !w.Available.Equal(dec("35000")) || !w.Escrow.Equal(dec("15000")) {
		t.Errorf("brand available=%s escrow=%s, want 35000/15000", w.Available, w.Escrow)
	}
}

func TestLockSecondFundingFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.svc.Lock(ctx, "cmp_1", dec("10000")); err != nil {
		t.Fatalf("first lock: %v", err)
	}
	if _, err := env.svc.Lock(ctx, "cmp_1", dec("5000")); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("second lock: got %v, want ErrAlreadyExists", err)
	}

	// Only the first lock moved funds.
	w, _ := env.ledgerSvc.Get(ctx, env.brand.ID)
	if !w.Escrow.Equal(dec("10000")) {
		t.Errorf("brand escrow = %s, want 10000", w.Escrow)
	}
}

func TestLockInsufficientFunds(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.svc.Lock(context.Background(), "cmp_1", dec("50001")); err == nil {
		t.Error("expected error locking more than available")
	}
}

func TestLockUnknownCampaign(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.svc.Lock(context.Background(), "cmp_missing", dec("100")); !errors.Is(err, campaign.ErrNotFound) {
		t.Errorf("got %v, want campaign.ErrNotFound", err)
	}
}

func TestLockInvalidAmount(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.svc.Lock(context.Background(), "cmp_1", dec("0")); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("got %v, want ErrInvalidAmount", err)
	}
}

// ---------------------------------------------------------------------------
// Release
// ---------------------------------------------------------------------------

func TestReleaseBatchPartialThenFull(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	esc, err := env.svc.Lock(ctx, "cmp_1", dec("15000"))
	if err != nil {
		t.Fatalf("lock: %v", err)
	}

	esc, err = env.svc.ReleaseBatch(ctx, esc.ID, []Release{{CreatorID: "creator-1", Amount: dec("4250")}})
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if esc.Status != StatusPartiallyReleased {
		t.Errorf("status = %s, want PARTIALLY_RELEASED", esc.Status)
	}
	if !esc.Remaining().Equal(dec("10750")) {
		t.Errorf("remaining = %s, want 10750", esc.Remaining())
	}

	c, _ := env.ledgerSvc.Get(ctx, env.creator.ID)
	if !c.Available.Equal(dec("4250")) {
		t.Errorf("creator available = %s, want 4250", c.Available)
	}

	esc, err = env.svc.ReleaseBatch(ctx, esc.ID, []Release{{CreatorID: "creator-1", Amount: dec("10750")}})
	if err != nil {
		t.Fatalf("final release: %v", err)
	}
	if esc.Status != StatusFullyReleased {
		t.Errorf("status = %s, want FULLY_RELEASED", esc.Status)
	}
}

func TestReleaseBatchOverRelease(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	esc, err := env.svc.Lock(ctx, "cmp_1", dec("1000"))
	if err != nil {
		t.Fatalf("lock: %v", err)
	}

	_, err = env.svc.ReleaseBatch(ctx, esc.ID, []Release{
		{CreatorID: "creator-1", Amount: dec("600")},
		{CreatorID: "creator-1", Amount: dec("500")},
	})
	if !errors.Is(err, ErrOverRelease) {
		t.Fatalf("got %v, want ErrOverRelease", err)
	}

	// Rejected before any wallet changes.
	c, _ := env.ledgerSvc.Get(ctx, env.creator.ID)
	if !c.Available.IsZero() {
		t.Errorf("creator available = %s, want 0", c.Available)
	}
}

func TestReleaseBatchAfterTerminal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	esc, err := env.svc.Lock(ctx, "cmp_1", dec("500"))
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	if _, err := env.svc.ReleaseBatch(ctx, esc.ID, []Release{{CreatorID: "creator-1", Amount: dec("500")}}); err != nil {
		t.Fatalf("release: %v", err)
	}

	_, err = env.svc.ReleaseBatch(ctx, esc.ID, []Release{{CreatorID: "creator-1", Amount: dec("1")}})
	if !errors.Is(err, ErrAlreadySettled) {
		t.Errorf("got %v, want ErrAlreadySettled", err)
	}
}

func TestReleaseRecordsPaidAmount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	esc, err := env.svc.Lock(ctx, "cmp_1", dec("5000"))
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	if _, err := env.svc.ReleaseBatch(ctx, esc.ID, []Release{{CreatorID: "creator-1", Amount: dec("1200")}}); err != nil {
		t.Fatalf("release: %v", err)
	}

	env.paid.mu.Lock()
	got := env.paid.calls["cmp_1|creator-1"]
	env.paid.mu.Unlock()
	if !got.Equal(dec("1200")) {
		t.Errorf("recorded paid = %s, want 1200", got)
	}
}

func TestReleaseWithoutEarningsRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.ledgerSvc.CreateWallet(ctx, "creator-2", ledger.OwnerCreator); err != nil {
		t.Fatalf("create creator wallet: %v", err)
	}

	esc, err := env.svc.Lock(ctx, "cmp_1", dec("15000"))
	if err != nil {
		t.Fatalf("lock: %v", err)
	}

	// creator-2 has no reconciled earnings for the campaign.
	_, err = env.svc.ReleaseBatch(ctx, esc.ID, []Release{{CreatorID: "creator-2", Amount: dec("4250")}})
	if !errors.Is(err, ErrExceedsEarned) {
		t.Fatalf("got %v, want ErrExceedsEarned", err)
	}

	// Rejected before any money moved or paid amounts advanced.
	esc, _ = env.svc.Get(ctx, esc.ID)
	if esc.Status != StatusLocked || !esc.ReleasedAmount.IsZero() {
		t.Errorf("escrow status=%s released=%s, want LOCKED/0", esc.Status, esc.ReleasedAmount)
	}
	w, _ := env.ledgerSvc.GetByOwner(ctx, "creator-2")
	if !w.Available.IsZero() {
		t.Errorf("creator-2 available = %s, want 0", w.Available)
	}
	env.paid.mu.Lock()
	paid := env.paid.calls["cmp_1|creator-2"]
	env.paid.mu.Unlock()
	if !paid.IsZero() {
		t.Errorf("recorded paid = %s, want 0", paid)
	}
}

func TestReleaseCappedByUnpaidEarnings(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.ledgerSvc.CreateWallet(ctx, "creator-2", ledger.OwnerCreator); err != nil {
		t.Fatalf("create creator wallet: %v", err)
	}
	env.paid.earn("cmp_1", "creator-2", dec("1000"))

	esc, err := env.svc.Lock(ctx, "cmp_1", dec("15000"))
	if err != nil {
		t.Fatalf("lock: %v", err)
	}

	if _, err := env.svc.ReleaseBatch(ctx, esc.ID, []Release{{CreatorID: "creator-2", Amount: dec("600")}}); err != nil {
		t.Fatalf("first release: %v", err)
	}

	// 400 of the 1000 earned remains unpaid; another 600 must not fit.
	_, err = env.svc.ReleaseBatch(ctx, esc.ID, []Release{{CreatorID: "creator-2", Amount: dec("600")}})
	if !errors.Is(err, ErrExceedsEarned) {
		t.Fatalf("second release: got %v, want ErrExceedsEarned", err)
	}

	if _, err := env.svc.ReleaseBatch(ctx, esc.ID, []Release{{CreatorID: "creator-2", Amount: dec("400")}}); err != nil {
		t.Fatalf("remainder release: %v", err)
	}

	w, _ := env.ledgerSvc.GetByOwner(ctx, "creator-2")
	if !w.Available.Equal(dec("1000")) {
		t.Errorf("creator-2 available = %s, want 1000", w.Available)
	}
}

func TestTwoInstancesCannotJointlyOverRelease(t *testing.T) {
	ctx := context.Background()

	ledgerStore := ledger.NewMemoryStore()
	ledgerSvc := ledger.NewService(ledgerStore)
	campaigns := campaign.NewMemoryStore()
	store := NewMemoryStore()

	// Two services over one store, like two server processes sharing a
	// database. Neither sees the other's in-process locks.
	svc1 := NewService(store, ledgerStore, campaigns)
	svc2 := NewService(store, ledgerStore, campaigns)

	brand, err := ledgerSvc.CreateWallet(ctx, "brand-1", ledger.OwnerBrand)
	if err != nil {
		t.Fatalf("create brand wallet: %v", err)
	}
	creator, err := ledgerSvc.CreateWallet(ctx, "creator-1", ledger.OwnerCreator)
	if err != nil {
		t.Fatalf("create creator wallet: %v", err)
	}
	if err := campaigns.Create(ctx, &campaign.Campaign{
		ID:             "cmp_1",
		BrandID:        "brand-1",
		Type:           campaign.TypeView,
		Status:         campaign.StatusActive,
		CommissionRate: dec("0.15"),
		CreatedAt:      time.Now(),
	}); err != nil {
		t.Fatalf("create campaign: %v", err)
	}
	if err := ledgerSvc.Fund(ctx, brand.ID, dec("50000"), "cmp_1"); err != nil {
		t.Fatalf("fund brand: %v", err)
	}

	esc, err := svc1.Lock(ctx, "cmp_1", dec("1000"))
	if err != nil {
		t.Fatalf("lock: %v", err)
	}

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i, svc := range []*Service{svc1, svc2} {
		wg.Add(1)
		go func(i int, svc *Service) {
			defer wg.Done()
			_, errs[i] = svc.ReleaseBatch(ctx, esc.ID, []Release{{CreatorID: "creator-1", Amount: dec("600")}})
		}(i, svc)
	}
	wg.Wait()

	var ok, over int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrOverRelease):
			over++
		default:
			t.Fatalf("unexpected release error: %v", err)
		}
	}
	if ok != 1 || over != 1 {
		t.Fatalf("succeeded=%d over-released=%d, want exactly one of each", ok, over)
	}

	final, _ := svc1.Get(ctx, esc.ID)
	if !final.ReleasedAmount.Equal(dec("600")) {
		t.Errorf("released = %s, want 600", final.ReleasedAmount)
	}
	c, _ := ledgerSvc.Get(ctx, creator.ID)
	if !c.Available.Equal(dec("600")) {
		t.Errorf("creator available = %s, want 600", c.Available)
	}
}

// ---------------------------------------------------------------------------
// Commission
// ---------------------------------------------------------------------------

func TestFullReleaseChargesCommission(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	esc, err := env.svc.Lock(ctx, "cmp_1", dec("15000"))
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	if _, err := env.svc.ReleaseBatch(ctx, esc.ID, []Release{{CreatorID: "creator-1", Amount: dec("15000")}}); err != nil {
		t.Fatalf("release: %v", err)
	}

	// Full release settles the full commission: 35000 - 2250.
	w, _ := env.ledgerSvc.Get(ctx, env.brand.ID)
	if !w.Available.Equal(dec("32750")) {
		t.Errorf("brand available = %s, want 32750", w.Available)
	}

	txs, _, err := env.ledgerSvc.History(ctx, env.brand.ID, 20, "")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	var fee *ledger.Transaction
	for _, tx := range txs {
		if tx.Type == ledger.TxPlatformFee {
			fee = tx
		}
	}
	if fee == nil {
		t.Fatal("no PLATFORM_FEE transaction recorded")
	}
	if !fee.Amount.Equal(dec("-2250")) || fee.ReferenceID != esc.ID {
		t.Errorf("fee amount=%s reference=%s, want -2250/%s", fee.Amount, fee.ReferenceID, esc.ID)
	}
}

func TestLockFallsBackToDefaultCommission(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.svc.WithDefaultCommission(dec("0.10"))
	if err := env.campaigns.Create(ctx, &campaign.Campaign{
		ID:        "cmp_2",
		BrandID:   "brand-1",
		Type:      campaign.TypeClick,
		Status:    campaign.StatusActive,
		CreatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("create campaign: %v", err)
	}

	esc, err := env.svc.Lock(ctx, "cmp_2", dec("1000"))
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	if !esc.CommissionAmount.Equal(dec("100")) {
		t.Errorf("commission = %s, want 100 (platform default)", esc.CommissionAmount)
	}
}

// ---------------------------------------------------------------------------
// Refund
// ---------------------------------------------------------------------------

func TestRefundReturnsRemainder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	esc, err := env.svc.Lock(ctx, "cmp_1", dec("15000"))
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	if _, err := env.svc.ReleaseBatch(ctx, esc.ID, []Release{{CreatorID: "creator-1", Amount: dec("4250")}}); err != nil {
		t.Fatalf("release: %v", err)
	}

	esc, err = env.svc.Refund(ctx, esc.ID)
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if esc.Status != StatusRefunded {
		t.Errorf("status = %s, want REFUNDED", esc.Status)
	}

	w, _ := env.ledgerSvc.Get(ctx, env.brand.ID)
	// 50000 funded, 15000 locked, 4250 released: 35000 + 10750 back, minus
	// the commission on the released portion (2250 * 4250/15000 = 637.50).
	if !w.Available.Equal(dec("45112.50")) || !w.Escrow.IsZero() {
		t.Errorf("brand available=%s escrow=%s, want 45112.50/0", w.Available, w.Escrow)
	}
}

func TestRefundTerminalEscrow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	esc, err := env.svc.Lock(ctx, "cmp_1", dec("500"))
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	if _, err := env.svc.Refund(ctx, esc.ID); err != nil {
		t.Fatalf("refund: %v", err)
	}
	if _, err := env.svc.Refund(ctx, esc.ID); !errors.Is(err, ErrAlreadySettled) {
		t.Errorf("second refund: got %v, want ErrAlreadySettled", err)
	}
}

// ---------------------------------------------------------------------------
// Status derivation
// ---------------------------------------------------------------------------

func TestDeriveStatus(t *testing.T) {
	tests := []struct {
		total, released string
		want            Status
	}{
		{"100", "0", StatusLocked},
		{"100", "50", StatusPartiallyReleased},
		{"100", "100", StatusFullyReleased},
	}
	for _, tt := range tests {
		if got := DeriveStatus(dec(tt.total), dec(tt.released)); got != tt.want {
			t.Errorf("DeriveStatus(%s, %s) = %s, want %s", tt.total, tt.released, got, tt.want)
		}
	}
}

func TestConcurrentReleasesNeverOverRelease(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	esc, err := env.svc.Lock(ctx, "cmp_1", dec("1000"))
	if err != nil {
		t.Fatalf("lock: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = env.svc.ReleaseBatch(ctx, esc.ID, []Release{{CreatorID: "creator-1", Amount: dec("100")}})
		}()
	}
	wg.Wait()

	final, _ := env.svc.Get(ctx, esc.ID)
	if final.ReleasedAmount.GreaterThan(final.TotalAmount) {
		t.Errorf("released %s exceeds total %s", final.ReleasedAmount, final.TotalAmount)
	}

	c, _ := env.ledgerSvc.Get(ctx, env.creator.ID)
	if c.Available.GreaterThan(dec("1000")) {
		t.Errorf("creator credited %s from a 1000 escrow", c.Available)
	}
}
