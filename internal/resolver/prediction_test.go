package resolver

import (
	"context"
	"errors"
	"testing"
	"time"

	"betengine/internal/models"
)

func TestPredictionResolver_SettlesDueOnly(t *testing.T) {
	now := time.Now().UTC()
	repo := newStubRepo()
	repo.predictions[1] = models.PricePrediction{
		ID: 1, AccountID: 1, Symbol: "BTCUSDT",
		Direction: models.DirectionLong, Stake: dec("10"), Odds: dec("2"),
		EntryPrice: dec("65000"), PotentialPayout: dec("20"),
		Status: models.StatusOpen, ExpiresAt: now.Add(-time.Minute),
	}
	repo.predictions[2] = models.PricePrediction{
		ID: 2, AccountID: 1, Symbol: "BTCUSDT",
		Direction: models.DirectionLong, Stake: dec("10"), Odds: dec("2"),
		EntryPrice: dec("65000"), PotentialPayout: dec("20"),
		Status: models.StatusOpen, ExpiresAt: now.Add(time.Hour),
	}
	prices := newStubPrices()
	prices.prices["BTCUSDT"] = dec("66000")

	r := &PredictionResolver{Repo: repo, Settler: newTestSettler(repo), Prices: prices}
	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("err=%v", err)
	}

	due := repo.predictions[1]
	if due.Status != models.StatusWon {
		t.Fatalf("due status=%s want=won", due.Status)
	}
	if due.Payout == nil || !due.Payout.Equal(dec("20")) {
		t.Fatalf("payout=%v want=20", due.Payout)
	}
	if got := repo.predictions[2].Status; got != models.StatusOpen {
		t.Fatalf("future status=%s want=open", got)
	}
	if got := repo.accounts[1]; !got.Equal(dec("20")) {
		t.Fatalf("balance=%s want=20", got)
	}
	st := r.Status()
	if st.Settled != 1 || st.Errors != 0 {
		t.Fatalf("settled=%d errors=%d want=1/0", st.Settled, st.Errors)
	}
}

func TestPredictionResolver_PriceErrorLeavesDueForRetry(t *testing.T) {
	now := time.Now().UTC()
	repo := newStubRepo()
	repo.predictions[1] = models.PricePrediction{
		ID: 1, AccountID: 1, Symbol: "ETHUSDT",
		Direction: models.DirectionShort, Stake: dec("10"), Odds: dec("2"),
		EntryPrice: dec("3000"), PotentialPayout: dec("20"),
		Status: models.StatusOpen, ExpiresAt: now.Add(-time.Minute),
	}
	prices := newStubPrices()
	prices.errs["ETHUSDT"] = errors.New("mirrors exhausted")

	r := &PredictionResolver{Repo: repo, Settler: newTestSettler(repo), Prices: prices}
	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("err=%v", err)
	}

	if got := repo.predictions[1].Status; got != models.StatusOpen {
		t.Fatalf("status=%s want=open", got)
	}
	if st := r.Status(); st.Errors != 1 || st.Settled != 0 {
		t.Fatalf("settled=%d errors=%d want=0/1", st.Settled, st.Errors)
	}

	// The feed recovers; the same prediction settles on the next cycle.
	delete(prices.errs, "ETHUSDT")
	prices.prices["ETHUSDT"] = dec("2900")
	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("second cycle err=%v", err)
	}
	if got := repo.predictions[1].Status; got != models.StatusWon {
		t.Fatalf("status=%s want=won", got)
	}
}
