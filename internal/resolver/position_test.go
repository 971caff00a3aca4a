package resolver

import (
	"context"
	"errors"
	"testing"

	"betengine/internal/config"
	"betengine/internal/models"
	"betengine/internal/service"
)

func TestCloseTrigger_Precedence(t *testing.T) {
	cases := []struct {
		name  string
		pos   models.PricePosition
		price string
		want  string
		hit   bool
	}{
		{
			name: "long liquidation beats stop loss",
			pos: models.PricePosition{
				Direction:        models.DirectionLong,
				LiquidationPrice: dec("90"),
				StopLoss:         decPtr("95"),
			},
			price: "89", want: "liquidation", hit: true,
		},
		{
			name: "long liquidation at exact level",
			pos: models.PricePosition{
				Direction:        models.DirectionLong,
				LiquidationPrice: dec("90"),
			},
			price: "90", want: "liquidation", hit: true,
		},
		{
			name: "long take profit",
			pos: models.PricePosition{
				Direction:        models.DirectionLong,
				LiquidationPrice: dec("90"),
				TakeProfit:       decPtr("110"),
			},
			price: "112", want: "take_profit", hit: true,
		},
		{
			name: "long stop loss above liquidation",
			pos: models.PricePosition{
				Direction:        models.DirectionLong,
				LiquidationPrice: dec("90"),
				StopLoss:         decPtr("95"),
			},
			price: "93", want: "stop_loss", hit: true,
		},
		{
			name: "long untriggered",
			pos: models.PricePosition{
				Direction:        models.DirectionLong,
				LiquidationPrice: dec("90"),
			},
			price: "95", want: "", hit: false,
		},
		{
			name: "short liquidation beats stop loss",
			pos: models.PricePosition{
				Direction:        models.DirectionShort,
				LiquidationPrice: dec("110"),
				StopLoss:         decPtr("105"),
			},
			price: "115", want: "liquidation", hit: true,
		},
		{
			name: "short take profit below entry",
			pos: models.PricePosition{
				Direction:        models.DirectionShort,
				LiquidationPrice: dec("110"),
				TakeProfit:       decPtr("90"),
			},
			price: "88", want: "take_profit", hit: true,
		},
		{
			name: "short stop loss below liquidation",
			pos: models.PricePosition{
				Direction:        models.DirectionShort,
				LiquidationPrice: dec("110"),
				StopLoss:         decPtr("105"),
			},
			price: "106", want: "stop_loss", hit: true,
		},
		{
			name: "short untriggered",
			pos: models.PricePosition{
				Direction:        models.DirectionShort,
				LiquidationPrice: dec("110"),
			},
			price: "100", want: "", hit: false,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, hit := closeTrigger(tc.pos, dec(tc.price))
			if hit != tc.hit || got != tc.want {
				t.Fatalf("trigger=%q hit=%v want=%q/%v", got, hit, tc.want, tc.hit)
			}
		})
	}
}

func TestPositionResolver_LiquidatesCrossedLong(t *testing.T) {
	repo := newStubRepo()
	repo.pricePos[1] = models.PricePosition{
		ID: 1, AccountID: 1, Symbol: "BTCUSDT",
		Direction: models.DirectionLong, Stake: dec("50"), Leverage: dec("10"),
		EntryPrice: dec("100"), PositionSize: dec("500"), LiquidationPrice: dec("90"),
		Status: models.StatusOpen,
	}
	prices := newStubPrices()
	prices.prices["BTCUSDT"] = dec("89")

	r := &PositionResolver{Repo: repo, Settler: newTestSettler(repo), Prices: prices}
	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("err=%v", err)
	}

	pos := repo.pricePos[1]
	if pos.Status != models.StatusClosed {
		t.Fatalf("status=%s want=closed", pos.Status)
	}
	if pos.ExitPrice == nil || !pos.ExitPrice.Equal(dec("89")) {
		t.Fatalf("exit_price=%v want=89", pos.ExitPrice)
	}
	// The paper loss is 55 but the clamp stops at the 50 stake.
	if pos.Pnl == nil || !pos.Pnl.Equal(dec("-50")) {
		t.Fatalf("pnl=%v want=-50", pos.Pnl)
	}
	st := r.Status()
	if st.Settled != 1 || st.Errors != 0 {
		t.Fatalf("settled=%d errors=%d want=1/0", st.Settled, st.Errors)
	}
	if st.LastRunAt == nil {
		t.Fatalf("last_run_at not recorded")
	}
}

func TestPositionResolver_SettlesAtFetchedPriceNotTriggerLevel(t *testing.T) {
	repo := newStubRepo()
	repo.pricePos[1] = models.PricePosition{
		ID: 1, AccountID: 1, Symbol: "BTCUSDT",
		Direction: models.DirectionLong, Stake: dec("50"), Leverage: dec("10"),
		EntryPrice: dec("100"), PositionSize: dec("500"), LiquidationPrice: dec("90"),
		TakeProfit: decPtr("110"),
		Status:     models.StatusOpen,
	}
	prices := newStubPrices()
	prices.prices["BTCUSDT"] = dec("112")

	r := &PositionResolver{Repo: repo, Settler: newTestSettler(repo), Prices: prices}
	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("err=%v", err)
	}

	pos := repo.pricePos[1]
	if pos.ExitPrice == nil || !pos.ExitPrice.Equal(dec("112")) {
		t.Fatalf("exit_price=%v want=112", pos.ExitPrice)
	}
	if pos.Pnl == nil || !pos.Pnl.Equal(dec("60")) {
		t.Fatalf("pnl=%v want=60", pos.Pnl)
	}
	if got := repo.accounts[1]; !got.Equal(dec("110")) {
		t.Fatalf("balance=%s want=110", got)
	}
}

func TestPositionResolver_LeavesUntriggeredOpen(t *testing.T) {
	repo := newStubRepo()
	repo.pricePos[1] = models.PricePosition{
		ID: 1, AccountID: 1, Symbol: "BTCUSDT",
		Direction: models.DirectionLong, Stake: dec("50"), Leverage: dec("10"),
		EntryPrice: dec("100"), PositionSize: dec("500"), LiquidationPrice: dec("90"),
		Status: models.StatusOpen,
	}
	prices := newStubPrices()
	prices.prices["BTCUSDT"] = dec("95")

	r := &PositionResolver{Repo: repo, Settler: newTestSettler(repo), Prices: prices}
	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("err=%v", err)
	}

	if got := repo.pricePos[1].Status; got != models.StatusOpen {
		t.Fatalf("status=%s want=open", got)
	}
	if st := r.Status(); st.Settled != 0 {
		t.Fatalf("settled=%d want=0", st.Settled)
	}
}

func TestPositionResolver_PriceErrorSkipsSymbolOnce(t *testing.T) {
	repo := newStubRepo()
	repo.pricePos[1] = models.PricePosition{
		ID: 1, AccountID: 1, Symbol: "ETHUSDT",
		Direction: models.DirectionLong, Stake: dec("50"), Leverage: dec("10"),
		EntryPrice: dec("100"), PositionSize: dec("500"), LiquidationPrice: dec("90"),
		Status: models.StatusOpen,
	}
	repo.pricePos[2] = models.PricePosition{
		ID: 2, AccountID: 1, Symbol: "ETHUSDT",
		Direction: models.DirectionLong, Stake: dec("50"), Leverage: dec("10"),
		EntryPrice: dec("100"), PositionSize: dec("500"), LiquidationPrice: dec("90"),
		Status: models.StatusOpen,
	}
	repo.pricePos[3] = models.PricePosition{
		ID: 3, AccountID: 1, Symbol: "BTCUSDT",
		Direction: models.DirectionLong, Stake: dec("50"), Leverage: dec("10"),
		EntryPrice: dec("100"), PositionSize: dec("500"), LiquidationPrice: dec("90"),
		Status: models.StatusOpen,
	}
	prices := newStubPrices()
	prices.errs["ETHUSDT"] = errors.New("feed down")
	prices.prices["BTCUSDT"] = dec("80")

	r := &PositionResolver{Repo: repo, Settler: newTestSettler(repo), Prices: prices}
	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("err=%v", err)
	}

	if got := repo.pricePos[1].Status; got != models.StatusOpen {
		t.Fatalf("eth position 1 status=%s want=open", got)
	}
	if got := repo.pricePos[2].Status; got != models.StatusOpen {
		t.Fatalf("eth position 2 status=%s want=open", got)
	}
	if got := repo.pricePos[3].Status; got != models.StatusClosed {
		t.Fatalf("btc position status=%s want=closed", got)
	}
	if prices.calls["ETHUSDT"] != 1 {
		t.Fatalf("eth fetches=%d want=1", prices.calls["ETHUSDT"])
	}
	if st := r.Status(); st.Settled != 1 || st.Errors != 1 {
		t.Fatalf("settled=%d errors=%d want=1/1", st.Settled, st.Errors)
	}
}

func TestPositionResolver_DisabledByFlag(t *testing.T) {
	repo := newStubRepo()
	repo.pricePos[1] = models.PricePosition{
		ID: 1, AccountID: 1, Symbol: "BTCUSDT",
		Direction: models.DirectionLong, Stake: dec("50"), Leverage: dec("10"),
		EntryPrice: dec("100"), PositionSize: dec("500"), LiquidationPrice: dec("90"),
		Status: models.StatusOpen,
	}
	prices := newStubPrices()
	prices.prices["BTCUSDT"] = dec("89")
	flags := &service.SystemSettingsService{Repo: repo}
	ctx := context.Background()
	if err := flags.SetEnabled(ctx, service.FeatureResolverPositions, false); err != nil {
		t.Fatalf("err=%v", err)
	}

	r := &PositionResolver{
		Repo: repo, Settler: newTestSettler(repo), Prices: prices,
		Flags: flags, Config: config.ResolverConfig{},
	}
	if err := r.RunOnce(ctx); err != nil {
		t.Fatalf("err=%v", err)
	}

	if got := repo.pricePos[1].Status; got != models.StatusOpen {
		t.Fatalf("status=%s want=open", got)
	}
	if prices.calls["BTCUSDT"] != 0 {
		t.Fatalf("price fetched while loop disabled")
	}
}
