package config

import (
	"reflect"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if !reflect.DeepEqual(cfg.StakeTiers, []int64{100, 250, 500, 1000, 2000}) {
		t.Errorf("default stake tiers = %v", cfg.StakeTiers)
	}
	if cfg.PrizeMultiplier != 1.8 {
		t.Errorf("default prize multiplier = %v, want 1.8", cfg.PrizeMultiplier)
	}
	if cfg.InitialBalance != 5000 {
		t.Errorf("default initial balance = %d, want 5000", cfg.InitialBalance)
	}
	if cfg.QueueExpiryMinutes != 10 {
		t.Errorf("default queue expiry = %d, want 10", cfg.QueueExpiryMinutes)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("STAKE_TIERS", "50, 75,125")
	t.Setenv("PRIZE_MULTIPLIER", "1.9")
	t.Setenv("INITIAL_BALANCE", "10000")

	cfg := Load()

	if !reflect.DeepEqual(cfg.StakeTiers, []int64{50, 75, 125}) {
		t.Errorf("stake tiers = %v, want [50 75 125]", cfg.StakeTiers)
	}
	if cfg.PrizeMultiplier != 1.9 {
		t.Errorf("prize multiplier = %v, want 1.9", cfg.PrizeMultiplier)
	}
	if cfg.InitialBalance != 10000 {
		t.Errorf("initial balance = %d, want 10000", cfg.InitialBalance)
	}
}

func TestLoadBadTierListFallsBack(t *testing.T) {
	t.Setenv("STAKE_TIERS", "100,abc,500")

	cfg := Load()
	if !reflect.DeepEqual(cfg.StakeTiers, []int64{100, 250, 500, 1000, 2000}) {
		t.Errorf("stake tiers = %v, want defaults on parse error", cfg.StakeTiers)
	}
}

func TestIsValidStake(t *testing.T) {
	cfg := &Config{StakeTiers: []int64{100, 250, 500}}

	for _, stake := range []int64{100, 250, 500} {
		if !cfg.IsValidStake(stake) {
			t.Errorf("IsValidStake(%d) = false, want true", stake)
		}
	}
	for _, stake := range []int64{0, -100, 99, 101, 2000} {
		if cfg.IsValidStake(stake) {
			t.Errorf("IsValidStake(%d) = true, want false", stake)
		}
	}
}

func TestPrizeRoundsDown(t *testing.T) {
	cfg := &Config{PrizeMultiplier: 1.8}

	cases := map[int64]int64{
		100:  180,
		250:  450,
		500:  900,
		1000: 1800,
		2000: 3600,
		25:   45,
		1:    1, // floor(1.8)
	}
	for stake, want := range cases {
		if got := cfg.Prize(stake); got != want {
			t.Errorf("Prize(%d) = %d, want %d", stake, got, want)
		}
	}
}
