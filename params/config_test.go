package params

import (
	"testing"
	"time"
)

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("TPSL_MAX_PRICE_AGE", "30")
	t.Setenv("NODE_MIN_BLOCK_TIME_MS", "250")
	t.Setenv("BOOTSTRAP", " /ip4/127.0.0.1/tcp/4001/p2p/a , ,/ip4/127.0.0.1/tcp/4002/p2p/b")
	t.Setenv("ORACLE_THRESHOLD", "0") // ignored: must be positive
	t.Setenv("KEEPER_ENABLED", "true")

	cfg := LoadFromEnv("does-not-exist.env")

	if cfg.Program.MaxPriceAge != 30 {
		t.Errorf("MaxPriceAge = %d, want 30", cfg.Program.MaxPriceAge)
	}
	if cfg.Node.MinBlockTime != 250*time.Millisecond {
		t.Errorf("MinBlockTime = %v, want 250ms", cfg.Node.MinBlockTime)
	}
	if len(cfg.P2P.Bootstrap) != 2 {
		t.Fatalf("bootstrap = %v, want 2 entries", cfg.P2P.Bootstrap)
	}
	if cfg.Oracle.Threshold != 1 {
		t.Errorf("Threshold = %d, want default 1", cfg.Oracle.Threshold)
	}
	if !cfg.Keeper.Enabled {
		t.Error("keeper should be enabled")
	}
	if cfg.Program.FeedID != SolUSDFeedID {
		t.Errorf("FeedID = %s, want default", cfg.Program.FeedID)
	}
}
