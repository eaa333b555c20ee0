package params

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// SolUSDFeedID is the price feed every escrow settles against.
const SolUSDFeedID = "0xef0d8b6fda2ceba41da15d4095d1da392a0d2f8ed0c6c7bc0f4cfac8c280b56d"

type Node struct {
	DataDir     string
	APIAddr     string
	GenesisFile string
	LogFile     string // empty logs to stdout only
	// MinBlockTime throttles block production. Ledger time only advances
	// with blocks, so keep this well below Program.MaxPriceAge.
	MinBlockTime time.Duration
	// Sequencer nodes produce blocks; the others only validate and gossip txs.
	Sequencer bool
	Verbose   bool
}

type P2P struct {
	ListenAddr string   // empty disables gossip
	Bootstrap  []string // multiaddrs with /p2p/<id>
}

type Program struct {
	FeedID      string
	MaxPriceAge uint64 // seconds
}

type Oracle struct {
	Threshold int // distinct guardian signatures required per update
	// PublisherSeed enables the built-in publisher when non-empty (devnet).
	PublisherSeed string
}

type Keeper struct {
	Enabled       bool
	StreamURL     string
	KeyHex        string
	PriceExpo     int32
	SubmitsPerSec float64
	RetryAfter    time.Duration
}

type Config struct {
	Node    Node
	P2P     P2P
	Program Program
	Oracle  Oracle
	Keeper  Keeper
}

func Default() Config {
	return Config{
		Node: Node{
			DataDir:      "data",
			APIAddr:      ":8080",
			GenesisFile:  "genesis.yaml",
			MinBlockTime: 500 * time.Millisecond,
			Sequencer:    true,
		},
		Program: Program{
			FeedID:      SolUSDFeedID,
			MaxPriceAge: 100,
		},
		Oracle: Oracle{
			Threshold: 1,
		},
		Keeper: Keeper{
			StreamURL:     "wss://stream.binance.com/ws/solusdt@trade",
			PriceExpo:     -2,
			SubmitsPerSec: 5,
			RetryAfter:    10 * time.Second,
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	cfg.Node.DataDir = getEnv("DATA_DIR", cfg.Node.DataDir)
	cfg.Node.APIAddr = getEnv("API_ADDR", cfg.Node.APIAddr)
	cfg.Node.GenesisFile = getEnv("GENESIS_FILE", cfg.Node.GenesisFile)
	if minBlock := os.Getenv("NODE_MIN_BLOCK_TIME_MS"); minBlock != "" {
		if ms, err := strconv.Atoi(minBlock); err == nil {
			cfg.Node.MinBlockTime = time.Duration(ms) * time.Millisecond
		}
	}
	cfg.Node.LogFile = os.Getenv("LOG_FILE")
	cfg.Node.Sequencer = os.Getenv("SEQUENCER") != "false"
	cfg.Node.Verbose = os.Getenv("VERBOSE") == "true"

	cfg.P2P.ListenAddr = os.Getenv("LISTEN")
	if bs := os.Getenv("BOOTSTRAP"); bs != "" {
		cfg.P2P.Bootstrap = splitList(bs)
	}

	cfg.Program.FeedID = getEnv("TPSL_FEED_ID", cfg.Program.FeedID)
	if age := os.Getenv("TPSL_MAX_PRICE_AGE"); age != "" {
		if v, err := strconv.ParseUint(age, 10, 64); err == nil {
			cfg.Program.MaxPriceAge = v
		}
	}

	if th := os.Getenv("ORACLE_THRESHOLD"); th != "" {
		if v, err := strconv.Atoi(th); err == nil && v > 0 {
			cfg.Oracle.Threshold = v
		}
	}
	cfg.Oracle.PublisherSeed = os.Getenv("PUBLISHER_GUARDIAN_SEED")

	cfg.Keeper.Enabled = os.Getenv("KEEPER_ENABLED") == "true"
	cfg.Keeper.StreamURL = getEnv("KEEPER_STREAM_URL", cfg.Keeper.StreamURL)
	cfg.Keeper.KeyHex = os.Getenv("KEEPER_KEY")
	if expo := os.Getenv("KEEPER_PRICE_EXPO"); expo != "" {
		if v, err := strconv.ParseInt(expo, 10, 32); err == nil {
			cfg.Keeper.PriceExpo = int32(v)
		}
	}
	if rps := os.Getenv("KEEPER_SUBMITS_PER_SEC"); rps != "" {
		if v, err := strconv.ParseFloat(rps, 64); err == nil && v > 0 {
			cfg.Keeper.SubmitsPerSec = v
		}
	}

	return cfg
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
