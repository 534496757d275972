// README: Benchmark runner; executes in-process load cases plus optional HTTP/DB/Redis checks and prints results.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"
)

func main() {
	cfg := loadConfig()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	bench := NewRunner(cfg)
	results := bench.RunAll(ctx)

	fmt.Println("\n== Summary ==")
	pass, fail, skipped := 0, 0, 0
	for _, r := range results {
		switch r.Status {
		case "PASS":
			pass++
		case "FAIL":
			fail++
		case "SKIP":
			skipped++
		}
	}
	fmt.Printf("PASS=%d FAIL=%d SKIP=%d\n", pass, fail, skipped)

	if fail > 0 || (cfg.Strict && skipped > 0) {
		os.Exit(1)
	}
}

type Config struct {
	BaseURL        string
	DSN            string
	RedisAddr      string
	ApplyMigration bool
	Strict         bool
	Timeout        time.Duration
	Concurrency    int
	Duration       time.Duration
	Tables         int
	Subscribers    int
	Buffer         int
}

func loadConfig() Config {
	var cfg Config
	flag.StringVar(&cfg.BaseURL, "base-url", os.Getenv("FLOOR_BENCH_BASE_URL"), "API base URL (empty skips HTTP cases)")
	flag.StringVar(&cfg.DSN, "dsn", os.Getenv("FLOOR_DB_DSN"), "Postgres DSN (empty skips DB cases)")
	flag.StringVar(&cfg.RedisAddr, "redis", os.Getenv("FLOOR_REDIS_ADDR"), "Redis address (empty skips Redis cases)")
	flag.BoolVar(&cfg.ApplyMigration, "apply-migration", envOrDefaultBool("FLOOR_BENCH_APPLY_MIGRATION", false), "Apply migrations before DB cases")
	flag.BoolVar(&cfg.Strict, "strict", envOrDefaultBool("FLOOR_BENCH_STRICT", false), "Fail on skipped cases")
	flag.DurationVar(&cfg.Timeout, "timeout", envOrDefaultDuration("FLOOR_BENCH_TIMEOUT", 60*time.Second), "Total timeout")
	flag.IntVar(&cfg.Concurrency, "concurrency", envOrDefaultInt("FLOOR_BENCH_CONCURRENCY", 20), "Concurrent workers")
	flag.DurationVar(&cfg.Duration, "duration", envOrDefaultDuration("FLOOR_BENCH_DURATION", 5*time.Second), "Duration for HTTP load")
	flag.IntVar(&cfg.Tables, "tables", envOrDefaultInt("FLOOR_BENCH_TABLES", 200), "Tables on the simulated floor")
	flag.IntVar(&cfg.Subscribers, "subscribers", envOrDefaultInt("FLOOR_BENCH_SUBSCRIBERS", 500), "Live subscribers on the venue topic")
	flag.IntVar(&cfg.Buffer, "buffer", envOrDefaultInt("FLOOR_SUBSCRIBER_BUFFER", 64), "Per-subscriber queue length")
	flag.Parse()
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return cfg
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		v = strings.ToLower(v)
		return v == "1" || v == "true" || v == "yes"
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		var n int
		_, _ = fmt.Sscanf(v, "%d", &n)
		if n > 0 {
			return n
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
