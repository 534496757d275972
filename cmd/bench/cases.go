// README: Benchmark cases; in-process floor load, fan-out and sweep, plus optional HTTP, DB and Redis checks.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"floortwin/internal/broadcast"
	"floortwin/internal/infra"
	"floortwin/internal/modules/floor"
	"floortwin/internal/modules/order"
	"floortwin/internal/modules/table"
	"floortwin/internal/types"
)

type Runner struct {
	cfg   Config
	httpc *http.Client
	db    *pgxpool.Pool
	redis *redis.Client
}

type Result struct {
	Name    string
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name  string
	Focus string
	Run   func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Config) *Runner {
	return &Runner{
		cfg:   cfg,
		httpc: &http.Client{Timeout: 10 * time.Second},
	}
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := pgxpool.New(ctx, r.cfg.DSN); err == nil {
			r.db = db
		}
	}
	if r.cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))

	for _, tc := range tests {
		res := tc.Run(ctx, r)
		res.Name = tc.Name
		results = append(results, res)
		fmt.Printf("%-7s %s", res.Status, tc.Name)
		if res.Latency > 0 {
			fmt.Printf(" (%s)", res.Latency)
		}
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}

	if r.db != nil {
		r.db.Close()
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}

	return results
}

func (r *Runner) cases() []TestCase {
	base := r.cfg.BaseURL
	return []TestCase{
		{
			Name:  "Env: Postgres connect",
			Focus: "DB reachable",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: "SKIP", Note: "db not configured"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.db.Ping(ctx); err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name:  "Env: Redis connect",
			Focus: "Redis reachable",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.redis == nil {
					return Result{Status: "SKIP", Note: "redis not configured"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.redis.Ping(ctx).Err(); err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name:  "Migration: apply (optional)",
			Focus: "schema up to date",
			Run: func(ctx context.Context, r *Runner) Result {
				if !r.cfg.ApplyMigration || r.cfg.DSN == "" {
					return Result{Status: "SKIP", Note: "apply-migration=false or no dsn"}
				}
				version, err := infra.Migrate(r.cfg.DSN)
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				return Result{Status: "PASS", Note: fmt.Sprintf("version=%d", version)}
			},
		},
		{
			Name:  "Floor: concurrent lifecycles across tables",
			Focus: "per-table serialisation, final states consistent",
			Run:   floorLoad,
		},
		{
			Name:  "Hub: fan-out to many subscribers",
			Focus: "publish never blocks; drops only on slow readers",
			Run:   fanOut,
		},
		{
			Name:  "Sweep: alarm a busy floor",
			Focus: "one alert per late table, idempotent rerun",
			Run:   sweepFloor,
		},
		httpCaseMethod("HTTP: health", http.MethodGet, base+"/health", nil, []int{200}),
		httpCaseMethod("HTTP: floor snapshot", http.MethodGet, base+"/api/venues/bench/floor", nil, []int{200}),
		{
			Name:  "Perf: floor snapshot load",
			Focus: "HTTP throughput",
			Run: func(ctx context.Context, r *Runner) Result {
				if base == "" {
					return Result{Status: "SKIP", Note: "base-url not set"}
				}
				return perfLoad(ctx, r, base+"/api/venues/bench/floor")
			},
		},
	}
}

// newFloor builds an in-memory floor with n tables in venue "bench".
func newFloor(n int, pub broadcast.Publisher) (*floor.MemoryStore, *floor.Service, []types.ID) {
	store := floor.NewMemoryStore()
	ids := make([]types.ID, n)
	for i := range ids {
		ids[i] = types.ID(fmt.Sprintf("t%03d", i))
		store.PutTable(table.Table{ID: ids[i], VenueID: "bench", Name: string(ids[i]), Capacity: 4})
	}
	return store, floor.NewService(store, pub), ids
}

func floorLoad(ctx context.Context, r *Runner) Result {
	hub := broadcast.NewHub(broadcast.Options{Buffer: r.cfg.Buffer})
	defer hub.Close()
	store, svc, tables := newFloor(r.cfg.Tables, hub)

	work := make(chan types.ID)
	var ops, errs atomic.Int64
	latencies := make([]time.Duration, 0, len(tables)*3)
	var mu sync.Mutex

	var wg sync.WaitGroup
	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range work {
				start := time.Now()
				out, err := svc.CreateOrder(ctx, floor.CreateCommand{TableID: id, Total: types.Money{Amount: 1000}})
				if err != nil {
					errs.Add(1)
					continue
				}
				for _, to := range []order.Status{order.StatusPreparing, order.StatusServed, order.StatusCompleted} {
					if _, err := svc.ApplyTransition(ctx, out.Order.ID, to); err != nil {
						errs.Add(1)
					}
					ops.Add(1)
				}
				mu.Lock()
				latencies = append(latencies, time.Since(start))
				mu.Unlock()
			}
		}()
	}
	start := time.Now()
	for round := 0; round < 3; round++ {
		for _, id := range tables {
			select {
			case work <- id:
			case <-ctx.Done():
			}
		}
	}
	close(work)
	wg.Wait()
	elapsed := time.Since(start)

	for _, id := range tables {
		tb, err := store.GetTable(ctx, id)
		if err != nil || tb.State != table.StateAvailable {
			return Result{Status: "FAIL", Note: fmt.Sprintf("table %s not AVAILABLE after load", id)}
		}
	}
	if errs.Load() > 0 {
		return Result{Status: "FAIL", Note: fmt.Sprintf("errors=%d", errs.Load())}
	}
	return Result{
		Status:  "PASS",
		Latency: percentile(latencies, 0.99),
		Note:    fmt.Sprintf("transitions=%d rate=%.0f/s p50=%s", ops.Load(), float64(ops.Load())/elapsed.Seconds(), percentile(latencies, 0.5)),
	}
}

func fanOut(ctx context.Context, r *Runner) Result {
	hub := broadcast.NewHub(broadcast.Options{Buffer: r.cfg.Buffer})
	defer hub.Close()

	subs := make([]*broadcast.Subscription, r.cfg.Subscribers)
	for i := range subs {
		sub, err := hub.Subscribe(broadcast.VenueTopic("bench"))
		if err != nil {
			return Result{Status: "FAIL", Note: err.Error()}
		}
		subs[i] = sub
	}

	// Half the viewers read, half never do.
	var wg sync.WaitGroup
	var received atomic.Int64
	for i, sub := range subs {
		if i%2 == 1 {
			continue
		}
		wg.Add(1)
		go func(sub *broadcast.Subscription) {
			defer wg.Done()
			for range sub.C() {
				received.Add(1)
			}
		}(sub)
	}

	const events = 2000
	start := time.Now()
	for i := 0; i < events && ctx.Err() == nil; i++ {
		_ = hub.Publish(ctx, broadcast.Event{
			Type:      broadcast.EventTableStateChanged,
			VenueID:   "bench",
			TableID:   types.ID(fmt.Sprintf("t%03d", i%100)),
			Timestamp: time.Now().UTC(),
		}, broadcast.VenueTopic("bench"))
	}
	elapsed := time.Since(start)
	hub.Close()
	wg.Wait()

	var dropped uint64
	for _, sub := range subs {
		dropped += sub.Dropped()
	}
	return Result{
		Status:  "PASS",
		Latency: elapsed / events,
		Note:    fmt.Sprintf("subscribers=%d received=%d dropped=%d", len(subs), received.Load(), dropped),
	}
}

func sweepFloor(ctx context.Context, r *Runner) Result {
	hub := broadcast.NewHub(broadcast.Options{Buffer: r.cfg.Tables * 4})
	defer hub.Close()
	alerts, err := hub.Subscribe(broadcast.GlobalAlertsTopic)
	if err != nil {
		return Result{Status: "FAIL", Note: err.Error()}
	}

	store, svc, tables := newFloor(r.cfg.Tables, hub)
	placed := time.Now().Add(-30 * time.Minute)
	late := 0
	for i, id := range tables {
		if i%3 != 0 {
			continue
		}
		late++
		store.PutOrder(order.Order{
			ID:       types.NewID(),
			TableID:  id,
			VenueID:  "bench",
			Status:   order.StatusPlaced,
			PlacedAt: placed,
		})
	}

	start := time.Now()
	report, err := svc.Sweep(ctx, floor.SweepOptions{})
	if err != nil {
		return Result{Status: "FAIL", Note: err.Error()}
	}
	elapsed := time.Since(start)
	again, err := svc.Sweep(ctx, floor.SweepOptions{})
	if err != nil {
		return Result{Status: "FAIL", Note: err.Error()}
	}

	if report.Raised != late || again.Raised != 0 || len(alerts.C()) != late {
		return Result{Status: "FAIL", Note: fmt.Sprintf("raised=%d rerun=%d alerts=%d want=%d", report.Raised, again.Raised, len(alerts.C()), late)}
	}
	return Result{Status: "PASS", Latency: elapsed, Note: fmt.Sprintf("tables=%d alarmed=%d", len(tables), late)}
}

func httpCaseMethod(name, method, url string, body any, okStatuses []int) TestCase {
	return TestCase{
		Name:  name,
		Focus: "HTTP API",
		Run: func(ctx context.Context, r *Runner) Result {
			if r.cfg.BaseURL == "" {
				return Result{Status: "SKIP", Note: "base-url not set"}
			}
			var reader io.Reader
			if body != nil {
				b, _ := json.Marshal(body)
				reader = strings.NewReader(string(b))
			}
			req, _ := http.NewRequestWithContext(ctx, method, url, reader)
			req.Header.Set("Content-Type", "application/json")
			start := time.Now()
			resp, err := r.httpc.Do(req)
			if err != nil {
				return Result{Status: "FAIL", Note: err.Error()}
			}
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			latency := time.Since(start)

			if contains(okStatuses, resp.StatusCode) {
				return Result{Status: "PASS", Latency: latency, Note: fmt.Sprintf("status=%d", resp.StatusCode)}
			}
			return Result{Status: "FAIL", Latency: latency, Note: fmt.Sprintf("status=%d", resp.StatusCode)}
		},
	}
}

func perfLoad(ctx context.Context, r *Runner, url string) Result {
	end := time.Now().Add(r.cfg.Duration)
	var count, errCount atomic.Int64
	wg := sync.WaitGroup{}

	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(end) && ctx.Err() == nil {
				req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
				resp, err := r.httpc.Do(req)
				if err != nil {
					errCount.Add(1)
					continue
				}
				_, _ = io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
				count.Add(1)
			}
		}()
	}
	wg.Wait()

	if count.Load() == 0 {
		return Result{Status: "FAIL", Note: "no requests completed"}
	}
	rps := float64(count.Load()) / r.cfg.Duration.Seconds()
	return Result{Status: "PASS", Note: fmt.Sprintf("rps=%.1f errors=%d", rps, errCount.Load())}
}

func percentile(in []time.Duration, p float64) time.Duration {
	if len(in) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), in...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted[int(float64(len(sorted)-1)*p)]
}

func contains(list []int, v int) bool {
	for _, i := range list {
		if i == v {
			return true
		}
	}
	return false
}
