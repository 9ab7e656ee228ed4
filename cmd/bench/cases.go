// README: Bench cases for the hailing API; covers env, ride lifecycle, the accept race, groups, places and throughput.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

const (
	StatusPass = "PASS"
	StatusFail = "FAIL"
	StatusSkip = "SKIP"
)

type Runner struct {
	cfg   Config
	httpc *http.Client
	db    *pgxpool.Pool
	redis *redis.Client

	// run prefixes every driver id so repeated runs never collide.
	run    string
	seq    atomic.Int64
	phones int64
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
		cfg:    cfg,
		httpc:  &http.Client{Timeout: 10 * time.Second},
		run:    uuid.NewString()[:8],
		phones: time.Now().UnixNano() % 1_000_000 * 100,
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
		fmt.Printf("%-5s %s", res.Status, tc.Name)
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
	return []TestCase{
		{
			Name:  "Env: Postgres connect",
			Focus: "database reachable",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: StatusFail, Note: "db not configured"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.db.Ping(ctx); err != nil {
					return Result{Status: StatusFail, Note: err.Error()}
				}
				return Result{Status: StatusPass}
			},
		},
		{
			Name:  "Env: Redis connect",
			Focus: "redis reachable",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.redis == nil {
					return Result{Status: StatusFail, Note: "redis not configured"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.redis.Ping(ctx).Err(); err != nil {
					return Result{Status: StatusFail, Note: err.Error()}
				}
				return Result{Status: StatusPass}
			},
		},
		{
			Name:  "Migration: apply (optional)",
			Focus: "apply the migration file",
			Run: func(ctx context.Context, r *Runner) Result {
				if !r.cfg.ApplyMigration {
					return Result{Status: StatusSkip, Note: "apply-migration=false"}
				}
				if r.db == nil {
					return Result{Status: StatusFail, Note: "db not configured"}
				}
				sql, err := os.ReadFile(r.cfg.MigrationPath)
				if err != nil {
					return Result{Status: StatusFail, Note: err.Error()}
				}
				for _, s := range splitSQL(string(sql)) {
					if _, err := r.db.Exec(ctx, s); err != nil {
						return Result{Status: StatusFail, Note: err.Error()}
					}
				}
				return Result{Status: StatusPass}
			},
		},
		{
			Name:  "Migration: tables exist",
			Focus: "every table in the migration file exists",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: StatusFail, Note: "db not configured"}
				}
				tables, err := extractTables(r.cfg.MigrationPath)
				if err != nil {
					return Result{Status: StatusFail, Note: err.Error()}
				}
				for _, t := range tables {
					var exists bool
					err := r.db.QueryRow(ctx,
						"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)",
						t,
					).Scan(&exists)
					if err != nil {
						return Result{Status: StatusFail, Note: err.Error()}
					}
					if !exists {
						return Result{Status: StatusFail, Note: "missing table: " + t}
					}
				}
				return Result{Status: StatusPass, Note: fmt.Sprintf("tables=%d", len(tables))}
			},
		},

		statusCase("API: health", http.MethodGet, "/health", nil, http.StatusOK),
		statusCase("API: metrics", http.MethodGet, "/metrics", nil, http.StatusOK),
		statusCase("Pricing: fare estimate", http.MethodGet, r.estimatePath(), nil, http.StatusOK),
		statusCase("Pricing: estimate without destination -> 400", http.MethodGet, "/api/fares/estimate?pickup_lat=-4.28&pickup_lng=39.59", nil, http.StatusBadRequest),

		statusCase("Ride: missing coordinates -> 400", http.MethodPost, "/api/rides", map[string]any{
			"customer_phone": "+254700000000",
		}, http.StatusBadRequest),
		statusCase("Ride: unknown request -> 404", http.MethodGet, "/api/rides/does-not-exist/status?phone=x", nil, http.StatusNotFound),
		statusCase("Location: invalid coords -> 400", http.MethodPut, "/api/drivers/bench-nobody/location", map[string]any{
			"latitude":  123.0,
			"longitude": 456.0,
		}, http.StatusBadRequest),

		{
			Name:  "Ride: full lifecycle",
			Focus: "create, accept, en-route, complete, trip, rating",
			Run:   rideLifecycle,
		},
		{
			Name:  "Ride: customer cancel",
			Focus: "customer cancels a pending request",
			Run:   customerCancel,
		},
		{
			Name:  "Concurrency: many drivers accept one request",
			Focus: "exactly one accept wins, the rest get 409",
			Run:   concurrentAccept,
		},
		{
			Name:  "Groups: seven passengers",
			Focus: "booking is split across three tuktuks",
			Run:   groupBooking,
		},
		statusCase("Places: search", http.MethodGet, "/api/places/search?q=market", nil, http.StatusOK),
		statusCase("Places: short query -> 400", http.MethodGet, "/api/places/search?q=m", nil, http.StatusBadRequest),
		statusCase("Places: suggest", http.MethodGet, "/api/places/suggest?q=ma", nil, http.StatusOK),

		{
			Name:  "Perf: location update throughput",
			Focus: "sustained driver pings",
			Run: func(ctx context.Context, r *Runner) Result {
				id, err := r.registerDriver(ctx)
				if err != nil {
					return Result{Status: StatusFail, Note: err.Error()}
				}
				return perfLoad(ctx, r, http.MethodPut, "/api/drivers/"+id+"/location", r.pickupBody())
			},
		},
		{
			Name:  "Perf: nearby drivers reads",
			Focus: "customer map polling",
			Run: func(ctx context.Context, r *Runner) Result {
				path := fmt.Sprintf("/api/nearby-drivers?lat=%f&lng=%f&max_distance_km=5", r.cfg.PickupLat, r.cfg.PickupLng)
				return perfLoad(ctx, r, http.MethodGet, path, nil)
			},
		},
	}
}

func statusCase(name, method, path string, body any, want int) TestCase {
	return TestCase{
		Name:  name,
		Focus: "HTTP API",
		Run: func(ctx context.Context, r *Runner) Result {
			start := time.Now()
			status, err := r.call(ctx, method, path, body, nil)
			latency := time.Since(start)
			if err != nil {
				return Result{Status: StatusFail, Note: err.Error()}
			}
			if status != want {
				return Result{Status: StatusFail, Latency: latency, Note: fmt.Sprintf("status=%d want=%d", status, want)}
			}
			return Result{Status: StatusPass, Latency: latency, Note: fmt.Sprintf("status=%d", status)}
		},
	}
}

// call sends a JSON request and decodes a 2xx body into out when out is set.
func (r *Runner) call(ctx context.Context, method, path string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if r.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+r.cfg.Token)
	}
	resp, err := r.httpc.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s %s: %w", method, path, err)
		}
		return resp.StatusCode, nil
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

// expect is call with a required status.
func (r *Runner) expect(ctx context.Context, want int, method, path string, body, out any) error {
	status, err := r.call(ctx, method, path, body, out)
	if err != nil {
		return err
	}
	if status != want {
		return fmt.Errorf("%s %s: status=%d want=%d", method, path, status, want)
	}
	return nil
}

func (r *Runner) registerDriver(ctx context.Context) (string, error) {
	n := r.seq.Add(1)
	id := fmt.Sprintf("bench-%s-%d", r.run, n)
	err := r.expect(ctx, http.StatusCreated, http.MethodPost, "/api/drivers", map[string]any{
		"id":         id,
		"name":       "Bench Driver " + id,
		"vehicle_id": fmt.Sprintf("tt-%s-%d", r.run, n),
	}, nil)
	if err != nil {
		return "", err
	}
	if err := r.expect(ctx, http.StatusOK, http.MethodPut, "/api/drivers/"+id+"/location", r.pickupBody(), nil); err != nil {
		return "", err
	}
	return id, nil
}

func (r *Runner) nextPhone() string {
	return fmt.Sprintf("+2547%08d", r.phones+r.seq.Add(1))
}

func (r *Runner) pickupBody() map[string]any {
	return map[string]any{"latitude": r.cfg.PickupLat, "longitude": r.cfg.PickupLng}
}

func (r *Runner) estimatePath() string {
	return fmt.Sprintf("/api/fares/estimate?pickup_lat=%f&pickup_lng=%f&destination_lat=%f&destination_lng=%f",
		r.cfg.PickupLat, r.cfg.PickupLng, r.cfg.PickupLat-0.03, r.cfg.PickupLng-0.02)
}

type rideResp struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func (r *Runner) createRide(ctx context.Context, phone string, passengers int) (*rideResp, error) {
	var out rideResp
	err := r.expect(ctx, http.StatusCreated, http.MethodPost, "/api/rides", map[string]any{
		"customer_phone":  phone,
		"customer_name":   "Bench Customer",
		"pickup":          map[string]any{"latitude": r.cfg.PickupLat, "longitude": r.cfg.PickupLng},
		"destination":     map[string]any{"latitude": r.cfg.PickupLat - 0.03, "longitude": r.cfg.PickupLng - 0.02},
		"passenger_count": passengers,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func rideLifecycle(ctx context.Context, r *Runner) Result {
	start := time.Now()
	fail := func(err error) Result {
		return Result{Status: StatusFail, Latency: time.Since(start), Note: err.Error()}
	}
	driverID, err := r.registerDriver(ctx)
	if err != nil {
		return fail(err)
	}
	phone := r.nextPhone()
	ride, err := r.createRide(ctx, phone, 2)
	if err != nil {
		return fail(err)
	}
	action := map[string]any{"driver_id": driverID}
	steps := []struct {
		path string
		body any
	}{
		{"/api/rides/" + ride.ID + "/accept", action},
		{"/api/rides/" + ride.ID + "/en-route", action},
		{"/api/rides/" + ride.ID + "/complete", map[string]any{"driver_id": driverID, "actual_fare": 250}},
	}
	for _, s := range steps {
		if err := r.expect(ctx, http.StatusOK, http.MethodPost, s.path, s.body, nil); err != nil {
			return fail(err)
		}
	}
	var status struct {
		Request rideResp `json:"request"`
	}
	if err := r.expect(ctx, http.StatusOK, http.MethodGet, "/api/rides/"+ride.ID+"/status?phone="+phone, nil, &status); err != nil {
		return fail(err)
	}
	if status.Request.Status != "completed" {
		return fail(fmt.Errorf("status=%s after complete", status.Request.Status))
	}

	var trip struct {
		ID string `json:"id"`
	}
	if err := r.expect(ctx, http.StatusOK, http.MethodPost, "/api/trips/from-request/"+ride.ID, nil, &trip); err != nil {
		return fail(err)
	}
	// Ratings may be disabled on the server under test.
	rating, err := r.call(ctx, http.MethodPost, "/api/trips/"+trip.ID+"/rating", map[string]any{"rating": 5}, nil)
	if err != nil {
		return fail(err)
	}
	return Result{Status: StatusPass, Latency: time.Since(start), Note: fmt.Sprintf("request=%s rating_status=%d", ride.ID, rating)}
}

func customerCancel(ctx context.Context, r *Runner) Result {
	start := time.Now()
	phone := r.nextPhone()
	ride, err := r.createRide(ctx, phone, 1)
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	body := map[string]any{"phone": phone, "reason": "changed plans"}
	if err := r.expect(ctx, http.StatusOK, http.MethodPost, "/api/rides/"+ride.ID+"/customer-cancel", body, nil); err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	status, err := r.call(ctx, http.MethodPost, "/api/rides/"+ride.ID+"/customer-cancel", body, nil)
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	if status != http.StatusConflict {
		return Result{Status: StatusFail, Note: fmt.Sprintf("second cancel status=%d want=409", status)}
	}
	return Result{Status: StatusPass, Latency: time.Since(start)}
}

func concurrentAccept(ctx context.Context, r *Runner) Result {
	n := r.cfg.Concurrency
	drivers := make([]string, n)
	for i := range drivers {
		id, err := r.registerDriver(ctx)
		if err != nil {
			return Result{Status: StatusFail, Note: err.Error()}
		}
		drivers[i] = id
	}
	ride, err := r.createRide(ctx, r.nextPhone(), 1)
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		conflict int
		other    []int
	)
	start := time.Now()
	for _, id := range drivers {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			status, err := r.call(ctx, http.MethodPost, "/api/rides/"+ride.ID+"/accept", map[string]any{"driver_id": id}, nil)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				other = append(other, 0)
			case status == http.StatusOK:
				accepted++
			case status == http.StatusConflict:
				conflict++
			default:
				other = append(other, status)
			}
		}(id)
	}
	wg.Wait()
	latency := time.Since(start)

	note := fmt.Sprintf("accepted=%d conflict=%d other=%v", accepted, conflict, other)
	if accepted != 1 || conflict != n-1 {
		return Result{Status: StatusFail, Latency: latency, Note: note}
	}
	return Result{Status: StatusPass, Latency: latency, Note: note}
}

func groupBooking(ctx context.Context, r *Runner) Result {
	start := time.Now()
	var view struct {
		ID               string     `json:"id"`
		VehiclesRequired int        `json:"tuktuks_required"`
		Rides            []rideResp `json:"rides"`
	}
	err := r.expect(ctx, http.StatusCreated, http.MethodPost, "/api/groups", map[string]any{
		"customer_phone":   r.nextPhone(),
		"pickup":           map[string]any{"latitude": r.cfg.PickupLat, "longitude": r.cfg.PickupLng},
		"destination":      map[string]any{"latitude": r.cfg.PickupLat - 0.03, "longitude": r.cfg.PickupLng - 0.02},
		"total_passengers": 7,
	}, &view)
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	if view.VehiclesRequired != 3 || len(view.Rides) != 3 {
		return Result{Status: StatusFail, Note: fmt.Sprintf("vehicles=%d rides=%d", view.VehiclesRequired, len(view.Rides))}
	}
	if err := r.expect(ctx, http.StatusOK, http.MethodGet, "/api/groups/"+view.ID, nil, nil); err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	return Result{Status: StatusPass, Latency: time.Since(start), Note: "group=" + view.ID}
}

func perfLoad(ctx context.Context, r *Runner, method, path string, payload any) Result {
	end := time.Now().Add(r.cfg.Duration)
	var count, errCount atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(end) && ctx.Err() == nil {
				status, err := r.call(ctx, method, path, payload, nil)
				if err != nil || status >= 500 {
					errCount.Add(1)
					continue
				}
				count.Add(1)
			}
		}()
	}
	wg.Wait()

	if count.Load() == 0 {
		return Result{Status: StatusFail, Note: fmt.Sprintf("no requests completed, errors=%d", errCount.Load())}
	}
	rps := float64(count.Load()) / r.cfg.Duration.Seconds()
	return Result{Status: StatusPass, Note: fmt.Sprintf("rps=%.1f errors=%d", rps, errCount.Load())}
}

func extractTables(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	re := regexp.MustCompile(`(?i)create\s+table\s+if\s+not\s+exists\s+([a-zA-Z0-9_]+)`)
	matches := re.FindAllStringSubmatch(string(b), -1)
	tables := make([]string, 0, len(matches))
	for _, m := range matches {
		tables = append(tables, m[1])
	}
	return tables, nil
}

func splitSQL(sql string) []string {
	lines := strings.Split(sql, "\n")
	filtered := make([]string, 0, len(lines))
	for _, line := range lines {
		l := strings.TrimSpace(line)
		if strings.HasPrefix(l, "--") || l == "" {
			continue
		}
		filtered = append(filtered, line)
	}
	parts := strings.Split(strings.Join(filtered, "\n"), ";")
	stmts := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts
}
