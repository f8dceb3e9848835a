// Command apicharge-gateway fronts an upstream API with the apicharge
// payment protocol: it serves the quote and purchase endpoints, guards the
// configured routes with subscription tokens (and optionally x402 direct
// payments), and exposes engine counters at /metrics in Prometheus text
// format.
//
// With no flags it runs self-contained: an embedded miniredis, an ephemeral
// service key, a stubbed settlement network, and a demo route. Point
// -redis-addr, -key-file, -horizon, and -upstream at real infrastructure to
// run it for real.
package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	apicharge "github.com/StreamCharge/ApiCharge"
	"github.com/StreamCharge/ApiCharge/metrics/export/prometheus"
	"github.com/StreamCharge/ApiCharge/middleware"
	"github.com/StreamCharge/ApiCharge/settlement"
	"github.com/StreamCharge/ApiCharge/wire"
)

type routeFileEntry struct {
	RouteID               string `json:"routeId"`
	MicroUnitPrice        int64  `json:"microUnitPrice"`
	DurationWindowSeconds int64  `json:"durationWindowSeconds"`
	QoS                   struct {
		Kind               string `json:"kind"`
		MaxCalls           int64  `json:"maxCalls"`
		RateLimitPerSecond int64  `json:"rateLimitPerSecond"`
		PriorityClass      string `json:"priorityClass"`
	} `json:"qos"`
}

func main() {
	var (
		listen     = flag.String("listen", ":8080", "address to serve on")
		redisAddr  = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		keyFile    = flag.String("key-file", "", "path to the ed25519 service key; ephemeral if empty")
		routesFile = flag.String("routes", "", "path to a JSON route catalogue; a demo route if empty")
		upstream   = flag.String("upstream", "", "upstream URL to proxy admitted requests to; stub responder if empty")
		horizonURL = flag.String("horizon", "", "Horizon base URL for settlement; stub client if empty")
		singleUse  = flag.Bool("single-use", false, "admit each access token signature exactly once")
		direct     = flag.Bool("direct", false, "also accept x402 direct payments on guarded routes")
	)
	flag.Parse()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  *redis.Client
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		client = redis.NewClient(&redis.Options{Addr: mr.Addr()})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", mr.Addr())
	} else {
		client = redis.NewClient(&redis.Options{Addr: addr})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	cfg := apicharge.DefaultConfig()
	cfg.Signer.PrivateKey = loadServiceKey(*keyFile)
	cfg.Token.SingleUse = *singleUse
	cfg.DirectPayment.Enabled = *direct
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true
	cfg.Routes = loadRoutes(*routesFile)

	sc := settlementClient(*horizonURL)

	engine, err := apicharge.New().
		WithConfig(cfg).
		WithRedis(client).
		WithSettlementClient(sc).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine build: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /apicharge/quote", func(w http.ResponseWriter, r *http.Request) {
		quote, err := engine.GetQuotes()
		if err != nil {
			writeReason(w, http.StatusServiceUnavailable, err)
			return
		}
		writeJSON(w, http.StatusOK, quote)
	})
	mux.HandleFunc("POST /apicharge/nanosubscription/PurchaseInstruction", func(w http.ResponseWriter, r *http.Request) {
		var req wire.PurchaseRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		inst, err := engine.BuildInstruction(r.Context(), &req)
		if err != nil {
			writeReason(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusOK, inst)
	})
	mux.HandleFunc("POST /apicharge/nanosubscription/Purchase", func(w http.ResponseWriter, r *http.Request) {
		var inst wire.PurchaseInstruction
		if err := json.NewDecoder(r.Body).Decode(&inst); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		sub, err := engine.Purchase(r.Context(), &inst)
		if err != nil {
			writeReason(w, purchaseStatusCode(err), err)
			return
		}
		writeJSON(w, http.StatusOK, sub)
	})
	mux.HandleFunc("GET /apicharge/nanosubscription/PurchaseStatus", func(w http.ResponseWriter, r *http.Request) {
		ref := r.URL.Query().Get("ref")
		if ref == "" {
			http.Error(w, "missing ref", http.StatusBadRequest)
			return
		}
		outcome, err := engine.PurchaseStatus(r.Context(), ref)
		if err != nil {
			writeReason(w, http.StatusNotFound, err)
			return
		}
		writeJSON(w, http.StatusOK, outcome)
	})

	backend := upstreamHandler(*upstream)
	for _, route := range cfg.Routes {
		guard := middleware.Guard(engine, route.RouteID)
		if *direct {
			guard = middleware.DirectGuard(engine, route.RouteID)
		}
		mux.Handle("/r/"+route.RouteID+"/", guard(backend))
	}

	exporter := prometheus.NewPrometheusExporter(engine)
	mux.Handle("GET /metrics", exporter.Handler())

	srv := &http.Server{
		Addr:              *listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	fmt.Printf("listening on %s (%d routes, direct=%v, singleUse=%v)\n",
		*listen, len(cfg.Routes), *direct, *singleUse)
	if err := srv.ListenAndServe(); err != nil {
		fmt.Fprintf(os.Stderr, "serve: %v\n", err)
		os.Exit(1)
	}
}

func loadServiceKey(path string) []byte {
	if path == "" {
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			fmt.Fprintf(os.Stderr, "generate service key: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("using ephemeral service key; quotes will not survive restart")
		return priv
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read key file: %v\n", err)
		os.Exit(1)
	}
	return raw
}

func loadRoutes(path string) []apicharge.RouteConfig {
	if path == "" {
		return []apicharge.RouteConfig{
			{
				RouteID:        "demo",
				MicroUnitPrice: 1000,
				DurationWindow: time.Hour,
				QoS:            wire.QoSParameters{Kind: wire.QoSKindCounter, MaxCalls: 100},
			},
		}
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read routes file: %v\n", err)
		os.Exit(1)
	}
	var entries []routeFileEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		fmt.Fprintf(os.Stderr, "parse routes file: %v\n", err)
		os.Exit(1)
	}

	routes := make([]apicharge.RouteConfig, 0, len(entries))
	for _, e := range entries {
		routes = append(routes, apicharge.RouteConfig{
			RouteID:        e.RouteID,
			MicroUnitPrice: e.MicroUnitPrice,
			DurationWindow: time.Duration(e.DurationWindowSeconds) * time.Second,
			QoS: wire.QoSParameters{
				Kind:               e.QoS.Kind,
				MaxCalls:           e.QoS.MaxCalls,
				RateLimitPerSecond: e.QoS.RateLimitPerSecond,
				PriorityClass:      e.QoS.PriorityClass,
			},
		})
	}
	return routes
}

func settlementClient(horizonURL string) settlement.Client {
	if horizonURL == "" {
		fmt.Println("using stub settlement client; purchases settle instantly")
		return settlement.NewStaticClient()
	}
	fmt.Printf("using horizon at %s\n", horizonURL)
	return settlement.NewHorizonClient(horizonURL, &http.Client{Timeout: 10 * time.Second})
}

func upstreamHandler(upstream string) http.Handler {
	if upstream == "" {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision, _ := middleware.DecisionFromContext(r.Context())
			writeJSON(w, http.StatusOK, map[string]any{
				"path":           r.URL.Path,
				"remainingUnits": decision.RemainingUnits,
			})
		})
	}
	target, err := url.Parse(upstream)
	if err != nil {
		fmt.Fprintf(os.Stderr, "parse upstream: %v\n", err)
		os.Exit(1)
	}
	return httputil.NewSingleHostReverseProxy(target)
}

func purchaseStatusCode(err error) int {
	switch apicharge.ReasonCode(err) {
	case "store_unavailable", "settlement_failed":
		return http.StatusServiceUnavailable
	case "nonce_replayed", "nonce_expired":
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeReason(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"reason": apicharge.ReasonCode(err)})
}
