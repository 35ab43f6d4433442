// Command providers runs lightweight HTTP mock servers that simulate the
// upstream IP intelligence APIs. It is used for E2E/load testing without
// real credentials or quota.
//
// Each upstream listens on its own port:
//
//	ip-api          :19101
//	ipinfo          :19102
//	AbuseIPDB       :19103
//	proxycheck      :19104
//	IPQualityScore  :19105
//
// Point the aggregator at the fleet with the matching base-URL overrides:
//
//	IPAPI_BASE_URL=http://localhost:19101 \
//	IPINFO_BASE_URL=http://localhost:19102 IPINFO_API_KEY=mock \
//	ABUSEIPDB_BASE_URL=http://localhost:19103 ABUSEIPDB_API_KEY=mock \
//	PROXYCHECK_BASE_URL=http://localhost:19104 \
//	IPQUALITYSCORE_BASE_URL=http://localhost:19105 IPQUALITYSCORE_API_KEY=mock \
//	./ipintel
//
// Environment overrides (PORT_<PROVIDER>):
//
//	PORT_IPAPI, PORT_IPINFO, PORT_ABUSEIPDB, PORT_PROXYCHECK, PORT_IPQUALITYSCORE
//
// Behaviour flags (via env):
//
//	MOCK_LATENCY_MS — artificial latency added to every response (default 0)
//	MOCK_ERROR_RATE — fraction [0,1] of requests that return HTTP 500 (default 0)
//
// Answers are a deterministic function of the queried address, so repeated
// lookups and cross-provider correlation both see stable data.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"
)

// Config holds runtime configuration shared across all mock servers.
type Config struct {
	LatencyMS int
	ErrorRate float64
}

func loadConfig() Config {
	var c Config

	if v := os.Getenv("MOCK_LATENCY_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.LatencyMS = n
		}
	}
	if v := os.Getenv("MOCK_ERROR_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 && f <= 1 {
			c.ErrorRate = f
		}
	}
	return c
}

func portFromEnv(key string, defaultPort int) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return strconv.Itoa(defaultPort)
}

func startServer(name, addr string, h http.Handler, log *slog.Logger) *http.Server {
	srv := &http.Server{
		Addr:         addr,
		Handler:      h,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	go func() {
		log.Info("mock provider listening", slog.String("provider", name), slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", slog.String("provider", name), slog.String("error", err.Error()))
		}
	}()
	return srv
}

func main() {
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	cfg := loadConfig()

	log.Info("starting mock providers",
		slog.Int("latency_ms", cfg.LatencyMS),
		slog.Float64("error_rate", cfg.ErrorRate),
	)

	servers := []*http.Server{
		startServer("ipapi", ":"+portFromEnv("PORT_IPAPI", 19101), newIPAPIHandler(cfg), log),
		startServer("ipinfo", ":"+portFromEnv("PORT_IPINFO", 19102), newIPInfoHandler(cfg), log),
		startServer("abuseipdb", ":"+portFromEnv("PORT_ABUSEIPDB", 19103), newAbuseIPDBHandler(cfg), log),
		startServer("proxycheck", ":"+portFromEnv("PORT_PROXYCHECK", 19104), newProxyCheckHandler(cfg), log),
		startServer("ipqualityscore", ":"+portFromEnv("PORT_IPQUALITYSCORE", 19105), newIPQualityScoreHandler(cfg), log),
	}

	// Print readiness
	fmt.Println("READY")

	// Wait for signal.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down mock providers")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for _, srv := range servers {
		wg.Add(1)
		go func(s *http.Server) {
			defer wg.Done()
			_ = s.Shutdown(ctx)
		}(srv)
	}
	wg.Wait()
	log.Info("mock providers stopped")
}
