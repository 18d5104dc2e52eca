package core

import (
	"context"
	"encoding/hex"
	"errors"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"solidus/core/Tokens"
)

// MetricsSnapshot is a point-in-time view of node health.
type MetricsSnapshot struct {
	Height        uint64 `json:"height"`
	LastHash      string `json:"last_hash"`
	PeerCount     int    `json:"peer_count"`
	TotalSupply   uint64 `json:"total_supply"`
	MemAlloc      uint64 `json:"mem_alloc"`
	NumGoroutines int    `json:"goroutines"`
	Timestamp     int64  `json:"timestamp"`
}

// HealthMonitor collects runtime and chain-state metrics and exposes them
// both as structured log lines and as a Prometheus scrape endpoint.
type HealthMonitor struct {
	store *BlockStore
	net   *NetworkNode
	log   *log.Logger

	registry         *prometheus.Registry
	heightGauge      prometheus.Gauge
	peerCountGauge   prometheus.Gauge
	totalSupplyGauge prometheus.Gauge
	memAllocGauge    prometheus.Gauge
	goroutinesGauge  prometheus.Gauge
}

// NewHealthMonitor constructs a monitor over store and net (net may be nil
// before the network layer starts) logging through lg.
func NewHealthMonitor(store *BlockStore, net *NetworkNode, lg *log.Logger) *HealthMonitor {
	if lg == nil {
		lg = log.StandardLogger()
	}
	reg := prometheus.NewRegistry()
	h := &HealthMonitor{
		store:    store,
		net:      net,
		log:      lg,
		registry: reg,
		heightGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "solidus_block_height",
			Help: "Current block height of the node",
		}),
		peerCountGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "solidus_peer_count",
			Help: "Number of connected peers",
		}),
		totalSupplyGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "solidus_native_total_supply",
			Help: "Total supply of the native coin",
		}),
		memAllocGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "solidus_mem_alloc_bytes",
			Help: "Current memory allocation in bytes",
		}),
		goroutinesGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "solidus_goroutines",
			Help: "Number of running goroutines",
		}),
	}
	reg.MustRegister(h.heightGauge, h.peerCountGauge, h.totalSupplyGauge, h.memAllocGauge, h.goroutinesGauge)
	return h
}

// Snapshot gathers the current metrics from the block store, network layer,
// native coin, and Go runtime.
func (h *HealthMonitor) Snapshot() MetricsSnapshot {
	m := MetricsSnapshot{Timestamp: time.Now().Unix(), NumGoroutines: runtime.NumGoroutine()}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	m.MemAlloc = mem.Alloc

	if h.store != nil {
		if sb, ok := h.store.LatestStored(); ok {
			m.Height = uint64(sb.Block.Header.HeightValue)
			hash := sb.Block.Hash()
			m.LastHash = hex.EncodeToString(hash[:])
		}
	}
	if h.net != nil {
		m.PeerCount = h.net.PeerCount()
	}
	if tok := NativeToken(); tok != nil {
		if meta, ok := tok.Meta().(Tokens.Metadata); ok {
			m.TotalSupply = meta.TotalSupply
		}
	}
	return m
}

// Record captures a snapshot and updates the Prometheus gauges.
func (h *HealthMonitor) Record() {
	m := h.Snapshot()
	h.heightGauge.Set(float64(m.Height))
	h.peerCountGauge.Set(float64(m.PeerCount))
	h.totalSupplyGauge.Set(float64(m.TotalSupply))
	h.memAllocGauge.Set(float64(m.MemAlloc))
	h.goroutinesGauge.Set(float64(m.NumGoroutines))
	h.log.WithFields(log.Fields{
		"height":       m.Height,
		"peer_count":   m.PeerCount,
		"total_supply": m.TotalSupply,
	}).Info("metrics recorded")
}

// Run periodically records metrics until ctx is canceled.
func (h *HealthMonitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			h.Record()
		case <-ctx.Done():
			return
		}
	}
}

// StartServer exposes the Prometheus registry at /metrics on addr.
func (h *HealthMonitor) StartServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(h.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.log.WithError(err).Error("metrics server stopped")
		}
	}()
	return srv
}
