// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"net/http"
	"time"

	"github.com/Thermoquad/cmristat/pkg/cmri"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// lineMetrics holds the Prometheus collectors for decoded traffic
type lineMetrics struct {
	bytesRead  prometheus.Counter
	frames     *prometheus.CounterVec
	drops      *prometheus.CounterVec
	framesSent prometheus.Counter
	sendErrors prometheus.Counter
	clients    prometheus.Gauge
}

func newLineMetrics(reg prometheus.Registerer) *lineMetrics {
	factory := promauto.With(reg)

	return &lineMetrics{
		bytesRead: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "cmristat",
			Name:      "bytes_read_total",
			Help:      "Bytes read from the line",
		}),
		frames: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cmristat",
			Name:      "frames_total",
			Help:      "Complete frames decoded, by message type",
		}, []string{"type"}),
		drops: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cmristat",
			Name:      "frames_dropped_total",
			Help:      "Frames discarded by the decoder, by reason",
		}, []string{"reason"}),
		framesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "cmristat",
			Name:      "frames_sent_total",
			Help:      "Frames written to the line",
		}),
		sendErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "cmristat",
			Name:      "send_errors_total",
			Help:      "Frames that failed to encode or write",
		}),
		clients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "cmristat",
			Name:      "tcp_clients",
			Help:      "Connected TCP clients",
		}),
	}
}

var metrics = newLineMetrics(prometheus.DefaultRegisterer)

func (m *lineMetrics) frame(msg *cmri.Message) {
	t, ok := msg.Type()
	m.frames.WithLabelValues(cmri.FormatMessageType(t, ok)).Inc()
}

func (m *lineMetrics) drop(reason cmri.DropReason) {
	m.drops.WithLabelValues(reason.String()).Inc()
}

func (m *lineMetrics) sent(err error) {
	if err != nil {
		m.sendErrors.Inc()
		return
	}
	m.framesSent.Inc()
}

// newMetricsRouter serves the gatherer's metrics and a liveness probe
func newMetricsRouter(g prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	return r
}

// startMetricsServer serves the default registry in the background
func startMetricsServer(addr string) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           newMetricsRouter(prometheus.DefaultGatherer),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Str("addr", addr).Msg("serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", addr).Msg("metrics server failed")
		}
	}()
	return srv
}

// ============================================================
// Line tracking
// ============================================================

// lineTracker feeds socket callbacks into per-stream statistics and the
// process-wide metrics. A tracker belongs to one goroutine.
type lineTracker struct {
	stats  *cmri.Statistics
	onDrop func(cmri.DropReason)
}

func newLineTracker() *lineTracker {
	return &lineTracker{stats: cmri.NewStatistics()}
}

// socketOptions returns the callbacks to install on a socket
func (t *lineTracker) socketOptions() []cmri.SocketOption {
	return []cmri.SocketOption{
		cmri.WithByteHandler(func() {
			t.stats.AddBytes(1)
			metrics.bytesRead.Inc()
		}),
		cmri.WithDropHandler(func(r cmri.DropReason) {
			t.stats.Update(cmri.Dropped, r, nil)
			metrics.drop(r)
			if t.onDrop != nil {
				t.onDrop(r)
			}
		}),
	}
}

// frame records a completed frame
func (t *lineTracker) frame(m *cmri.Message) {
	t.stats.Update(cmri.Complete, cmri.DropNone, m)
	metrics.frame(m)
}
