package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 20, 30, 45, 60, 90, 120},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})

	LLMGenerationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "llm_generation_duration_seconds",
		Help:    "Длительность генерации ответа LLM",
		Buckets: prometheus.DefBuckets,
	}, []string{"model"})

	LLMTokensTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_tokens_total",
		Help: "Количество токенов, использованных LLM",
	}, []string{"model", "type"})

	JobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "engagement_jobs_total",
		Help: "Завершённые фоновые задачи по типу и итоговому статусу",
	}, []string{"kind", "status"})

	JobsRunning = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "engagement_jobs_running",
		Help: "Выполняющиеся фоновые задачи",
	}, []string{"kind"})

	JobSkippedRecords = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "engagement_job_skipped_records_total",
		Help: "Пропущенные повреждённые записи источников",
	}, []string{"kind"})

	ItemTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "engagement_item_transitions_total",
		Help: "Переходы элементов между статусами",
	}, []string{"operation", "from", "to"})

	ItemOperationErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "engagement_item_operation_errors_total",
		Help: "Ошибки операций над элементами",
	}, []string{"operation", "reason"})

	BatchOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "engagement_batch_outcomes_total",
		Help: "Результаты пакетных операций по элементам",
	}, []string{"action", "outcome"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		NetworkRequestDuration,
		NetworkRequestTotal,
		LLMGenerationDuration,
		LLMTokensTotal,
		JobsTotal,
		JobsRunning,
		JobSkippedRecords,
		ItemTransitions,
		ItemOperationErrors,
		BatchOutcomes,
	)
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-ctx.Done():
		case <-shutdownCtx.Done():
		}
		shutdownTimeout, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer timeoutCancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
		cancel()
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// ObserveLLMGeneration записывает длительность и токены генерации LLM.
func ObserveLLMGeneration(model string, duration time.Duration, promptTokens, completionTokens, totalTokens int) {
	if model == "" {
		model = "unknown"
	}
	LLMGenerationDuration.WithLabelValues(model).Observe(duration.Seconds())
	if promptTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "completion").Add(float64(completionTokens))
	}
	if totalTokens <= 0 {
		totalTokens = promptTokens + completionTokens
	}
	if totalTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "total").Add(float64(totalTokens))
	}
}

// ObserveJobFinished фиксирует завершение задачи.
func ObserveJobFinished(kind, status string, skipped int) {
	JobsTotal.WithLabelValues(kind, status).Inc()
	if skipped > 0 {
		JobSkippedRecords.WithLabelValues(kind).Add(float64(skipped))
	}
}

// ObserveTransition фиксирует переход элемента.
func ObserveTransition(operation, from, to string) {
	ItemTransitions.WithLabelValues(operation, from, to).Inc()
}

// ObserveOperationError фиксирует ошибку операции над элементом.
func ObserveOperationError(operation, reason string) {
	if reason == "" {
		reason = "unknown"
	}
	ItemOperationErrors.WithLabelValues(operation, reason).Inc()
}

// ObserveBatchOutcome фиксирует результат пакетной операции по одному элементу.
func ObserveBatchOutcome(action, outcome string) {
	BatchOutcomes.WithLabelValues(action, outcome).Inc()
}
