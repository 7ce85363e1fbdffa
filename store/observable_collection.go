package store

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hatlonely/reorm/logger"
)

// ObservableMetrics 封装 prometheus 指标
type ObservableMetrics struct {
	operationCounter  *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
}

// NewObservableMetrics 创建指标收集器并注册到指定 registry
func NewObservableMetrics(name string, registerer prometheus.Registerer) *ObservableMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	metrics := &ObservableMetrics{
		operationCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: name + "_operations_total",
				Help: "Total number of collection operations",
			},
			[]string{"collection", "operation", "status"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    name + "_operation_duration_seconds",
				Help:    "Duration of collection operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
			},
			[]string{"collection", "operation"},
		),
	}

	registerer.MustRegister(
		metrics.operationCounter,
		metrics.operationDuration,
	)

	return metrics
}

// ObservableCollection 装饰器，为任何 Collection 添加日志与指标
type ObservableCollection struct {
	collection Collection

	logger  logger.Logger
	metrics *ObservableMetrics
}

func NewObservableCollection(collection Collection, log logger.Logger, metrics *ObservableMetrics) *ObservableCollection {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &ObservableCollection{
		collection: collection,
		logger:     log.WithGroup("observableCollection"),
		metrics:    metrics,
	}
}

// observeOperation 统一的操作观测逻辑
func (obs *ObservableCollection) observeOperation(ctx context.Context, operation string, fn func(context.Context) error) error {
	start := time.Now()
	err := fn(ctx)
	duration := time.Since(start)

	if obs.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		obs.metrics.operationCounter.WithLabelValues(obs.collection.Name(), operation, status).Inc()
		obs.metrics.operationDuration.WithLabelValues(obs.collection.Name(), operation).Observe(duration.Seconds())
	}

	if err != nil {
		obs.logger.ErrorContext(ctx, "collection operation failed",
			"collection", obs.collection.Name(),
			"operation", operation,
			"duration_ms", duration.Milliseconds(),
			"error", err.Error(),
		)
	} else {
		obs.logger.DebugContext(ctx, "collection operation completed",
			"collection", obs.collection.Name(),
			"operation", operation,
			"duration_ms", duration.Milliseconds(),
		)
	}

	return err
}

func (obs *ObservableCollection) Name() string {
	return obs.collection.Name()
}

func (obs *ObservableCollection) Add(ctx context.Context, row Row) error {
	return obs.observeOperation(ctx, "add", func(ctx context.Context) error {
		return obs.collection.Add(ctx, row)
	})
}

func (obs *ObservableCollection) Put(ctx context.Context, row Row) error {
	return obs.observeOperation(ctx, "put", func(ctx context.Context) error {
		return obs.collection.Put(ctx, row)
	})
}

func (obs *ObservableCollection) Get(ctx context.Context, key string) (Row, error) {
	var row Row
	err := obs.observeOperation(ctx, "get", func(ctx context.Context) error {
		var getErr error
		row, getErr = obs.collection.Get(ctx, key)
		return getErr
	})
	return row, err
}

func (obs *ObservableCollection) Delete(ctx context.Context, key string) error {
	return obs.observeOperation(ctx, "delete", func(ctx context.Context) error {
		return obs.collection.Delete(ctx, key)
	})
}

func (obs *ObservableCollection) Clear(ctx context.Context) error {
	return obs.observeOperation(ctx, "clear", func(ctx context.Context) error {
		return obs.collection.Clear(ctx)
	})
}

func (obs *ObservableCollection) Count(ctx context.Context) (int64, error) {
	var count int64
	err := obs.observeOperation(ctx, "count", func(ctx context.Context) error {
		var countErr error
		count, countErr = obs.collection.Count(ctx)
		return countErr
	})
	return count, err
}

func (obs *ObservableCollection) Scan(ctx context.Context, opts ...ScanOption) ([]Row, error) {
	var rows []Row
	err := obs.observeOperation(ctx, "scan", func(ctx context.Context) error {
		var scanErr error
		rows, scanErr = obs.collection.Scan(ctx, opts...)
		return scanErr
	})
	return rows, err
}

func (obs *ObservableCollection) ScanIndex(ctx context.Context, field string, kind IndexKind, arg any, opts ...ScanOption) ([]Row, error) {
	var rows []Row
	err := obs.observeOperation(ctx, "scan_index", func(ctx context.Context) error {
		var scanErr error
		rows, scanErr = obs.collection.ScanIndex(ctx, field, kind, arg, opts...)
		return scanErr
	})
	return rows, err
}

func (obs *ObservableCollection) OrderedScan(ctx context.Context, field string, desc bool, opts ...ScanOption) ([]Row, error) {
	var rows []Row
	err := obs.observeOperation(ctx, "ordered_scan", func(ctx context.Context) error {
		var scanErr error
		rows, scanErr = obs.collection.OrderedScan(ctx, field, desc, opts...)
		return scanErr
	})
	return rows, err
}

func (obs *ObservableCollection) First(ctx context.Context) (Row, bool, error) {
	var row Row
	var found bool
	err := obs.observeOperation(ctx, "first", func(ctx context.Context) error {
		var firstErr error
		row, found, firstErr = obs.collection.First(ctx)
		return firstErr
	})
	return row, found, err
}

func (obs *ObservableCollection) Last(ctx context.Context) (Row, bool, error) {
	var row Row
	var found bool
	err := obs.observeOperation(ctx, "last", func(ctx context.Context) error {
		var lastErr error
		row, found, lastErr = obs.collection.Last(ctx)
		return lastErr
	})
	return row, found, err
}
