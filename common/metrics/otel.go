package metrics

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/Mayor78/mtbm-attendance-sub000/models"
)

const metricExportInterval = 30 * time.Second

type OtelMetricService struct {
	meterProvider *sdkmetric.MeterProvider
	meter         metric.Meter
	logger        models.Logger

	mu         sync.Mutex
	counters   map[models.MetricName]metric.Int64Counter
	histograms map[models.MetricName]metric.Int64Histogram
	gauges     map[models.MetricName]metric.Int64ObservableGauge
}

func NewMetricService(ctx context.Context, logger models.Logger) (models.MetricService, error) {
	exporter, err := otlpmetrichttp.New(ctx)
	if err != nil {
		return nil, err
	}
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(metricExportInterval)),
		),
	)
	return &OtelMetricService{
		meterProvider: meterProvider,
		meter:         meterProvider.Meter(models.MetricsCallerName),
		logger:        logger,
		counters:      make(map[models.MetricName]metric.Int64Counter),
		histograms:    make(map[models.MetricName]metric.Int64Histogram),
		gauges:        make(map[models.MetricName]metric.Int64ObservableGauge),
	}, nil
}

func (o *OtelMetricService) Count(ctx context.Context, name models.MetricName, val int) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	counter, found := o.counters[name]
	if !found {
		var err error
		if counter, err = o.meter.Int64Counter(string(name)); err != nil {
			return err
		}
		o.counters[name] = counter
	}
	counter.Add(ctx, int64(val))
	return nil
}

func (o *OtelMetricService) Distribution(ctx context.Context, name models.MetricName, val int) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	histogram, found := o.histograms[name]
	if !found {
		var err error
		if histogram, err = o.meter.Int64Histogram(string(name)); err != nil {
			return err
		}
		o.histograms[name] = histogram
	}
	histogram.Record(ctx, int64(val))
	return nil
}

func (o *OtelMetricService) Gauge(ctx context.Context, name models.MetricName, monitor models.ResourceMonitor) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, found := o.gauges[name]; found {
		return nil
	}
	gauge, err := o.meter.Int64ObservableGauge(
		string(name),
		metric.WithInt64Callback(func(ctx context.Context, observer metric.Int64Observer) error {
			val, err := monitor.GetValue(ctx)
			if err != nil {
				o.logger.Errorf("metrics: error observing %s: %v", name, err)
				return err
			}
			observer.Observe(int64(val))
			return nil
		}),
	)
	if err != nil {
		return err
	}
	o.gauges[name] = gauge
	return nil
}

func (o *OtelMetricService) Shutdown(ctx context.Context) {
	if err := o.meterProvider.Shutdown(ctx); err != nil {
		o.logger.Errorf("metrics: error shutting down meter provider: %v", err)
	}
}
