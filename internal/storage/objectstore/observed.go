package objectstore

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Observer receives the outcome of each object store operation.
type Observer interface {
	RecordUpload(duration time.Duration, size int, err error)
	RecordGet(duration time.Duration, err error)
}

// PrometheusObserver implements Observer against prometheus/client_golang.
type PrometheusObserver struct {
	uploadDuration *prometheus.HistogramVec
	uploadBytes    prometheus.Counter
	getDuration    *prometheus.HistogramVec
}

func NewPrometheusObserver(reg prometheus.Registerer) *PrometheusObserver {
	o := &PrometheusObserver{
		uploadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "taskhub_objectstore_upload_duration_seconds",
			Help: "Object store upload latency by outcome.",
		}, []string{"outcome"}),
		uploadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskhub_objectstore_upload_bytes_total",
			Help: "Total bytes uploaded to the object store.",
		}),
		getDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "taskhub_objectstore_get_duration_seconds",
			Help: "Object store get latency by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(o.uploadDuration, o.uploadBytes, o.getDuration)
	return o
}

func (o *PrometheusObserver) RecordUpload(duration time.Duration, size int, err error) {
	o.uploadDuration.WithLabelValues(outcome(err)).Observe(duration.Seconds())
	if err == nil {
		o.uploadBytes.Add(float64(size))
	}
}

func (o *PrometheusObserver) RecordGet(duration time.Duration, err error) {
	o.getDuration.WithLabelValues(outcome(err)).Observe(duration.Seconds())
}

func outcome(err error) string {
	if err == nil {
		return "success"
	}
	return "error"
}

// ObservedStore wraps a Store, recording operation metrics via Observer.
type ObservedStore struct {
	inner    Store
	observer Observer
}

func NewObservedStore(inner Store, observer Observer) *ObservedStore {
	return &ObservedStore{inner: inner, observer: observer}
}

func (s *ObservedStore) Upload(ctx context.Context, bucket, objectPath string, data []byte, contentType string) error {
	start := time.Now()
	err := s.inner.Upload(ctx, bucket, objectPath, data, contentType)
	s.observer.RecordUpload(time.Since(start), len(data), err)
	return err
}

func (s *ObservedStore) Get(ctx context.Context, bucket, objectPath string) ([]byte, error) {
	start := time.Now()
	data, err := s.inner.Get(ctx, bucket, objectPath)
	s.observer.RecordGet(time.Since(start), err)
	return data, err
}

func (s *ObservedStore) PresignGet(ctx context.Context, bucket, objectPath string, ttl time.Duration) (string, error) {
	return s.inner.PresignGet(ctx, bucket, objectPath, ttl)
}

func (s *ObservedStore) EnsureBuckets(ctx context.Context) error {
	return s.inner.EnsureBuckets(ctx)
}
