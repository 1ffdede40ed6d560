package monitoring

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "endpoint"},
	)

	// LessonGenerations 课程生成流水线的最终结果：draft / failed
	LessonGenerations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lesson_generations_total",
			Help: "Lesson generation pipeline outcomes",
		},
		[]string{"outcome"},
	)

	LessonStatusPersistFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lesson_status_persist_failures_total",
			Help: "Failed lessons whose failed status could not be persisted",
		},
	)

	GeneratorCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "generator_call_duration_seconds",
			Help:    "Duration of content generator calls",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"operation", "status"},
	)

	QuizSubmissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quiz_submissions_total",
			Help: "Quiz submissions by result",
		},
		[]string{"passed"},
	)

	QuizRegenerations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quiz_regenerations_total",
			Help: "Quiz version regenerations after a failed attempt",
		},
		[]string{"outcome"},
	)
)

var initOnce sync.Once

func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			RequestCounter,
			RequestDuration,
			LessonGenerations,
			LessonStatusPersistFailures,
			GeneratorCallDuration,
			QuizSubmissions,
			QuizRegenerations,
		)
	})
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}

		RequestCounter.WithLabelValues(c.Request.Method, endpoint, strconv.Itoa(c.Writer.Status())).Inc()
		RequestDuration.WithLabelValues(c.Request.Method, endpoint).Observe(time.Since(start).Seconds())
	}
}

func PrometheusHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
