package monitoring

import (
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// KubernetesLabels holds Kubernetes metadata labels
var (
	kubernetesNamespace = os.Getenv("KUBERNETES_NAMESPACE")
	kubernetesPodName   = os.Getenv("KUBERNETES_POD_NAME")
	helmReleaseName     = os.Getenv("HELM_RELEASE_NAME")
	helmChartVersion    = os.Getenv("HELM_CHART_VERSION")
)

// getKubernetesLabels returns the Kubernetes labels for metrics
func getKubernetesLabels() prometheus.Labels {
	labels := prometheus.Labels{}

	if kubernetesNamespace != "" {
		labels["kubernetes_namespace"] = kubernetesNamespace
	}
	if kubernetesPodName != "" {
		labels["kubernetes_pod_name"] = kubernetesPodName
	}
	if helmReleaseName != "" {
		labels["helm_release"] = helmReleaseName
	}
	if helmChartVersion != "" {
		labels["helm_chart_version"] = helmChartVersion
	}

	return labels
}

// Registry with Kubernetes labels
var (
	registry = prometheus.NewRegistry()
	factory  = promauto.With(prometheus.WrapRegistererWithPrefix("",
		prometheus.WrapRegistererWith(getKubernetesLabels(), registry)))
)

// Prometheus metrics for the credential cipher service
var (
	// Encrypt operation metrics
	EncryptOperationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credcipher_encrypt_operations_total",
			Help: "Total number of credential encrypt operations",
		},
		[]string{"strategy", "status"},
	)

	// Decrypt outcome metrics. Outcome is one of: success, auth_required,
	// failure.
	DecryptOutcomesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credcipher_decrypt_outcomes_total",
			Help: "Total number of credential decrypt outcomes",
		},
		[]string{"strategy", "outcome"},
	)

	// Authentication prompt metrics
	AuthPromptsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credcipher_auth_prompts_total",
			Help: "Total number of authentication prompts requested from callers",
		},
		[]string{"strategy"},
	)

	// Key extraction metrics
	KeyExtractionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credcipher_key_extractions_total",
			Help: "Total number of key-store key extractions",
		},
		[]string{"strategy", "status"},
	)

	// Operation duration metrics
	OperationDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "credcipher_operation_duration_seconds",
			Help:    "Cipher operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"strategy", "operation"},
	)

	// Server metrics
	ServerInfo = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "credcipher_server_info",
			Help: "Server build information",
		},
		[]string{"version", "commit", "build_time"},
	)

	// Strategy metrics
	StrategyInfo = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "credcipher_strategy_info",
			Help: "Information about registered cipher strategies (value is the minimum platform version)",
		},
		[]string{"strategy", "authentication_gated"},
	)
)

// SetServerInfo sets server build information
func SetServerInfo(version, commit, buildTime string) {
	ServerInfo.WithLabelValues(version, commit, buildTime).Set(1)
}

// SetStrategyInfo records a registered strategy's capabilities
func SetStrategyInfo(strategy string, minPlatformVersion int, authGated bool) {
	gated := "false"
	if authGated {
		gated = "true"
	}
	StrategyInfo.WithLabelValues(strategy, gated).Set(float64(minPlatformVersion))
}

// RecordEncryptOperation records an encrypt operation
func RecordEncryptOperation(strategy, status string, duration time.Duration) {
	EncryptOperationsTotal.WithLabelValues(strategy, status).Inc()
	OperationDuration.WithLabelValues(strategy, "encrypt").Observe(duration.Seconds())
}

// RecordDecryptOutcome records a decrypt outcome
func RecordDecryptOutcome(strategy, outcome string, duration time.Duration) {
	DecryptOutcomesTotal.WithLabelValues(strategy, outcome).Inc()
	OperationDuration.WithLabelValues(strategy, "decrypt").Observe(duration.Seconds())
}

// RecordAuthPrompt records an authentication prompt handed to the caller
func RecordAuthPrompt(strategy string) {
	AuthPromptsTotal.WithLabelValues(strategy).Inc()
}

// RecordKeyExtraction records a key-store extraction attempt
func RecordKeyExtraction(strategy, status string) {
	KeyExtractionsTotal.WithLabelValues(strategy, status).Inc()
}
