package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// QuoteCalculations counts quote evaluations by caller segment and deal type.
	QuoteCalculations *prometheus.CounterVec
	// LicenseCapRejections counts quotes blocked by the restricted-license gate.
	LicenseCapRejections *prometheus.CounterVec
	// QuoteExports counts spreadsheet export outcomes.
	QuoteExports *prometheus.CounterVec
	// ProvisioningRequests counts provisioning submission and delivery outcomes.
	ProvisioningRequests *prometheus.CounterVec
	// CRMRequests counts directory lookups by operation and outcome.
	CRMRequests *prometheus.CounterVec
	// CRMLatency records directory lookup latency in milliseconds.
	CRMLatency *prometheus.HistogramVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		QuoteCalculations = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quote_calculations_total",
			Help:      "Count of quote calculations by segment and deal type.",
		}, []string{"segment", "deal_type"})
		LicenseCapRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "license_cap_rejections_total",
			Help:      "Count of quotes rejected by the restricted-license cap.",
		}, []string{"segment"})
		QuoteExports = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quote_exports_total",
			Help:      "Count of quote spreadsheet exports by outcome.",
		}, []string{"segment", "result"})
		ProvisioningRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provisioning_requests_total",
			Help:      "Count of provisioning request outcomes.",
		}, []string{"result"})
		CRMRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "crm_requests_total",
			Help:      "Count of CRM directory requests by operation and outcome.",
		}, []string{"operation", "result"})
		CRMLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "crm_request_duration_ms",
			Help:      "Latency of CRM directory requests in milliseconds.",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"operation"})

		mustRegisterCollector(reg, QuoteCalculations, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				QuoteCalculations = v
			}
		})
		mustRegisterCollector(reg, LicenseCapRejections, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				LicenseCapRejections = v
			}
		})
		mustRegisterCollector(reg, QuoteExports, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				QuoteExports = v
			}
		})
		mustRegisterCollector(reg, ProvisioningRequests, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				ProvisioningRequests = v
			}
		})
		mustRegisterCollector(reg, CRMRequests, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				CRMRequests = v
			}
		})
		mustRegisterCollector(reg, CRMLatency, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.HistogramVec); ok {
				CRMLatency = v
			}
		})
	})
}

// ObserveQuote records a quote calculation. Safe before registration.
func ObserveQuote(segment, dealType string) {
	if QuoteCalculations != nil {
		QuoteCalculations.WithLabelValues(segment, dealType).Inc()
	}
}

// ObserveCapRejection records a license cap rejection.
func ObserveCapRejection(segment string) {
	if LicenseCapRejections != nil {
		LicenseCapRejections.WithLabelValues(segment).Inc()
	}
}

// ObserveExport records an export outcome.
func ObserveExport(segment, result string) {
	if QuoteExports != nil {
		QuoteExports.WithLabelValues(segment, result).Inc()
	}
}

// ObserveProvisioning records a provisioning outcome.
func ObserveProvisioning(result string) {
	if ProvisioningRequests != nil {
		ProvisioningRequests.WithLabelValues(result).Inc()
	}
}

// ObserveCRM records the outcome and latency of a CRM call.
func ObserveCRM(operation, result string, millis float64) {
	if CRMRequests != nil {
		CRMRequests.WithLabelValues(operation, result).Inc()
	}
	if CRMLatency != nil {
		CRMLatency.WithLabelValues(operation).Observe(millis)
	}
}
