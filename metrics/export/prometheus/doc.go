// Package prometheus exports goRotate engine metrics through client_golang.
//
// [Collector] reads a metrics snapshot on every scrape. Register it with your
// own registry, or mount [Handler], which uses a private one. Counters are
// named gorotate_*_total; validation and rotation latency are histograms in
// seconds.
package prometheus
