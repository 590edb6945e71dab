package collector

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the collector's instruments on a private registry, so
// several collectors can coexist in one process.
type Metrics struct {
	Registry *prometheus.Registry

	packetsReceived  *prometheus.CounterVec
	packetsDropped   *prometheus.CounterVec
	packetsInvalid   *prometheus.CounterVec
	templates        *prometheus.CounterVec
	templatesEvicted prometheus.Counter
	records          *prometheus.CounterVec
	optionsRecords   *prometheus.CounterVec
	unknownSets      *prometheus.CounterVec
	connections      *prometheus.CounterVec
	unpairedFlows    *prometheus.CounterVec
	sequenceLost     *prometheus.CounterVec
	sequenceReorder  *prometheus.CounterVec
	batchesFlushed   *prometheus.CounterVec
	sinkErrors       *prometheus.CounterVec
}

// NewMetrics builds and registers the collector's metrics.
func NewMetrics() *Metrics {
	m := &Metrics{Registry: prometheus.NewRegistry()}

	byExporter := func(name, help string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: "nfsession", Name: name, Help: help},
			[]string{"exporter"},
		)
	}
	bySink := func(name, help string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: "nfsession", Name: name, Help: help},
			[]string{"sink"},
		)
	}

	m.packetsReceived = byExporter("packets_received_total", "Datagrams received from the exporter.")
	m.packetsDropped = byExporter("packets_dropped_total", "Datagrams dropped because the worker queue was full.")
	m.packetsInvalid = byExporter("packets_invalid_total", "Datagrams dropped because they did not decode.")
	m.templates = byExporter("templates_received_total", "Template definitions received, including redefinitions.")
	m.templatesEvicted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "nfsession",
		Name:      "templates_evicted_total",
		Help:      "Templates pushed out of the bounded store.",
	})
	m.records = byExporter("records_total", "Data records decoded.")
	m.optionsRecords = byExporter("options_records_total", "Options data records decoded.")
	m.unknownSets = byExporter("unknown_template_sets_total", "Data sets skipped because their template is not known yet.")
	m.connections = byExporter("connections_total", "Connections paired from flow records.")
	m.unpairedFlows = byExporter("unpaired_flows_total", "Flows dropped unpaired when their interval closed.")
	m.sequenceLost = byExporter("sequence_lost_total", "Estimated losses derived from sequence number gaps.")
	m.sequenceReorder = byExporter("sequence_reordered_total", "Datagrams arriving with a sequence number behind the expected one.")
	m.batchesFlushed = bySink("batches_flushed_total", "Export batches delivered to the sink.")
	m.sinkErrors = bySink("sink_errors_total", "Batch deliveries that returned an error.")

	m.Registry.MustRegister(
		m.packetsReceived,
		m.packetsDropped,
		m.packetsInvalid,
		m.templates,
		m.templatesEvicted,
		m.records,
		m.optionsRecords,
		m.unknownSets,
		m.connections,
		m.unpairedFlows,
		m.sequenceLost,
		m.sequenceReorder,
		m.batchesFlushed,
		m.sinkErrors,
	)
	return m
}
