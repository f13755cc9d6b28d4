package metrics

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Namespace builds "{prefix}.{queue}.{host}.{workerID}". Dots in host are
// replaced so hierarchical backends keep a host as one path segment.
// An empty host is looked up with os.Hostname and an empty workerID
// becomes the process id.
func Namespace(prefix, queue, host, workerID string) string {
	if host == "" {
		host, _ = os.Hostname()
	}
	if workerID == "" {
		workerID = strconv.Itoa(os.Getpid())
	}
	host = strings.ReplaceAll(host, ".", "_")
	return strings.Join([]string{prefix, queue, host, workerID}, ".")
}

// Reporter emits job timings and outcome counters for one consumer.
// A nil Reporter, or one without a sink, does nothing.
type Reporter struct {
	sink      Sink
	namespace string
}

// NewReporter creates a reporter writing to sink under namespace.
func NewReporter(sink Sink, namespace string) *Reporter {
	return &Reporter{sink: sink, namespace: namespace}
}

// Namespace returns the namespace metrics are reported under.
func (r *Reporter) Namespace() string {
	if r == nil {
		return ""
	}
	return r.namespace
}

func (r *Reporter) enabled() bool {
	return r != nil && r.sink != nil
}

// Time runs fn and records its wall-clock duration. fn always runs.
func (r *Reporter) Time(fn func() error) error {
	if !r.enabled() {
		return fn()
	}
	start := time.Now()
	err := fn()
	r.sink.Timing(r.namespace, TimerJobTime, time.Since(start))
	return err
}

// MarkSuccess counts one successful unit of work.
func (r *Reporter) MarkSuccess() {
	if r.enabled() {
		r.sink.Incr(r.namespace, EventSuccess)
	}
}

// MarkFailure counts one failed unit of work.
func (r *Reporter) MarkFailure() {
	if r.enabled() {
		r.sink.Incr(r.namespace, EventFailure)
	}
}
