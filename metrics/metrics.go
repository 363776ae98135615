// Package metrics provides Prometheus instrumentation for a relay.State,
// in the style of the teacher's internal/server/server_metrics.go: a
// collector wrapping a handful of counters, registered once and
// threaded through optionally so a State with no metrics wired in pays
// zero overhead.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Relay bundles the counters a relay.State updates as it runs.
// All methods are nil-safe: calling them on a nil *Relay is a no-op, so
// relay.WithMetrics is entirely optional.
type Relay struct {
	bindingsInstalled prometheus.Counter
	bindingsPending   prometheus.Counter
	locksTriggered    prometheus.Counter
	authRetries       prometheus.Counter
	bytesSentFramed   prometheus.Counter
	bytesSentPass     prometheus.Counter
	bytesReceivedData prometheus.Counter
}

// New builds a Relay with the given constant labels, e.g. {"dialect":
// "draft9", "peer": "turn.example.com"}, so multiple relay.State instances
// can be distinguished in the same registry.
func New(labels prometheus.Labels) *Relay {
	return &Relay{
		bindingsInstalled: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "turnrelay_bindings_installed_total",
			Help:        "Channel/peer bindings confirmed by the TURN server.",
			ConstLabels: labels,
		}),
		bindingsPending: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "turnrelay_bindings_pending_total",
			Help:        "SetPeer calls that registered a pending binding.",
			ConstLabels: labels,
		}),
		locksTriggered: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "turnrelay_lock_triggered_total",
			Help:        "MSN/GOOGLE active-destination lock events.",
			ConstLabels: labels,
		}),
		authRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "turnrelay_auth_retries_total",
			Help:        "CHANNELBIND requests resent after an auth challenge.",
			ConstLabels: labels,
		}),
		bytesSentFramed: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "turnrelay_bytes_sent_framed_total",
			Help:        "Payload bytes sent wrapped in ChannelData or a STUN indication/request.",
			ConstLabels: labels,
		}),
		bytesSentPass: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "turnrelay_bytes_sent_passthrough_total",
			Help:        "Payload bytes sent unframed, directly to the destination.",
			ConstLabels: labels,
		}),
		bytesReceivedData: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "turnrelay_bytes_received_data_total",
			Help:        "Payload bytes delivered to the caller via Recv.",
			ConstLabels: labels,
		}),
	}
}

// Describe implements prometheus.Collector.
func (m *Relay) Describe(d chan<- *prometheus.Desc) {
	if m == nil {
		return
	}
	d <- m.bindingsInstalled.Desc()
	d <- m.bindingsPending.Desc()
	d <- m.locksTriggered.Desc()
	d <- m.authRetries.Desc()
	d <- m.bytesSentFramed.Desc()
	d <- m.bytesSentPass.Desc()
	d <- m.bytesReceivedData.Desc()
}

// Collect implements prometheus.Collector.
func (m *Relay) Collect(c chan<- prometheus.Metric) {
	if m == nil {
		return
	}
	m.bindingsInstalled.Collect(c)
	m.bindingsPending.Collect(c)
	m.locksTriggered.Collect(c)
	m.authRetries.Collect(c)
	m.bytesSentFramed.Collect(c)
	m.bytesSentPass.Collect(c)
	m.bytesReceivedData.Collect(c)
}

// BindingInstalled records a confirmed CHANNELBIND response.
func (m *Relay) BindingInstalled() {
	if m == nil {
		return
	}
	m.bindingsInstalled.Inc()
}

// PendingSet records a SetPeer call that registered a pending binding.
func (m *Relay) PendingSet() {
	if m == nil {
		return
	}
	m.bindingsPending.Inc()
}

// LockTriggered records an MSN/GOOGLE active-destination lock.
func (m *Relay) LockTriggered() {
	if m == nil {
		return
	}
	m.locksTriggered.Inc()
}

// AuthRetried records a CHANNELBIND resend after an auth challenge.
func (m *Relay) AuthRetried() {
	if m == nil {
		return
	}
	m.authRetries.Inc()
}

// BytesSentFramed records payload bytes sent framed (ChannelData, SEND
// indication, or SEND request).
func (m *Relay) BytesSentFramed(n int) {
	if m == nil {
		return
	}
	m.bytesSentFramed.Add(float64(n))
}

// BytesSentPassthrough records payload bytes sent unframed.
func (m *Relay) BytesSentPassthrough(n int) {
	if m == nil {
		return
	}
	m.bytesSentPass.Add(float64(n))
}

// BytesReceivedData records payload bytes delivered to the caller.
func (m *Relay) BytesReceivedData(n int) {
	if m == nil {
		return
	}
	m.bytesReceivedData.Add(float64(n))
}
