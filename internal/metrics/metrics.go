// ABOUTME: Prometheus collectors for conversations, appends and live delivery
// ABOUTME: All Collector methods are safe to call on a nil receiver

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hostchat"

// Collector owns a private registry with the gateway's metrics.
type Collector struct {
	registry *prometheus.Registry

	conversationsCreated prometheus.Counter
	messagesAppended     prometheus.Counter
	appendFailures       prometheus.Counter
	pushDelivered        prometheus.Counter
	pushDropped          prometheus.Counter
	connections          prometheus.Gauge
	subscriptions        prometheus.Gauge
}

// New creates a Collector with Go runtime and process collectors registered.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		conversationsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversations_created_total",
			Help:      "Conversations created by the resolver.",
		}),
		messagesAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_appended_total",
			Help:      "Messages durably appended to a message log.",
		}),
		appendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "message_append_failures_total",
			Help:      "Appends rejected by the store.",
		}),
		pushDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "push",
			Name:      "delivered_total",
			Help:      "Messages enqueued for a live subscriber.",
		}),
		pushDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "push",
			Name:      "dropped_total",
			Help:      "Channel delivery failures: messages dropped for a slow or closing subscriber.",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "push",
			Name:      "connections",
			Help:      "Open WebSocket connections.",
		}),
		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "push",
			Name:      "subscriptions",
			Help:      "Active topic subscriptions across all connections.",
		}),
	}

	c.registry.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		c.conversationsCreated,
		c.messagesAppended,
		c.appendFailures,
		c.pushDelivered,
		c.pushDropped,
		c.connections,
		c.subscriptions,
	)
	return c
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

func (c *Collector) ConversationCreated() {
	if c == nil {
		return
	}
	c.conversationsCreated.Inc()
}

func (c *Collector) MessageAppended() {
	if c == nil {
		return
	}
	c.messagesAppended.Inc()
}

func (c *Collector) AppendFailed() {
	if c == nil {
		return
	}
	c.appendFailures.Inc()
}

// Published records the outcome of one fan-out.
func (c *Collector) Published(delivered, dropped int) {
	if c == nil {
		return
	}
	c.pushDelivered.Add(float64(delivered))
	c.pushDropped.Add(float64(dropped))
}

// Dropped records delivery failures detected after fan-out, such as a full
// connection send queue.
func (c *Collector) Dropped(n int) {
	if c == nil {
		return
	}
	c.pushDropped.Add(float64(n))
}

func (c *Collector) ConnectionOpened() {
	if c == nil {
		return
	}
	c.connections.Inc()
}

func (c *Collector) ConnectionClosed() {
	if c == nil {
		return
	}
	c.connections.Dec()
}

// SubscriptionsChanged adjusts the subscription gauge by delta.
func (c *Collector) SubscriptionsChanged(delta int) {
	if c == nil {
		return
	}
	c.subscriptions.Add(float64(delta))
}
