package sinks

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/SAS-Controls/SAS-Trend-Tool/internal/infrastructure/mqtt"
	"github.com/SAS-Controls/SAS-Trend-Tool/internal/trend"
)

// sinkMQTT is the label the drop counter files MQTT losses under.
const sinkMQTT = "mqtt"

// defaultQueueSize bounds the publish queue. At the fastest supported
// sample rate this is several minutes of backlog.
const defaultQueueSize = 256

// Publisher is the slice of the MQTT client the sink uses.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// MQTTSinkConfig configures an MQTT sample sink.
type MQTTSinkConfig struct {
	// Topics builds the destination topics from the configured prefix.
	Topics mqtt.Topics

	// QoS applies to every published message.
	QoS byte

	// Retain marks sample messages as retained. Lifecycle state messages
	// are always retained regardless.
	Retain bool

	// QueueSize overrides the default publish queue bound when positive.
	QueueSize int
}

// MQTTSink mirrors appended samples and session lifecycle changes to MQTT
// topics. Publishing happens on a dedicated goroutine behind a bounded
// queue: PublishSample never blocks, and a slow or disconnected broker
// costs dropped messages, not sampling jitter.
type MQTTSink struct {
	pub    Publisher
	cfg    MQTTSinkConfig
	logger Logger
	drops  DropCounter

	queue    chan mqttMessage
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

var _ trend.Sink = (*MQTTSink)(nil)

type mqttMessage struct {
	topic    string
	payload  []byte
	retained bool
}

// sessionStateMessage is the retained lifecycle payload on the state topic.
type sessionStateMessage struct {
	Action    string            `json:"action"`
	Session   trend.SessionInfo `json:"session"`
	Timestamp string            `json:"timestamp"`
}

// NewMQTTSink creates a sink publishing through pub and starts its worker.
// Callers must Close the sink to stop the worker.
func NewMQTTSink(pub Publisher, cfg MQTTSinkConfig) *MQTTSink {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	s := &MQTTSink{
		pub:    pub,
		cfg:    cfg,
		logger: noopLogger{},
		drops:  noopDropCounter{},
		queue:  make(chan mqttMessage, cfg.QueueSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

// SetLogger sets the logger. Must be called before the sink is wired into
// a running session.
func (s *MQTTSink) SetLogger(logger Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetDropCounter sets the counter that tracks undelivered messages.
func (s *MQTTSink) SetDropCounter(drops DropCounter) {
	if drops != nil {
		s.drops = drops
	}
}

// PublishSample queues one sample for the session's sample topic. The
// payload is the sample's export document data entry.
func (s *MQTTSink) PublishSample(sessionID string, sample trend.Sample) {
	payload, err := json.Marshal(sample.ExportPoint())
	if err != nil {
		s.drops.DropSample(sinkMQTT)
		s.logger.Warn("MQTT sink: sample encode failed",
			"session_id", sessionID,
			"error", err,
		)
		return
	}
	s.enqueue(mqttMessage{
		topic:    s.cfg.Topics.SessionSamples(sessionID),
		payload:  payload,
		retained: s.cfg.Retain,
	})
}

// PublishSessionState queues a retained lifecycle message ("started",
// "stopped", "auto_stopped", "imported") on the session's state topic.
func (s *MQTTSink) PublishSessionState(action string, info trend.SessionInfo) {
	payload, err := json.Marshal(sessionStateMessage{
		Action:    action,
		Session:   info,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		s.drops.DropSample(sinkMQTT)
		return
	}
	s.enqueue(mqttMessage{
		topic:    s.cfg.Topics.SessionState(info.ID),
		payload:  payload,
		retained: true,
	})
}

// Close stops the worker after draining queued messages.
func (s *MQTTSink) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}

// enqueue hands a message to the worker, dropping when the queue is full
// or the sink is closed.
func (s *MQTTSink) enqueue(msg mqttMessage) {
	select {
	case <-s.stop:
		return
	case s.queue <- msg:
	default:
		s.drops.DropSample(sinkMQTT)
		s.logger.Debug("MQTT sink: queue full, message dropped", "topic", msg.topic)
	}
}

func (s *MQTTSink) run() {
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			// Drain whatever is already queued, then exit.
			for {
				select {
				case msg := <-s.queue:
					s.publish(msg)
				default:
					return
				}
			}
		case msg := <-s.queue:
			s.publish(msg)
		}
	}
}

func (s *MQTTSink) publish(msg mqttMessage) {
	if !s.pub.IsConnected() {
		s.drops.DropSample(sinkMQTT)
		s.logger.Debug("MQTT sink: broker not connected, message dropped", "topic", msg.topic)
		return
	}
	if err := s.pub.Publish(msg.topic, msg.payload, s.cfg.QoS, msg.retained); err != nil {
		s.drops.DropSample(sinkMQTT)
		s.logger.Warn("MQTT sink: publish failed",
			"topic", msg.topic,
			"error", err,
		)
	}
}
