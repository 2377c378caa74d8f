// Package mqttsink publishes the agent's feeds to an MQTT broker:
//
//	MTConnect/Device/<deviceUuid>                                   device descriptor on change
//	MTConnect/Observation/<deviceUuid>/<componentPath>/<dataItem>   every admitted observation
//	MTConnect/Asset/<assetId>                                       every asset change
//
// Payloads are the JSON printer's output for the given entity. Publishing
// happens on a private worker so the kernel's publish call never blocks on
// the broker.
package mqttsink

import (
	"context"
	"sync"

	"github.com/SMSLab-dev/mtconnect-agent/internal/agent"
	"github.com/SMSLab-dev/mtconnect-agent/internal/asset"
	"github.com/SMSLab-dev/mtconnect-agent/internal/device"
	"github.com/SMSLab-dev/mtconnect-agent/internal/infrastructure/config"
	"github.com/SMSLab-dev/mtconnect-agent/internal/infrastructure/metrics"
	"github.com/SMSLab-dev/mtconnect-agent/internal/infrastructure/mqtt"
	"github.com/SMSLab-dev/mtconnect-agent/internal/observation"
	"github.com/SMSLab-dev/mtconnect-agent/internal/printer"
	"github.com/SMSLab-dev/mtconnect-agent/internal/sink"
)

// queueSize bounds the pending publish queue; the oldest entries are
// dropped when a broker outage backs it up.
const queueSize = 4096

// Sink is the MQTT publishing sink.
type Sink struct {
	cfg     config.MQTTConfig
	agent   *agent.Agent
	logger  sink.Logger
	metrics *metrics.Metrics

	client *mqtt.Client

	queue  chan message
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type message struct {
	topic    string
	payload  []byte
	retained bool
}

// New creates the MQTT sink. The broker connection is made in Start.
func New(cfg config.MQTTConfig, a *agent.Agent, m *metrics.Metrics, logger sink.Logger) *Sink {
	return &Sink{
		cfg:     cfg,
		agent:   a,
		logger:  logger,
		metrics: m,
		queue:   make(chan message, queueSize),
	}
}

// Name implements sink.Sink.
func (s *Sink) Name() string { return "mqtt" }

// Start connects to the broker and launches the publish worker. A failed
// initial connection is a sink startup failure, which the agent treats as
// fatal.
func (s *Sink) Start(ctx context.Context) error {
	client, err := mqtt.Connect(s.cfg)
	if err != nil {
		return err
	}
	s.client = client

	client.SetOnConnect(func() {
		s.logger.Info("mqtt sink connected", "broker", s.cfg.Host)
	})
	client.SetOnDisconnect(func(err error) {
		s.logger.Warn("mqtt sink disconnected", "error", err)
	})

	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.publishLoop(ctx)
	}()

	// Publish the current device models so subscribers have the probe.
	for _, d := range s.agent.Registry().Devices() {
		s.PublishDeviceChange(d)
	}

	s.logger.Info("mqtt sink started", "broker", s.cfg.Host, "port", s.cfg.Port)
	return nil
}

// Stop drains the queue and disconnects.
func (s *Sink) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	if s.client != nil {
		if err := s.client.Close(); err != nil {
			s.logger.Warn("closing mqtt client", "error", err)
		}
	}
}

// publishLoop drains the queue to the broker.
func (s *Sink) publishLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			// Flush whatever is already queued before disconnecting.
			for {
				select {
				case m := <-s.queue:
					s.send(m)
				default:
					return
				}
			}
		case m := <-s.queue:
			s.send(m)
		}
	}
}

func (s *Sink) send(m message) {
	if err := s.client.Publish(m.topic, m.payload, byte(s.cfg.QoS), m.retained); err != nil {
		s.logger.Warn("mqtt publish failed", "topic", m.topic, "error", err)
	}
}

// enqueue queues a message, dropping the oldest pending one under
// backpressure. Never blocks the caller.
func (s *Sink) enqueue(m message) {
	for {
		select {
		case s.queue <- m:
			return
		default:
			select {
			case dropped := <-s.queue:
				s.logger.Debug("mqtt queue full, dropping", "topic", dropped.topic)
			default:
			}
		}
	}
}

// jsonPrinter returns the agent's JSON printer.
func (s *Sink) jsonPrinter() *printer.JSONPrinter {
	p, _ := s.agent.Printer("json").(*printer.JSONPrinter)
	return p
}

// PublishObservation implements sink.Sink.
func (s *Sink) PublishObservation(obs *observation.Observation) {
	jp := s.jsonPrinter()
	if jp == nil || obs.DataItem == nil {
		return
	}
	payload, err := jp.PrintObservation(obs)
	if err != nil {
		s.logger.Warn("rendering observation", "error", err)
		return
	}
	s.enqueue(message{
		topic:    ObservationTopic(obs.DataItem),
		payload:  payload,
		retained: true,
	})
	if s.metrics != nil {
		s.metrics.SinkPublishes.WithLabelValues(s.Name(), "observation").Inc()
	}
}

// PublishAsset implements sink.Sink.
func (s *Sink) PublishAsset(a *asset.Asset) {
	jp := s.jsonPrinter()
	if jp == nil {
		return
	}
	payload, err := jp.PrintAssets(s.agent.Header(), []*asset.Asset{a})
	if err != nil {
		s.logger.Warn("rendering asset", "error", err)
		return
	}
	s.enqueue(message{
		topic:    AssetTopic(a.AssetID),
		payload:  payload,
		retained: true,
	})
	if s.metrics != nil {
		s.metrics.SinkPublishes.WithLabelValues(s.Name(), "asset").Inc()
	}
}

// PublishDeviceChange implements sink.Sink.
func (s *Sink) PublishDeviceChange(d *device.Device) {
	jp := s.jsonPrinter()
	if jp == nil {
		return
	}
	payload, err := jp.PrintProbe(s.agent.Header(), []*device.Device{d})
	if err != nil {
		s.logger.Warn("rendering device", "error", err)
		return
	}
	s.enqueue(message{
		topic:    DeviceTopic(d.UUID()),
		payload:  payload,
		retained: true,
	})
	if s.metrics != nil {
		s.metrics.SinkPublishes.WithLabelValues(s.Name(), "device").Inc()
	}
}
