package main

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/cwsl/ubereeg/neuro"
)

// MQTTPublisher pushes detected events and periodic engine statistics to
// an MQTT broker. Events go out as they fire (hooked into the engine
// observer chain); statistics are gathered from the Prometheus registry on
// an interval.
type MQTTPublisher struct {
	client mqtt.Client
	config *MQTTConfig
	engine *neuro.Engine
}

// EventPayload is the wire format of one published event
type EventPayload struct {
	Number    uint64  `json:"number"`
	Sequence  uint64  `json:"sequence"`
	Timestamp float64 `json:"timestamp"`
	Elapsed   float64 `json:"elapsed"`
	MaxZ      float64 `json:"max_z"`
}

// StatsPayload is the wire format of the periodic statistics message
type StatsPayload struct {
	Timestamp int64              `json:"timestamp"`
	Metrics   map[string]float64 `json:"metrics"`
}

// generateClientID creates a random client ID for the MQTT connection
func generateClientID() string {
	bytes := make([]byte, 8)
	rand.Read(bytes)
	return "ubereeg_" + hex.EncodeToString(bytes)
}

// loadTLSConfig loads TLS configuration from files
func loadTLSConfig(tlsConfig MQTTTLSConfig) (*tls.Config, error) {
	if !tlsConfig.Enabled {
		return nil, nil
	}

	config := &tls.Config{InsecureSkipVerify: tlsConfig.Insecure}

	if tlsConfig.CACert != "" {
		caCert, err := os.ReadFile(tlsConfig.CACert)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}
		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		config.RootCAs = caCertPool
	}

	if tlsConfig.ClientCert != "" && tlsConfig.ClientKey != "" {
		cert, err := tls.LoadX509KeyPair(tlsConfig.ClientCert, tlsConfig.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		config.Certificates = []tls.Certificate{cert}
	}

	return config, nil
}

// NewMQTTPublisher connects to the broker and returns a publisher
func NewMQTTPublisher(config *MQTTConfig, engine *neuro.Engine) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.Broker)
	opts.SetClientID(generateClientID())

	if config.Username != "" {
		opts.SetUsername(config.Username)
	}
	if config.Password != "" {
		opts.SetPassword(config.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(10 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	if config.TLS.Enabled {
		tlsConfig, err := loadTLSConfig(config.TLS)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS config: %w", err)
		}
		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Println("MQTT: Connected to broker")
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Printf("MQTT: Connection lost: %v", err)
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	log.Printf("MQTT: Successfully connected to broker: %s", config.Broker)

	return &MQTTPublisher{
		client: client,
		config: config,
		engine: engine,
	}, nil
}

// PublishEvent sends one detected event to <prefix>/events. Fire and
// forget: the observer path must never stall acquisition on a slow broker.
func (mp *MQTTPublisher) PublishEvent(rec neuro.EventRecord) {
	payload := EventPayload{
		Number:    rec.Number,
		Sequence:  rec.Sequence,
		Timestamp: rec.Timestamp,
		Elapsed:   rec.Elapsed,
		MaxZ:      rec.MaxZ,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("MQTT ERROR: Failed to marshal event: %v", err)
		return
	}
	topic := mp.config.TopicPrefix + "/events"
	mp.client.Publish(topic, mp.config.QoS, mp.config.Retain, data)
}

// StartPublisher starts the background statistics publisher
func (mp *MQTTPublisher) StartPublisher(ctx context.Context) {
	go mp.statsLoop(ctx)
}

func (mp *MQTTPublisher) statsLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(mp.config.PublishInterval) * time.Second)
	defer ticker.Stop()

	log.Printf("MQTT: Stats publisher started with %d second interval", mp.config.PublishInterval)

	mp.publishStats()

	for {
		select {
		case <-ctx.Done():
			log.Println("MQTT: Stats publisher stopped")
			mp.client.Disconnect(250)
			return
		case <-ticker.C:
			mp.publishStats()
		}
	}
}

// publishStats gathers the engine metrics from the Prometheus registry and
// publishes them as one JSON document to <prefix>/stats.
func (mp *MQTTPublisher) publishStats() {
	metricFamilies, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		log.Printf("MQTT ERROR: Failed to gather Prometheus metrics: %v", err)
		return
	}

	metrics := make(map[string]float64)
	for _, mf := range metricFamilies {
		name := mf.GetName()
		if !strings.HasPrefix(name, "ubereeg_") {
			continue
		}
		for _, m := range mf.GetMetric() {
			if v, ok := extractMetricValue(m); ok {
				metrics[name] = v
			}
		}
	}

	payload := StatsPayload{
		Timestamp: time.Now().Unix(),
		Metrics:   metrics,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("MQTT ERROR: Failed to marshal stats: %v", err)
		return
	}

	topic := mp.config.TopicPrefix + "/stats"
	token := mp.client.Publish(topic, mp.config.QoS, mp.config.Retain, data)
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		log.Printf("MQTT ERROR: Failed to publish stats: %v", token.Error())
	}
}

// extractMetricValue extracts the numeric value from a Prometheus metric
func extractMetricValue(m *dto.Metric) (float64, bool) {
	if m.GetGauge() != nil {
		return m.GetGauge().GetValue(), true
	}
	if m.GetCounter() != nil {
		return m.GetCounter().GetValue(), true
	}
	return 0, false
}
