// Package mqtt mirrors reader pipeline status to an MQTT broker.
package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"os"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

const (
	defaultTopicPrefix  = "tapbridge/status"
	defaultPingInterval = 120 * time.Second
	connectWait         = 10 * time.Second
)

// publisher is the part of paho.Client the mirror uses.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

// Client wraps the MQTT client with status publishing.
type Client struct {
	client   paho.Client
	pub      publisher
	clientID string
	prefix   string
	ping     time.Duration
	enabled  bool
	logger   *slog.Logger

	mu   sync.Mutex
	last map[string]string // reader id -> last state
}

// Config holds MQTT connection settings.
type Config struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	CACert       string        `yaml:"ca_cert"`
	ClientCert   string        `yaml:"client_cert"`
	ClientKey    string        `yaml:"client_key"`
	TopicPrefix  string        `yaml:"topic_prefix"`
	PingInterval time.Duration `yaml:"ping_interval"`
}

// Status is the payload published for a reader state change.
type Status struct {
	State    string `json:"state"`
	ReaderID string `json:"reader_id"`
}

// New creates a new MQTT client. Returns a disabled no-op client if host is empty.
func New(cfg Config, clientID string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		clientID: clientID,
		prefix:   cfg.TopicPrefix,
		ping:     cfg.PingInterval,
		logger:   logger,
		last:     make(map[string]string),
	}
	if c.prefix == "" {
		c.prefix = defaultTopicPrefix
	}
	if c.ping <= 0 {
		c.ping = defaultPingInterval
	}

	// If no host configured, return disabled client
	if cfg.Host == "" {
		logger.Debug("MQTT disabled (no host configured)")
		return c, nil
	}

	c.enabled = true

	// Determine broker URL and TLS config
	var broker string
	var tlsConfig *tls.Config

	hasTLS := cfg.CACert != "" || cfg.ClientCert != ""

	if hasTLS {
		if cfg.Port == 0 {
			cfg.Port = 8883
		}
		broker = fmt.Sprintf("ssl://%s:%d", cfg.Host, cfg.Port)

		var err error
		tlsConfig, err = buildTLSConfig(cfg)
		if err != nil {
			return nil, fmt.Errorf("build TLS config: %w", err)
		}
	} else {
		// Non-TLS connection
		if cfg.Port == 0 {
			cfg.Port = 1883 // Default non-TLS MQTT port
		}
		broker = fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port)
		logger.Info("MQTT using non-TLS connection", "broker", broker)
	}

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetKeepAlive(60 * time.Second).
		SetConnectionLostHandler(c.handleConnectionLost).
		SetOnConnectHandler(c.handleConnect)

	if tlsConfig != nil {
		opts.SetTLSConfig(tlsConfig)
	}

	c.client = paho.NewClient(opts)
	c.pub = c.client

	// Set up logging
	paho.ERROR = log.New(os.Stdout, "[MQTT ERROR] ", 0)
	paho.CRITICAL = log.New(os.Stdout, "[MQTT CRIT] ", 0)
	paho.WARN = log.New(os.Stdout, "[MQTT WARN] ", 0)

	return c, nil
}

func buildTLSConfig(cfg Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{}

	// Load CA cert if provided
	if cfg.CACert != "" {
		caCert, err := os.ReadFile(cfg.CACert)
		if err != nil {
			return nil, fmt.Errorf("read CA cert: %w", err)
		}
		caPool := x509.NewCertPool()
		caPool.AppendCertsFromPEM(caCert)
		tlsConfig.RootCAs = caPool
	}

	// Load client cert if provided
	if cfg.ClientCert != "" && cfg.ClientKey != "" {
		cert, err := tls.LoadX509KeyPair(cfg.ClientCert, cfg.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("load client cert: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

// Connect starts connecting to the broker. paho keeps retrying in the
// background, so an unreachable broker is logged rather than returned.
func (c *Client) Connect() error {
	if !c.enabled {
		return nil
	}

	token := c.client.Connect()
	if !token.WaitTimeout(connectWait) {
		c.logger.Warn("MQTT broker not reachable yet, retrying in background")
		return nil
	}
	if token.Error() != nil {
		return fmt.Errorf("connect: %w", token.Error())
	}
	return nil
}

// Disconnect disconnects from the MQTT broker. No-op if disabled.
func (c *Client) Disconnect() {
	if !c.enabled || c.client == nil {
		return
	}
	c.client.Disconnect(250)
}

// IsEnabled returns whether MQTT is enabled.
func (c *Client) IsEnabled() bool {
	return c.enabled
}

// statusTopic returns the topic a reader's status is published on.
func (c *Client) statusTopic(readerID string) string {
	return fmt.Sprintf("%s/%s/%s", c.prefix, c.clientID, readerID)
}

// PublishStatus publishes a reader state change. No-op if disabled.
func (c *Client) PublishStatus(readerID, state string) {
	if !c.enabled {
		return
	}
	c.mu.Lock()
	c.last[readerID] = state
	c.mu.Unlock()
	c.publishStatus(readerID, state)
}

func (c *Client) publishStatus(readerID, state string) {
	payload, err := json.Marshal(Status{State: state, ReaderID: readerID})
	if err != nil {
		c.logger.Error("encode MQTT status", "error", err)
		return
	}
	c.pub.Publish(c.statusTopic(readerID), 0, false, payload)
}

// RunPing publishes a liveness ping every ping interval until ctx ends.
func (c *Client) RunPing(ctx context.Context) {
	if !c.enabled {
		return
	}
	ticker := time.NewTicker(c.ping)
	defer ticker.Stop()

	topic := fmt.Sprintf("%s/%s/ping", c.prefix, c.clientID)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.pub.Publish(topic, 0, false, `{"status":"ok"}`)
		}
	}
}

// handleConnect republishes the last known state of every reader.
func (c *Client) handleConnect(paho.Client) {
	c.logger.Info("MQTT connection established")

	c.mu.Lock()
	last := make(map[string]string, len(c.last))
	for id, state := range c.last {
		last[id] = state
	}
	c.mu.Unlock()

	for id, state := range last {
		c.publishStatus(id, state)
	}
}

func (c *Client) handleConnectionLost(_ paho.Client, err error) {
	c.logger.Warn("MQTT connection lost", "error", err)
}
