// Package mqtt adapts the MQTT broker to the detection engine: it delivers
// every observed message and broker notification as a model.Event and
// publishes alerts back onto the reserved alert topics.
package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/j0ons/SafeNest/internal/model"
)

// AlertTopicPrefix is the reserved topic prefix for outbound alerts
const AlertTopicPrefix = "safenest/alerts/"

// brokerLogPrefix is where mosquitto republishes its own log stream
const brokerLogPrefix = "$SYS/broker/log/"

// Options configures the bus client
type Options struct {
	BrokerURL      string
	ClientID       string
	Username       string
	Password       string
	CACertFile     string
	ConnectTimeout time.Duration
	Logger         *slog.Logger
}

// Client wraps the paho MQTT client with reconnect handling and the
// SafeNest topic conventions
type Client struct {
	c      paho.Client
	logger *slog.Logger
}

// NewClient creates a bus client. Reconnects are automatic with bounded
// exponential backoff; while disconnected the engine simply receives no
// events and windows age out naturally.
func NewClient(opts Options) (*Client, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	pahoOpts := paho.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(2 * time.Second).
		SetMaxReconnectInterval(30 * time.Second).
		SetKeepAlive(60 * time.Second).
		SetOrderMatters(false)

	if opts.Username != "" {
		pahoOpts.SetUsername(opts.Username)
		pahoOpts.SetPassword(opts.Password)
	}

	if opts.CACertFile != "" {
		tlsConfig, err := tlsConfigFromCA(opts.CACertFile)
		if err != nil {
			return nil, err
		}
		pahoOpts.SetTLSConfig(tlsConfig)
		logger.Info("TLS configured for broker connection", "ca_cert", opts.CACertFile)
	}

	pahoOpts.SetOnConnectHandler(func(paho.Client) {
		logger.Info("Connected to MQTT broker", "broker", opts.BrokerURL)
	})
	pahoOpts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		logger.Warn("Lost connection to MQTT broker", "error", err)
	})

	return &Client{
		c:      paho.NewClient(pahoOpts),
		logger: logger,
	}, nil
}

// Connect establishes the broker connection, waiting up to the context
// deadline for the initial attempt
func (c *Client) Connect(ctx context.Context) error {
	token := c.c.Connect()

	done := make(chan struct{})
	go func() {
		token.Wait()
		close(done)
	}()

	select {
	case <-done:
		if err := token.Error(); err != nil {
			return fmt.Errorf("failed to connect to broker: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("broker connection: %w", ctx.Err())
	}
}

// Disconnect closes the broker connection
func (c *Client) Disconnect() {
	c.c.Disconnect(250)
}

// IsConnected reports whether the broker connection is currently up
func (c *Client) IsConnected() bool {
	return c.c.IsConnected()
}

// SubscribeMonitor subscribes to the full topic hierarchy plus the broker's
// own log stream and delivers each inbound message as one Event. The "#"
// wildcard does not cover $SYS topics, so the log stream needs its own
// subscription.
func (c *Client) SubscribeMonitor(handler func(*model.Event)) error {
	onMessage := func(_ paho.Client, msg paho.Message) {
		ev := parseEvent(msg.Topic(), msg.Payload())
		if ev != nil {
			handler(ev)
		}
	}

	if token := c.c.Subscribe("#", 0, onMessage); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to monitor topic: %w", token.Error())
	}
	if token := c.c.Subscribe(brokerLogPrefix+"#", 0, onMessage); token.Wait() && token.Error() != nil {
		// Brokers without log republishing still deliver regular traffic;
		// ACL denials then only surface via the broker log file.
		c.logger.Warn("Broker log stream unavailable", "error", token.Error())
	}

	c.logger.Info("Monitoring all bus traffic")
	return nil
}

// PublishAlert publishes an alert under the reserved alert topic prefix.
// Implements rules.AlertPublisher.
func (c *Client) PublishAlert(a *model.Alert) error {
	payload, err := json.Marshal(map[string]interface{}{
		"timestamp":      a.Timestamp,
		"source":         "anomaly_detector",
		"severity":       a.Severity,
		"event_type":     a.EventType,
		"message":        a.Message,
		"topic":          a.Topic,
		"source_address": a.SourceAddress,
		"observed_count": a.ObservedCount,
		"rule_id":        a.RuleID,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	topic := AlertTopicPrefix + strings.ToLower(string(a.Severity))
	token := c.c.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("alert publish timed out on %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish alert on %s: %w", topic, err)
	}
	return nil
}

// PublishBlockNotice publishes a critical notice that an address was blocked.
// Used by the log watcher; failures are the caller's to ignore.
func (c *Client) PublishBlockNotice(entry *model.BlockEntry) error {
	payload, err := json.Marshal(map[string]interface{}{
		"timestamp":  time.Now().UTC(),
		"source":     "log_watcher",
		"severity":   model.SeverityCritical,
		"event_type": "IP_BLOCKED",
		"message":    fmt.Sprintf("Address %s has been blocked", entry.Address),
		"address":    entry.Address,
		"reason":     entry.Reason,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal block notice: %w", err)
	}

	token := c.c.Publish(AlertTopicPrefix+"critical", 1, false, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("block notice publish timed out")
	}
	return token.Error()
}

func tlsConfigFromCA(caCertFile string) (*tls.Config, error) {
	pem, err := os.ReadFile(caCertFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates parsed from %s", caCertFile)
	}

	return &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}
