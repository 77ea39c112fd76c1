package mqtt

import (
	"crypto/tls"
	"net"
	"strconv"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/shellylink/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultConnectTimeout is the maximum time to wait for initial connection.
	defaultConnectTimeout = 10 * time.Second

	// defaultPublishTimeout is the maximum time to wait for publish acknowledgment.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 250 // milliseconds

	// defaultKeepAlive is the keepalive interval for the connection.
	defaultKeepAlive = 30 * time.Second

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12

	// presenceOnline and presenceOffline are the payloads of the
	// "<client_id>/online" announcement.
	presenceOnline  = "true"
	presenceOffline = "false"
)

// brokerURL returns the paho broker URL for cfg. IPv6 hosts are bracketed.
func brokerURL(cfg config.MQTTConfig) string {
	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	return scheme + "://" + net.JoinHostPort(cfg.Broker.Host, strconv.Itoa(cfg.Broker.Port))
}

// buildClientOptions creates paho MQTT options from the broker config.
//
// A failed first connect is reported to the caller rather than retried in
// the background; the session decides when to try again. Once connected,
// cfg.Reconnect.Auto lets paho recover from broker-side drops on its own.
// Messages are delivered in arrival order on a single goroutine, so
// handlers must not block.
func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(brokerURL(cfg))
	opts.SetClientID(cfg.Broker.ClientID)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	opts.SetCleanSession(true)
	opts.SetOrderMatters(true)

	opts.SetConnectRetry(false)
	opts.SetAutoReconnect(cfg.Reconnect.Auto)
	if cfg.Reconnect.MaxDelay > 0 {
		opts.SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second)
	}

	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)

	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tlsMinVersion})
	}

	if cfg.AnnouncePresence && cfg.Broker.ClientID != "" {
		configureLWT(opts, cfg.Broker.ClientID, byte(cfg.QoS))
	}

	return opts
}

// configureLWT registers "<client_id>/online" = "false" as the Last Will,
// retained so late subscribers see that the controller went away.
func configureLWT(opts *pahomqtt.ClientOptions, clientID string, qos byte) {
	opts.SetWill(Topics{}.DeviceOnline(clientID), presenceOffline, qos, true)
}
