package mqtt

import (
	"fmt"
	"time"
)

// Maximum payload size for MQTT messages (1MB).
const maxPayloadSize = 1 << 20

func validatePublish(topic string, payload []byte, qos byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPayloadTooLarge, len(payload), maxPayloadSize)
	}
	return nil
}

// Publish sends a message and waits for the broker to acknowledge it.
//
// QoS 0 completes as soon as the packet is written; QoS 1 and 2 wait for
// PUBACK/PUBCOMP up to defaultPublishTimeout.
//
// Example:
//
//	err := client.Publish(mqtt.Topics{}.DeviceRPC("shellyplus1-aabbcc"), req, 1, false)
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := validatePublish(topic, payload, qos); err != nil {
		return err
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// PublishAsync hands a non-retained message to paho without waiting for the
// acknowledgment. Only validation and connection errors are returned;
// delivery failures are logged.
func (c *Client) PublishAsync(topic string, payload []byte, qos byte) error {
	if err := validatePublish(topic, payload, qos); err != nil {
		return err
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, false, payload)
	go func() {
		select {
		case <-token.Done():
		case <-time.After(defaultPublishTimeout):
			if logger := c.getLogger(); logger != nil {
				logger.Warn("MQTT publish not acknowledged", "topic", topic, "timeout", defaultPublishTimeout)
			}
			return
		}
		if err := token.Error(); err != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Error("MQTT publish failed", "topic", topic, "error", err)
			}
		}
	}()
	return nil
}

// PublishRetained publishes a retained message with the configured default QoS.
func (c *Client) PublishRetained(topic string, payload []byte) error {
	return c.Publish(topic, payload, byte(c.cfg.QoS), true)
}

// announcePresence publishes the retained "<client_id>/online" flag. It is
// a no-op unless AnnouncePresence is set.
func (c *Client) announcePresence(payload string) error {
	if !c.cfg.AnnouncePresence {
		return nil
	}
	err := c.PublishRetained(Topics{}.DeviceOnline(c.cfg.Broker.ClientID), []byte(payload))
	if err != nil {
		if logger := c.getLogger(); logger != nil {
			logger.Warn("MQTT presence announcement failed", "payload", payload, "error", err)
		}
	}
	return err
}
