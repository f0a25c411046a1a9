package mqtt

import (
	"errors"
	"fmt"
	"strings"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

var (
	ErrNotConnected      = errors.New("mqtt: client not connected")
	ErrConnectionFailed  = errors.New("mqtt: connection failed")
	ErrPublishFailed     = errors.New("mqtt: publish failed")
	ErrSubscribeFailed   = errors.New("mqtt: subscribe failed")
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")
	ErrInvalidQoS        = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")
	ErrInvalidTopic      = errors.New("mqtt: invalid topic")
)

// maxPayloadSize caps command payloads at 1MB.
const maxPayloadSize = 1 << 20

// checkTopic rejects empty topics, and wildcards in topics that are published to.
func checkTopic(topic string, publish bool) error {
	if topic == "" {
		return fmt.Errorf("%w: empty", ErrInvalidTopic)
	}
	if publish && strings.ContainsAny(topic, "+#") {
		return fmt.Errorf("%w: wildcard in publish topic %q", ErrInvalidTopic, topic)
	}
	return nil
}

// await waits for a broker acknowledgement, wrapping failures in sentinel.
func await(token pahomqtt.Token, sentinel error) error {
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", sentinel, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", sentinel, err)
	}
	return nil
}

// Publish sends payload to topic and waits for the broker to acknowledge it.
//
//	err := client.Publish(mqtt.Topics{}.Command("smartgondor", "r2d2"), payload, 1, false)
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := checkTopic(topic, true); err != nil {
		return err
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	return await(c.client.Publish(topic, qos, retained, payload), ErrPublishFailed)
}

// Subscribe registers handler for topic, which may contain + and # wildcards.
// The subscription is replayed after reconnects until Unsubscribe.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if err := checkTopic(topic, false); err != nil {
		return err
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.subMu.Lock()
	c.subscriptions[topic] = subscription{qos: qos, handler: handler}
	c.subMu.Unlock()

	if err := await(c.client.Subscribe(topic, qos, c.wrapHandler(handler)), ErrSubscribeFailed); err != nil {
		c.forget(topic)
		return err
	}
	return nil
}

// Unsubscribe stops delivery for a topic pattern previously passed to Subscribe.
// Messages already in flight may still reach the handler.
func (c *Client) Unsubscribe(topic string) error {
	if err := checkTopic(topic, false); err != nil {
		return err
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.forget(topic)
	return await(c.client.Unsubscribe(topic), ErrUnsubscribeFailed)
}

func (c *Client) forget(topic string) {
	c.subMu.Lock()
	delete(c.subscriptions, topic)
	c.subMu.Unlock()
}

// SubscriptionCount returns the number of tracked subscriptions.
func (c *Client) SubscriptionCount() int {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.subscriptions)
}

// HasSubscription reports whether topic is tracked, by exact pattern.
func (c *Client) HasSubscription(topic string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	_, ok := c.subscriptions[topic]
	return ok
}
