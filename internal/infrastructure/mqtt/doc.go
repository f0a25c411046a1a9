// Package mqtt provides the MQTT client behind the agent's command bus.
//
// Commands the agent cannot deliver in-process are published to
// iotagent/command/{service}/{device}; device adapters answer on
// iotagent/result/{service}/{device}. The agent announces itself on the
// retained iotagent/status topic, and the broker publishes an offline
// status there through the Last Will if the agent vanishes.
//
//	Context Broker ↔ IoT Agent ↔ MQTT Broker ↔ Device adapters
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllResults(), 1,
//	    func(topic string, payload []byte) error {
//	        return nil
//	    })
//
// Subscriptions are tracked and restored after every reconnect.
package mqtt
