package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes. Every topic the agent uses lives under TopicPrefix.
const (
	// TopicPrefix is the root of the agent's topic tree.
	TopicPrefix = "iotagent"

	// TopicPrefixCommand carries commands from the agent to device adapters.
	TopicPrefixCommand = TopicPrefix + "/command"

	// TopicPrefixResult carries command results from adapters back to the agent.
	TopicPrefixResult = TopicPrefix + "/result"
)

// Topics builds MQTT topic strings. The zero value is ready to use:
//
//	topic := mqtt.Topics{}.Command("smartgondor", "r2d2")
//	// iotagent/command/smartgondor/r2d2
type Topics struct{}

// Command returns the topic a device adapter listens on for commands.
func (Topics) Command(service, deviceID string) string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefixCommand, service, deviceID)
}

// Result returns the topic an adapter publishes a command result on.
func (Topics) Result(service, deviceID string) string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefixResult, service, deviceID)
}

// AllResults matches the result topic of every device.
func (Topics) AllResults() string {
	return TopicPrefixResult + "/+/+"
}

// Status is the retained online/offline topic of the agent.
func (Topics) Status() string {
	return TopicPrefix + "/status"
}

// ParseResult extracts service and device id from a result topic.
// It reports false for any other topic.
func (Topics) ParseResult(topic string) (service, deviceID string, ok bool) {
	rest, found := strings.CutPrefix(topic, TopicPrefixResult+"/")
	if !found {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
