package commandbus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-iotagent/internal/entity"
)

// CommandMessage is published to a device adapter.
// Topic: iotagent/command/{service}/{device}
type CommandMessage struct {
	// ID correlates the command with log lines on both sides.
	ID string `json:"id"`

	Timestamp time.Time `json:"timestamp"`

	DeviceID   string `json:"device_id"`
	EntityName string `json:"entity_name"`
	Service    string `json:"service"`
	Subservice string `json:"subservice"`

	Commands []CommandItem `json:"commands"`
}

// CommandItem is a single command with its value as received from the Broker.
type CommandItem struct {
	Name  string `json:"name"`
	Type  string `json:"type,omitempty"`
	Value any    `json:"value"`
}

// ResultMessage is published by a device adapter once a command completes.
// Topic: iotagent/result/{service}/{device}
type ResultMessage struct {
	Command string `json:"command"`

	// Status is written to <command>_status. Empty means OK.
	Status string `json:"status,omitempty"`

	// Result is written to <command>_result.
	Result any `json:"result"`
}

func newCommandMessage(id string, deviceID, entityName, service, subservice string, cmds []entity.Attribute, now time.Time) CommandMessage {
	items := make([]CommandItem, 0, len(cmds))
	for _, c := range cmds {
		items = append(items, CommandItem{Name: c.Name, Type: c.Type, Value: c.Value})
	}
	return CommandMessage{
		ID:         id,
		Timestamp:  now.UTC(),
		DeviceID:   deviceID,
		EntityName: entityName,
		Service:    service,
		Subservice: subservice,
		Commands:   items,
	}
}

// ParseResult decodes and validates a result payload.
func ParseResult(payload []byte) (ResultMessage, error) {
	var msg ResultMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return ResultMessage{}, fmt.Errorf("%w: %w", ErrInvalidResult, err)
	}
	if msg.Command == "" {
		return ResultMessage{}, fmt.Errorf("%w: missing command", ErrInvalidResult)
	}
	return msg, nil
}
