package amqp

import (
	"encoding/json"
	"fmt"
	"time"
)

// ChangeMessage announces that an entity changed locally and should be
// mirrored. It carries identifiers only; consumers load the current row.
type ChangeMessage struct {
	QueueID   int64     `json:"queue_id"`
	Entity    string    `json:"entity"`
	EntityID  string    `json:"entity_id"`
	Operation string    `json:"operation"`
	Version   int64     `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

func NewChangeMessage(queueID int64, entity, entityID, operation string, version int64) *ChangeMessage {
	return &ChangeMessage{
		QueueID:   queueID,
		Entity:    entity,
		EntityID:  entityID,
		Operation: operation,
		Version:   version,
		Timestamp: time.Now(),
	}
}

func (m *ChangeMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ChangeMessageFromJSON decodes a message and rejects ones without an entity.
func ChangeMessageFromJSON(data []byte) (*ChangeMessage, error) {
	var msg ChangeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.Entity == "" || msg.EntityID == "" {
		return nil, fmt.Errorf("change message missing entity or entity_id")
	}
	return &msg, nil
}
