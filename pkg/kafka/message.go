package kafka

import (
	"encoding/json"
	"time"
)

// IncomingMessage is a parsed Kafka message
type IncomingMessage struct {
	Key       string
	Value     []byte
	Headers   map[string]string
	Partition int
	Offset    int64
	Timestamp time.Time
	Topic     string
}

// RequestTrigger is the payload of a request-created message. Upstream
// services publish one whenever a scribe request enters the pending state.
type RequestTrigger struct {
	RequestID string `json:"request_id"`
}

// ParseRequestTrigger decodes the message value as a RequestTrigger
func (m *IncomingMessage) ParseRequestTrigger() (*RequestTrigger, error) {
	var trigger RequestTrigger
	if err := json.Unmarshal(m.Value, &trigger); err != nil {
		return nil, err
	}
	return &trigger, nil
}
