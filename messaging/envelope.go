package messaging

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	TypeOrder  = "order"
	TypeCancel = "cancel"
	TypeEvent  = "event"
)

// Envelope wraps every message on the orders and events topics.
type Envelope struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	ClientID  string          `json:"client_id,omitempty"`
	FactoryID string          `json:"factory_id"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

func NewEnvelope(msgType, clientID, factoryID string, payload any) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", msgType, err)
	}
	return &Envelope{
		ID:        uuid.New().String(),
		Type:      msgType,
		ClientID:  clientID,
		FactoryID: factoryID,
		Timestamp: time.Now().UTC(),
		Payload:   data,
	}, nil
}

func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

func DecodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("decode envelope: missing type")
	}
	return &env, nil
}

func (e *Envelope) DecodePayload(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// OrderRequest is an order submission. An empty OrderID is assigned on intake.
type OrderRequest struct {
	OrderID string       `json:"order_id,omitempty"`
	Kind    string       `json:"kind"`
	Payload OrderPayload `json:"payload"`
}

type OrderPayload struct {
	Op       string `json:"op,omitempty"`
	Material string `json:"material,omitempty"`
	Quantity int    `json:"quantity,omitempty"`
	Note     string `json:"note,omitempty"`
}

type CancelRequest struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason,omitempty"`
}
