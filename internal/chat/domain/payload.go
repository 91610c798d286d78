package domain

import (
	"encoding/json"
	"fmt"
)

// PayloadKind discriminates the message payload union.
type PayloadKind string

const (
	// PayloadText plain text message, no extra payload
	PayloadText PayloadKind = "text"
	// PayloadProductRef an embedded product reference card
	PayloadProductRef PayloadKind = "product_card"
)

// Payload is the closed union of structured message payloads. It is decoded
// at the persistence and wire boundaries, never carried as an untyped blob.
type Payload interface {
	PayloadKind() PayloadKind
}

// TextPayload is the default payload of a plain message.
type TextPayload struct{}

// PayloadKind implements Payload.
func (TextPayload) PayloadKind() PayloadKind { return PayloadText }

// ProductRefPayload embeds a product reference shared into the conversation.
type ProductRefPayload struct {
	ProductID string  `json:"product_id"`
	Title     string  `json:"title"`
	ImageURL  string  `json:"image_url,omitempty"`
	Price     float64 `json:"price"`
	Slug      string  `json:"slug,omitempty"`
	StoreSlug string  `json:"store_slug,omitempty"`
}

// PayloadKind implements Payload.
func (ProductRefPayload) PayloadKind() PayloadKind { return PayloadProductRef }

type payloadEnvelope struct {
	Type PayloadKind `json:"type"`
	ProductRefPayload
}

// EncodePayload serializes p with its type envelope. A nil payload encodes as
// the text payload.
func EncodePayload(p Payload) ([]byte, error) {
	if p == nil {
		p = TextPayload{}
	}
	switch v := p.(type) {
	case TextPayload:
		return json.Marshal(payloadEnvelope{Type: PayloadText})
	case ProductRefPayload:
		return json.Marshal(payloadEnvelope{Type: PayloadProductRef, ProductRefPayload: v})
	default:
		return nil, fmt.Errorf("unknown payload kind %q", p.PayloadKind())
	}
}

// DecodePayload parses raw into the union. Empty input means plain text.
func DecodePayload(raw []byte) (Payload, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return TextPayload{}, nil
	}
	var env payloadEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	switch env.Type {
	case PayloadText, "":
		return TextPayload{}, nil
	case PayloadProductRef:
		return env.ProductRefPayload, nil
	default:
		return nil, fmt.Errorf("unknown payload kind %q", env.Type)
	}
}
