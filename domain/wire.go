package domain

import (
	"chat-relay/errors"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// FrameType is the discriminant carried by every server to client frame.
type FrameType string

const (
	FramePresence FrameType = "presence"
	FrameDelivery FrameType = "delivery"
)

// Frame is a server to client message. Implementations are PresenceFrame
// and DeliveryFrame.
type Frame interface {
	Type() FrameType
}

// PresenceFrame is the full list of currently registered connections.
type PresenceFrame struct {
	Online []PresenceEntry `json:"online"`
}

func (PresenceFrame) Type() FrameType { return FramePresence }

// DeliveryFrame is a persisted message forwarded to a recipient session.
type DeliveryFrame struct {
	ID        string  `json:"id"`
	Text      *string `json:"text"`
	Sender    string  `json:"sender"`
	Recipient string  `json:"recipient"`
	File      *string `json:"file"`
}

func (DeliveryFrame) Type() FrameType { return FrameDelivery }

func NewDeliveryFrame(m Message) DeliveryFrame {
	return DeliveryFrame{
		ID:        m.ID.String(),
		Text:      m.Text,
		Sender:    m.SenderID,
		Recipient: m.RecipientID,
		File:      m.FileRef,
	}
}

type envelope struct {
	Type FrameType `json:"type"`
}

// EncodeFrame serializes a frame with its discriminant.
func EncodeFrame(f Frame) ([]byte, error) {
	switch frame := f.(type) {
	case PresenceFrame:
		if frame.Online == nil {
			frame.Online = []PresenceEntry{}
		}
		return json.Marshal(struct {
			envelope
			PresenceFrame
		}{envelope{FramePresence}, frame})
	case DeliveryFrame:
		return json.Marshal(struct {
			envelope
			DeliveryFrame
		}{envelope{FrameDelivery}, frame})
	default:
		return nil, fmt.Errorf("%w: %T", errors.ErrUnknownFrame, f)
	}
}

// DecodeFrame is the inverse of EncodeFrame. It rejects frames with a
// missing or unknown discriminant and frames missing mandatory fields.
func DecodeFrame(data []byte) (Frame, error) {
	var head envelope
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrMalformedFrame, err)
	}
	switch head.Type {
	case FramePresence:
		var frame PresenceFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			return nil, fmt.Errorf("%w: %v", errors.ErrMalformedFrame, err)
		}
		if frame.Online == nil {
			return nil, fmt.Errorf("%w: presence without online list", errors.ErrMalformedFrame)
		}
		return frame, nil
	case FrameDelivery:
		var frame DeliveryFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			return nil, fmt.Errorf("%w: %v", errors.ErrMalformedFrame, err)
		}
		if frame.ID == "" || frame.Sender == "" || frame.Recipient == "" {
			return nil, fmt.Errorf("%w: delivery without id, sender or recipient", errors.ErrMalformedFrame)
		}
		return frame, nil
	default:
		return nil, fmt.Errorf("%w: %q", errors.ErrUnknownFrame, head.Type)
	}
}

// FilePayload is an attachment as sent by clients: the original file name
// and its content as a base64 data URL.
type FilePayload struct {
	FileName string `json:"fileName"`
	Data     string `json:"data"`
}

// Bytes decodes the payload. Both "data:<mime>;base64,<b64>" and a bare
// base64 string are accepted.
func (f FilePayload) Bytes() ([]byte, error) {
	payload := f.Data
	if strings.HasPrefix(payload, "data:") {
		comma := strings.IndexByte(payload, ',')
		if comma < 0 || !strings.HasSuffix(payload[:comma], ";base64") {
			return nil, errors.ErrInvalidDataURL
		}
		payload = payload[comma+1:]
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrInvalidDataURL, err)
	}
	return data, nil
}

// Inbound is a client to server message event.
type Inbound struct {
	Recipient string       `json:"recipient"`
	Text      string       `json:"text,omitempty"`
	File      *FilePayload `json:"file,omitempty"`
}

func (i Inbound) HasFile() bool {
	return i.File != nil && i.File.Data != ""
}

// Validate requires a recipient and at least one of text or file.
func (i Inbound) Validate() error {
	if i.Recipient == "" {
		return errors.ErrMissingRecipient
	}
	if i.Text == "" && !i.HasFile() {
		return errors.ErrEmptyMessage
	}
	return nil
}

// ParseInbound decodes and validates a raw client payload.
func ParseInbound(data []byte) (Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", errors.ErrMalformedMessage, err)
	}
	if err := in.Validate(); err != nil {
		return Inbound{}, err
	}
	return in, nil
}
