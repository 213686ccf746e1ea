package opticalsend

import (
	gjson "github.com/goccy/go-json"
)

// ControlType tags the one-way control messages exchanged on the
// binary channel (section 6, "Control messages (binary channel)").
// Modeled on the teacher's CallType tag-plus-String()-switch pattern
// in hdr.go, trimmed to the handful of message kinds this protocol
// actually needs.
type ControlType int

const (
	ControlNone ControlType = 0

	ControlAnnounce  ControlType = 1 // sender -> receiver: a block is available
	ControlAck       ControlType = 2 // receiver -> sender: block verified
	ControlNack      ControlType = 3 // receiver -> sender: block failed, retransmit
	ControlHeartbeat ControlType = 4 // either direction: liveness + channel health
	ControlPause     ControlType = 5
	ControlResume    ControlType = 6
	ControlComplete  ControlType = 7 // sender -> receiver: all blocks announced
)

func (c ControlType) String() string {
	switch c {
	case ControlAnnounce:
		return "ControlAnnounce"
	case ControlAck:
		return "ControlAck"
	case ControlNack:
		return "ControlNack"
	case ControlHeartbeat:
		return "ControlHeartbeat"
	case ControlPause:
		return "ControlPause"
	case ControlResume:
		return "ControlResume"
	case ControlComplete:
		return "ControlComplete"
	default:
		return "ControlNone"
	}
}

// ControlMessage is the envelope for every control exchange. Only the
// fields relevant to Type are populated; the rest are zero.
type ControlMessage struct {
	Type      ControlType `json:"type"`
	FileID    string      `json:"fileId"`
	BlockID   string      `json:"blockId,omitempty"`
	Seq       int         `json:"seq,omitempty"`
	Size      int         `json:"size,omitempty"`     // announce only: ciphertext length
	Checksum  string      `json:"checksum,omitempty"` // announce only: header content_hash
	Reason    ErrorKind   `json:"reason,omitempty"`
	Channel   string      `json:"channel,omitempty"` // "visual" or "binary", for heartbeats
	Timestamp string      `json:"timestamp,omitempty"`
}

// EncodeControl serializes a control message for the wire.
func EncodeControl(m ControlMessage) ([]byte, error) {
	return gjson.Marshal(m)
}

// DecodeControl parses a control message off the wire.
func DecodeControl(b []byte) (ControlMessage, error) {
	var m ControlMessage
	err := gjson.Unmarshal(b, &m)
	return m, err
}
