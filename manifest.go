package opticalsend

import gjson "github.com/goccy/go-json"

// Manifest is emitted alongside the transfer and validated at assembly
// time (section 4.6.4).
type Manifest struct {
	FileID      string `json:"fileId"`
	Filename    string `json:"filename"`
	TotalSize   int64  `json:"totalSize"`
	TotalBlocks int    `json:"totalBlocks"`
	SHA256      string `json:"sha256"`
}

// EncodeManifest serializes a Manifest for the wire, matching the
// EncodeControl/EncodeVisualFrame naming used for this module's other
// wire-shaped types.
func EncodeManifest(m Manifest) ([]byte, error) {
	return gjson.Marshal(m)
}

// DecodeManifest parses a Manifest off the wire, e.g. from the final
// binary-channel message Sender.Complete emits when the binary channel
// is available (section 4.6.1 step 5).
func DecodeManifest(b []byte) (Manifest, error) {
	var m Manifest
	err := gjson.Unmarshal(b, &m)
	return m, err
}
