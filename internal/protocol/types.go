// Package protocol defines the wire protocol spoken with the relay server.
package protocol

// Frame type constants
const (
	FrameAuth              uint8 = 0x01 // Provider authentication
	FrameAuthResponse      uint8 = 0x02 // Authentication verdict
	FrameConnect           uint8 = 0x03 // Open a channel to a target
	FrameConnectResponse   uint8 = 0x04 // Channel open verdict
	FrameData              uint8 = 0x05 // Channel payload
	FrameDisconnect        uint8 = 0x06 // Channel teardown
	FrameConnector         uint8 = 0x07 // Connector token add/remove
	FrameConnectorResponse uint8 = 0x08 // Connector operation verdict
	FrameLog               uint8 = 0x09 // Log line forwarding
	FramePartners          uint8 = 0x0A // Connected partner count
)

// Channel protocol selectors for Connect and Data frames
const (
	ProtocolTCP uint8 = 0x01
	ProtocolUDP uint8 = 0x02
)

// Connector operations
const (
	ConnectorAdd    uint8 = 0x01
	ConnectorRemove uint8 = 0x02
)

// Data compression selectors
const (
	CompressionNone uint8 = 0x00
	CompressionGzip uint8 = 0x01
)

// Log levels for Log frames
const (
	LogLevelDebug uint8 = 0x00
	LogLevelInfo  uint8 = 0x01
	LogLevelWarn  uint8 = 0x02
	LogLevelError uint8 = 0x03
)

// Protocol constants
const (
	// HeaderSize is the size of a frame header in bytes
	HeaderSize = 22

	// MaxPayloadSize is the maximum frame payload size (64 KB)
	MaxPayloadSize = 65536

	// MaxFrameSize is the maximum total frame size
	MaxFrameSize = HeaderSize + MaxPayloadSize

	// CompressionThreshold is the payload size at which Data payloads
	// are gzip-compressed before transmission
	CompressionThreshold = 1024
)

// FrameTypeName returns a human-readable name for a frame type.
func FrameTypeName(t uint8) string {
	switch t {
	case FrameAuth:
		return "AUTH"
	case FrameAuthResponse:
		return "AUTH_RESPONSE"
	case FrameConnect:
		return "CONNECT"
	case FrameConnectResponse:
		return "CONNECT_RESPONSE"
	case FrameData:
		return "DATA"
	case FrameDisconnect:
		return "DISCONNECT"
	case FrameConnector:
		return "CONNECTOR"
	case FrameConnectorResponse:
		return "CONNECTOR_RESPONSE"
	case FrameLog:
		return "LOG"
	case FramePartners:
		return "PARTNERS"
	default:
		return "UNKNOWN"
	}
}

// ProtocolName returns a human-readable name for a channel protocol selector.
func ProtocolName(p uint8) string {
	switch p {
	case ProtocolTCP:
		return "tcp"
	case ProtocolUDP:
		return "udp"
	default:
		return "unknown"
	}
}

// ConnectorOpName returns a human-readable name for a connector operation.
func ConnectorOpName(op uint8) string {
	switch op {
	case ConnectorAdd:
		return "add"
	case ConnectorRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// IsKnownFrameType returns true if the frame type is part of the protocol.
// Unknown types are logged and dropped by the dispatcher, never fatal.
func IsKnownFrameType(t uint8) bool {
	return t >= FrameAuth && t <= FramePartners
}

// IsChannelFrame returns true if the frame type targets a specific channel.
func IsChannelFrame(t uint8) bool {
	return t == FrameConnect || t == FrameConnectResponse || t == FrameData || t == FrameDisconnect
}
