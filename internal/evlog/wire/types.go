package wire

// MsgType identifies a protocol message. Inbound and outbound messages share
// the id space.
type MsgType uint8

const (
	MsgHello MsgType = iota
	MsgEvent
	MsgEventConfirm
	MsgSubscribe
	MsgSubscribeEnd
)

func (t MsgType) String() string {
	switch t {
	case MsgHello:
		return "hello"
	case MsgEvent:
		return "event"
	case MsgEventConfirm:
		return "event_confirm"
	case MsgSubscribe:
		return "subscribe"
	case MsgSubscribeEnd:
		return "subscribe_end"
	default:
		return "unknown"
	}
}

// Subscribe flags. Request flags use only FlagOneshot; responses echo it and
// may add FlagComplete and FlagCurrent.
const (
	FlagOneshot  uint8 = 0x1
	FlagComplete uint8 = 0x2
	FlagCurrent  uint8 = 0x4
)

const (
	FrameHeaderSize  = 4                 // Length prefix of an outbound frame
	MsgTypeSize      = 1                 // Message type byte
	RecordHeaderSize = 4 + 4 + 2 + 1 + 1 // size, crc32, batch_size, proto_version, flags
	SourceSize       = 8                 // Hello source identity
	ProtocolVersion  = 0                 // Only supported embedded protocol version
	MaxRecordSize    = 64 * 1024 * 1024  // 64 MB
	ConflictVersion  = 0xFFFFFFFF        // EventConfirm sentinel for a version conflict
	FromCurrent      = 0xFFFFFFFF        // Subscribe "from" meaning the current head
)

// MaxSubscribeSize bounds a Subscribe response body.
const MaxSubscribeSize uint64 = 1 << 32

// Event is one log record as observed by the client.
type Event struct {
	// Version is the first version this record advances to. It is assigned
	// by the receiver from its running stream version.
	Version   uint32 `json:"version"`
	CRC32     uint32 `json:"crc32"`
	BatchSize uint16 `json:"batch_size"`
	Flags     uint8  `json:"flags"`
	Data      []byte `json:"data"`
}

// Source is the 8-byte server identity sent in Hello.
type Source [SourceSize]byte

func (s Source) String() string {
	return string(s[:])
}

// SourceFromString builds a Source from up to 8 bytes of s, zero padded.
func SourceFromString(s string) Source {
	var src Source
	copy(src[:], s)
	return src
}

// Message is a decoded inbound message.
type Message interface {
	Type() MsgType
}

type Hello struct {
	Source Source
}

type EventMsg struct {
	Record Event
}

type EventConfirm struct {
	// Version is the confirmed version, truncated to 32 bits.
	Version uint32
}

// Conflict reports whether the server rejected the append.
func (m *EventConfirm) Conflict() bool {
	return m.Version == ConflictVersion
}

type SubscribeResp struct {
	VStart  uint32
	Size    uint64
	Flags   uint8
	Records []Event
}

type SubscribeEnd struct{}

func (*Hello) Type() MsgType         { return MsgHello }
func (*EventMsg) Type() MsgType      { return MsgEvent }
func (*EventConfirm) Type() MsgType  { return MsgEventConfirm }
func (*SubscribeResp) Type() MsgType { return MsgSubscribe }
func (*SubscribeEnd) Type() MsgType  { return MsgSubscribeEnd }

// EventRequest is the payload of an outbound Event message.
type EventRequest struct {
	TargetVersion uint32
	ConflictKeys  []string
	Data          []byte
}

// SubscribeRequest is the payload of an outbound Subscribe message.
type SubscribeRequest struct {
	Flags    uint8
	From     uint32
	MaxBytes uint32
}
