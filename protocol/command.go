package protocol

// MessageType is the message type token of a Sparkplug topic.
type MessageType string

const (
	NBIRTH MessageType = "NBIRTH"
	NDEATH MessageType = "NDEATH"
	NDATA  MessageType = "NDATA"
	NCMD   MessageType = "NCMD"
	DBIRTH MessageType = "DBIRTH"
	DDEATH MessageType = "DDEATH"
	DDATA  MessageType = "DDATA"
	DCMD   MessageType = "DCMD"
	STATE  MessageType = "STATE"
)

var messageTypes = map[MessageType]struct{}{
	NBIRTH: {}, NDEATH: {}, NDATA: {}, NCMD: {},
	DBIRTH: {}, DDEATH: {}, DDATA: {}, DCMD: {},
	STATE: {},
}

// Known returns true for the message types this engine understands.
func (m MessageType) Known() bool {
	_, ok := messageTypes[m]
	return ok
}

// DeviceScoped returns true for message types addressed to a device, i.e.
// topics that carry a device id segment.
func (m MessageType) DeviceScoped() bool {
	switch m {
	case DBIRTH, DDEATH, DDATA, DCMD:
		return true
	default:
		return false
	}
}

func (m MessageType) IsBirth() bool   { return m == NBIRTH || m == DBIRTH }
func (m MessageType) IsDeath() bool   { return m == NDEATH || m == DDEATH }
func (m MessageType) IsData() bool    { return m == NDATA || m == DDATA }
func (m MessageType) IsCommand() bool { return m == NCMD || m == DCMD }

// Well known metric names.
const (
	MetricBdSeq          = "bdSeq"
	MetricSeq            = "seq"
	MetricNodeRebirth    = "Node Control/Rebirth"
	MetricNodeNextServer = "Node Control/Next Server"
	MetricDeviceRebirth  = "Device Control/Rebirth"
)
