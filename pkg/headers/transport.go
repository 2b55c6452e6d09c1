package headers

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/coldcutmedia/rtspreflect/pkg/base"
)

// TransportProtocol is the underlying protocol used to carry RTP/RTCP.
type TransportProtocol int

// Transport protocols.
const (
	TransportProtocolUDP TransportProtocol = iota
	TransportProtocolTCP
)

// TransportDelivery is a delivery method.
type TransportDelivery int

// Transport delivery methods.
const (
	TransportDeliveryUnicast TransportDelivery = iota
	TransportDeliveryMulticast
)

// TransportMode is a transport mode.
type TransportMode int

// Transport modes.
const (
	// TransportModePlay is the "play" transport mode (pull client).
	TransportModePlay TransportMode = iota

	// TransportModeRecord is the "record" transport mode (broadcaster).
	TransportModeRecord
)

// Transport is a Transport header, as used by SETUP requests and responses.
type Transport struct {
	// Protocol used to carry RTP/RTCP.
	Protocol TransportProtocol

	// Delivery method (optional).
	Delivery *TransportDelivery

	// Source IP (optional).
	Source *net.IP

	// Destination IP (optional).
	Destination *net.IP

	// Interleaved channel pair, for TCP transport (optional).
	InterleavedIDs *[2]int

	// TTL, for multicast (optional).
	TTL *uint

	// Server-chosen port pair (optional).
	Ports *[2]int

	// Client-requested port pair (optional).
	ClientPorts *[2]int

	// Server-reported port pair (optional).
	ServerPorts *[2]int

	// SSRC of the packets carried by this transport (optional).
	SSRC *uint32

	// Play or record (optional).
	Mode *TransportMode
}

func parsePorts(val string) (*[2]int, error) {
	ports := strings.Split(val, "-")

	switch len(ports) {
	case 2:
		port1, err := strconv.Atoi(ports[0])
		if err != nil {
			return nil, fmt.Errorf("invalid ports (%v)", val)
		}
		port2, err := strconv.Atoi(ports[1])
		if err != nil {
			return nil, fmt.Errorf("invalid ports (%v)", val)
		}
		return &[2]int{port1, port2}, nil

	case 1:
		port1, err := strconv.Atoi(ports[0])
		if err != nil {
			return nil, fmt.Errorf("invalid ports (%v)", val)
		}
		return &[2]int{port1, port1 + 1}, nil

	default:
		return nil, fmt.Errorf("invalid ports (%v)", val)
	}
}

// Read decodes a Transport header.
func (h *Transport) Read(v base.HeaderValue) error {
	if len(v) == 0 {
		return fmt.Errorf("value not provided")
	}
	if len(v) > 1 {
		return fmt.Errorf("value provided multiple times (%v)", v)
	}

	kvs, err := keyValParse(v[0], ';')
	if err != nil {
		return err
	}

	protocolFound := false

	for k, val := range kvs {
		switch k {
		case "RTP/AVP", "RTP/AVP/UDP":
			h.Protocol = TransportProtocolUDP
			protocolFound = true

		case "RTP/AVP/TCP":
			h.Protocol = TransportProtocolTCP
			protocolFound = true

		case "unicast":
			d := TransportDeliveryUnicast
			h.Delivery = &d

		case "multicast":
			d := TransportDeliveryMulticast
			h.Delivery = &d

		case "source":
			if val != "" {
				ip := net.ParseIP(val)
				if ip == nil {
					return fmt.Errorf("invalid source (%v)", val)
				}
				h.Source = &ip
			}

		case "destination":
			if val != "" {
				ip := net.ParseIP(val)
				if ip == nil {
					return fmt.Errorf("invalid destination (%v)", val)
				}
				h.Destination = &ip
			}

		case "interleaved":
			ports, err := parsePorts(val)
			if err != nil {
				return err
			}
			h.InterleavedIDs = ports

		case "ttl":
			tmp, err := strconv.ParseUint(val, 10, 64)
			if err != nil {
				return err
			}
			vu := uint(tmp)
			h.TTL = &vu

		case "port":
			ports, err := parsePorts(val)
			if err != nil {
				return err
			}
			h.Ports = ports

		case "client_port":
			ports, err := parsePorts(val)
			if err != nil {
				return err
			}
			h.ClientPorts = ports

		case "server_port":
			ports, err := parsePorts(val)
			if err != nil {
				return err
			}
			h.ServerPorts = ports

		case "ssrc":
			s := strings.TrimLeft(val, " ")
			if len(s)%2 != 0 {
				s = "0" + s
			}
			tmp, err := hex.DecodeString(s)
			if err != nil {
				return err
			}
			if len(tmp) > 4 {
				return fmt.Errorf("invalid SSRC")
			}
			var ssrc [4]byte
			copy(ssrc[4-len(tmp):], tmp)
			v := binary.BigEndian.Uint32(ssrc[:])
			h.SSRC = &v

		case "mode":
			str := strings.ToLower(strings.Trim(val, `"`))
			switch str {
			case "play":
				m := TransportModePlay
				h.Mode = &m

			// "receive" is an old alias for "record", used by ffmpeg's
			// -listen flag and by Darwin Streaming Server.
			case "record", "receive":
				m := TransportModeRecord
				h.Mode = &m

			default:
				return fmt.Errorf("invalid transport mode: %v", str)
			}

		default:
			// non-standard keys are ignored rather than rejected; they are
			// not kept, so Write does not reproduce them
		}
	}

	if !protocolFound {
		return fmt.Errorf("protocol not found (%v)", v[0])
	}

	return nil
}

// Write encodes a Transport header.
func (h Transport) Write() base.HeaderValue {
	var parts []string

	if h.Protocol == TransportProtocolUDP {
		parts = append(parts, "RTP/AVP")
	} else {
		parts = append(parts, "RTP/AVP/TCP")
	}

	if h.Delivery != nil {
		if *h.Delivery == TransportDeliveryUnicast {
			parts = append(parts, "unicast")
		} else {
			parts = append(parts, "multicast")
		}
	}

	if h.Source != nil {
		parts = append(parts, "source="+h.Source.String())
	}
	if h.Destination != nil {
		parts = append(parts, "destination="+h.Destination.String())
	}
	if h.InterleavedIDs != nil {
		parts = append(parts, fmt.Sprintf("interleaved=%d-%d", h.InterleavedIDs[0], h.InterleavedIDs[1]))
	}
	if h.Ports != nil {
		parts = append(parts, fmt.Sprintf("port=%d-%d", h.Ports[0], h.Ports[1]))
	}
	if h.TTL != nil {
		parts = append(parts, "ttl="+strconv.FormatUint(uint64(*h.TTL), 10))
	}
	if h.ClientPorts != nil {
		parts = append(parts, fmt.Sprintf("client_port=%d-%d", h.ClientPorts[0], h.ClientPorts[1]))
	}
	if h.ServerPorts != nil {
		parts = append(parts, fmt.Sprintf("server_port=%d-%d", h.ServerPorts[0], h.ServerPorts[1]))
	}
	if h.SSRC != nil {
		tmp := make([]byte, 4)
		binary.BigEndian.PutUint32(tmp, *h.SSRC)
		parts = append(parts, "ssrc="+strings.ToUpper(hex.EncodeToString(tmp)))
	}
	if h.Mode != nil {
		if *h.Mode == TransportModePlay {
			parts = append(parts, "mode=play")
		} else {
			parts = append(parts, "mode=record")
		}
	}

	return base.HeaderValue{strings.Join(parts, ";")}
}
