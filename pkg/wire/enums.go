package wire

import (
	"fmt"
	"strconv"
	"strings"
)

// MessageType identifies the payload carried by a message.
type MessageType uint16

// Device messages.
const (
	TypeGetService        MessageType = 2
	TypeStateService      MessageType = 3
	TypeGetHostFirmware   MessageType = 14
	TypeStateHostFirmware MessageType = 15
	TypeGetWifiInfo       MessageType = 16
	TypeStateWifiInfo     MessageType = 17
	TypeGetPower          MessageType = 20
	TypeSetPower          MessageType = 21
	TypeStatePower        MessageType = 22
	TypeGetLabel          MessageType = 23
	TypeSetLabel          MessageType = 24
	TypeStateLabel        MessageType = 25
	TypeGetVersion        MessageType = 32
	TypeStateVersion      MessageType = 33
	TypeAcknowledgement   MessageType = 45
	TypeGetLocation       MessageType = 48
	TypeStateLocation     MessageType = 50
	TypeGetGroup          MessageType = 51
	TypeStateGroup        MessageType = 53
	TypeEchoRequest       MessageType = 58
	TypeEchoResponse      MessageType = 59
)

// Light messages.
const (
	TypeLightGet        MessageType = 101
	TypeLightSetColor   MessageType = 102
	TypeLightState      MessageType = 107
	TypeLightGetPower   MessageType = 116
	TypeLightSetPower   MessageType = 117
	TypeLightStatePower MessageType = 118
)

// String returns the message type name.
func (t MessageType) String() string {
	switch t {
	case TypeGetService:
		return "GetService"
	case TypeStateService:
		return "StateService"
	case TypeGetHostFirmware:
		return "GetHostFirmware"
	case TypeStateHostFirmware:
		return "StateHostFirmware"
	case TypeGetWifiInfo:
		return "GetWifiInfo"
	case TypeStateWifiInfo:
		return "StateWifiInfo"
	case TypeGetPower:
		return "GetPower"
	case TypeSetPower:
		return "SetPower"
	case TypeStatePower:
		return "StatePower"
	case TypeGetLabel:
		return "GetLabel"
	case TypeSetLabel:
		return "SetLabel"
	case TypeStateLabel:
		return "StateLabel"
	case TypeGetVersion:
		return "GetVersion"
	case TypeStateVersion:
		return "StateVersion"
	case TypeAcknowledgement:
		return "Acknowledgement"
	case TypeGetLocation:
		return "GetLocation"
	case TypeStateLocation:
		return "StateLocation"
	case TypeGetGroup:
		return "GetGroup"
	case TypeStateGroup:
		return "StateGroup"
	case TypeEchoRequest:
		return "EchoRequest"
	case TypeEchoResponse:
		return "EchoResponse"
	case TypeLightGet:
		return "LightGet"
	case TypeLightSetColor:
		return "LightSetColor"
	case TypeLightState:
		return "LightState"
	case TypeLightGetPower:
		return "LightGetPower"
	case TypeLightSetPower:
		return "LightSetPower"
	case TypeLightStatePower:
		return "LightStatePower"
	default:
		return fmt.Sprintf("Type(%d)", uint16(t))
	}
}

// ServiceType identifies a transport service advertised in StateService.
type ServiceType uint8

const (
	// ServiceUDP is the only service devices advertise on the LAN.
	ServiceUDP ServiceType = 1
)

// String returns the service name.
func (s ServiceType) String() string {
	switch s {
	case ServiceUDP:
		return "UDP"
	default:
		return "UNKNOWN"
	}
}

// knownTypes lists every named MessageType.
var knownTypes = []MessageType{
	TypeGetService, TypeStateService, TypeGetHostFirmware, TypeStateHostFirmware,
	TypeGetWifiInfo, TypeStateWifiInfo, TypeGetPower, TypeSetPower, TypeStatePower,
	TypeGetLabel, TypeSetLabel, TypeStateLabel, TypeGetVersion, TypeStateVersion,
	TypeAcknowledgement, TypeGetLocation, TypeStateLocation, TypeGetGroup,
	TypeStateGroup, TypeEchoRequest, TypeEchoResponse,
	TypeLightGet, TypeLightSetColor, TypeLightState, TypeLightGetPower,
	TypeLightSetPower, TypeLightStatePower,
}

// ParseMessageType accepts a type name (case-insensitive) or a decimal
// number.
func ParseMessageType(s string) (MessageType, error) {
	if n, err := strconv.ParseUint(s, 10, 16); err == nil {
		return MessageType(n), nil
	}
	for _, t := range knownTypes {
		if strings.EqualFold(t.String(), s) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown message type %q", s)
}
