// Package s7 implements a client for the Siemens S7 Communication protocol
// over ISO-on-TCP (RFC 1006), against S7-300/400/1200/1500 controllers.
package s7

import "fmt"

// Area identifies an S7 memory area.
type Area byte

// Memory areas, wire-compatible with the S7-ANY area byte.
const (
	AreaSysInfo Area = 0x03 // system info, 200 family
	AreaSysFlg  Area = 0x05 // system flags, 200 family
	AreaAnaIn   Area = 0x06 // analog inputs, 200 family
	AreaAnaOut  Area = 0x07 // analog outputs, 200 family
	AreaC200    Area = 0x1E // counters, 200 family
	AreaT200    Area = 0x1F // timers, 200 family
	AreaC       Area = 0x1C // counters
	AreaT       Area = 0x1D // timers
	AreaI       Area = 0x81 // inputs
	AreaQ       Area = 0x82 // outputs
	AreaM       Area = 0x83 // flags (merkers)
	AreaDB      Area = 0x84 // data blocks
	AreaDI      Area = 0x85 // instance data blocks
	AreaLocal   Area = 0x86 // local data (L stack)
	AreaV       Area = 0x87 // previous local data (V stack)
)

func (a Area) String() string {
	switch a {
	case AreaSysInfo:
		return "SysInfo"
	case AreaSysFlg:
		return "SysFlags"
	case AreaAnaIn:
		return "AnalogIn"
	case AreaAnaOut:
		return "AnalogOut"
	case AreaC200:
		return "Counters200"
	case AreaT200:
		return "Timers200"
	case AreaC:
		return "Counters"
	case AreaT:
		return "Timers"
	case AreaI:
		return "Inputs"
	case AreaQ:
		return "Outputs"
	case AreaM:
		return "Flags"
	case AreaDB:
		return "DB"
	case AreaDI:
		return "InstanceDB"
	case AreaLocal:
		return "Local"
	case AreaV:
		return "V"
	default:
		return fmt.Sprintf("Area(0x%02X)", byte(a))
	}
}

// Optimizable reports whether items in this area may be coalesced by the
// planner, per SPEC_FULL.md §4.6 ("same area; area ∈ {DB, Inputs, Outputs,
// Flags}").
func (a Area) Optimizable() bool {
	switch a {
	case AreaDB, AreaI, AreaQ, AreaM:
		return true
	default:
		return false
	}
}

// Transport identifies the wire transport size used in an S7-ANY address or a
// read/write response item.
type Transport byte

// Transport sizes, wire-compatible with the S7-ANY transport byte.
const (
	TransportNull  Transport = 0x00
	TransportBit   Transport = 0x01
	TransportByte  Transport = 0x02
	TransportChar  Transport = 0x03
	TransportWord  Transport = 0x04
	TransportInt   Transport = 0x05
	TransportDWord Transport = 0x06
	TransportDInt  Transport = 0x07
	TransportReal  Transport = 0x08
	TransportOctet Transport = 0x09 // octet string; the only byte-granular length field
)

func (t Transport) String() string {
	switch t {
	case TransportNull:
		return "NULL"
	case TransportBit:
		return "BIT"
	case TransportByte:
		return "BYTE"
	case TransportChar:
		return "CHAR"
	case TransportWord:
		return "WORD"
	case TransportInt:
		return "INT"
	case TransportDWord:
		return "DWORD"
	case TransportDInt:
		return "DINT"
	case TransportReal:
		return "REAL"
	case TransportOctet:
		return "OCTET"
	default:
		return fmt.Sprintf("Transport(0x%02X)", byte(t))
	}
}

// ElementSize returns the byte size of one element of this transport, as used
// for S7-ANY length-in-elements arithmetic.
func (t Transport) ElementSize() int {
	switch t {
	case TransportBit, TransportByte, TransportChar, TransportOctet:
		return 1
	case TransportWord, TransportInt:
		return 2
	case TransportDWord, TransportDInt, TransportReal:
		return 4
	default:
		return 1
	}
}

// lengthIsBytes reports whether a read-response item's length field for this
// transport is already byte-granular. Only the octet-string transport is;
// everything else (including REAL) is bit-granular on the wire. See
// DESIGN.md "Resolved ambiguity: read-response length units".
func (t Transport) lengthIsBytes() bool {
	return t == TransportOctet
}

// Data type codes for typed PLC values (TIA/S7 numbering). USInt/UInt/UDInt
// share their wire representation with Byte/Word/DWord respectively.
const (
	TypeBool      uint16 = 0x0001
	TypeByte      uint16 = 0x0002
	TypeChar      uint16 = 0x0003
	TypeWord      uint16 = 0x0004
	TypeInt       uint16 = 0x0005
	TypeDWord     uint16 = 0x0006
	TypeDInt      uint16 = 0x0007
	TypeReal      uint16 = 0x0008
	TypeDate      uint16 = 0x0009
	TypeTimeOfDay uint16 = 0x000A
	TypeTime      uint16 = 0x000B
	TypeSInt      uint16 = 0x000C
	TypeLWord     uint16 = 0x000E
	TypeLInt      uint16 = 0x000F
	TypeULInt     uint16 = 0x0010
	TypeString    uint16 = 0x0013
	TypeWString   uint16 = 0x0014
	TypeWChar     uint16 = 0x0015
	TypeLReal     uint16 = 0x001E
	TypeDTL       uint16 = 0x001F // DATE_AND_TIME_LONG
	TypeCounter   uint16 = 0x001C // BCD-encoded 16-bit counter value
	TypeTimerS7   uint16 = 0x001D // BCD-encoded 16-bit timer value
)

var scalarSizes = map[uint16]int{
	TypeBool:      1,
	TypeByte:      1,
	TypeChar:      1,
	TypeSInt:      1,
	TypeWord:      2,
	TypeInt:       2,
	TypeDWord:     4,
	TypeDInt:      4,
	TypeReal:      4,
	TypeDate:      2,
	TypeTimeOfDay: 4,
	TypeTime:      4,
	TypeLWord:     8,
	TypeLInt:      8,
	TypeULInt:     8,
	TypeLReal:     8,
	TypeDTL:       12,
	TypeWChar:     2,
	TypeCounter:   2,
	TypeTimerS7:   2,
}

var typeNames = map[uint16]string{
	TypeBool:      "BOOL",
	TypeByte:      "BYTE",
	TypeChar:      "CHAR",
	TypeWord:      "WORD",
	TypeDWord:     "DWORD",
	TypeInt:       "INT",
	TypeDInt:      "DINT",
	TypeReal:      "REAL",
	TypeLReal:     "LREAL",
	TypeSInt:      "SINT",
	TypeLInt:      "LINT",
	TypeULInt:     "ULINT",
	TypeString:    "STRING",
	TypeWString:   "WSTRING",
	TypeWChar:     "WCHAR",
	TypeDate:      "DATE",
	TypeTimeOfDay: "TOD",
	TypeTime:      "TIME",
	TypeLWord:     "LWORD",
	TypeDTL:       "DTL",
	TypeCounter:   "COUNTER",
	TypeTimerS7:   "TIMER",
}

var typeNameAliases = map[string]uint16{
	"USINT": TypeByte,
	"UINT":  TypeWord,
	"UDINT": TypeDWord,
}

// TypeSize returns the byte size of one scalar element of dataType, or 0 for
// STRING/WSTRING whose size depends on the declared length.
func TypeSize(dataType uint16) int {
	if sz, ok := scalarSizes[dataType]; ok {
		return sz
	}
	return 0
}

// TypeName returns the symbolic name of a data type code, or a hex fallback.
func TypeName(dataType uint16) string {
	if name, ok := typeNames[dataType]; ok {
		return name
	}
	return fmt.Sprintf("Type(0x%04X)", dataType)
}

// TypeCodeFromName resolves a symbolic type name to its data type code.
func TypeCodeFromName(name string) (uint16, bool) {
	for code, n := range typeNames {
		if n == name {
			return code, true
		}
	}
	if code, ok := typeNameAliases[name]; ok {
		return code, true
	}
	return 0, false
}

// SupportedTypeNames lists every symbolic type name known to the codec.
func SupportedTypeNames() []string {
	names := make([]string, 0, len(typeNames))
	for _, n := range typeNames {
		names = append(names, n)
	}
	return names
}

// BaseType strips any array-ness and returns the element type code. Every
// type here is already scalar in its wire representation; arrays are
// expressed through Item.Count, so BaseType is identity. It exists as the
// named hook value.go's decoders call through.
func BaseType(dataType uint16) uint16 {
	return dataType
}

// IsArray reports whether count elements of dataType should be decoded as a
// Go slice rather than a single scalar value. Strings carry their own
// internal length and are never treated as an element array.
func IsArray(dataType uint16, count int) bool {
	if dataType == TypeString || dataType == TypeWString {
		return false
	}
	return count > 1
}

// S7 protocol header constants.
const (
	protocolID uint8 = 0x32

	rosctrJob      uint8 = 0x01
	rosctrAck      uint8 = 0x02
	rosctrAckData  uint8 = 0x03
	rosctrUserData uint8 = 0x07
)

// Function codes.
const (
	funcSetupComm   uint8 = 0xF0
	funcReadVar     uint8 = 0x04
	funcWriteVar    uint8 = 0x05
	funcStartUpload uint8 = 0x1D
	funcUpload      uint8 = 0x1E
	funcEndUpload   uint8 = 0x1F
	funcUserData    uint8 = 0x00
)

// S7-ANY addressing-mode constants.
const (
	anySpecType uint8 = 0x12
	anyLen      uint8 = 0x0A
	anySyntaxID uint8 = 0x10
)

// Return / data-item codes (AckData item-level result).
const (
	ReturnOK               byte = 0xFF
	ReturnReserved         byte = 0x00
	ReturnHardwareFault    byte = 0x01
	ReturnAccessDenied     byte = 0x03
	ReturnInvalidAddress   byte = 0x05
	ReturnDataTypeError    byte = 0x06
	ReturnTypeInconsistent byte = 0x07
	ReturnObjectNotExist   byte = 0x0A
)

func returnCodeMessage(code byte) string {
	switch code {
	case ReturnOK:
		return "ok"
	case ReturnHardwareFault:
		return "hardware fault"
	case ReturnAccessDenied:
		return "access denied"
	case ReturnInvalidAddress:
		return "invalid address"
	case ReturnDataTypeError:
		return "data type not supported"
	case ReturnTypeInconsistent:
		return "data type/size mismatch"
	case ReturnObjectNotExist:
		return "object does not exist"
	default:
		return fmt.Sprintf("return code 0x%02X", code)
	}
}

// Defaults named in the external-interfaces configuration table.
const (
	DefaultPort            = 102
	DefaultRack            = 0
	DefaultSlot            = 2
	DefaultMaxJobs         = 8
	DefaultProposedPDUSize = 480
	MaxPDUSize             = 960
	DefaultTimeoutMillis   = 2000
	DefaultReconnectMillis = 5000
	DefaultOptimizationGap = 5
)

// SSL (System Status List) identifiers used by diagnostics helpers.
const (
	sslAvailable  uint16 = 0x0000
	sslModuleIdnt uint16 = 0x0011
	sslComponent  uint16 = 0x001C
)

// BlockType identifies a program block category in block listing, block
// count, and block info requests (§4.3 "blockCount"/"listBlocks"/
// "getBlockInfo"). Wire-compatible with the one-byte block-type codes used
// by the block-service User Data subfunctions.
type BlockType byte

const (
	BlockOB  BlockType = 0x38 // organization block
	BlockDB  BlockType = 0x41 // data block
	BlockSDB BlockType = 0x42 // system data block
	BlockFC  BlockType = 0x43 // function
	BlockSFC BlockType = 0x44 // system function
	BlockFB  BlockType = 0x45 // function block
	BlockSFB BlockType = 0x46 // system function block
)

func (b BlockType) String() string {
	switch b {
	case BlockOB:
		return "OB"
	case BlockDB:
		return "DB"
	case BlockSDB:
		return "SDB"
	case BlockFC:
		return "FC"
	case BlockSFC:
		return "SFC"
	case BlockFB:
		return "FB"
	case BlockSFB:
		return "SFB"
	default:
		return fmt.Sprintf("BlockType(0x%02X)", byte(b))
	}
}
