package s7

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Address represents a parsed S7 memory address (§3 DATA MODEL, §4.2).
type Address struct {
	Area     Area   // Memory area
	DBNumber int    // Data block number (only for AreaDB/AreaDI)
	Offset   int    // Byte offset
	BitNum   int    // Bit number (0-7 for BOOL, -1 for byte-or-wider types)
	DataType uint16 // Inferred data type
	Size     int    // Byte size of one element
	Count    int    // Array length in elements (1 for scalar, >=1)
}

// ByteLength returns the total byte span of the address (Size * Count),
// except BOOL which always occupies exactly one byte regardless of Count
// (bit arrays are not supported by the grammar).
func (a *Address) ByteLength() int {
	if a.DataType == TypeBool {
		return 1
	}
	return a.Size * a.Count
}

// ByteLengthWithFill is the byte length rounded up to an even number of
// bytes for word/dword-aligned array transports, per §4.2 "compute
// byte-length-with-fill as ceil(bytes/2)*2 for word/dword array transports".
func (a *Address) ByteLengthWithFill() int {
	n := a.ByteLength()
	if a.Size >= 2 && n%2 != 0 {
		return n + 1
	}
	return n
}

// Transport returns the S7-ANY transport code this address reads/writes as.
func (a *Address) Transport() Transport {
	switch a.DataType {
	case TypeBool:
		return TransportBit
	case TypeByte, TypeChar, TypeString:
		return TransportByte
	case TypeWord, TypeInt:
		return TransportWord
	case TypeDWord, TypeDInt, TypeReal:
		return TransportDWord
	default:
		if a.Size == 1 {
			return TransportByte
		}
		if a.Size == 2 {
			return TransportWord
		}
		return TransportDWord
	}
}

// Regular expressions for parsing S7 addresses. Case is normalized to upper
// before matching.
var (
	// DB1.DBX0.0 (bit), DB1.DBB0 (byte), DB1.DBW0 (word), DB1.DBD0 (dword),
	// DB1.DBL0 (lint).
	reDB = regexp.MustCompile(`^DB(\d+)\.DB([XBWDL])(\d+)(?:\.(\d+))?$`)

	// Simple DB addresses: DB1.0 or DB1.0[6] (offset only, type is BYTE).
	reDBSimple = regexp.MustCompile(`^DB(\d+)\.(\d+)(?:\[(\d+)\])?$`)

	// Comma form: DB1,INT2, DB1,X0.0, DB1,STRING10.
	reDBComma = regexp.MustCompile(`^DB(\d+),([A-Z]+)(\d+)(?:\.(\d+))?$`)

	// I/Q/M addresses: M0.0 (bit), MB0 (byte), MW0 (word), MD0 (dword).
	// A dot suffix on the typed forms is an array length (MB0.500).
	reIQM = regexp.MustCompile(`^([IQM])([XBWDL])?(\d+)(?:\.(\d+))?$`)

	// Timer/Counter: T0, C0.
	reTC = regexp.MustCompile(`^([TC])(\d+)$`)
)

// word-type tokens accepted after the DB-comma form, mapped to data type.
var commaTypeTokens = map[string]uint16{
	"X":       TypeBool,
	"B":       TypeByte,
	"BYTE":    TypeByte,
	"C":       TypeChar,
	"CHAR":    TypeChar,
	"W":       TypeWord,
	"WORD":    TypeWord,
	"I":       TypeInt,
	"INT":     TypeInt,
	"D":       TypeDWord,
	"DWORD":   TypeDWord,
	"DI":      TypeDInt,
	"DINT":    TypeDInt,
	"R":       TypeReal,
	"REAL":    TypeReal,
	"S":       TypeString,
	"STRING":  TypeString,
	"DT":      TypeDTL,
	"DTZ":     TypeDTL,
	"LR":      TypeLReal,
	"LREAL":   TypeLReal,
	"LI":      TypeLInt,
	"LINT":    TypeLInt,
}

// ParseAddress parses an S7 address string and returns an Address. Supported
// formats (case-insensitive):
//
//	DB1.0        - Data Block with offset, type inferred as BYTE
//	DB1.DBX0.0   - Data Block bit
//	DB1.DBB0     - Data Block byte
//	DB1.DBW0     - Data Block word
//	DB1.DBD0     - Data Block dword
//	DB1,INT2     - Data Block comma form (any commaTypeTokens token)
//	M0.0, MB0, MW0, MD0 - Merker bit/byte/word/dword
//	I0.0, IB0, IW0, ID0 - Input
//	Q0.0, QB0, QW0, QD0 - Output
//	T0           - Timer
//	C0           - Counter
func ParseAddress(addr string) (*Address, error) {
	raw := strings.TrimSpace(addr)
	norm := strings.ToUpper(raw)
	if norm == "" {
		return nil, newError(KindParseAddr, "empty address")
	}

	if m := reDBComma.FindStringSubmatch(norm); m != nil {
		return parseDBCommaAddress(m)
	}
	if m := reDB.FindStringSubmatch(norm); m != nil {
		return parseDBAddress(m)
	}
	if m := reDBSimple.FindStringSubmatch(norm); m != nil {
		return parseDBSimpleAddress(m)
	}
	if m := reIQM.FindStringSubmatch(norm); m != nil {
		return parseIQMAddress(m)
	}
	if m := reTC.FindStringSubmatch(norm); m != nil {
		return parseTCAddress(m)
	}

	return nil, wrapError(KindParseAddr, fmt.Sprintf("invalid S7 address format: %s", raw), nil)
}

func parseDBCommaAddress(m []string) (*Address, error) {
	dbNum, _ := strconv.Atoi(m[1])
	token := m[2]
	n, _ := strconv.Atoi(m[3])

	dt, ok := commaTypeTokens[token]
	if !ok {
		return nil, wrapError(KindParseAddr, fmt.Sprintf("unknown DB comma type: %s", token), nil)
	}

	addr := &Address{Area: AreaDB, DBNumber: dbNum, BitNum: -1, DataType: dt, Size: TypeSize(dt), Count: 1}

	if dt == TypeBool {
		if m[4] == "" {
			return nil, newError(KindParseAddr, "bit address requires a bit number (e.g. DB1,X0.0)")
		}
		bit, _ := strconv.Atoi(m[4])
		if bit < 0 || bit > 7 {
			return nil, wrapError(KindParseAddr, fmt.Sprintf("bit number must be 0-7, got %d", bit), nil)
		}
		addr.Offset = n
		addr.BitNum = bit
		return addr, nil
	}

	addr.Offset = n
	if dt == TypeString {
		addr.Size = 1
		if m[4] != "" {
			length, _ := strconv.Atoi(m[4])
			if length <= 0 {
				return nil, newError(KindParseAddr, "string length must be > 0")
			}
			addr.Count = length + 2 // S7 STRING carries a 2-byte max/actual-length header
		} else {
			addr.Count = 256
		}
		return addr, nil
	}
	if m[4] != "" {
		// DB5,REAL12.4 reads a 4-element array starting at byte 12.
		count, _ := strconv.Atoi(m[4])
		if count <= 0 {
			return nil, newError(KindParseAddr, "array length must be > 0")
		}
		addr.Count = count
	}
	return addr, nil
}

func parseDBSimpleAddress(m []string) (*Address, error) {
	dbNum, _ := strconv.Atoi(m[1])
	offset, _ := strconv.Atoi(m[2])

	count := 1
	if m[3] != "" {
		count, _ = strconv.Atoi(m[3])
		if count < 1 {
			return nil, newError(KindParseAddr, "array length must be > 0")
		}
	}

	return &Address{
		Area:     AreaDB,
		DBNumber: dbNum,
		Offset:   offset,
		BitNum:   -1,
		DataType: TypeByte,
		Size:     1,
		Count:    count,
	}, nil
}

func parseDBAddress(m []string) (*Address, error) {
	dbNum, _ := strconv.Atoi(m[1])
	typeLetter := m[2]
	offset, _ := strconv.Atoi(m[3])

	addr := &Address{Area: AreaDB, DBNumber: dbNum, Offset: offset, BitNum: -1, Count: 1}

	switch typeLetter {
	case "X":
		if m[4] == "" {
			return nil, newError(KindParseAddr, "DBX requires bit number (e.g., DB1.DBX0.0)")
		}
		bitNum, _ := strconv.Atoi(m[4])
		if bitNum < 0 || bitNum > 7 {
			return nil, wrapError(KindParseAddr, fmt.Sprintf("bit number must be 0-7, got %d", bitNum), nil)
		}
		addr.BitNum = bitNum
		addr.DataType = TypeBool
		addr.Size = 1
	case "B":
		addr.DataType = TypeByte
		addr.Size = 1
	case "W":
		addr.DataType = TypeWord
		addr.Size = 2
	case "D":
		addr.DataType = TypeDWord
		addr.Size = 4
	case "L":
		addr.DataType = TypeLInt
		addr.Size = 8
	default:
		return nil, wrapError(KindParseAddr, fmt.Sprintf("unknown DB type: %s", typeLetter), nil)
	}

	return addr, nil
}

func parseIQMAddress(m []string) (*Address, error) {
	var area Area
	switch m[1] {
	case "I":
		area = AreaI
	case "Q":
		area = AreaQ
	case "M":
		area = AreaM
	}

	typeLetter := m[2]
	if typeLetter == "" {
		typeLetter = "X"
	}
	offset, _ := strconv.Atoi(m[3])

	addr := &Address{Area: area, Offset: offset, BitNum: -1, Count: 1}

	switch typeLetter {
	case "X":
		if m[4] != "" {
			bitNum, _ := strconv.Atoi(m[4])
			if bitNum < 0 || bitNum > 7 {
				return nil, wrapError(KindParseAddr, fmt.Sprintf("bit number must be 0-7, got %d", bitNum), nil)
			}
			addr.BitNum = bitNum
		} else {
			addr.BitNum = 0
		}
		addr.DataType = TypeBool
		addr.Size = 1
		return addr, nil
	case "B":
		addr.DataType = TypeByte
		addr.Size = 1
	case "W":
		addr.DataType = TypeWord
		addr.Size = 2
	case "D":
		addr.DataType = TypeDWord
		addr.Size = 4
	case "L":
		addr.DataType = TypeLInt
		addr.Size = 8
	default:
		return nil, wrapError(KindParseAddr, fmt.Sprintf("unknown type: %s", typeLetter), nil)
	}

	if m[4] != "" {
		count, _ := strconv.Atoi(m[4])
		if count <= 0 {
			return nil, newError(KindParseAddr, "array length must be > 0")
		}
		addr.Count = count
	}
	return addr, nil
}

func parseTCAddress(m []string) (*Address, error) {
	var area Area
	dataType := TypeTimerS7
	switch m[1] {
	case "T":
		area = AreaT
	case "C":
		area = AreaC
		dataType = TypeCounter
	}

	num, _ := strconv.Atoi(m[2])

	return &Address{
		Area:     area,
		Offset:   num,
		BitNum:   -1,
		DataType: dataType,
		Size:     2,
		Count:    1,
	}, nil
}

// ValidateAddress checks whether an address string is well formed.
func ValidateAddress(addr string) error {
	_, err := ParseAddress(addr)
	return err
}
