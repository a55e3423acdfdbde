package logging

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// HexDump renders data as offset-prefixed hex bytes with an ASCII gutter,
// sixteen bytes per line.
func HexDump(data []byte) string {
	if len(data) == 0 {
		return "(empty)"
	}
	var sb strings.Builder
	for offset := 0; offset < len(data); offset += 16 {
		sb.WriteString(fmt.Sprintf("%04X: ", offset))
		for i := 0; i < 16; i++ {
			if offset+i < len(data) {
				sb.WriteString(fmt.Sprintf("%02X ", data[offset+i]))
			} else {
				sb.WriteString("   ")
			}
			if i == 7 {
				sb.WriteString(" ")
			}
		}
		sb.WriteString(" ")
		for i := 0; i < 16 && offset+i < len(data); i++ {
			b := data[offset+i]
			if b >= 32 && b < 127 {
				sb.WriteByte(b)
			} else {
				sb.WriteByte('.')
			}
		}
		if offset+16 < len(data) {
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// TraceTX logs an outgoing frame at Trace level with a hex dump.
func TraceTX(log *logrus.Logger, protocol string, data []byte) {
	if !log.IsLevelEnabled(logrus.TraceLevel) {
		return
	}
	log.WithField("protocol", protocol).Tracef("TX %d bytes\n%s", len(data), HexDump(data))
}

// TraceRX logs an incoming frame at Trace level with a hex dump.
func TraceRX(log *logrus.Logger, protocol string, data []byte) {
	if !log.IsLevelEnabled(logrus.TraceLevel) {
		return
	}
	log.WithField("protocol", protocol).Tracef("RX %d bytes\n%s", len(data), HexDump(data))
}
