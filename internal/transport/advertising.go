package transport

import (
	"fmt"

	"github.com/silwitch/replink/internal/sd"
)

// Advertising data record types and flag values from the GAP assigned
// numbers.
const (
	adTypeFlags             = 0x01
	adTypeUUID128Complete   = 0x07
	adTypeCompleteLocalName = 0x09

	advFlagsLEOnlyGeneralDisc = 0x06
)

// buildAdvPayload assembles the advertising payload: complete local name,
// discoverability flags, then the full 128-bit service UUID. The result is
// handed to the stack by reference and must stay alive while advertising.
func buildAdvPayload(name string, serviceUUID []byte) ([]byte, error) {
	payload := make([]byte, 0, sd.AdvPayloadMax)

	payload = append(payload, byte(len(name)+1), adTypeCompleteLocalName)
	payload = append(payload, name...)

	payload = append(payload, 0x02, adTypeFlags, advFlagsLEOnlyGeneralDisc)

	payload = append(payload, byte(len(serviceUUID)+1), adTypeUUID128Complete)
	payload = append(payload, serviceUUID...)

	if len(payload) > sd.AdvPayloadMax {
		return nil, fmt.Errorf("advertising payload %d bytes exceeds %d byte limit",
			len(payload), sd.AdvPayloadMax)
	}
	return payload, nil
}
