package bemfa

import "strings"

// SwitchState is the decoded state of a switch or switch panel.
type SwitchState struct {
	On bool `json:"on"`
}

// SwitchIntent turns a switch on or off.
type SwitchIntent struct {
	On bool `json:"on"`
}

// SwitchCodec encodes and decodes switch payloads ("on" / "off").
type SwitchCodec struct{}

// Decode reports on only when the whole payload is "on", ignoring case.
func (SwitchCodec) Decode(raw string, _ SwitchState) SwitchState {
	return SwitchState{On: strings.EqualFold(strings.TrimSpace(raw), TokenOn)}
}

// Encode returns "on" or "off".
func (SwitchCodec) Encode(intent SwitchIntent, _ SwitchState) (string, error) {
	if intent.On {
		return TokenOn, nil
	}
	return TokenOff, nil
}
