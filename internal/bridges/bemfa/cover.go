package bemfa

import "strings"

// TokenPause stops a moving cover.
const TokenPause = "pause"

// CoverState is the decoded state of a curtain or blind.
type CoverState struct {
	Closed   bool `json:"closed"`
	Position int  `json:"position"`
}

// CoverAction selects what a CoverIntent does.
type CoverAction string

// Cover actions.
const (
	CoverOpen        CoverAction = "open"
	CoverClose       CoverAction = "close"
	CoverStop        CoverAction = "stop"
	CoverSetPosition CoverAction = "set_position"
)

// CoverIntent is a cover command. Position is used by set_position only.
type CoverIntent struct {
	Action   CoverAction `json:"action"`
	Position *int        `json:"position,omitempty"`
}

// CoverCodec handles "on", "off", "pause" and "on#<position>" payloads.
type CoverCodec struct{}

// Decode applies a cover payload on top of the previous state.
//
// "pause" and unrecognised tokens leave the state unchanged; a numeric second
// field always sets the position.
func (CoverCodec) Decode(raw string, prev CoverState) CoverState {
	parts := fields(raw)
	if len(parts) == 0 {
		return CoverState{Closed: true}
	}

	st := prev
	switch tok := strings.ToLower(strings.TrimSpace(parts[0])); tok {
	case TokenOff:
		st = CoverState{Closed: true}
	case TokenOn:
		st = CoverState{Closed: false, Position: 100}
	}

	if pos, ok := parseInt(parts, 1); ok {
		st.Position = clamp(pos, 0, 100)
		st.Closed = st.Position == 0
	}
	return st
}

// Encode maps an action to its payload.
func (CoverCodec) Encode(intent CoverIntent, _ CoverState) (string, error) {
	switch intent.Action {
	case CoverOpen:
		return TokenOn, nil
	case CoverClose:
		return TokenOff, nil
	case CoverStop:
		return TokenPause, nil
	case CoverSetPosition:
		if intent.Position == nil {
			return "", errInvalid("set_position needs a position")
		}
		return join(TokenOn, itoa(clamp(*intent.Position, 0, 100))), nil
	default:
		return "", errInvalid("unknown cover action " + string(intent.Action))
	}
}
