package bemfa

// fanSpeeds is the ordered list of wire speed levels.
var fanSpeeds = []int{1, 2, 3, 4}

// FanState is the decoded state of a fan.
type FanState struct {
	On          bool `json:"on"`
	Percentage  int  `json:"percentage"`
	Oscillating bool `json:"oscillating"`
}

// FanAction selects what a FanIntent does.
type FanAction string

// Fan actions. An empty action is treated as turn_on.
const (
	FanTurnOn        FanAction = "turn_on"
	FanTurnOff       FanAction = "turn_off"
	FanSetPercentage FanAction = "set_percentage"
	FanOscillate     FanAction = "oscillate"
)

// FanIntent is a fan command. Nil fields keep the current value.
type FanIntent struct {
	Action      FanAction `json:"action"`
	Percentage  *int      `json:"percentage,omitempty"`
	Oscillating *bool     `json:"oscillating,omitempty"`
}

// FanCodec handles "on#<speed>#<oscillate>" payloads.
type FanCodec struct{}

// Decode parses a fan payload. Speeds outside 1-4 give 0%.
func (FanCodec) Decode(raw string, _ FanState) FanState {
	parts := fields(raw)
	if !isOn(parts) {
		return FanState{}
	}

	st := FanState{On: true}
	if speed, ok := parseInt(parts, 1); ok {
		st.Percentage = speedToPercentage(speed)
	}
	if osc, ok := field(parts, 2); ok {
		st.Oscillating = osc == "1"
	}
	return st
}

// Encode builds a fan payload.
//
// Turning on without a percentage reuses the current one, or the lowest
// speed when the fan is off. A percentage of 0 turns the fan off. Changing
// oscillation on a fan that is off is rejected.
func (FanCodec) Encode(intent FanIntent, current FanState) (string, error) {
	pct := current.Percentage
	osc := current.Oscillating

	switch intent.Action {
	case FanTurnOff:
		return TokenOff, nil

	case FanTurnOn, "":
		if intent.Percentage != nil {
			pct = *intent.Percentage
			if pct <= 0 {
				return TokenOff, nil
			}
		}
		if intent.Oscillating != nil {
			osc = *intent.Oscillating
		}

	case FanSetPercentage:
		if intent.Percentage == nil {
			return "", errInvalid("set_percentage needs a percentage")
		}
		pct = *intent.Percentage
		if pct <= 0 {
			return TokenOff, nil
		}

	case FanOscillate:
		if intent.Oscillating == nil {
			return "", errInvalid("oscillate needs oscillating")
		}
		if !current.On {
			return "", errInvalid("cannot oscillate a fan that is off")
		}
		osc = *intent.Oscillating

	default:
		return "", errInvalid("unknown fan action " + string(intent.Action))
	}

	if pct <= 0 {
		pct = speedToPercentage(fanSpeeds[0])
	}
	return join(TokenOn, itoa(percentageToSpeed(pct)), boolDigit(osc)), nil
}

// speedToPercentage maps a level to its share of 100, or 0 when out of range.
func speedToPercentage(speed int) int {
	for i, s := range fanSpeeds {
		if s == speed {
			return (i + 1) * 100 / len(fanSpeeds)
		}
	}
	return 0
}

// percentageToSpeed picks the first level whose upper bound covers pct.
func percentageToSpeed(pct int) int {
	for i, s := range fanSpeeds {
		if pct <= (i+1)*100/len(fanSpeeds) {
			return s
		}
	}
	return fanSpeeds[len(fanSpeeds)-1]
}
