package domain

import "strings"

// Alert is the inbound webhook payload after envelope unwrapping.
type Alert struct {
	Action string `json:"action"`
	Side   string `json:"side,omitempty"`
	Symbol string `json:"symbol"`
	Price  string `json:"price,omitempty"`
	Time   string `json:"time,omitempty"`
	Tag    string `json:"tag,omitempty"`
	Secret string `json:"secret,omitempty"`
}

// Action is a parsed alert directive. Side is empty for a side-less close,
// which closes whatever is actually open.
type Action struct {
	Intent Intent
	Side   PositionSide
}

func (a Action) String() string {
	if a.Side == "" {
		return string(a.Intent)
	}
	if a.Intent == IntentOpen {
		return "enter_" + string(a.Side)
	}
	return "exit_" + string(a.Side)
}

// ParseAction maps the enumerated action ("enter_long", "exit_short", ...)
// or the action+side form ("open"/"close" with "long"/"short") to an Action.
func ParseAction(action, side string) (Action, error) {
	act := strings.ToLower(strings.TrimSpace(action))
	sd := parseSide(side)

	switch act {
	case "":
		return Action{}, &ActionError{Reason: "missing_action"}
	case "enter_long", "open_long", "entry_long":
		return Action{Intent: IntentOpen, Side: SideLong}, nil
	case "enter_short", "open_short", "entry_short":
		return Action{Intent: IntentOpen, Side: SideShort}, nil
	case "exit_long", "close_long":
		return Action{Intent: IntentClose, Side: SideLong}, nil
	case "exit_short", "close_short":
		return Action{Intent: IntentClose, Side: SideShort}, nil
	case "open", "enter", "entry":
		if sd == "" {
			return Action{}, &ActionError{Reason: "missing_side", Action: action}
		}
		return Action{Intent: IntentOpen, Side: sd}, nil
	case "close", "exit", "flat":
		return Action{Intent: IntentClose, Side: sd}, nil
	default:
		return Action{}, &ActionError{Reason: "unknown_action", Action: action}
	}
}

func parseSide(s string) PositionSide {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "long", "buy":
		return SideLong
	case "short", "sell":
		return SideShort
	default:
		return ""
	}
}
