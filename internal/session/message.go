package session

import "encoding/json"

// Action is the top-level verb of a wire message.
type Action int

// Numeric values are shared with existing clients.
const (
	ActionNone          Action = 0
	ActionFacebookLogin Action = 1
	ActionMailRegister  Action = 2
	ActionMailLogin     Action = 3
	ActionGameJoin      Action = 4
	ActionGameLeave     Action = 5
	ActionGameData      Action = 6
	ActionUserInfo      Action = 7
	ActionConnectionOK  Action = 8
	ActionError         Action = 10
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionFacebookLogin:
		return "facebook_login"
	case ActionMailRegister:
		return "mail_register"
	case ActionMailLogin:
		return "mail_login"
	case ActionGameJoin:
		return "game_join"
	case ActionGameLeave:
		return "game_leave"
	case ActionGameData:
		return "game_data"
	case ActionUserInfo:
		return "user_info"
	case ActionConnectionOK:
		return "connection_ok"
	case ActionError:
		return "error"
	default:
		return "unknown"
	}
}

// Message is the single JSON envelope used in both directions. Requests carry
// Data; replies carry Body; game traffic also names its Game.
type Message struct {
	Action Action          `json:"action"`
	Data   json.RawMessage `json:"data,omitempty"`
	Game   string          `json:"game,omitempty"`
	Body   *Body           `json:"body,omitempty"`
}

// Body is the payload of a reply. For player replies Code is an HTTP status;
// for game data it is a game-defined code.
type Body struct {
	Code int `json:"code"`
	Data any `json:"data,omitempty"`
}

// Reply builds a player reply.
func Reply(action Action, code int, data any) Message {
	return Message{Action: action, Body: &Body{Code: code, Data: data}}
}

// GameData builds a game data message for the given session.
func GameData(sessionID string, code int, data any) Message {
	return Message{Action: ActionGameData, Game: sessionID, Body: &Body{Code: code, Data: data}}
}
