// Package action defines the unit of work submitted to the orchestrator and
// the closed set of typed payloads the dispatch table knows how to execute.
//
// Planners produce loosely typed {name, args, priority} tuples. Decode turns
// those into a Payload variant so handlers never poke at raw maps; names that
// are not part of the known set decode to Dynamic and are routed by name.
package action

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultPriority is used when a planner omits the priority of an action.
const DefaultPriority = 50

// ErrInvalidArgs is returned by Decode when a known action is missing a
// required argument or carries one of the wrong type.
var ErrInvalidArgs = errors.New("invalid action arguments")

// Kind is the symbolic name of an action (e.g. "spotify.play").
type Kind string

const (
	KindSpotifyPlay  Kind = "spotify.play"
	KindWhatsAppSend Kind = "whatsapp.send"
	KindReminderAdd  Kind = "reminder.add"
	KindAlarmAdd     Kind = "alarm.add"
	KindDiscordSend  Kind = "discord.send"
)

// Action is a named unit of work with arguments and a priority.
// Lower priority values are served first. Sequence is assigned by the queue
// at enqueue time and only breaks ties between equal priorities.
type Action struct {
	// ID is a trace identifier assigned on enqueue when empty.
	ID string `json:"id,omitempty"`

	// Name is the symbolic action name, e.g. "spotify.play".
	Name string `json:"name"`

	// Args are interpreted by the handler registered for Name.
	Args map[string]any `json:"args,omitempty"`

	// Priority orders the queue; lower is more urgent.
	Priority int `json:"priority"`

	// Sequence is the monotonically increasing enqueue counter.
	Sequence uint64 `json:"sequence"`

	// EnqueuedAt is stamped by the queue.
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// New builds an Action with the given name, args and priority.
func New(name string, args map[string]any, priority int) Action {
	if args == nil {
		args = map[string]any{}
	}
	return Action{Name: strings.TrimSpace(name), Args: args, Priority: priority}
}

// Kind returns the action name as a Kind.
func (a Action) Kind() Kind { return Kind(a.Name) }

// String renders the action for logs.
func (a Action) String() string {
	return fmt.Sprintf("%s(prio=%d seq=%d)", a.Name, a.Priority, a.Sequence)
}

// Payload is the typed argument set of an action. Every known Kind has its own
// variant; unknown names decode to Dynamic.
type Payload interface {
	Kind() Kind
}

// SpotifyPlay searches Spotify and starts playback of the first match.
type SpotifyPlay struct {
	Query string
}

// WhatsAppSend sends a message to a WhatsApp contact or chat.
type WhatsAppSend struct {
	Contact string
	Message string
}

// ReminderAdd persists a reminder that fires at RunAt.
type ReminderAdd struct {
	Text  string
	RunAt time.Time
}

// AlarmAdd persists an alarm that fires at RunAt.
type AlarmAdd struct {
	Label string
	RunAt time.Time
}

// DiscordSend posts a message to a Discord channel through the bot account.
type DiscordSend struct {
	ChannelID string
	Message   string
}

// Dynamic is the default arm for names outside the known set.
type Dynamic struct {
	Name string
	Args map[string]any
}

func (SpotifyPlay) Kind() Kind  { return KindSpotifyPlay }
func (WhatsAppSend) Kind() Kind { return KindWhatsAppSend }
func (ReminderAdd) Kind() Kind  { return KindReminderAdd }
func (AlarmAdd) Kind() Kind     { return KindAlarmAdd }
func (DiscordSend) Kind() Kind  { return KindDiscordSend }
func (d Dynamic) Kind() Kind    { return Kind(d.Name) }

// Decode converts a name and raw argument map into a typed Payload.
// Relative times in reminder.add / alarm.add are resolved against now.
func Decode(name string, args map[string]any, now time.Time) (Payload, error) {
	if args == nil {
		args = map[string]any{}
	}

	switch Kind(name) {
	case KindSpotifyPlay:
		query, err := requireString(args, "query")
		if err != nil {
			return nil, wrapArgs(name, err)
		}
		return SpotifyPlay{Query: query}, nil

	case KindWhatsAppSend:
		contact, err := requireString(args, "contact")
		if err != nil {
			return nil, wrapArgs(name, err)
		}
		return WhatsAppSend{Contact: contact, Message: optionalString(args, "message")}, nil

	case KindReminderAdd:
		text, err := requireString(args, "text")
		if err != nil {
			return nil, wrapArgs(name, err)
		}
		runAt, err := requireTime(args, "run_at", now)
		if err != nil {
			return nil, wrapArgs(name, err)
		}
		return ReminderAdd{Text: text, RunAt: runAt}, nil

	case KindAlarmAdd:
		runAt, err := requireTime(args, "run_at", now)
		if err != nil {
			return nil, wrapArgs(name, err)
		}
		return AlarmAdd{Label: optionalString(args, "label"), RunAt: runAt}, nil

	case KindDiscordSend:
		channelID, err := requireString(args, "channel_id")
		if err != nil {
			return nil, wrapArgs(name, err)
		}
		message, err := requireString(args, "message")
		if err != nil {
			return nil, wrapArgs(name, err)
		}
		return DiscordSend{ChannelID: channelID, Message: message}, nil
	}

	return Dynamic{Name: name, Args: args}, nil
}

// ---------- Internal ----------

func wrapArgs(name string, err error) error {
	return fmt.Errorf("%s: %w: %v", name, ErrInvalidArgs, err)
}

func requireString(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return "", fmt.Errorf("%q is required", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%q must be a string, got %T", key, v)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("%q is empty", key)
	}
	return s, nil
}

func optionalString(args map[string]any, key string) string {
	switch v := args[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func requireTime(args map[string]any, key string, now time.Time) (time.Time, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return time.Time{}, fmt.Errorf("%q is required", key)
	}
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		return ParseWhen(t, now)
	case float64:
		// JSON numbers decode as float64; treat them as Unix seconds.
		return time.Unix(int64(t), 0), nil
	case int64:
		return time.Unix(t, 0), nil
	case int:
		return time.Unix(int64(t), 0), nil
	default:
		return time.Time{}, fmt.Errorf("%q has unsupported type %T", key, v)
	}
}
