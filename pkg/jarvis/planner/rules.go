package planner

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jholhewres/jarvis/pkg/jarvis/action"
)

// Priorities used by the rules planner.
const (
	PrioritySpotify  = 50
	PriorityWhatsApp = 60
	PriorityReminder = 40
	PriorityAlarm    = 40
)

var (
	playTriggers    = []string{"pon ", "reproduce", "play ", "ponme"}
	playPrefixes    = []string{"ponme ", "pon ", "reproduce ", "play "}
	sendPrefixes    = []string{"manda a ", "envia a ", "envía a ", "send to ", "message "}
	remindPrefixes  = []string{"recuérdame ", "recuerdame ", "remind me to ", "remind me "}
	alarmPrefixes   = []string{"despiértame a las ", "despiertame a las ", "wake me up at ", "wake me at "}
	reminderDueExpr = regexp.MustCompile(`(?i)^(.*?)\s+(?:en|in)\s+(\d+)\s*(s|seg|segundos?|seconds?|secs?|m|min|mins|minutos?|minutes?|h|horas?|hours?|hrs?)\s*\.?$`)
)

// RulesPlanner is a keyword planner that needs no model.
type RulesPlanner struct{}

// Plan implements Planner.
func (RulesPlanner) Plan(_ context.Context, text string) (Plan, error) {
	text = strings.TrimSpace(text)
	lower := strings.ToLower(text)
	plan := Plan{Actions: []PlannedAction{}, Constraints: map[string]any{}}

	if containsAny(lower, playTriggers) {
		query := text
		if p, ok := prefix(lower, playPrefixes); ok {
			query = strings.TrimSpace(text[len(p):])
		}
		plan.Actions = append(plan.Actions, PlannedAction{
			Name:     string(action.KindSpotifyPlay),
			Args:     map[string]any{"query": query},
			Priority: Prio(PrioritySpotify),
		})
		plan.Response = "Reproduciendo " + query + "."
	}

	if p, ok := prefix(lower, sendPrefixes); ok {
		contact, message, _ := strings.Cut(strings.TrimSpace(text[len(p):]), " ")
		if contact != "" {
			plan.Actions = append(plan.Actions, PlannedAction{
				Name:     string(action.KindWhatsAppSend),
				Args:     map[string]any{"contact": contact, "message": strings.TrimSpace(message)},
				Priority: Prio(PriorityWhatsApp),
			})
			plan.Response = "Mensaje en camino."
		}
	}

	if p, ok := prefix(lower, remindPrefixes); ok {
		if what, due, ok := parseReminder(text[len(p):]); ok {
			plan.Actions = append(plan.Actions, PlannedAction{
				Name:     string(action.KindReminderAdd),
				Args:     map[string]any{"text": what, "run_at": due.String()},
				Priority: Prio(PriorityReminder),
			})
		}
		if plan.Response == "" {
			plan.Response = "Listo."
		}
	}

	if p, ok := prefix(lower, alarmPrefixes); ok {
		at := strings.TrimSuffix(strings.TrimSpace(text[len(p):]), ".")
		if _, err := action.ParseWhen(at, time.Now()); err == nil {
			plan.Actions = append(plan.Actions, PlannedAction{
				Name:     string(action.KindAlarmAdd),
				Args:     map[string]any{"label": "wake up", "run_at": at},
				Priority: Prio(PriorityAlarm),
			})
			plan.Response = "Alarma a las " + at + "."
		}
	}

	return plan, nil
}

// parseReminder splits "<text> in <n> <unit>" into the text and delay.
func parseReminder(s string) (string, time.Duration, bool) {
	m := reminderDueExpr.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return "", 0, false
	}
	n, err := strconv.Atoi(m[2])
	if err != nil || n <= 0 {
		return "", 0, false
	}

	var unit time.Duration
	switch u := strings.ToLower(m[3]); {
	case strings.HasPrefix(u, "h"):
		unit = time.Hour
	case strings.HasPrefix(u, "m"):
		unit = time.Minute
	default:
		unit = time.Second
	}

	what := strings.TrimSpace(m[1])
	if what == "" {
		return "", 0, false
	}
	return what, time.Duration(n) * unit, true
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func prefix(s string, prefixes []string) (string, bool) {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return p, true
		}
	}
	return "", false
}
