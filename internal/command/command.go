// Package command parses the owner's free-text messages into typed
// commands. Parsing is pure: no lookups, no side effects, and never a
// partially-filled command.
package command

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Command is one of the fixed owner command forms.
type Command interface{ isCommand() }

// Schedule posts quoted content to an alias at a time expression.
//
//	schedule "Standup at 09:00" to team at today 08:55
type Schedule struct {
	Text  string
	Alias string
	When  string
}

// ScheduleConfig is the two-step form: alias + time now, content in the
// owner's next message.
//
//	schedule to team at tomorrow 09:00
type ScheduleConfig struct {
	Alias string
	When  string
}

// Cancel cancels a pending job by id.
type Cancel struct {
	JobID int64
}

// RegisterGroup binds an alias to a group id, optionally with a display name.
type RegisterGroup struct {
	Alias   string
	GroupID string
	Name    string
}

// UnregisterGroup removes an alias.
type UnregisterGroup struct {
	Alias string
}

// List lists pending jobs.
type List struct{}

// Groups lists registered aliases.
type Groups struct{}

func (Schedule) isCommand()        {}
func (ScheduleConfig) isCommand()  {}
func (Cancel) isCommand()          {}
func (RegisterGroup) isCommand()   {}
func (UnregisterGroup) isCommand() {}
func (List) isCommand()            {}
func (Groups) isCommand()          {}

// ParseError reports unrecognized input. Input carries the offending text
// so the caller can echo it back with a usage hint.
type ParseError struct {
	Input string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("command: cannot parse %q", e.Input)
}

var (
	scheduleRE = regexp.MustCompile(`(?i)^schedule\s+"(.+?)"\s+to\s+([\w\-]+)\s+(?:at\s+)?(.+)$`)
	configRE   = regexp.MustCompile(`(?i)^schedule\s+to\s+([\w\-]+)\s+(?:at\s+)?(.+)$`)
	registerRE = regexp.MustCompile(`(?i)^register\s+group\s+([\w\-]+)\s+([\w.@\-]+)(?:\s+(.+))?$`)
	unregRE    = regexp.MustCompile(`(?i)^unregister\s+group\s+([\w\-]+)$`)
	cancelRE   = regexp.MustCompile(`(?i)^cancel\s+(\d+)$`)
	listRE     = regexp.MustCompile(`(?i)^list$`)
	groupsRE   = regexp.MustCompile(`(?i)^groups$`)
)

// Parse turns a text message into a Command, or a *ParseError when the
// text matches none of the known forms.
func Parse(text string) (Command, error) {
	normalized := strings.TrimSpace(text)

	if m := scheduleRE.FindStringSubmatch(normalized); m != nil {
		return Schedule{Text: m[1], Alias: m[2], When: strings.TrimSpace(m[3])}, nil
	}
	if m := configRE.FindStringSubmatch(normalized); m != nil {
		return ScheduleConfig{Alias: m[1], When: strings.TrimSpace(m[2])}, nil
	}
	if m := registerRE.FindStringSubmatch(normalized); m != nil {
		return RegisterGroup{Alias: m[1], GroupID: m[2], Name: strings.TrimSpace(m[3])}, nil
	}
	if m := unregRE.FindStringSubmatch(normalized); m != nil {
		return UnregisterGroup{Alias: m[1]}, nil
	}
	if m := cancelRE.FindStringSubmatch(normalized); m != nil {
		id, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return nil, &ParseError{Input: normalized}
		}
		return Cancel{JobID: id}, nil
	}
	if listRE.MatchString(normalized) {
		return List{}, nil
	}
	if groupsRE.MatchString(normalized) {
		return Groups{}, nil
	}
	return nil, &ParseError{Input: normalized}
}

// Help is the usage text replied to the owner on a parse failure.
const Help = `Commands:
- register group <alias> <group_id> [optional name]
- unregister group <alias>
- groups
- schedule "<text>" to <alias> [at] <time>
- schedule to <alias> [at] <time> (send content next)
- list
- cancel <job_id>
Examples:
schedule "Standup at 09:00" to team at today 08:55
schedule "Demo tomorrow" to sales tomorrow 09:00
schedule to team in 1 minute`
