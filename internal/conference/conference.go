// Package conference describes the command and event surface of the
// embedded video-conference widget and keeps a roster from its events.
// The widget itself is opaque.
package conference

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// CommandName is a command the widget accepts.
type CommandName string

const (
	CmdDisplayName       CommandName = "displayName"
	CmdSubject           CommandName = "subject"
	CmdHangup            CommandName = "hangup"
	CmdToggleAudio       CommandName = "toggleAudio"
	CmdToggleVideo       CommandName = "toggleVideo"
	CmdToggleShareScreen CommandName = "toggleShareScreen"
	CmdToggleChat        CommandName = "toggleChat"
)

// EventName is an event the widget emits.
type EventName string

const (
	EvJoined            EventName = "videoConferenceJoined"
	EvLeft              EventName = "videoConferenceLeft"
	EvParticipantJoined EventName = "participantJoined"
	EvParticipantLeft   EventName = "participantLeft"
	EvError             EventName = "errorOccurred"
)

var ErrUnknownCommand = errors.New("unknown conference command")

// Command is an instruction for the widget.
type Command struct {
	Name CommandName `json:"command"`
	Args []string    `json:"args,omitempty"`
}

// NewCommand validates a command. displayName and subject take exactly one
// non-empty argument; every other command takes none.
func NewCommand(name CommandName, args ...string) (Command, error) {
	switch name {
	case CmdDisplayName, CmdSubject:
		if len(args) != 1 || strings.TrimSpace(args[0]) == "" {
			return Command{}, fmt.Errorf("%s requires one non-empty argument", name)
		}
		return Command{Name: name, Args: []string{strings.TrimSpace(args[0])}}, nil
	case CmdHangup, CmdToggleAudio, CmdToggleVideo, CmdToggleShareScreen, CmdToggleChat:
		if len(args) != 0 {
			return Command{}, fmt.Errorf("%s takes no arguments", name)
		}
		return Command{Name: name}, nil
	}
	return Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, name)
}

// Event is one widget notification.
type Event struct {
	Name          EventName `json:"event"`
	ParticipantID string    `json:"id,omitempty"`
	DisplayName   string    `json:"displayName,omitempty"`
	Error         string    `json:"error,omitempty"`
}

// Participant is a roster entry.
type Participant struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name,omitempty"`
	JoinedAt    time.Time `json:"joined_at"`
	Local       bool      `json:"local"`
}

// State is a snapshot of the tracker.
type State struct {
	Joined       bool          `json:"joined"`
	Participants []Participant `json:"participants"`
	LastError    string        `json:"last_error,omitempty"`
}

// Tracker folds widget events into a roster.
type Tracker struct {
	mu        sync.Mutex
	joined    bool
	roster    map[string]Participant
	lastError string
	now       func() time.Time
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{roster: make(map[string]Participant), now: time.Now}
}

// Apply records ev. Unknown events are ignored.
func (t *Tracker) Apply(ev Event) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch ev.Name {
	case EvJoined:
		t.joined = true
		t.lastError = ""
		if ev.ParticipantID != "" {
			t.roster[ev.ParticipantID] = Participant{ID: ev.ParticipantID, DisplayName: ev.DisplayName, JoinedAt: t.now(), Local: true}
		}
	case EvLeft:
		t.joined = false
		t.roster = make(map[string]Participant)
	case EvParticipantJoined:
		if ev.ParticipantID == "" {
			return false
		}
		if p, ok := t.roster[ev.ParticipantID]; ok {
			if ev.DisplayName != "" {
				p.DisplayName = ev.DisplayName
				t.roster[ev.ParticipantID] = p
			}
			return true
		}
		t.roster[ev.ParticipantID] = Participant{ID: ev.ParticipantID, DisplayName: ev.DisplayName, JoinedAt: t.now()}
	case EvParticipantLeft:
		if _, ok := t.roster[ev.ParticipantID]; !ok {
			return false
		}
		delete(t.roster, ev.ParticipantID)
	case EvError:
		t.lastError = ev.Error
		if t.lastError == "" {
			t.lastError = "conference error"
		}
	default:
		return false
	}
	return true
}

// State returns the roster ordered by join time.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	ps := make([]Participant, 0, len(t.roster))
	for _, p := range t.roster {
		ps = append(ps, p)
	}
	sort.Slice(ps, func(i, j int) bool {
		if !ps[i].JoinedAt.Equal(ps[j].JoinedAt) {
			return ps[i].JoinedAt.Before(ps[j].JoinedAt)
		}
		return ps[i].ID < ps[j].ID
	})
	return State{Joined: t.joined, Participants: ps, LastError: t.lastError}
}

// Reset forgets everything, e.g. when the session closes.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.joined = false
	t.roster = make(map[string]Participant)
	t.lastError = ""
}
