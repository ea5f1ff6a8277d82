package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/sweeney/henny/internal/feeder"
	"github.com/sweeney/henny/internal/store"
)

// Command handling defaults.
const (
	DefaultDedupeWindow   = 10 * time.Minute
	DefaultCommandTimeout = 10 * time.Second
)

// CommandPayload is the JSON body accepted on TopicCommands.
type CommandPayload struct {
	ID        string          `json:"id"`
	Command   string          `json:"command"`
	Grams     float64         `json:"grams,omitempty"`
	Count     int             `json:"count,omitempty"`
	BirthDate string          `json:"birth_date,omitempty"` // YYYY-MM-DD
	Index     int             `json:"index,omitempty"`
	Settings  *store.Settings `json:"settings,omitempty"`
}

// CommandReply is published on TopicReplies for every handled command.
type CommandReply struct {
	ID      string `json:"id"`
	Command string `json:"command"`
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// Dispatcher executes a command on the control loop.
type Dispatcher interface {
	Do(ctx context.Context, cmd feeder.Command) (feeder.Reply, error)
}

// CommandHandler turns command messages into feeder commands. QoS 1
// redeliveries are recognised by id and answered without running twice.
type CommandHandler struct {
	dispatch Dispatcher
	seen     *cache.Cache
	timeout  time.Duration
	loc      *time.Location
}

// NewCommandHandler creates a CommandHandler. A nil loc means time.Local.
func NewCommandHandler(d Dispatcher, loc *time.Location) *CommandHandler {
	if loc == nil {
		loc = time.Local
	}
	return &CommandHandler{
		dispatch: d,
		seen:     cache.New(DefaultDedupeWindow, 2*DefaultDedupeWindow),
		timeout:  DefaultCommandTimeout,
		loc:      loc,
	}
}

// ParseCommand decodes a command message.
func ParseCommand(payload []byte, loc *time.Location) (string, feeder.Command, error) {
	var p CommandPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return "", feeder.Command{}, fmt.Errorf("decode command: %w", err)
	}
	if p.Command == "" {
		return p.ID, feeder.Command{}, fmt.Errorf("decode command: missing command")
	}

	cmd := feeder.Command{
		Kind:   feeder.CommandKind(p.Command),
		Source: feeder.SourceRemote,
		Grams:  p.Grams,
		Count:  p.Count,
		Index:  p.Index,
	}
	if p.Settings != nil {
		cmd.Settings = *p.Settings
	}
	if p.BirthDate != "" {
		birth, err := time.ParseInLocation(store.DateLayout, p.BirthDate, loc)
		if err != nil {
			return p.ID, feeder.Command{}, fmt.Errorf("decode command: birth_date: %w", err)
		}
		cmd.BirthDate = birth
	}
	return p.ID, cmd, nil
}

// inflight is the dedupe entry for a command id. reply is valid once done
// is closed.
type inflight struct {
	done  chan struct{}
	reply CommandReply
}

// Handle processes one command message and returns the reply to publish.
// A redelivery that arrives while the first copy is still running waits for
// the first copy's reply.
func (h *CommandHandler) Handle(payload []byte) CommandReply {
	id, cmd, err := ParseCommand(payload, h.loc)
	if id == "" {
		id = uuid.NewString()
	}
	if err != nil {
		log.Printf("mqtt: command %s rejected: %v", id, err)
		return CommandReply{ID: id, Message: err.Error()}
	}

	entry, first := h.reserve(id)
	if !first {
		log.Printf("mqtt: command %s already handled", id)
		return h.await(entry, id, cmd)
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	rep, err := h.dispatch.Do(ctx, cmd)
	if err != nil {
		// Not executed: a later redelivery may try again.
		h.seen.Delete(id)
		entry.reply = CommandReply{ID: id, Command: string(cmd.Kind), Message: fmt.Sprintf("not executed: %v", err)}
		close(entry.done)
		return entry.reply
	}

	entry.reply = CommandReply{ID: id, Command: string(cmd.Kind), OK: rep.OK, Message: rep.Message}
	close(entry.done)
	log.Printf("mqtt: command %s (%s): ok=%v %s", id, cmd.Kind, rep.OK, rep.Message)
	return entry.reply
}

// reserve claims id for this delivery. It returns the existing entry and
// false when another delivery holds it.
func (h *CommandHandler) reserve(id string) (*inflight, bool) {
	e := &inflight{done: make(chan struct{})}
	for {
		if h.seen.Add(id, e, cache.DefaultExpiration) == nil {
			return e, true
		}
		if prev, ok := h.seen.Get(id); ok {
			return prev.(*inflight), false
		}
	}
}

func (h *CommandHandler) await(e *inflight, id string, cmd feeder.Command) CommandReply {
	t := time.NewTimer(h.timeout)
	defer t.Stop()
	select {
	case <-e.done:
		return e.reply
	case <-t.C:
		return CommandReply{ID: id, Command: string(cmd.Kind), Message: "not executed: still in progress"}
	}
}
