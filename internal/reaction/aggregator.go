package reaction

import (
	"errors"
	"log"
	"maps"
	"sync"

	"github.com/npezzotti/gochat-sync/internal/types"
	"github.com/teris-io/shortid"
)

var ErrInvalidKind = errors.New("invalid reaction kind")

// Pending describes an optimistic toggle awaiting the server's answer.
type Pending struct {
	OpId      string
	MessageId int
	Kind      types.ReactionKind
	// Resulting is the viewer's optimistic reaction after the toggle.
	Resulting types.ReactionKind
	prev      state
}

type State struct {
	Counts map[types.ReactionKind]int `json:"counts"`
	Mine   types.ReactionKind         `json:"mine,omitempty"`
}

type state struct {
	counts map[types.ReactionKind]int
	mine   types.ReactionKind
}

type entry struct {
	state
	// lastOp is the newest operation issued for the message. pendingOp is
	// set while that operation awaits an answer.
	lastOp    string
	pendingOp string
}

// Aggregator owns reaction counts and the viewer's own reaction per message.
type Aggregator struct {
	log *log.Logger
	ids *shortid.Shortid

	mu      sync.RWMutex
	entries map[int]*entry
}

func NewAggregator(l *log.Logger) *Aggregator {
	return &Aggregator{
		log:     l,
		ids:     shortid.MustNew(1, shortid.DefaultABC, 2342),
		entries: make(map[int]*entry),
	}
}

func validKind(k types.ReactionKind) bool {
	_, err := types.ParseReactionKind(string(k))
	return err == nil
}

func (a *Aggregator) entryLocked(messageId int) *entry {
	e, ok := a.entries[messageId]
	if !ok {
		e = &entry{state: state{counts: make(map[types.ReactionKind]int)}}
		a.entries[messageId] = e
	}
	return e
}

// Seed records the reaction state a message arrived with. Messages that
// already have an entry keep it.
func (a *Aggregator) Seed(messageId int, counts map[types.ReactionKind]int, mine types.ReactionKind) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.entries[messageId]; ok {
		return
	}

	e := a.entryLocked(messageId)
	for k, n := range counts {
		if validKind(k) {
			e.counts[k] = n
		}
	}
	if validKind(mine) {
		e.mine = mine
	}
}

// Toggle applies the viewer's reaction optimistically.
func (a *Aggregator) Toggle(messageId int, kind types.ReactionKind) (Pending, error) {
	if !validKind(kind) {
		return Pending{}, ErrInvalidKind
	}

	opId, err := a.ids.Generate()
	if err != nil {
		return Pending{}, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	e := a.entryLocked(messageId)
	prev := state{counts: maps.Clone(e.counts), mine: e.mine}

	switch e.mine {
	case kind:
		decr(e.counts, kind)
		e.mine = ""
	case "":
		e.counts[kind]++
		e.mine = kind
	default:
		decr(e.counts, e.mine)
		e.counts[kind]++
		e.mine = kind
	}
	e.lastOp = opId
	e.pendingOp = opId

	return Pending{
		OpId:      opId,
		MessageId: messageId,
		Kind:      kind,
		Resulting: e.mine,
		prev:      prev,
	}, nil
}

func decr(counts map[types.ReactionKind]int, k types.ReactionKind) {
	if counts[k] > 0 {
		counts[k]--
	}
}

// ApplyServerUpdate overwrites counts and the viewer's reaction with the
// server's answer to opId. Answers to any operation other than the newest
// issued one are dropped, even after the newest has been answered. An empty
// opId always applies.
func (a *Aggregator) ApplyServerUpdate(messageId int, opId string, counts map[types.ReactionKind]int, userKind types.ReactionKind) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	e := a.entryLocked(messageId)
	if opId != "" && e.lastOp != "" && opId != e.lastOp {
		a.log.Printf("dropping superseded reaction response %s for message %d", opId, messageId)
		return false
	}

	if userKind != "" && !validKind(userKind) {
		userKind = ""
	}
	e.counts = cleanCounts(counts)
	e.mine = userKind
	e.pendingOp = ""
	return true
}

// Reject restores the state from before p when p is still the latest
// operation on its message.
func (a *Aggregator) Reject(p Pending) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	e, ok := a.entries[p.MessageId]
	if !ok || e.pendingOp != p.OpId {
		return false
	}

	e.counts = p.prev.counts
	e.mine = p.prev.mine
	e.pendingOp = ""
	return true
}

// ApplyRemoteBroadcast replaces shared counts after another viewer reacted.
// The local viewer's reaction is left untouched.
func (a *Aggregator) ApplyRemoteBroadcast(messageId int, counts map[types.ReactionKind]int, kind types.ReactionKind) {
	a.mu.Lock()
	defer a.mu.Unlock()

	e := a.entryLocked(messageId)
	e.counts = cleanCounts(counts)
}

func cleanCounts(counts map[types.ReactionKind]int) map[types.ReactionKind]int {
	out := make(map[types.ReactionKind]int, len(counts))
	for k, n := range counts {
		if !validKind(k) || n < 0 {
			continue
		}
		out[k] = n
	}
	return out
}

func (a *Aggregator) State(messageId int) State {
	a.mu.RLock()
	defer a.mu.RUnlock()

	e, ok := a.entries[messageId]
	if !ok {
		return State{Counts: map[types.ReactionKind]int{}}
	}
	return State{Counts: maps.Clone(e.counts), Mine: e.mine}
}

func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = make(map[int]*entry)
}
