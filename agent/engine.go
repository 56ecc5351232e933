package agent

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/duniansampa/priot/mp"
	"github.com/duniansampa/priot/registry"
	"github.com/duniansampa/priot/usm"
	"github.com/duniansampa/priot/vacm"
)

// Trace is a switch in the style of the teacher's session.Trace, set by
// cmd/priotd's --verbose flag. Nothing in this package reads it, so it
// turns on no per-varbind tracing.
var Trace = false

// Engine is the explicit context object spec.md §9's redesign note calls
// for: every lower layer (codec, usm, mp, registry, vacm) is wired
// together here, instead of through process-global state. One Engine
// serves one agent instance; tests construct their own Engine rather
// than relying on shared globals.
type Engine struct {
	Registry *registry.Registry
	VACM     *vacm.Tables
	Proc     *mp.Processor
	Users    *usm.Table
	Clock    *usm.Clock
	USM      *usm.Counters
	Counters *Counters
	Contexts *Contexts
	Log      *logrus.Logger

	// DefaultDeadline bounds how long a delegated request may remain
	// outstanding before it fails with genErr, per spec.md §4.6.
	DefaultDeadline time.Duration

	// MaxVarbinds caps a GETBULK response, per spec.md §4.6.
	MaxVarbinds int

	mu       sync.Mutex
	sessions map[string]*Session
}

// Config bundles the construction arguments for NewEngine.
type Config struct {
	EngineID        string
	CacheSize       int
	Registerer      prometheus.Registerer
	Log             *logrus.Logger
	DefaultDeadline time.Duration
	MaxVarbinds     int
}

// NewEngine wires a fresh Engine from config, constructing the USM clock,
// processor, registry, and VACM tables it owns.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Log == nil {
		cfg.Log = logrus.StandardLogger()
	}
	if cfg.DefaultDeadline == 0 {
		cfg.DefaultDeadline = 5 * time.Second
	}
	if cfg.MaxVarbinds == 0 {
		cfg.MaxVarbinds = 1<<16 - 1
	}

	users := usm.NewTable()
	clock := usm.NewClock(1)
	usmCounters := usm.NewCounters(cfg.Registerer)

	proc, err := mp.NewProcessor(cfg.EngineID, clock, users, usmCounters)
	if err != nil {
		return nil, err
	}

	return &Engine{
		Registry:        registry.New(cfg.CacheSize),
		VACM:            vacm.NewTables(),
		Proc:            proc,
		Users:           users,
		Clock:           clock,
		USM:             usmCounters,
		Counters:        NewCounters(cfg.Registerer),
		Contexts:        NewContexts(),
		Log:             cfg.Log,
		DefaultDeadline: cfg.DefaultDeadline,
		MaxVarbinds:     cfg.MaxVarbinds,
		sessions:        make(map[string]*Session),
	}, nil
}

// Session represents one peer conversation: a transport address plus the
// map of requests a handler has delegated but not yet completed.
type Session struct {
	Name string

	// Respond sends an encoded response datagram back to this session's
	// peer; supplied by the transport glue (cmd/priotd or a test).
	Respond func(payload []byte) error

	mu          sync.Mutex
	outstanding map[int32]*DelegatedRequest
}

// NewSession returns a Session named name whose responses are delivered
// through respond.
func NewSession(name string, respond func(payload []byte) error) *Session {
	return &Session{Name: name, Respond: respond, outstanding: make(map[int32]*DelegatedRequest)}
}

// Session returns the named session, creating it if this is the first
// request seen from that peer.
func (e *Engine) Session(name string, respond func(payload []byte) error) *Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.sessions[name]; ok {
		return s
	}
	s := NewSession(name, respond)
	e.sessions[name] = s
	return s
}

// CloseSession drops a session and silently discards every delegated
// request still outstanding on it, per spec.md §4.6's cancellation rule.
func (e *Engine) CloseSession(name string) {
	e.mu.Lock()
	s, ok := e.sessions[name]
	delete(e.sessions, name)
	e.mu.Unlock()
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, dr := range s.outstanding {
		dr.cancel()
		delete(s.outstanding, id)
	}
}
