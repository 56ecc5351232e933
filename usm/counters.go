package usm

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Counters is the RFC 3414 §5 usmStats table: one counter per distinct
// USM failure reason, each additionally exposed with discontinuity-time
// semantics (Firmware/Plugin/snmpv3/usmStats_5_5.c resets these alongside
// sysUpTime, and a MIB walk that hid the reset would misreport a steadily
// climbing counter as a healthy one). Counters are also registered with
// prometheus so the agent's /metrics endpoint and its SNMP-readable MIB
// view share one source of truth.
type Counters struct {
	unsupportedSecLevels uint64
	notInTimeWindows     uint64
	unknownUserNames     uint64
	unknownEngineIDs     uint64
	wrongDigests         uint64
	decryptionErrors     uint64

	discontinuity time.Time

	promUnsupportedSecLevels prometheus.Counter
	promNotInTimeWindows     prometheus.Counter
	promUnknownUserNames     prometheus.Counter
	promUnknownEngineIDs     prometheus.Counter
	promWrongDigests         prometheus.Counter
	promDecryptionErrors     prometheus.Counter
}

// NewCounters returns a zeroed Counters with its discontinuity marker set
// to now, optionally registering its prometheus series with reg (pass nil
// to skip registration, e.g. in tests).
func NewCounters(reg prometheus.Registerer) *Counters {
	mk := func(name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "priot",
			Subsystem: "usm",
			Name:      name,
			Help:      help,
		})
		if reg != nil {
			reg.MustRegister(c)
		}
		return c
	}
	return &Counters{
		discontinuity:            time.Now(),
		promUnsupportedSecLevels: mk("unsupported_sec_levels_total", "usmStatsUnsupportedSecLevels"),
		promNotInTimeWindows:     mk("not_in_time_windows_total", "usmStatsNotInTimeWindows"),
		promUnknownUserNames:     mk("unknown_user_names_total", "usmStatsUnknownUserNames"),
		promUnknownEngineIDs:     mk("unknown_engine_ids_total", "usmStatsUnknownEngineIDs"),
		promWrongDigests:         mk("wrong_digests_total", "usmStatsWrongDigests"),
		promDecryptionErrors:     mk("decryption_errors_total", "usmStatsDecryptionErrors"),
	}
}

func (c *Counters) IncUnsupportedSecLevels() {
	atomic.AddUint64(&c.unsupportedSecLevels, 1)
	c.promUnsupportedSecLevels.Inc()
}

func (c *Counters) IncNotInTimeWindows() {
	atomic.AddUint64(&c.notInTimeWindows, 1)
	c.promNotInTimeWindows.Inc()
}

func (c *Counters) IncUnknownUserNames() {
	atomic.AddUint64(&c.unknownUserNames, 1)
	c.promUnknownUserNames.Inc()
}

func (c *Counters) IncUnknownEngineIDs() {
	atomic.AddUint64(&c.unknownEngineIDs, 1)
	c.promUnknownEngineIDs.Inc()
}

func (c *Counters) IncWrongDigests() {
	atomic.AddUint64(&c.wrongDigests, 1)
	c.promWrongDigests.Inc()
}

func (c *Counters) IncDecryptionErrors() {
	atomic.AddUint64(&c.decryptionErrors, 1)
	c.promDecryptionErrors.Inc()
}

// Snapshot is a point-in-time read of every counter plus the
// discontinuity marker, suitable for rendering the usmStats MIB table.
type Snapshot struct {
	UnsupportedSecLevels uint64
	NotInTimeWindows     uint64
	UnknownUserNames     uint64
	UnknownEngineIDs     uint64
	WrongDigests         uint64
	DecryptionErrors     uint64
	Discontinuity        time.Time
}

// Snapshot returns the current counter values.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		UnsupportedSecLevels: atomic.LoadUint64(&c.unsupportedSecLevels),
		NotInTimeWindows:     atomic.LoadUint64(&c.notInTimeWindows),
		UnknownUserNames:     atomic.LoadUint64(&c.unknownUserNames),
		UnknownEngineIDs:     atomic.LoadUint64(&c.unknownEngineIDs),
		WrongDigests:         atomic.LoadUint64(&c.wrongDigests),
		DecryptionErrors:     atomic.LoadUint64(&c.decryptionErrors),
		Discontinuity:        c.discontinuity,
	}
}

// ResetDiscontinuity zeroes every counter and bumps the discontinuity
// marker to now; called when the engine's own sysUpTime resets (restart
// or administrative reload), per Firmware/Plugin/snmpv3/usmStats_5_5.c.
func (c *Counters) ResetDiscontinuity() {
	atomic.StoreUint64(&c.unsupportedSecLevels, 0)
	atomic.StoreUint64(&c.notInTimeWindows, 0)
	atomic.StoreUint64(&c.unknownUserNames, 0)
	atomic.StoreUint64(&c.unknownEngineIDs, 0)
	atomic.StoreUint64(&c.wrongDigests, 0)
	atomic.StoreUint64(&c.decryptionErrors, 0)
	c.discontinuity = time.Now()
}
