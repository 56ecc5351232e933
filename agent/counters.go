package agent

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Counters holds the pipeline-level MIB counters of spec.md §6, exposed
// both as MIB-readable instrumentation and as prometheus series, per
// SPEC_FULL.md's ambient metrics section — the same discipline as
// usm.Counters.
type Counters struct {
	inPkts              uint64
	outPkts             uint64
	inBadVersions       uint64
	inASNParseErrs      uint64
	unknownSecModels    uint64
	invalidMsgs         uint64
	unknownPDUHandlers  uint64
	delegatedTimeouts   uint64

	pInPkts             prometheus.Counter
	pOutPkts            prometheus.Counter
	pInBadVersions      prometheus.Counter
	pInASNParseErrs     prometheus.Counter
	pUnknownSecModels   prometheus.Counter
	pInvalidMsgs        prometheus.Counter
	pUnknownPDUHandlers prometheus.Counter
	pDelegatedTimeouts  prometheus.Counter
}

// NewCounters registers the pipeline counter series against reg (nil
// disables prometheus registration, e.g. in unit tests).
func NewCounters(reg prometheus.Registerer) *Counters {
	c := &Counters{
		pInPkts:             newCounter(reg, "priot_snmp_in_pkts_total", "SNMP messages received"),
		pOutPkts:            newCounter(reg, "priot_snmp_out_pkts_total", "SNMP messages sent"),
		pInBadVersions:      newCounter(reg, "priot_snmp_in_bad_versions_total", "messages with an unsupported SNMP version"),
		pInASNParseErrs:     newCounter(reg, "priot_snmp_in_asn_parse_errs_total", "messages dropped for malformed BER"),
		pUnknownSecModels:   newCounter(reg, "priot_snmp_unknown_security_models_total", "messages naming an unsupported security model"),
		pInvalidMsgs:        newCounter(reg, "priot_snmp_invalid_msgs_total", "structurally invalid SNMPv3 messages"),
		pUnknownPDUHandlers: newCounter(reg, "priot_snmp_unknown_pdu_handlers_total", "PDUs with no registered handler"),
		pDelegatedTimeouts:  newCounter(reg, "priot_delegated_request_timeouts_total", "delegated requests that exceeded their deadline"),
	}
	return c
}

func newCounter(reg prometheus.Registerer, name, help string) prometheus.Counter {
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
	if reg != nil {
		reg.MustRegister(c)
	}
	return c
}

func (c *Counters) IncInPkts()             { atomic.AddUint64(&c.inPkts, 1); c.pInPkts.Inc() }
func (c *Counters) IncOutPkts()            { atomic.AddUint64(&c.outPkts, 1); c.pOutPkts.Inc() }
func (c *Counters) IncInBadVersions()      { atomic.AddUint64(&c.inBadVersions, 1); c.pInBadVersions.Inc() }
func (c *Counters) IncInASNParseErrs()     { atomic.AddUint64(&c.inASNParseErrs, 1); c.pInASNParseErrs.Inc() }
func (c *Counters) IncUnknownSecModels()   { atomic.AddUint64(&c.unknownSecModels, 1); c.pUnknownSecModels.Inc() }
func (c *Counters) IncInvalidMsgs()        { atomic.AddUint64(&c.invalidMsgs, 1); c.pInvalidMsgs.Inc() }
func (c *Counters) IncUnknownPDUHandlers() { atomic.AddUint64(&c.unknownPDUHandlers, 1); c.pUnknownPDUHandlers.Inc() }
func (c *Counters) IncDelegatedTimeouts()  { atomic.AddUint64(&c.delegatedTimeouts, 1); c.pDelegatedTimeouts.Inc() }

// Snapshot is a point-in-time read of every counter, for the MIB-readable
// view.
type Snapshot struct {
	InPkts             uint64
	OutPkts            uint64
	InBadVersions      uint64
	InASNParseErrs     uint64
	UnknownSecModels   uint64
	InvalidMsgs        uint64
	UnknownPDUHandlers uint64
	DelegatedTimeouts  uint64
}

func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		InPkts:             atomic.LoadUint64(&c.inPkts),
		OutPkts:            atomic.LoadUint64(&c.outPkts),
		InBadVersions:      atomic.LoadUint64(&c.inBadVersions),
		InASNParseErrs:     atomic.LoadUint64(&c.inASNParseErrs),
		UnknownSecModels:   atomic.LoadUint64(&c.unknownSecModels),
		InvalidMsgs:        atomic.LoadUint64(&c.invalidMsgs),
		UnknownPDUHandlers: atomic.LoadUint64(&c.unknownPDUHandlers),
		DelegatedTimeouts:  atomic.LoadUint64(&c.delegatedTimeouts),
	}
}
