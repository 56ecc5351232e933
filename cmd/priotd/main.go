// Command priotd is a minimal demonstration agent: it loads a bootstrap
// configuration, wires an agent.Engine to one or more datagram
// transports, and serves prometheus metrics, in the teacher's cmd/iecat
// tradition. It is not a production-grade SNMP daemon — see
// SPEC_FULL.md's Non-goals.
package main

import (
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"github.com/duniansampa/priot/agent"
	"github.com/duniansampa/priot/ber"
	"github.com/duniansampa/priot/config"
	"github.com/duniansampa/priot/mp"
	"github.com/duniansampa/priot/rowstatus"
	"github.com/duniansampa/priot/transport"
	"github.com/duniansampa/priot/usm"
	"github.com/duniansampa/priot/vacm"
)

var (
	configFlag = flag.StringP("config", "c", "priotd.yaml", "Bootstrap configuration `file`.")
	verboseFlag = flag.BoolP("verbose", "v", false, "Enable debug-level logging.")
)

var log = logrus.New()

func main() {
	flag.Parse()
	log.SetOutput(os.Stderr)
	if *verboseFlag {
		log.SetLevel(logrus.DebugLevel)
		agent.Trace = true
	}

	boot, err := config.Load(*configFlag)
	if err != nil {
		log.WithError(err).Fatal("priotd: cannot load configuration")
	}

	reg := prometheus.NewRegistry()
	eng, err := agent.NewEngine(agent.Config{
		EngineID:   boot.EngineID,
		CacheSize:  boot.CacheSize,
		Registerer: reg,
		Log:        log,
	})
	if err != nil {
		log.WithError(err).Fatal("priotd: cannot start engine")
	}

	if err := loadUsers(eng, boot); err != nil {
		log.WithError(err).Fatal("priotd: cannot load USM users")
	}
	if err := loadVACM(eng, boot); err != nil {
		log.WithError(err).Fatal("priotd: cannot load VACM tables")
	}
	for _, name := range boot.Contexts {
		eng.Contexts.Add(name)
	}

	if boot.MetricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(boot.MetricsListen, mux); err != nil {
				log.WithError(err).Warn("priotd: metrics listener stopped")
			}
		}()
		log.WithField("addr", boot.MetricsListen).Info("priotd: serving metrics")
	}

	var closers []func()
	for _, l := range boot.Listeners {
		t, closer, err := listen(l)
		if err != nil {
			log.WithError(err).Fatalf("priotd: cannot listen on %s %s", l.Transport, l.Addr)
		}
		closers = append(closers, closer)
		go serve(eng, l.Transport, t)
		log.WithFields(logrus.Fields{"transport": l.Transport, "addr": l.Addr}).Info("priotd: listening")
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	sig := <-signals
	log.WithField("signal", sig).Info("priotd: shutting down")
	for _, closer := range closers {
		closer()
	}
}

func listen(l config.Listener) (*transport.Transport, func(), error) {
	switch l.Transport {
	case "tcp":
		t, ln, err := transport.TCP(l.Addr, log)
		if err != nil {
			return nil, nil, err
		}
		return t, func() { ln.Close() }, nil
	default:
		t, conn, err := transport.UDP(l.Addr, log)
		if err != nil {
			return nil, nil, err
		}
		return t, func() { conn.Close() }, nil
	}
}

// serve drains one transport's inbound datagrams into the engine,
// naming each peer's session after its address string, until the
// transport's In channel closes.
func serve(eng *agent.Engine, name string, t *transport.Transport) {
	for {
		select {
		case dgram, ok := <-t.In:
			if !ok {
				return
			}
			peer := dgram.Addr.String()
			sess := eng.Session(peer, responder(t, dgram.Addr))
			if err := eng.Process(sess, dgram.Payload); err != nil {
				log.WithError(err).WithField("peer", peer).Debug("priotd: request dropped")
			}

		case err, ok := <-t.Err:
			if !ok {
				return
			}
			log.WithError(err).WithField("transport", name).Warn("priotd: transport error")
		}
	}
}

func responder(t *transport.Transport, addr net.Addr) func([]byte) error {
	return func(payload []byte) error {
		out := transport.NewOutbound(addr, payload)
		t.Out <- out
		return <-out.Done
	}
}

func loadUsers(eng *agent.Engine, boot *config.Bootstrap) error {
	for _, u := range boot.Users {
		authProto, err := parseAuthProtocol(u.AuthProtocol)
		if err != nil {
			return fmt.Errorf("user %s: %w", u.Name, err)
		}
		privProto, err := parsePrivProtocol(u.PrivProtocol)
		if err != nil {
			return fmt.Errorf("user %s: %w", u.Name, err)
		}
		user, err := usm.NewUser(boot.EngineID, u.Name, authProto, u.AuthPassword, privProto, u.PrivPassword)
		if err != nil {
			return fmt.Errorf("user %s: %w", u.Name, err)
		}
		user.Row.Set(rowstatus.CreateAndGo, true)
		eng.Users.Put(user)
	}
	return nil
}

func parseAuthProtocol(s string) (usm.AuthProtocol, error) {
	switch s {
	case "", "none":
		return usm.AuthNone, nil
	case "md5":
		return usm.AuthMD5, nil
	case "sha1":
		return usm.AuthSHA1, nil
	default:
		return 0, fmt.Errorf("unknown auth protocol %q", s)
	}
}

func parsePrivProtocol(s string) (usm.PrivProtocol, error) {
	switch s {
	case "", "none":
		return usm.PrivNone, nil
	case "des":
		return usm.PrivDES, nil
	case "aes128":
		return usm.PrivAES128, nil
	default:
		return 0, fmt.Errorf("unknown privacy protocol %q", s)
	}
}

func loadVACM(eng *agent.Engine, boot *config.Bootstrap) error {
	for _, g := range boot.Groups {
		row := rowstatus.NewRow()
		row.Set(rowstatus.CreateAndGo, true)
		eng.VACM.PutGroup(&vacm.SecurityToGroupRow{
			SecurityModel: g.SecurityModel,
			SecurityName:  g.SecurityName,
			GroupName:     g.GroupName,
			Row:           row,
		})
	}

	for _, a := range boot.Access {
		level, err := parseSecurityLevel(a.SecurityLevel)
		if err != nil {
			return fmt.Errorf("access row for group %s: %w", a.GroupName, err)
		}
		match := vacm.MatchExact
		if a.ContextMatch == "prefix" {
			match = vacm.MatchPrefix
		}
		row := rowstatus.NewRow()
		row.Set(rowstatus.CreateAndGo, true)
		eng.VACM.PutAccess(&vacm.AccessRow{
			GroupName:     a.GroupName,
			ContextPrefix: a.ContextPrefix,
			ContextMatch:  match,
			SecurityModel: a.SecurityModel,
			SecurityLevel: level,
			ReadView:      a.ReadView,
			WriteView:     a.WriteView,
			NotifyView:    a.NotifyView,
			Row:           row,
		})
	}

	for _, v := range boot.Views {
		subtree, err := ber.ParseOIDString(v.Subtree)
		if err != nil {
			return fmt.Errorf("view %s: %w", v.Name, err)
		}
		mask, err := parseHexMask(v.Mask)
		if err != nil {
			return fmt.Errorf("view %s: %w", v.Name, err)
		}
		row := rowstatus.NewRow()
		row.Set(rowstatus.CreateAndGo, true)
		eng.VACM.PutView(&vacm.ViewTreeFamilyRow{
			ViewName: v.Name,
			Subtree:  subtree,
			Mask:     mask,
			Included: v.Included,
			Row:      row,
		})
	}
	return nil
}

func parseSecurityLevel(s string) (mp.SecurityLevel, error) {
	switch s {
	case "", "noAuthNoPriv":
		return mp.NoAuthNoPriv, nil
	case "authNoPriv":
		return mp.AuthNoPriv, nil
	case "authPriv":
		return mp.AuthPriv, nil
	default:
		return 0, fmt.Errorf("unknown security level %q", s)
	}
}

func parseHexMask(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	out, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("bad hex mask %q: %w", s, err)
	}
	return out, nil
}
