// Command dirmgr-bootstrap wires a directory bootstrap Coordinator
// together from a sqlite cache, an HTTP directory client, and a
// fallback circuit manager, then runs it to completion against a
// fresh consensus-flavored directory state. It follows the teacher's
// go-flags command-struct pattern (see flow-ingester/main.go), trimmed
// of the gazette-specific boilerplate this module has no use for.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"

	"github.com/sambacha/mirror-arti/bootstrap"
	"github.com/sambacha/mirror-arti/circuit"
	"github.com/sambacha/mirror-arti/clock"
	"github.com/sambacha/mirror-arti/dirclient"
	"github.com/sambacha/mirror-arti/dirstate"
	"github.com/sambacha/mirror-arti/docid"
	"github.com/sambacha/mirror-arti/store"
	"github.com/sambacha/mirror-arti/store/sqlitestore"
)

// cmdServe is the sole top-level command: run one bootstrap to
// completion (or to a logged ErrCantAdvanceState) and exit.
type cmdServe struct {
	CachePath      string   `long:"cache" description:"path to the sqlite directory cache" default:"dirmgr.sqlite3"`
	DirectoryURL   string   `long:"directory-url" description:"base URL of the directory cache to fetch from" default:"http://127.0.0.1:9030"`
	FallbackRelays []string `long:"fallback-relay" description:"bootstrap-known relay identity, may be repeated" required:"true"`
	Flavor         string   `long:"flavor" description:"consensus flavor to bootstrap (ns or microdesc)" default:"microdesc"`
	LogLevel       string   `long:"log-level" description:"logrus level name" default:"info"`
}

func (c *cmdServe) flavor() (docid.Flavor, error) {
	switch c.Flavor {
	case "ns":
		return docid.FlavorNS, nil
	case "microdesc":
		return docid.FlavorMicrodesc, nil
	default:
		return 0, fmt.Errorf("unknown --flavor %q, want \"ns\" or \"microdesc\"", c.Flavor)
	}
}

func (c *cmdServe) Execute(_ []string) error {
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return fmt.Errorf("parsing --log-level: %w", err)
	}
	log.SetLevel(level)

	flavor, err := c.flavor()
	if err != nil {
		return err
	}

	st, err := sqlitestore.Open(c.CachePath)
	if err != nil {
		return fmt.Errorf("opening cache: %w", err)
	}
	defer st.Close()

	// The coordinator drives loads and downloads from several goroutines
	// at once; store.Locked serializes every call through a single
	// mutex so sqlitestore never sees concurrent access.
	lockedStore := store.NewLocked(st)

	client := dirclient.NewHTTPClient(c.DirectoryURL)
	mgr := circuit.NewFallbackManager(c.FallbackRelays, 256)

	cfg := bootstrap.DefaultConfig()
	cfg.FallbackRelays = c.FallbackRelays

	coord, err := bootstrap.NewCoordinator(lockedStore, client, clock.System{}, mgr, cfg)
	if err != nil {
		return fmt.Errorf("building coordinator: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-signalCh
		log.WithField("signal", sig).Info("caught signal, stopping bootstrap")
		coord.Close()
		cancel()
	}()

	go func() {
		for status := range coord.Status() {
			log.WithFields(log.Fields{
				"phase":    status.Description,
				"fraction": status.Fraction,
			}).Info("bootstrap progress")
		}
	}()

	go func() {
		<-coord.Usable()
		log.Info("directory state is usable")
	}()

	log.WithFields(log.Fields{
		"cache":     c.CachePath,
		"directory": c.DirectoryURL,
		"flavor":    flavor,
		"relays":    c.FallbackRelays,
	}).Info("starting dirmgr-bootstrap")

	start := time.Now()
	final, err := coord.Run(ctx, dirstate.NewBootstrap(flavor))
	if err != nil {
		log.WithError(err).WithField("state", final.Describe()).Error("bootstrap did not complete")
		return err
	}

	log.WithFields(log.Fields{
		"state":    final.Describe(),
		"duration": time.Since(start),
	}).Info("bootstrap complete")
	return nil
}

func main() {
	parser := flags.NewParser(nil, flags.Default)
	parser.ShortDescription = "directory bootstrap and maintenance engine"
	parser.LongDescription = "Bootstraps and maintains a local directory cache by driving a DirState to completion over HTTP, falling back to the network only for what the cache cannot already supply."

	if _, err := parser.AddCommand("serve", "Run a bootstrap to completion", `
Run a single directory bootstrap, draining the local cache before falling
back to the network for whatever it cannot supply, until the directory
state is Complete (via SIGTERM to stop early).
`, &cmdServe{}); err != nil {
		log.WithError(err).Fatal("failed to register serve command")
	}

	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
}
