package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/skycoin/skycoin/src/util/logging"
	"github.com/spf13/cobra"

	"github.com/watercompany/pingmesh/internal/netutil"
	"github.com/watercompany/pingmesh/pkg/actor"
	"github.com/watercompany/pingmesh/pkg/mesh"
	"github.com/watercompany/pingmesh/pkg/ping"
)

const logLevelEnv = "PING_LOG_LEVEL"

const (
	pingCount    = 10
	pingInterval = time.Second
	lookupRetry  = 3 * time.Second
	dialTimeout  = 30 * time.Second
)

var log = logging.MustGetLogger("ping-client")

var serverAddr string

var rootCmd = &cobra.Command{
	Use:   "ping-client",
	Short: "Dials a ping server over the mesh and runs the ping sequence",
	Run: func(_ *cobra.Command, _ []string) {
		setLogLevel()
		run()
	},
}

func init() {
	rootCmd.Flags().StringVarP(&serverAddr, "server", "s", "",
		"server multiaddress, e.g. /ip4/127.0.0.1/tcp/36341/p2p/<peer-id>")
}

// Execute executes root CLI command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func run() {
	log.Info("Starting ping client...")

	if serverAddr == "" {
		log.Fatal(`usage: ping-client --server "/ip4/IP/tcp/PORT/p2p/PEER_ID"`)
	}

	node, err := mesh.New(mesh.Config{})
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize mesh node")
	}
	defer node.Close() //nolint:errcheck

	log.Infof("Client peer ID: %s", node.Local())

	if _, err := node.Listen("/ip4/0.0.0.0/tcp/0"); err != nil {
		log.WithError(err).Fatal("Failed to listen")
	}

	dialCtx, dialCancel := context.WithTimeout(context.Background(), dialTimeout)
	defer dialCancel()

	remote, err := node.Dial(dialCtx, serverAddr)
	if err != nil {
		log.WithError(err).Fatal("Failed to dial server")
	}
	log.Infof("Connected to %s", remote)

	// The registry converges shortly after the connection is up; retry the
	// lookup instead of sleeping for a fixed window.
	log.Info("Looking for ping handler...")
	var handle *mesh.RemoteHandle
	retrier := netutil.NewRetrier(lookupRetry, 0, 1)
	err = retrier.Do(context.Background(), func() error {
		h, ok := node.Lookup(actor.RegisteredName)
		if !ok {
			return mesh.ErrNotFound
		}
		handle = h
		return nil
	})
	if err != nil {
		log.WithError(err).Fatal("Lookup failed")
	}
	log.Info("Found ping handler!")

	log.Info("Starting ping-pong sequence...")
	start := time.Now()

	for i := 1; i <= pingCount; i++ {
		req := ping.Ping{
			Message:  fmt.Sprintf("Hello from CLI client #%d", i),
			Sequence: uint64(i),
		}

		log.Infof("Sending PING #%d", i)
		pong, err := handle.Ask(context.Background(), actor.TypeName, actor.TypeID, req)
		if err != nil {
			log.WithError(err).Error("Ping failed")
		} else {
			log.Infof("Received PONG #%d (total: %d)", pong.Sequence, pong.TotalPings)
		}

		if i < pingCount {
			time.Sleep(pingInterval)
		}
	}

	elapsed := time.Since(start)
	log.Infof("Complete! Total: %s, Avg: %s", elapsed, elapsed/pingCount)
}

func setLogLevel() {
	lvlStr, ok := os.LookupEnv(logLevelEnv)
	if !ok {
		return
	}
	lvl, err := logging.LevelFromString(lvlStr)
	if err != nil {
		log.WithError(err).Fatalf("Invalid %s", logLevelEnv)
	}
	logging.SetLevel(lvl)
}
