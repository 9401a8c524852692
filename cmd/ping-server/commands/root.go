package commands

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/skycoin/skycoin/src/util/logging"
	"github.com/spf13/cobra"

	"github.com/watercompany/pingmesh/pkg/actor"
	"github.com/watercompany/pingmesh/pkg/cipher"
	"github.com/watercompany/pingmesh/pkg/mesh"
	"github.com/watercompany/pingmesh/pkg/wsbridge"
)

const logLevelEnv = "PING_LOG_LEVEL"

const shutdownTimeout = 10 * time.Second

var log = logging.MustGetLogger("ping-server")

var (
	p2pAddr   string
	httpAddr  string
	staticDir string
	skFile    string
)

var rootCmd = &cobra.Command{
	Use:   "ping-server",
	Short: "Serves the ping handler over the mesh and WebSocket transports",
	Run: func(_ *cobra.Command, _ []string) {
		setLogLevel()
		run()
	},
}

func init() {
	rootCmd.Flags().StringVar(&p2pAddr, "p2p-addr", "/ip4/0.0.0.0/tcp/36341", "mesh listen multiaddress")
	rootCmd.Flags().StringVar(&httpAddr, "http-addr", "127.0.0.1:8080", "HTTP bind address")
	rootCmd.Flags().StringVar(&staticDir, "static-dir", "", "extra assets served under /static/ (default: disabled)")
	rootCmd.Flags().StringVar(&skFile, "sk-file", "", "secret key file; generated when missing (default: ephemeral key)")
}

// Execute executes root CLI command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func run() {
	log.Info("Starting ping server...")

	sk, err := loadSecKey(skFile)
	if err != nil {
		log.WithError(err).Fatal("Failed to load secret key")
	}

	node, err := mesh.New(mesh.Config{SecKey: sk})
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize mesh node")
	}
	defer node.Close() //nolint:errcheck

	log.Infof("Server peer ID: %s", node.Local())

	node.OnEvent(func(ev mesh.Event) {
		switch ev.Kind {
		case mesh.EventNewListenAddr:
			log.Infof("Listening on %s", ev.Addr)
			log.Infof("Connection string: %s", ev.Addr)
		case mesh.EventConnUp:
			log.Infof("Client connected: %s", ev.PK)
		case mesh.EventConnDown:
			log.Infof("Client disconnected: %s", ev.PK)
		case mesh.EventRegistryUpdate:
			log.WithField("name", ev.Record.Name).Debug("Registry updated")
		}
	})

	if _, err := node.Listen(p2pAddr); err != nil {
		log.WithError(err).Fatal("Failed to listen on mesh address")
	}

	ref := actor.SpawnPing()
	if err := node.Register(actor.RegisteredName, ref, actor.TypeName, actor.TypeID); err != nil {
		log.WithError(err).Error("Failed to register ping handler; it is unreachable by name")
	} else {
		log.Info("Ping handler registered successfully")
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		sig := <-ch
		log.Infof("Received signal %s, shutting down...", sig)
		cancel()
	}()

	bridge := wsbridge.New(ref, wsbridge.Config{
		HTTPAddr:  httpAddr,
		StaticDir: staticDir,
		PeerID:    node.Local().Hex(),
	})
	if err := bridge.Run(ctx); err != nil && ctx.Err() == nil {
		log.WithError(err).Fatal("HTTP server failed")
	}

	node.RetractAll()

	drainCtx, drainCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer drainCancel()
	if err := ref.Drain(drainCtx); err != nil {
		log.WithError(err).Warn("Mailbox drain timed out")
	}
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

// loadSecKey reads the identity key from path, creating it on first use.
// An empty path yields the null key, which makes the node generate an
// ephemeral identity.
func loadSecKey(path string) (cipher.SecKey, error) {
	if path == "" {
		return cipher.SecKey{}, nil
	}

	path, err := homedir.Expand(path)
	if err != nil {
		return cipher.SecKey{}, err
	}

	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		_, sk := cipher.GenerateKeyPair()
		if err := os.WriteFile(path, []byte(sk.Hex()+"\n"), 0600); err != nil {
			return cipher.SecKey{}, err
		}
		log.Infof("Generated new secret key at %s", path)
		return sk, nil
	}
	if err != nil {
		return cipher.SecKey{}, err
	}

	var sk cipher.SecKey
	if err := sk.Set(strings.TrimSpace(string(b))); err != nil {
		return cipher.SecKey{}, err
	}
	return sk, nil
}
