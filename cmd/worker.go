package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/cwbudde/ravenroost/internal/comm"
	"github.com/cwbudde/ravenroost/internal/config"
	"github.com/cwbudde/ravenroost/internal/engine"
	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/spf13/cobra"
)

var (
	natsURL     string
	natsPrefix  string
	workerRank  int
	workerSize  int
	workerRunID string
	embedNATS   bool
	joinTimeout time.Duration
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run one rank of a multi-process world over NATS",
	Long: `Starts rank --rank of a world of --size processes. Every process of a run
must use the same --run-id and NATS server. Rank 0 reads the configuration,
broadcasts it to the other ranks and writes the outputs.

With --embed-nats, rank 0 starts a NATS server on the host and port of
--nats-url, so a run needs no external broker.`,
	Args: cobra.NoArgs,
	RunE: runWorker,
}

func init() {
	config.RegisterFlags(workerCmd.Flags())
	workerCmd.Flags().StringVar(&natsURL, "nats-url", "nats://127.0.0.1:4222", "NATS server URL")
	workerCmd.Flags().StringVar(&natsPrefix, "nats-prefix", "ravenroost", "NATS subject prefix")
	workerCmd.Flags().IntVar(&workerRank, "rank", envInt("RAVENROOST_RANK", 0), "Rank of this process")
	workerCmd.Flags().IntVar(&workerSize, "size", envInt("RAVENROOST_SIZE", 1), "Number of processes")
	workerCmd.Flags().StringVar(&workerRunID, "run-id", os.Getenv("RAVENROOST_RUN_ID"), "Run identifier shared by every rank (required)")
	workerCmd.Flags().BoolVar(&embedNATS, "embed-nats", false, "Start an embedded NATS server on rank 0")
	workerCmd.Flags().DurationVar(&joinTimeout, "join-timeout", time.Minute, "How long to wait for every rank to join")
	rootCmd.AddCommand(workerCmd)
}

func envInt(key string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return def
}

func runWorker(cmd *cobra.Command, args []string) error {
	if workerRunID == "" {
		return fmt.Errorf("--run-id is required")
	}
	log := rankLogger(workerRank)

	// Only rank 0's view of the flags matters; it is broadcast below.
	var cfg config.Config
	if workerRank == comm.Root {
		var err error
		if cfg, err = loadConfig(cmd); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if embedNATS && workerRank == comm.Root {
		ns, err := startEmbeddedNATS(natsURL)
		if err != nil {
			return err
		}
		defer ns.Shutdown()
	}

	joinCtx, cancel := context.WithTimeout(ctx, joinTimeout)
	t, err := comm.DialNATS(joinCtx, comm.NATSConfig{
		URL:    natsURL,
		Prefix: natsPrefix,
		RunID:  workerRunID,
		Rank:   workerRank,
		Size:   workerSize,
	})
	cancel()
	if err != nil {
		return err
	}
	c := comm.New(t)
	defer c.Close()

	res, err := runRank(ctx, c, cfg, log)
	if err != nil {
		c.Abort(err)
		return err
	}
	if c.Rank() != comm.Root {
		return nil
	}
	// The config may have been completed by the broadcast.
	if err := saveOutputs(res.cfg, workerRunID, res.Result); err != nil {
		return err
	}
	printResult(cmd, workerRunID, res.Result)
	return nil
}

type rankResult struct {
	engine.Result
	cfg config.Config
}

func runRank(ctx context.Context, c *comm.Comm, cfg config.Config, log *slog.Logger) (rankResult, error) {
	cfg, err := config.Broadcast(ctx, c, cfg)
	if err != nil {
		return rankResult{}, err
	}

	rec, closeRec, err := openRecorder(cfg, workerRunID, c.Rank())
	if err != nil {
		return rankResult{}, err
	}
	defer closeRec()

	opts := []engine.Option{engine.WithRunID(workerRunID), engine.WithLogger(log)}
	if rec != nil {
		opts = append(opts, engine.WithRecorder(rec))
	}
	res, err := engine.Launch(ctx, cfg, c, opts...)
	if err != nil {
		return rankResult{}, err
	}
	return rankResult{Result: res, cfg: cfg}, nil
}

// startEmbeddedNATS runs a NATS server listening on the address of rawURL.
func startEmbeddedNATS(rawURL string) (*natsserver.Server, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid NATS URL: %w", err)
	}
	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		return nil, fmt.Errorf("NATS URL needs host:port: %w", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid NATS port %q: %w", portStr, err)
	}

	ns, err := natsserver.NewServer(&natsserver.Options{Host: host, Port: port, NoSigs: true})
	if err != nil {
		return nil, fmt.Errorf("failed to create NATS server: %w", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("embedded NATS server on %s not ready", u.Host)
	}
	slog.Info("Embedded NATS server started", "addr", ns.Addr())
	return ns, nil
}
