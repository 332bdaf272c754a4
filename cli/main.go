package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flashbots/mev-bidder/auction"
	"github.com/flashbots/mev-bidder/common"
	"github.com/flashbots/mev-bidder/config"
	"github.com/flashbots/mev-bidder/server"
	"github.com/flashbots/mev-bidder/signing"
	"github.com/flashbots/mev-bidder/store"
	"github.com/flashbots/mev-bidder/types"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

const (
	// journalSlots is how many slots of submissions the journal keeps
	journalSlots = 7200

	maxMinBidEth = 1000000.0
)

var (
	errInvalidLoglevel = errors.New("invalid loglevel")
	errNegativeBid     = errors.New("please specify a non-negative minimum bid")
	errLargeMinBid     = errors.New("minimum bid is too large, please ensure min-bid is denominated in Ethers")
	errMissingKey      = errors.New("please specify the builder secret key (--builder-secret-key)")
	errInvalidWindow   = errors.New("bid window must open before it closes")
)

var log = logrus.NewEntry(logrus.New())

// Main starts the mev-bidder cli
func Main() {
	cmd := &cli.Command{
		Name:   "mev-bidder",
		Usage:  "bid candidate blocks to mev-boost relays",
		Flags:  flags,
		Action: start,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

func start(ctx context.Context, cmd *cli.Command) error {
	// perhaps only print the version
	if cmd.Bool(versionFlag.Name) {
		fmt.Printf("mev-bidder %s\n", config.Version) //nolint
		return nil
	}

	var err error
	log, err = setupLogging(cmd.Bool(jsonFlag.Name), cmd.Bool(debugFlag.Name), cmd.String(logLevelFlag.Name), cmd.String(logServiceFlag.Name), cmd.Bool(logNoVersionFlag.Name))
	if err != nil {
		return err
	}

	network, err := setupNetwork(cmd.String(customGenesisForkFlag.Name), cmd.Uint(customGenesisTimeFlag.Name), cmd.Bool(sepoliaFlag.Name), cmd.Bool(holeskyFlag.Name))
	if err != nil {
		return err
	}
	log.Infof("using network %s with genesis fork version %s", network.Name, network.GenesisForkVersionHex)

	relayCfg, err := relayFlags{
		configFile:  cmd.String(relayConfigFlag.Name),
		urls:        cmd.StringSlice(relaysFlag.Name),
		authHeader:  cmd.String(relayAuthHeaderFlag.Name),
		disableGzip: cmd.Bool(disableGzipFlag.Name),
	}.relayConfig()
	if err != nil {
		return err
	}
	relayList, err := relayCfg.Resolve()
	if err != nil {
		return err
	}
	relays, err := newEndpoints(relayList, log,
		time.Duration(cmd.Int(timeoutGetValidatorsFlag.Name))*time.Millisecond,
		time.Duration(cmd.Int(timeoutSubmitFlag.Name))*time.Millisecond)
	if err != nil {
		return err
	}
	log.Infof("using %d relays", len(relays))
	for index, endpoint := range relays {
		log.Infof("relay #%d: %s", index+1, endpoint.String())
	}

	skHex := cmd.String(builderSecretKeyFlag.Name)
	if skHex == "" {
		return errMissingKey
	}
	sk, builderPubkey, err := signing.SecretKeyFromHex(skHex)
	if err != nil {
		return err
	}
	log.Infof("builder pubkey: %#x", builderPubkey[:])

	policy := auction.ShadingPolicy{Percent: cmd.Uint(bidShadePercentFlag.Name), Increment: auction.DefaultPolicy.Increment}
	if err := policy.Validate(); err != nil {
		return err
	}
	windowOpen := time.Duration(cmd.Int(bidWindowOpenFlag.Name)) * time.Millisecond
	windowClose := time.Duration(cmd.Int(bidWindowCloseFlag.Name)) * time.Millisecond
	if windowOpen < 0 || windowOpen > windowClose {
		return errInvalidWindow
	}
	minBid, err := setupMinBid(cmd.Float(minBidFlag.Name))
	if err != nil {
		return err
	}
	if !minBid.IsZero() {
		log.Infof("minimum bid: %v eth", cmd.Float(minBidFlag.Name))
	}

	journal, err := setupJournal(cmd.String(datadirFlag.Name))
	if err != nil {
		return err
	}
	defer journal.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := server.NewBidderMetrics(registry)

	coordinator, err := server.NewCoordinator(server.CoordinatorOpts{
		Log:       log,
		Relays:    relays,
		Network:   network,
		SecretKey: sk,
		Metrics:   metrics,
		OnReport: func(report *types.DispatchReport) {
			if err := journal.Put(report); err != nil {
				log.WithError(err).WithField("submissionID", report.ID.String()).Error("could not journal submission")
			}
		},
	})
	if err != nil {
		return err
	}

	engine := auction.NewEngine(coordinator,
		auction.WithLog(log),
		auction.WithPolicy(policy),
		auction.WithWindow(windowOpen, windowClose),
		auction.WithMinBid(minBid),
		auction.WithOnSealedHandler(func(slot uint64, block *types.CandidateBlock, value *uint256.Int) {
			log.WithFields(logrus.Fields{
				"slot":      slot,
				"blockHash": block.Payload.BlockHash.Hex(),
				"value":     value.Dec(),
			}).Debug("sealed bid")
		}),
	)
	coordinator.SetSlotListener(func(slot uint64, slotStart time.Time) {
		engine.StartSlot(slot, slotStart)
		if slot > journalSlots {
			if _, err := journal.Prune(slot - journalSlots); err != nil {
				log.WithError(err).Warn("could not prune submission journal")
			}
		}
	})

	service, err := server.NewBidderService(server.BidderServiceOpts{
		Log:         log,
		ListenAddr:  cmd.String(addrFlag.Name),
		Coordinator: coordinator,
		Engine:      engine,
		Journal:     journal,
		Gatherer:    registry,
	})
	if err != nil {
		return err
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		log.Println("listening on", cmd.String(addrFlag.Name))
		return service.StartHTTPServer()
	})
	eg.Go(func() error {
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigs)

		select {
		case sig := <-sigs:
			log.WithField("signal", sig.String()).Info("signal received, terminating")
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return service.Shutdown(shutdownCtx)
	})
	return eg.Wait()
}

func setupLogging(json, debug bool, logLevel, logService string, logNoVersion bool) (*logrus.Entry, error) {
	entry := logrus.NewEntry(logrus.New())
	entry.Logger.SetOutput(os.Stdout)
	if json {
		entry.Logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		entry.Logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}
	if debug {
		logLevel = "debug"
	}
	if logLevel != "" {
		lvl, err := logrus.ParseLevel(logLevel)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", errInvalidLoglevel, logLevel)
		}
		entry.Logger.SetLevel(lvl)
	}
	if logService != "" {
		entry = entry.WithField("service", logService)
	}

	// Add version to logs and say hello
	if !logNoVersion {
		entry = entry.WithField("version", config.Version)
		entry.Infof("starting mev-bidder")
	} else {
		entry.Infof("starting mev-bidder %s", config.Version)
	}
	entry.Debug("debug logging enabled")
	return entry, nil
}

func setupNetwork(customGenesisFork string, customGenesisTime uint64, sepolia, holesky bool) (common.Network, error) {
	switch {
	case customGenesisFork != "":
		network := common.Network{
			Name:                  "custom",
			GenesisForkVersionHex: customGenesisFork,
			GenesisTime:           customGenesisTime,
		}
		if _, err := network.GenesisForkVersion(); err != nil {
			return common.Network{}, err
		}
		return network, nil
	case sepolia:
		return common.NetworkSepolia, nil
	case holesky:
		return common.NetworkHolesky, nil
	default:
		return common.NetworkMainnet, nil
	}
}

func setupMinBid(minBidEth float64) (*uint256.Int, error) {
	if minBidEth < 0.0 {
		return nil, errNegativeBid
	}
	if minBidEth > maxMinBidEth {
		return nil, errLargeMinBid
	}
	return common.FloatEthTo256Wei(minBidEth)
}

func setupJournal(datadir string) (store.Journal, error) {
	if datadir == "" {
		log.Info("keeping the submission journal in memory")
		return store.NewMemoryJournal(0), nil
	}
	journal, err := store.OpenBoltJournal(datadir)
	if err != nil {
		return nil, err
	}
	log.WithField("datadir", datadir).Info("opened the submission journal")
	return journal, nil
}
