package cli

import (
	"github.com/flashbots/mev-bidder/auction"
	"github.com/flashbots/mev-bidder/relay"
	"github.com/urfave/cli/v3"
)

const (
	LoggingCategory = "LOGGING AND DEBUGGING"
	GenesisCategory = "GENESIS"
	RelayCategory   = "RELAYS"
	BiddingCategory = "BIDDING"
	GeneralCategory = "GENERAL"
)

var flags = []cli.Flag{
	// general
	addrFlag,
	versionFlag,
	datadirFlag,
	// logging
	jsonFlag,
	debugFlag,
	logLevelFlag,
	logServiceFlag,
	logNoVersionFlag,
	// genesis
	customGenesisForkFlag,
	customGenesisTimeFlag,
	mainnetFlag,
	sepoliaFlag,
	holeskyFlag,
	// relay
	relaysFlag,
	relayConfigFlag,
	relayAuthHeaderFlag,
	disableGzipFlag,
	timeoutGetValidatorsFlag,
	timeoutSubmitFlag,
	// bidding
	builderSecretKeyFlag,
	bidShadePercentFlag,
	bidWindowOpenFlag,
	bidWindowCloseFlag,
	minBidFlag,
}

var (
	// General
	addrFlag = &cli.StringFlag{
		Name:     "addr",
		Sources:  cli.EnvVars("BIDDER_LISTEN_ADDR"),
		Value:    "localhost:18551",
		Usage:    "listen-address for the mev-bidder server",
		Category: GeneralCategory,
	}
	versionFlag = &cli.BoolFlag{
		Name:     "version",
		Usage:    "print version",
		Category: GeneralCategory,
	}
	datadirFlag = &cli.StringFlag{
		Name:     "datadir",
		Sources:  cli.EnvVars("BIDDER_DATADIR"),
		Usage:    "directory of the persistent submission journal, kept in memory if empty",
		Category: GeneralCategory,
	}
	// Logging and debugging
	jsonFlag = &cli.BoolFlag{
		Name:     "json",
		Sources:  cli.EnvVars("LOG_JSON"),
		Usage:    "log in JSON format instead of text",
		Category: LoggingCategory,
	}
	debugFlag = &cli.BoolFlag{
		Name:     "debug",
		Sources:  cli.EnvVars("DEBUG"),
		Usage:    "shorthand for '--loglevel debug'",
		Category: LoggingCategory,
	}
	logLevelFlag = &cli.StringFlag{
		Name:     "loglevel",
		Sources:  cli.EnvVars("LOG_LEVEL"),
		Value:    "info",
		Usage:    "minimum loglevel: trace, debug, info, warn/warning, error, fatal, panic",
		Category: LoggingCategory,
	}
	logServiceFlag = &cli.StringFlag{
		Name:     "log-service",
		Sources:  cli.EnvVars("LOG_SERVICE_TAG"),
		Value:    "",
		Usage:    "add a 'service=...' tag to all log messages",
		Category: LoggingCategory,
	}
	logNoVersionFlag = &cli.BoolFlag{
		Name:     "log-no-version",
		Sources:  cli.EnvVars("DISABLE_LOG_VERSION"),
		Usage:    "disables adding the version to every log entry",
		Category: LoggingCategory,
	}
	// Genesis Flags
	customGenesisForkFlag = &cli.StringFlag{
		Name:     "genesis-fork-version",
		Sources:  cli.EnvVars("GENESIS_FORK_VERSION"),
		Usage:    "use a custom genesis fork version",
		Category: GenesisCategory,
	}
	customGenesisTimeFlag = &cli.UintFlag{
		Name:     "genesis-timestamp",
		Sources:  cli.EnvVars("GENESIS_TIMESTAMP"),
		Usage:    "use a custom genesis timestamp (unix seconds)",
		Category: GenesisCategory,
	}
	mainnetFlag = &cli.BoolFlag{
		Name:     "mainnet",
		Sources:  cli.EnvVars("MAINNET"),
		Usage:    "use Mainnet",
		Value:    true,
		Category: GenesisCategory,
	}
	sepoliaFlag = &cli.BoolFlag{
		Name:     "sepolia",
		Sources:  cli.EnvVars("SEPOLIA"),
		Usage:    "use Sepolia",
		Category: GenesisCategory,
	}
	holeskyFlag = &cli.BoolFlag{
		Name:     "holesky",
		Sources:  cli.EnvVars("HOLESKY"),
		Usage:    "use Holesky",
		Category: GenesisCategory,
	}
	// Relay
	relaysFlag = &cli.StringSliceFlag{
		Name:     "relay",
		Aliases:  []string{"relays"},
		Sources:  cli.EnvVars("RELAYS"),
		Usage:    "relay urls or known relay names - single entry or comma-separated list",
		Category: RelayCategory,
	}
	relayConfigFlag = &cli.StringFlag{
		Name:     "relay-config",
		Sources:  cli.EnvVars("RELAY_CONFIG"),
		Usage:    "path to a JSON relay configuration file",
		Category: RelayCategory,
	}
	relayAuthHeaderFlag = &cli.StringFlag{
		Name:     "relay-auth-header",
		Sources:  cli.EnvVars("RELAY_AUTH_HEADER"),
		Usage:    "authorization header sent to relays given with --relay",
		Category: RelayCategory,
	}
	disableGzipFlag = &cli.BoolFlag{
		Name:     "disable-gzip",
		Sources:  cli.EnvVars("DISABLE_GZIP"),
		Usage:    "send uncompressed submissions to relays given with --relay",
		Category: RelayCategory,
	}
	timeoutGetValidatorsFlag = &cli.IntFlag{
		Name:     "request-timeout-getvalidators",
		Sources:  cli.EnvVars("RELAY_TIMEOUT_MS_GETVALIDATORS"),
		Usage:    "timeout for getValidators requests to the relay [ms]",
		Value:    relay.DefaultGetValidatorsTimeout.Milliseconds(),
		Category: RelayCategory,
	}
	timeoutSubmitFlag = &cli.IntFlag{
		Name:     "request-timeout-submit",
		Sources:  cli.EnvVars("RELAY_TIMEOUT_MS_SUBMIT"),
		Usage:    "timeout for block submissions to the relay [ms]",
		Value:    relay.DefaultSubmitTimeout.Milliseconds(),
		Category: RelayCategory,
	}
	// Bidding
	builderSecretKeyFlag = &cli.StringFlag{
		Name:     "builder-secret-key",
		Sources:  cli.EnvVars("BUILDER_SECRET_KEY"),
		Usage:    "hex-encoded BLS secret key the bids are signed with",
		Category: BiddingCategory,
	}
	bidShadePercentFlag = &cli.UintFlag{
		Name:     "bid-shade-percent",
		Sources:  cli.EnvVars("BID_SHADE_PERCENT"),
		Usage:    "share of the surplus over the best known bid added to it [1-100]",
		Value:    auction.DefaultPolicy.Percent,
		Category: BiddingCategory,
	}
	bidWindowOpenFlag = &cli.IntFlag{
		Name:     "bid-window-open-ms",
		Sources:  cli.EnvVars("BID_WINDOW_OPEN_MS"),
		Usage:    "time into the slot at which bidding starts [ms]",
		Value:    auction.DefaultWindowOpen.Milliseconds(),
		Category: BiddingCategory,
	}
	bidWindowCloseFlag = &cli.IntFlag{
		Name:     "bid-window-close-ms",
		Sources:  cli.EnvVars("BID_WINDOW_CLOSE_MS"),
		Usage:    "time into the slot at which bidding stops [ms]",
		Value:    auction.DefaultWindowClose.Milliseconds(),
		Category: BiddingCategory,
	}
	minBidFlag = &cli.FloatFlag{
		Name:     "min-bid",
		Sources:  cli.EnvVars("MIN_BID_ETH"),
		Usage:    "floor of the first bid in every slot [eth]",
		Category: BiddingCategory,
	}
)
