package cli

import (
	"errors"
	"time"

	relayconfig "github.com/flashbots/mev-bidder/config/relay"
	"github.com/flashbots/mev-bidder/relay"
	"github.com/sirupsen/logrus"
)

var errNoRelaysConfigured = errors.New("no relays specified, use --relay or --relay-config")

// relayFlags are the relay settings given on the command line
type relayFlags struct {
	configFile  string
	urls        []string
	authHeader  string
	disableGzip bool
}

// relayConfig merges the relay config file with the relays given by --relay.
// The global auth header and gzip settings apply to the --relay entries only.
func (f relayFlags) relayConfig() (*relayconfig.Config, error) {
	cfg := new(relayconfig.Config)
	if f.configFile != "" {
		fileCfg, err := relayconfig.LoadConfigFile(f.configFile)
		if err != nil {
			return nil, err
		}
		cfg = fileCfg
	}

	for _, url := range f.urls {
		if url == "" {
			continue
		}
		cfg.Relays = append(cfg.Relays, relayconfig.EndpointConfig{
			URL:                 url,
			AuthorizationHeader: f.authHeader,
			DisableGzip:         f.disableGzip,
		})
	}

	if len(cfg.Relays) == 0 {
		return nil, errNoRelaysConfigured
	}
	return cfg, nil
}

// newEndpoints creates an endpoint for every resolved relay
func newEndpoints(list relayconfig.List, log *logrus.Entry, getValidatorsTimeout, submitTimeout time.Duration) ([]*relay.Endpoint, error) {
	endpoints := make([]*relay.Endpoint, 0, len(list))
	for _, cfg := range list {
		endpoint, err := relay.NewEndpoint(relay.EndpointOpts{
			Log:                  log,
			Name:                 cfg.Name,
			URL:                  cfg.URL,
			Group:                cfg.Group(),
			AuthorizationHeader:  cfg.AuthorizationHeader,
			DisableGzip:          cfg.DisableGzip,
			Blacklist:            cfg.Blacklist,
			GetValidatorsTimeout: getValidatorsTimeout,
			SubmitTimeout:        submitTimeout,
		})
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, endpoint)
	}
	return endpoints, nil
}
