package relay

import (
	"sort"
	"strings"
)

// knownRelays maps short names accepted on the command line to mainnet relay URLs.
var knownRelays = map[string]string{
	"ultrasound":           "https://relay.ultrasound.money",
	"bloxroute.max-profit": "https://bloxroute.max-profit.blxrbdn.com",
	"bloxroute.regulated":  "https://bloxroute.regulated.blxrbdn.com",
	"flashbots":            "https://boost-relay.flashbots.net",
	"agnostic":             "https://agnostic-relay.net",
	"gnosis":               "https://agnostic-relay.net",
	"blocknative":          "https://builder-relay-mainnet.blocknative.com",
	"aestus":               "https://aestus.live",
	"edennetwork":          "https://relay.edennetwork.io",
	"securerpc":            "https://mainnet-relay.securerpc.com",
}

// KnownRelayURL returns the URL of a well-known relay by name
func KnownRelayURL(name string) (string, bool) {
	relayURL, ok := knownRelays[strings.ToLower(strings.TrimSpace(name))]
	return relayURL, ok
}

// KnownRelayNames returns the sorted names accepted by KnownRelayURL
func KnownRelayNames() []string {
	names := make([]string, 0, len(knownRelays))
	for name := range knownRelays {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
