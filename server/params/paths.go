package params

const (
	// Relay API paths consumed by the bidder
	PathGetValidators = "/relay/v1/builder/validators"
	PathSubmitBlock   = "/relay/v1/builder/blocks"

	// Bidder API paths
	PathStatus            = "/bidder/v1/status"
	PathPayloadAttributes = "/bidder/v1/payload_attributes"
	PathBlocks            = "/bidder/v1/blocks"
	PathBids              = "/bidder/v1/bids"
	PathSubmissions       = "/bidder/v1/submissions"
	PathMetrics           = "/metrics"
)
