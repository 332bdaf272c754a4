package main

import (
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/flashbots/go-utils/cli"
	"github.com/flashbots/mev-bidder/common"
	"github.com/flashbots/mev-bidder/server/params"
	"github.com/flashbots/mev-bidder/types"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("service", "cmd/test-cli")

func doPayloadAttributes(bidderEndpoint string, slot uint64) {
	pa := types.PayloadAttributes{
		Slot:      slot,
		Timestamp: uint64(common.NetworkMainnet.SlotStartTime(slot).Add(common.SlotTimeSecMainnet * time.Second).Unix()),
	}
	var resp map[string]any
	if err := sendJSONRequest(http.MethodPost, bidderEndpoint+params.PathPayloadAttributes, pa, &resp); err != nil {
		log.WithError(err).Fatal("could not send payload attributes")
	}
	log.WithField("response", resp).Info("sent payload attributes")
}

func doBlock(bidderEndpoint, blockFile string, slot uint64, valueEth float64) {
	var block *types.CandidateBlock
	var err error
	if blockFile != "" {
		block, err = loadBlock(blockFile)
	} else {
		block, err = newRandomBlock(slot, valueEth)
	}
	if err != nil {
		log.WithError(err).Fatal("could not prepare candidate block")
	}

	var resp map[string]any
	if err := sendJSONRequest(http.MethodPost, bidderEndpoint+params.PathBlocks, block, &resp); err != nil {
		log.WithError(err).Fatal("could not send candidate block")
	}
	log.WithField("blockHash", block.Payload.BlockHash.Hex()).WithField("response", resp).Info("sent candidate block")
}

func doBid(bidderEndpoint string, valueEth float64) {
	value, err := common.FloatEthTo256Wei(valueEth)
	if err != nil {
		log.WithError(err).Fatal("invalid bid value")
	}
	var resp map[string]any
	if err := sendJSONRequest(http.MethodPost, bidderEndpoint+params.PathBids, map[string]any{"value": value}, &resp); err != nil {
		log.WithError(err).Fatal("could not send competing bid")
	}
	log.WithField("response", resp).Info("sent competing bid")
}

func doStatus(bidderEndpoint string) {
	var resp map[string]any
	if err := sendJSONRequest(http.MethodGet, bidderEndpoint+params.PathStatus, nil, &resp); err != nil {
		log.WithError(err).Fatal("could not get status")
	}
	log.WithField("status", resp).Info("got bidder status")
}

func doSubmissions(bidderEndpoint string, slot uint64) {
	uri := bidderEndpoint + params.PathSubmissions
	if slot > 0 {
		uri += "?" + url.Values{"slot": []string{strconv.FormatUint(slot, 10)}}.Encode()
	}
	var resp []*types.DispatchReport
	if err := sendJSONRequest(http.MethodGet, uri, nil, &resp); err != nil {
		log.WithError(err).Fatal("could not get submissions")
	}
	for _, report := range resp {
		log.WithFields(logrus.Fields{
			"id":        report.ID.String(),
			"slot":      report.Slot,
			"blockHash": report.BlockHash.Hex(),
			"value":     report.Value.Dec(),
			"results":   len(report.Results),
		}).Info("submission")
	}
}

func main() {
	attributesCommand := flag.NewFlagSet("attributes", flag.ExitOnError)
	blockCommand := flag.NewFlagSet("block", flag.ExitOnError)
	bidCommand := flag.NewFlagSet("bid", flag.ExitOnError)
	statusCommand := flag.NewFlagSet("status", flag.ExitOnError)
	submissionsCommand := flag.NewFlagSet("submissions", flag.ExitOnError)

	var bidderEndpoint string
	envBidderEndpoint := cli.GetEnv("MEV_BIDDER_ENDPOINT", "http://localhost:18551")
	for _, fs := range []*flag.FlagSet{attributesCommand, blockCommand, bidCommand, statusCommand, submissionsCommand} {
		fs.StringVar(&bidderEndpoint, "mev-bidder", envBidderEndpoint, "mev-bidder endpoint")
	}

	var slot uint64
	attributesCommand.Uint64Var(&slot, "slot", common.NetworkMainnet.SlotAt(time.Now())+1, "slot to start")
	blockCommand.Uint64Var(&slot, "slot", 0, "slot of the generated block")
	submissionsCommand.Uint64Var(&slot, "slot", 0, "slot to list, the current slot if 0")

	var blockFile string
	blockCommand.StringVar(&blockFile, "file", "", "JSON candidate block file, a random block is generated if empty")

	var valueEth float64
	blockCommand.Float64Var(&valueEth, "value", 0.1, "value of the generated block [eth]")
	bidCommand.Float64Var(&valueEth, "value", 0.1, "value of the competing bid [eth]")

	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage of %s [attributes|block|bid|status|submissions]:\n", os.Args[0])
		flag.PrintDefaults()
	}

	if len(os.Args) < 2 {
		flag.Usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "attributes":
		_ = attributesCommand.Parse(os.Args[2:])
		doPayloadAttributes(bidderEndpoint, slot)
	case "block":
		_ = blockCommand.Parse(os.Args[2:])
		doBlock(bidderEndpoint, blockFile, slot, valueEth)
	case "bid":
		_ = bidCommand.Parse(os.Args[2:])
		doBid(bidderEndpoint, valueEth)
	case "status":
		_ = statusCommand.Parse(os.Args[2:])
		doStatus(bidderEndpoint)
	case "submissions":
		_ = submissionsCommand.Parse(os.Args[2:])
		doSubmissions(bidderEndpoint, slot)
	default:
		fmt.Println("Expected attributes|block|bid|status|submissions subcommand")
		os.Exit(1)
	}
}
