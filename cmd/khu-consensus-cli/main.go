// khu-consensus-cli is a command-line client for the governance RPC
// surface exposed by khu-consensusd.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/piv2-project/khu-consensus/internal/rpc"
	"github.com/piv2-project/khu-consensus/internal/rpcclient"
	"github.com/piv2-project/khu-consensus/pkg/types"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	rpcURL := "http://127.0.0.1:9650"
	args := os.Args[1:]
	for len(args) > 0 {
		switch {
		case args[0] == "--rpc" && len(args) > 1:
			rpcURL = args[1]
			args = args[2:]
		case strings.HasPrefix(args[0], "--rpc="):
			rpcURL = args[0][len("--rpc="):]
			args = args[1:]
		default:
			goto dispatch
		}
	}

dispatch:
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	client := rpcclient.New(rpcURL)
	cmd := args[0]
	cmdArgs := args[1:]

	switch cmd {
	case "state":
		cmdState(client, cmdArgs)
	case "commitment":
		cmdCommitment(client, cmdArgs)
	case "dao":
		cmdDao(client, cmdArgs)
	case "domc":
		cmdDomc(client, cmdArgs)
	case "masternode":
		cmdMasternode(client, cmdArgs)
	case "help", "--help", "-h":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: khu-consensus-cli [--rpc <url>] <command> [args]

Commands:
  state [height]                          Show KHU global state (hu.state)
  commitment <height>                     Show state commitment at height
  dao submit <name> <addr> <amount> [desc]
                                          Submit a treasury proposal
  dao vote <proposalHash> <yes|no|abstain>
                                          Vote on a proposal
  domc commit <proposedR>                 Commit to a proposed R_annual
  domc reveal <proposedR> <saltHex>       Reveal a prior commit
  masternode init <proTxHash> <collateralTxid> <collateralIndex> <serviceAddr> <payoutAddr> [mnemonic]
                                          Derive/register a masternode operator identity
  masternode list [eligible|banned]       List masternodes
  masternode status [proTxHash]           Show one masternode's status
`)
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func printJSON(v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fatal("encode output: %v", err)
	}
	fmt.Println(string(data))
}

func cmdState(client *rpcclient.Client, args []string) {
	var params rpc.StateParam
	if len(args) > 0 {
		h, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			fatal("invalid height: %v", err)
		}
		params.Height = &h
	}
	var result interface{}
	if err := client.Call("hu.state", params, &result); err != nil {
		fatal("hu.state: %v", err)
	}
	printJSON(result)
}

func cmdCommitment(client *rpcclient.Client, args []string) {
	if len(args) < 1 {
		fatal("usage: commitment <height>")
	}
	height, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		fatal("invalid height: %v", err)
	}
	var result rpc.CommitmentResult
	if err := client.Call("hu.commitment_at", rpc.CommitmentParam{Height: height}, &result); err != nil {
		fatal("hu.commitment_at: %v", err)
	}
	printJSON(result)
}

func cmdDao(client *rpcclient.Client, args []string) {
	if len(args) < 1 {
		fatal("usage: dao <submit|vote> ...")
	}
	switch args[0] {
	case "submit":
		cmdDaoSubmit(client, args[1:])
	case "vote":
		cmdDaoVote(client, args[1:])
	default:
		fatal("unknown dao subcommand: %s", args[0])
	}
}

func cmdDaoSubmit(client *rpcclient.Client, args []string) {
	if len(args) < 3 {
		fatal("usage: dao submit <name> <addr> <amount> [description]")
	}
	amount, err := strconv.ParseUint(args[2], 10, 64)
	if err != nil {
		fatal("invalid amount: %v", err)
	}
	params := rpc.DaoSubmitParam{
		Name:    args[0],
		Address: args[1],
		Amount:  amount,
	}
	if len(args) > 3 {
		params.Description = strings.Join(args[3:], " ")
	}
	var result rpc.DaoSubmitResult
	if err := client.Call("dao.submit", params, &result); err != nil {
		fatal("dao.submit: %v", err)
	}
	printJSON(result)
}

func cmdDaoVote(client *rpcclient.Client, args []string) {
	if len(args) < 2 {
		fatal("usage: dao vote <proposalHash> <yes|no|abstain>")
	}
	hash, err := types.HexToHash(args[0])
	if err != nil {
		fatal("invalid proposal hash: %v", err)
	}
	params := rpc.DaoVoteParam{ProposalHash: hash, Vote: args[1]}
	var result rpc.DaoVoteResult
	if err := client.Call("dao.vote", params, &result); err != nil {
		fatal("dao.vote: %v", err)
	}
	printJSON(result)
}

func cmdDomc(client *rpcclient.Client, args []string) {
	if len(args) < 1 {
		fatal("usage: domc <commit|reveal> ...")
	}
	switch args[0] {
	case "commit":
		cmdDomcCommit(client, args[1:])
	case "reveal":
		cmdDomcReveal(client, args[1:])
	default:
		fatal("unknown domc subcommand: %s", args[0])
	}
}

func parseProposedR(s string) uint16 {
	v, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		fatal("invalid proposedR: %v", err)
	}
	return uint16(v)
}

func cmdDomcCommit(client *rpcclient.Client, args []string) {
	if len(args) < 1 {
		fatal("usage: domc commit <proposedR>")
	}
	params := rpc.DomcCommitParam{ProposedR: parseProposedR(args[0])}
	var result rpc.DomcCommitResult
	if err := client.Call("domc.commit", params, &result); err != nil {
		fatal("domc.commit: %v", err)
	}
	fmt.Printf("cycleId:    %d\n", result.CycleID)
	fmt.Printf("commitHash: %s\n", result.CommitHash)
	fmt.Printf("salt:       %x\n", result.Salt)
	fmt.Println("(retain the salt above — you must supply it back to domc reveal)")
}

func cmdDomcReveal(client *rpcclient.Client, args []string) {
	if len(args) < 2 {
		fatal("usage: domc reveal <proposedR> <saltHex>")
	}
	saltBytes, err := hexDecode32(args[1])
	if err != nil {
		fatal("invalid salt: %v", err)
	}
	params := rpc.DomcRevealParam{ProposedR: parseProposedR(args[0]), Salt: saltBytes}
	var result rpc.DomcRevealResult
	if err := client.Call("domc.reveal", params, &result); err != nil {
		fatal("domc.reveal: %v", err)
	}
	printJSON(result)
}

func hexDecode32(s string) ([32]byte, error) {
	var out [32]byte
	h, err := types.HexToHash(s)
	if err != nil {
		return out, err
	}
	copy(out[:], h[:])
	return out, nil
}

func cmdMasternode(client *rpcclient.Client, args []string) {
	if len(args) < 1 {
		fatal("usage: masternode <init|list|status> ...")
	}
	switch args[0] {
	case "init":
		cmdMasternodeInit(client, args[1:])
	case "list":
		cmdMasternodeList(client, args[1:])
	case "status":
		cmdMasternodeStatus(client, args[1:])
	default:
		fatal("unknown masternode subcommand: %s", args[0])
	}
}

func cmdMasternodeInit(client *rpcclient.Client, args []string) {
	if len(args) < 5 {
		fatal("usage: masternode init <proTxHash> <collateralTxid> <collateralIndex> <serviceAddr> <payoutAddr> [mnemonic]")
	}
	proTxHash, err := types.HexToHash(args[0])
	if err != nil {
		fatal("invalid proTxHash: %v", err)
	}
	collateralTxid, err := types.HexToHash(args[1])
	if err != nil {
		fatal("invalid collateral txid: %v", err)
	}
	index, err := strconv.ParseUint(args[2], 10, 32)
	if err != nil {
		fatal("invalid collateral index: %v", err)
	}
	params := rpc.MasternodeInitParam{
		ProTxHash:          proTxHash,
		CollateralOutpoint: types.Outpoint{TxID: collateralTxid, Index: uint32(index)},
		ServiceAddr:        args[3],
		PayoutAddress:      args[4],
	}
	if len(args) > 5 {
		params.Mnemonic = strings.Join(args[5:], " ")
	}
	var result rpc.MasternodeInitResult
	if err := client.Call("masternode.init", params, &result); err != nil {
		fatal("masternode.init: %v", err)
	}
	if result.Mnemonic != "" {
		fmt.Println("Generated mnemonic (write this down, it will not be shown again):")
		fmt.Println(result.Mnemonic)
		fmt.Println()
	}
	fmt.Printf("proTxHash:      %s\n", result.ProTxHash)
	fmt.Printf("operatorPubKey: %x\n", result.OperatorPubKey)
}

func cmdMasternodeList(client *rpcclient.Client, args []string) {
	var params rpc.MasternodeListParam
	if len(args) > 0 {
		params.Filter = args[0]
	}
	var result rpc.MasternodeListResult
	if err := client.Call("masternode.list", params, &result); err != nil {
		fatal("masternode.list: %v", err)
	}
	printJSON(result)
}

func cmdMasternodeStatus(client *rpcclient.Client, args []string) {
	var params rpc.MasternodeStatusParam
	if len(args) > 0 {
		h, err := types.HexToHash(args[0])
		if err != nil {
			fatal("invalid proTxHash: %v", err)
		}
		params.ProTxHash = &h
	}
	var result rpc.MasternodeStatusResult
	if err := client.Call("masternode.status", params, &result); err != nil {
		fatal("masternode.status: %v", err)
	}
	printJSON(result)
}
