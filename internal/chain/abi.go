package chain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const disputeABIJSON = `[
  {"type":"function","name":"submitDispute","stateMutability":"payable",
   "inputs":[{"name":"marketId","type":"uint256"},{"name":"evidenceHash","type":"bytes32"},{"name":"proposedOutcome","type":"uint256"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"claimReward","stateMutability":"nonpayable",
   "inputs":[{"name":"disputeId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"getDispute","stateMutability":"view",
   "inputs":[{"name":"disputeId","type":"uint256"}],
   "outputs":[{"name":"","type":"tuple","components":[
     {"name":"id","type":"uint256"},
     {"name":"marketId","type":"uint256"},
     {"name":"submitter","type":"address"},
     {"name":"evidenceHash","type":"bytes32"},
     {"name":"stake","type":"uint256"},
     {"name":"submittedAt","type":"uint256"},
     {"name":"status","type":"uint8"},
     {"name":"votesFor","type":"uint256"},
     {"name":"votesAgainst","type":"uint256"},
     {"name":"proposedOutcome","type":"uint256"},
     {"name":"aiConfidence","type":"uint256"}]}]},
  {"type":"event","name":"DisputeSubmitted","anonymous":false,"inputs":[
    {"name":"disputeId","type":"uint256","indexed":true},
    {"name":"marketId","type":"uint256","indexed":true},
    {"name":"submitter","type":"address","indexed":true},
    {"name":"evidenceHash","type":"bytes32","indexed":false},
    {"name":"proposedOutcome","type":"uint256","indexed":false}]},
  {"type":"event","name":"DisputeResolved","anonymous":false,"inputs":[
    {"name":"disputeId","type":"uint256","indexed":true},
    {"name":"accepted","type":"bool","indexed":false},
    {"name":"outcome","type":"uint256","indexed":false}]},
  {"type":"event","name":"RewardClaimed","anonymous":false,"inputs":[
    {"name":"disputeId","type":"uint256","indexed":true},
    {"name":"claimer","type":"address","indexed":true},
    {"name":"amount","type":"uint256","indexed":false}]}
]`

const factoryABIJSON = `[
  {"type":"function","name":"getMarket","stateMutability":"view",
   "inputs":[{"name":"marketId","type":"uint256"}],
   "outputs":[
     {"name":"id","type":"uint256"},
     {"name":"question","type":"string"},
     {"name":"creator","type":"address"},
     {"name":"verifiers","type":"address[]"},
     {"name":"threshold","type":"uint256"},
     {"name":"resolutionTime","type":"uint256"},
     {"name":"phase","type":"uint8"},
     {"name":"outcome","type":"uint256"},
     {"name":"revealCount","type":"uint256"},
     {"name":"createdAt","type":"uint256"}]},
  {"type":"function","name":"startCommitPhase","stateMutability":"nonpayable",
   "inputs":[{"name":"marketId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"startRevealPhase","stateMutability":"nonpayable",
   "inputs":[{"name":"marketId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"forceResolveMarket","stateMutability":"nonpayable",
   "inputs":[{"name":"marketId","type":"uint256"}],"outputs":[]},
  {"type":"event","name":"CommitmentSubmitted","anonymous":false,"inputs":[
    {"name":"marketId","type":"uint256","indexed":true},
    {"name":"verifier","type":"address","indexed":true}]},
  {"type":"event","name":"OutcomeRevealed","anonymous":false,"inputs":[
    {"name":"marketId","type":"uint256","indexed":true},
    {"name":"verifier","type":"address","indexed":true},
    {"name":"outcome","type":"uint256","indexed":false}]},
  {"type":"event","name":"MarketResolved","anonymous":false,"inputs":[
    {"name":"marketId","type":"uint256","indexed":true},
    {"name":"outcome","type":"uint256","indexed":false}]},
  {"type":"event","name":"PhaseChanged","anonymous":false,"inputs":[
    {"name":"marketId","type":"uint256","indexed":true},
    {"name":"newPhase","type":"uint8","indexed":false}]}
]`

var (
	disputeABI = mustParseABI("dispute", disputeABIJSON)
	factoryABI = mustParseABI("subjective factory", factoryABIJSON)
)

func mustParseABI(name, def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("chain: parse %s abi: %v", name, err))
	}
	return parsed
}
