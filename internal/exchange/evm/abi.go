package evm

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Only the methods the trade core touches are declared.

const oracleABIJSON = `[
  {"type":"function","name":"latestRoundData","stateMutability":"view","inputs":[],
   "outputs":[
     {"name":"roundId","type":"uint80"},
     {"name":"answer","type":"int256"},
     {"name":"startedAt","type":"uint256"},
     {"name":"updatedAt","type":"uint256"},
     {"name":"answeredInRound","type":"uint80"}]}
]`

const erc20ABIJSON = `[
  {"type":"function","name":"allowance","stateMutability":"view",
   "inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"balanceOf","stateMutability":"view",
   "inputs":[{"name":"account","type":"address"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"approve","stateMutability":"nonpayable",
   "inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],
   "outputs":[{"name":"","type":"bool"}]}
]`

const exchangeABIJSON = `[
  {"type":"function","name":"getSwapFee","stateMutability":"view",
   "inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"placeOrder","stateMutability":"nonpayable",
   "inputs":[{"name":"from","type":"address"},{"name":"fromAmount","type":"uint256"},{"name":"to","type":"address"}],
   "outputs":[]},
  {"type":"function","name":"settleOrder","stateMutability":"nonpayable","inputs":[],"outputs":[]}
]`

var (
	oracleABI   = mustParseABI(oracleABIJSON)
	erc20ABI    = mustParseABI(erc20ABIJSON)
	exchangeABI = mustParseABI(exchangeABIJSON)
)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}

// OracleABI returns the parsed price oracle ABI.
func OracleABI() abi.ABI { return oracleABI }

// ERC20ABI returns the parsed token ABI.
func ERC20ABI() abi.ABI { return erc20ABI }

// ExchangeABI returns the parsed exchange contract ABI.
func ExchangeABI() abi.ABI { return exchangeABI }
