package chain

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const vaultABIJSON = `[
  {"inputs": [{"type": "address"}], "name": "poolAmounts", "outputs": [{"type": "uint256"}], "stateMutability": "view", "type": "function"},
  {"inputs": [{"type": "address"}], "name": "reservedAmounts", "outputs": [{"type": "uint256"}], "stateMutability": "view", "type": "function"},
  {"inputs": [{"type": "address"}], "name": "usdgAmounts", "outputs": [{"type": "uint256"}], "stateMutability": "view", "type": "function"},
  {"inputs": [{"type": "address"}], "name": "tokenWeights", "outputs": [{"type": "uint256"}], "stateMutability": "view", "type": "function"},
  {"inputs": [{"type": "address"}], "name": "maxUsdgAmounts", "outputs": [{"type": "uint256"}], "stateMutability": "view", "type": "function"},
  {"inputs": [{"type": "address"}], "name": "getMinPrice", "outputs": [{"type": "uint256"}], "stateMutability": "view", "type": "function"},
  {"inputs": [{"type": "address"}], "name": "getMaxPrice", "outputs": [{"type": "uint256"}], "stateMutability": "view", "type": "function"},
  {"inputs": [], "name": "totalTokenWeights", "outputs": [{"type": "uint256"}], "stateMutability": "view", "type": "function"}
]`

const poolManagerABIJSON = `[
  {"inputs": [], "name": "getAums", "outputs": [{"type": "uint256[]"}], "stateMutability": "view", "type": "function"}
]`

const readerABIJSON = `[
  {"inputs": [{"type": "address"}, {"type": "address[]"}], "name": "getFees", "outputs": [{"type": "uint256[]"}], "stateMutability": "view", "type": "function"}
]`

const erc20ABIJSON = `[
  {"inputs": [], "name": "totalSupply", "outputs": [{"type": "uint256"}], "stateMutability": "view", "type": "function"},
  {"inputs": [{"type": "address"}], "name": "balanceOf", "outputs": [{"type": "uint256"}], "stateMutability": "view", "type": "function"}
]`

const distributorABIJSON = `[
  {"inputs": [], "name": "tokensPerInterval", "outputs": [{"type": "uint256"}], "stateMutability": "view", "type": "function"}
]`

const v3PoolABIJSON = `[
  {"inputs": [], "name": "slot0", "outputs": [
    {"name": "sqrtPriceX96", "type": "uint160"},
    {"name": "tick", "type": "int24"},
    {"name": "observationIndex", "type": "uint16"},
    {"name": "observationCardinality", "type": "uint16"},
    {"name": "observationCardinalityNext", "type": "uint16"},
    {"name": "feeProtocol", "type": "uint8"},
    {"name": "unlocked", "type": "bool"}
  ], "stateMutability": "view", "type": "function"}
]`

type lazyABI struct {
	src    string
	once   sync.Once
	parsed abi.ABI
	err    error
}

func (l *lazyABI) get() (abi.ABI, error) {
	l.once.Do(func() {
		l.parsed, l.err = abi.JSON(strings.NewReader(l.src))
	})
	return l.parsed, l.err
}

var (
	vaultABI       = &lazyABI{src: vaultABIJSON}
	poolManagerABI = &lazyABI{src: poolManagerABIJSON}
	readerABI      = &lazyABI{src: readerABIJSON}
	erc20ABI       = &lazyABI{src: erc20ABIJSON}
	distributorABI = &lazyABI{src: distributorABIJSON}
	v3PoolABI      = &lazyABI{src: v3PoolABIJSON}
)
