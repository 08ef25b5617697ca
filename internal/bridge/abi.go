package bridge

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// deferredABI covers the mirror contract methods the backend calls
const deferredABI = `[
  {
    "type": "function",
    "name": "createContract",
    "stateMutability": "nonpayable",
    "inputs": [{
      "name": "data",
      "type": "tuple",
      "components": [
        {"name": "contractId", "type": "uint256"},
        {"name": "sellers", "type": "tuple[]", "components": [
          {"name": "seller", "type": "address"},
          {"name": "quota", "type": "uint8"}
        ]},
        {"name": "metadataUri", "type": "string"},
        {"name": "buyers", "type": "address[]"},
        {"name": "reward", "type": "uint256"},
        {"name": "tokenPrice", "type": "uint256"},
        {"name": "tokensAmount", "type": "uint256"}
      ]
    }],
    "outputs": []
  },
  {
    "type": "function",
    "name": "closeContract",
    "stateMutability": "nonpayable",
    "inputs": [{"name": "contractId", "type": "uint256"}],
    "outputs": []
  },
  {
    "type": "function",
    "name": "contractStatus",
    "stateMutability": "view",
    "inputs": [{"name": "contractId", "type": "uint256"}],
    "outputs": [
      {"name": "exists", "type": "bool"},
      {"name": "closed", "type": "bool"}
    ]
  }
]`

// Field names follow the ABI component names in camel case
type sellerArg struct {
	Seller common.Address
	Quota  uint8
}

type createContractArg struct {
	ContractId   *big.Int
	Sellers      []sellerArg
	MetadataUri  string
	Buyers       []common.Address
	Reward       *big.Int
	TokenPrice   *big.Int
	TokensAmount *big.Int
}
