// Package testutil provides shared fixtures and database seeding for tests.
package testutil

import "github.com/ethereum/go-ethereum/common"

// Well-known development accounts.
var (
	Admin = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	Alice = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	Bob   = common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC")
	Carol = common.HexToAddress("0x90F79bf6EB2c4f870365E785982E1f101E93b906")
)

// AdminKey is the private key of Admin (hardhat account #0).
const AdminKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

// AliceKey is the private key of Alice (hardhat account #1).
const AliceKey = "0x59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"

// Contract addresses used by the development ledger.
var (
	Registry = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	Token    = common.HexToAddress("0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512")
	Market   = common.HexToAddress("0x9fE46736679d2D9a65F0992F2272dE9f3c7fa6e0")
)

// Record identifiers and payloads.
const (
	RFID      = "1a2b3c4d5e6f789"
	OtherRFID = "abcdef0123456789"
	Hash      = "3f786850e387550fdab836ed7e6dc881de23001b"
	URI       = "ipfs://QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG"
)
