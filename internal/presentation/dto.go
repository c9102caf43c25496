package presentation

import (
	"github.com/ethereum/go-ethereum/common"
)

// AdminDTO is the output of `provenance admin`.
type AdminDTO struct {
	Admin   string `json:"admin"`
	Signer  string `json:"signer,omitempty"`
	IsAdmin bool   `json:"isAdmin"`
}

// AccountDTO is one signing account.
type AccountDTO struct {
	Address string `json:"address"`
	Active  bool   `json:"active"`
}

// AccountsFrom marks active within accounts.
func AccountsFrom(accounts []common.Address, active common.Address) []AccountDTO {
	out := make([]AccountDTO, len(accounts))
	for i, a := range accounts {
		out[i] = AccountDTO{Address: a.Hex(), Active: a == active}
	}
	return out
}

// ServeDTO describes a started server.
type ServeDTO struct {
	Addr  string `json:"addr"`
	Store string `json:"store"`
	Relay bool   `json:"relay"`
	AMQP  bool   `json:"amqp"`
}
