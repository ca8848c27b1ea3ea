package vault

import (
	"epoch-vault/internal/chain"
	"epoch-vault/internal/derive"
	"epoch-vault/internal/lending"
	"epoch-vault/internal/margin"
)

// RPCProtocols builds protocol clients that submit signed units through the
// ledger gateway.
type RPCProtocols struct {
	client *chain.Client
	params Params
}

func NewRPCProtocols(client *chain.Client, params Params) *RPCProtocols {
	return &RPCProtocols{client: client, params: params}
}

func (p *RPCProtocols) Lending(acc derive.Accounts, bumps derive.Bumps) lending.Client {
	return lending.NewRPC(p.client, p.params.Programs.Lending, p.params.Market, p.params.Reserve, acc, bumps)
}

func (p *RPCProtocols) Margin(acc derive.Accounts, bumps derive.Bumps) margin.Client {
	return margin.NewRPC(p.client, p.params.Programs.Derivatives, p.params.Group, acc, bumps)
}
