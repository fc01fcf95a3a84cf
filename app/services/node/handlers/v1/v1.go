// Package v1 contains the full set of handler functions and routes supported
// by the v1 web api.
package v1

import (
	"net/http"

	"github.com/consortia/blockchain/app/services/node/handlers/v1/private"
	"github.com/consortia/blockchain/app/services/node/handlers/v1/public"
	"github.com/consortia/blockchain/foundation/blockchain/state"
	"github.com/consortia/blockchain/foundation/events"
	"github.com/consortia/blockchain/foundation/web"
	"go.uber.org/zap"
)

const version = "v1"

// Config contains all the mandatory systems required by handlers.
type Config struct {
	Log   *zap.SugaredLogger
	State *state.State
	Evts  *events.Events
}

// PublicRoutes binds all the version 1 public routes.
func PublicRoutes(app *web.App, cfg Config) {
	pbl := public.Handlers{
		Log:   cfg.Log,
		State: cfg.State,
		Evts:  cfg.Evts,
	}

	app.Handle(http.MethodGet, version, "/events", pbl.Events)
	app.Handle(http.MethodGet, version, "/genesis", pbl.Genesis)

	app.Handle(http.MethodGet, version, "/wallet/data/:address", pbl.WalletData)
	app.Handle(http.MethodGet, version, "/wallet/balance/:address", pbl.WalletBalance)
	app.Handle(http.MethodGet, version, "/wallet/id/:address", pbl.WalletID)
	app.Handle(http.MethodGet, version, "/wallet/trxcount/:address", pbl.WalletTransactionsCount)

	app.Handle(http.MethodGet, version, "/pools/:offset/:limit", pbl.PoolList)
	app.Handle(http.MethodGet, version, "/pool/:hash", pbl.PoolInfo)
	app.Handle(http.MethodGet, version, "/pool/trxs/:hash/:offset/:limit", pbl.PoolTransactions)

	app.Handle(http.MethodGet, version, "/trx/:hash/:index", pbl.Transaction)
	app.Handle(http.MethodGet, version, "/trxs/:address/:offset/:limit", pbl.Transactions)
	app.Handle(http.MethodPost, version, "/trxs/state/:address", pbl.TransactionsState)

	app.Handle(http.MethodPost, version, "/flow", pbl.TransactionFlow)

	app.Handle(http.MethodGet, version, "/smart/:address", pbl.SmartContract)
	app.Handle(http.MethodGet, version, "/smart/data/:address", pbl.SmartContractData)
	app.Handle(http.MethodGet, version, "/smart/wait/:address", pbl.WaitForSmartTransaction)
	app.Handle(http.MethodGet, version, "/smart/params/:hash/:index", pbl.SmartMethodParams)
	app.Handle(http.MethodGet, version, "/smarts/deployer/:address", pbl.SmartContractsList)
	app.Handle(http.MethodGet, version, "/smarts/addresses/:address", pbl.SmartContractAddressesList)
	app.Handle(http.MethodGet, version, "/smarts/all/:offset/:limit", pbl.SmartContractsAllList)
	app.Handle(http.MethodPost, version, "/smart/compile", pbl.SmartContractCompile)

	app.Handle(http.MethodGet, version, "/tokens/:offset/:limit", pbl.TokensList)
	app.Handle(http.MethodGet, version, "/token/:address/balance/:holder", pbl.TokenBalance)
	app.Handle(http.MethodGet, version, "/token/:address/transfers/:offset/:limit", pbl.TokenTransfers)
	app.Handle(http.MethodGet, version, "/token/:address/holders/:offset/:limit", pbl.TokenHolders)
}

// PrivateRoutes binds all the version 1 private routes.
func PrivateRoutes(app *web.App, cfg Config) {
	prv := private.Handlers{
		Log:   cfg.Log,
		State: cfg.State,
	}

	app.Handle(http.MethodGet, version, "/node/status", prv.Status)
	app.Handle(http.MethodPost, version, "/node/round", prv.StartRound)
}
