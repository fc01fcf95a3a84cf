package contract_test

import (
	"context"
	"testing"
	"time"

	"github.com/consortia/blockchain/foundation/blockchain/contract"
	"github.com/consortia/blockchain/foundation/blockchain/genesis"
	"github.com/consortia/blockchain/foundation/blockchain/pool"
	"github.com/consortia/blockchain/foundation/blockchain/wallets"
)

// tokenExecutor is a canned executor describing every contract as a token.
type tokenExecutor struct{}

func (tokenExecutor) ExecuteByteCode(ctx context.Context, caller, target pool.Address, code []contract.ByteCodeObject, state string, method string, params []string, timeout time.Duration) (contract.ExecResult, error) {
	return contract.ExecResult{NewState: "executed", ReturnValue: "true"}, nil
}

func (tokenExecutor) ContractMethods(ctx context.Context, code []contract.ByteCodeObject) ([]contract.MethodDescription, error) {
	return []contract.MethodDescription{
		{Name: "totalSupply", ReturnType: "string"},
		{Name: "balanceOf", ReturnType: "string", Arguments: []string{"owner"}},
		{Name: "transfer", ReturnType: "bool", Arguments: []string{"to", "amount"}},
	}, nil
}

func (tokenExecutor) ContractVariables(ctx context.Context, code []contract.ByteCodeObject, state string) (map[string]string, error) {
	return map[string]string{"name": "Test Token", "symbol": "TST", "totalSupply": "1000000"}, nil
}

func (tokenExecutor) CompileSourceCode(ctx context.Context, source string) ([]contract.ByteCodeObject, contract.ExecStatus, error) {
	return []contract.ByteCodeObject{{Name: "Main", Code: []byte{1}}}, contract.ExecStatus{}, nil
}

func Test_TokenRegistry(t *testing.T) {
	t.Log("Given deploys and transfers over a contract implementing the token interface.")
	{
		c := newChain(t)

		wlts, err := wallets.New(genesis.Genesis{})
		if err != nil {
			t.Fatalf("\t%s\tShould construct the wallet cache: %v", failed, err)
		}
		tr := contract.New(contract.Config{
			Chain:           c,
			Wallets:         wlts,
			Executor:        tokenExecutor{},
			MaxRoundsCancel: 10,
		})

		deployer, deployerPriv := genKey(t)
		tokenKey, _ := genKey(t)
		executorKey, executorPriv := genKey(t)
		tokenAddr := pool.AddressFromPublicKey(tokenKey)

		blkDeploy := appendPool(t, c, deployTrx(deployer, deployerPriv, tokenKey, 1))
		appendPool(t, c, newStateTrx(executorKey, executorPriv, tokenKey, blkDeploy, 0, "genesis-state", 2))
		tr.CatchUp()

		token, exists := tr.Tokens().Get(tokenAddr)
		if !exists {
			t.Fatalf("\t%s\tShould register the deploy as a token.", failed)
		}
		t.Logf("\t%s\tShould register the deploy as a token.", success)

		if token.Name != "Test Token" || token.Symbol != "TST" {
			t.Fatalf("\t%s\tShould read name and symbol through the executor, got %q/%q.", failed, token.Name, token.Symbol)
		}
		t.Logf("\t%s\tShould read name and symbol through the executor.", success)

		// An invoke of transfer followed by its new state records a movement.
		inv := contract.Invocation{Method: "transfer", Params: []string{"bob", "25"}}
		trx := pool.NewTransaction(3, pool.AddressFromPublicKey(deployer), tokenAddr, pool.Amount{})
		trx.AddUserField(pool.UFContract, pool.StringField(string(inv.Bytes())))
		trx.Sign(deployerPriv)
		blkInvoke := appendPool(t, c, trx)
		appendPool(t, c, newStateTrx(executorKey, executorPriv, tokenKey, blkInvoke, 0, "state-2", 4))
		tr.CatchUp()

		transfers, total := tr.Tokens().Transfers(tokenAddr, 0, 10)
		if total != 1 || len(transfers) != 1 || transfers[0].To != "bob" || transfers[0].Amount != "25" {
			t.Fatalf("\t%s\tShould record the transfer, got %v.", failed, transfers)
		}
		t.Logf("\t%s\tShould record the transfer.", success)

		holders, _ := tr.Tokens().Holders(tokenAddr, 0, 10)
		if len(holders) == 0 {
			t.Fatalf("\t%s\tShould track holders from transfers.", failed)
		}
		t.Logf("\t%s\tShould track holders from transfers.", success)

		list, count := tr.Tokens().List(0, 10)
		if count != 1 || len(list) != 1 || list[0].TransfersCount != 1 {
			t.Fatalf("\t%s\tShould list the token with its transfer count.", failed)
		}
		t.Logf("\t%s\tShould list the token with its transfer count.", success)

		if _, total := tr.Tokens().List(5, 10); total != 1 {
			t.Fatalf("\t%s\tShould keep the total stable under paging.", failed)
		}
		t.Logf("\t%s\tShould keep the total stable under paging.", success)
	}
}
