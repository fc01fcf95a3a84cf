package contract_test

import (
	"crypto/ed25519"
	"crypto/rand"
	"sync"
	"testing"
	"time"

	"github.com/consortia/blockchain/foundation/blockchain/chain"
	"github.com/consortia/blockchain/foundation/blockchain/chain/storage/memory"
	"github.com/consortia/blockchain/foundation/blockchain/contract"
	"github.com/consortia/blockchain/foundation/blockchain/genesis"
	"github.com/consortia/blockchain/foundation/blockchain/pool"
	"github.com/consortia/blockchain/foundation/blockchain/wallets"
	"github.com/fortytw2/leaktest"
)

// Success and failure markers.
const (
	success = "✓"
	failed  = "✗"
)

func genKey(t *testing.T) (pool.PublicKey, ed25519.PrivateKey) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to generate a key: %v", failed, err)
	}
	var pk pool.PublicKey
	copy(pk[:], pub)
	return pk, priv
}

func newChain(t *testing.T) *chain.Chain {
	storage, err := memory.New()
	if err != nil {
		t.Fatalf("\t%s\tShould be able to open storage: %v", failed, err)
	}
	c, err := chain.New(storage, pool.New(pool.ZeroHash, 0), nil)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to construct the chain: %v", failed, err)
	}
	return c
}

func newTracker(t *testing.T, ch contract.Blockchain, maxRounds uint64) *contract.Tracker {
	wlts, err := wallets.New(genesis.Genesis{})
	if err != nil {
		t.Fatalf("\t%s\tShould be able to construct the wallet cache: %v", failed, err)
	}
	return contract.New(contract.Config{
		Chain:           ch,
		Wallets:         wlts,
		MaxRoundsCancel: maxRounds,
	})
}

// appendPool builds and appends a pool carrying the given transactions.
func appendPool(t *testing.T, c *chain.Chain, trxs ...*pool.Transaction) *pool.Pool {
	p := pool.New(c.LastHash(), c.LastSequence()+1)
	for _, trx := range trxs {
		if err := p.AddTransaction(trx); err != nil {
			t.Fatalf("\t%s\tShould add a transaction: %v", failed, err)
		}
	}
	if err := c.Append(p); err != nil {
		t.Fatalf("\t%s\tShould append the pool: %v", failed, err)
	}
	return p
}

func deployTrx(deployer pool.PublicKey, priv ed25519.PrivateKey, target pool.PublicKey, innerID uint64) *pool.Transaction {
	inv := contract.Invocation{
		SourceCode:      "contract Token {}",
		ByteCodeObjects: []contract.ByteCodeObject{{Name: "Token", Code: []byte{0xCA, 0xFE}}},
	}
	trx := pool.NewTransaction(innerID, pool.AddressFromPublicKey(deployer), pool.AddressFromPublicKey(target), pool.Amount{})
	trx.AddUserField(pool.UFContract, pool.StringField(string(inv.Bytes())))
	trx.Sign(priv)
	return trx
}

func invokeTrx(caller pool.PublicKey, priv ed25519.PrivateKey, target pool.PublicKey, method string, innerID uint64) *pool.Transaction {
	inv := contract.Invocation{Method: method}
	trx := pool.NewTransaction(innerID, pool.AddressFromPublicKey(caller), pool.AddressFromPublicKey(target), pool.Amount{})
	trx.AddUserField(pool.UFContract, pool.StringField(string(inv.Bytes())))
	trx.Sign(priv)
	return trx
}

func newStateTrx(executorKey pool.PublicKey, priv ed25519.PrivateKey, target pool.PublicKey, initer *pool.Pool, initerIdx uint32, newState string, innerID uint64) *pool.Transaction {
	ref := contract.Ref{Hash: initer.Hash(), TrxIndex: initerIdx, Sequence: initer.Sequence()}
	trx := pool.NewTransaction(innerID, pool.AddressFromPublicKey(executorKey), pool.AddressFromPublicKey(target), pool.Amount{})
	trx.AddUserField(pool.UFNewState, pool.StringField(newState))
	trx.AddUserField(pool.UFNewStateRef, pool.StringField(string(ref.Bytes())))
	trx.Sign(priv)
	return trx
}

func Test_DeployInvokeNewState(t *testing.T) {
	t.Log("Given a deploy, an invoke and its new state across three blocks.")
	{
		c := newChain(t)
		tr := newTracker(t, c, 10)

		deployer, deployerPriv := genKey(t)
		contractKey, _ := genKey(t)
		executorKey, executorPriv := genKey(t)
		contractAddr := pool.AddressFromPublicKey(contractKey)

		td := deployTrx(deployer, deployerPriv, contractKey, 1)
		blk1 := appendPool(t, c, td)

		ti := invokeTrx(deployer, deployerPriv, contractKey, "m", 2)
		blk2 := appendPool(t, c, ti)

		ts := newStateTrx(executorKey, executorPriv, contractKey, blk2, 0, "s1", 3)
		blk3 := appendPool(t, c, ts)

		tr.CatchUp()

		origin, exists := tr.Origin(contractAddr)
		if !exists || !origin.Equal(blk1.Transaction(0).ID()) {
			t.Fatalf("\t%s\tShould record the deploy as the contract origin.", failed)
		}
		t.Logf("\t%s\tShould record the deploy as the contract origin.", success)

		op, exists := tr.OperationOf(blk2.Transaction(0).ID())
		if !exists || op.State != contract.Success {
			t.Fatalf("\t%s\tShould mark the invoke successful, got %v.", failed, op.State)
		}
		t.Logf("\t%s\tShould mark the invoke successful.", success)

		if !op.StateTransaction.Equal(blk3.Transaction(0).ID()) {
			t.Fatalf("\t%s\tShould pair the invoke with its state transaction.", failed)
		}
		t.Logf("\t%s\tShould pair the invoke with its state transaction.", success)

		st := tr.StateOf(contractAddr).Snapshot()
		if st.Current != "s1" || st.LastEmpty {
			t.Fatalf("\t%s\tShould hold the new serialized state, got %q.", failed, st.Current)
		}
		t.Logf("\t%s\tShould hold the new serialized state.", success)

		deploys := tr.DeployedBy(pool.AddressFromPublicKey(deployer))
		if len(deploys) != 1 || !deploys[0].Equal(blk1.Transaction(0).ID()) {
			t.Fatalf("\t%s\tShould index the deploy under its creator.", failed)
		}
		t.Logf("\t%s\tShould index the deploy under its creator.", success)
	}
}

func Test_EmptyNewStateFails(t *testing.T) {
	t.Log("Given a new-state transaction with an empty state payload.")
	{
		c := newChain(t)
		tr := newTracker(t, c, 10)

		deployer, deployerPriv := genKey(t)
		contractKey, _ := genKey(t)
		executorKey, executorPriv := genKey(t)
		contractAddr := pool.AddressFromPublicKey(contractKey)

		appendPool(t, c, deployTrx(deployer, deployerPriv, contractKey, 1))
		blkInvoke := appendPool(t, c, invokeTrx(deployer, deployerPriv, contractKey, "m", 2))
		appendPool(t, c, newStateTrx(executorKey, executorPriv, contractKey, blkInvoke, 0, "first", 3))
		tr.CatchUp()

		blkInvoke2 := appendPool(t, c, invokeTrx(deployer, deployerPriv, contractKey, "m", 4))
		appendPool(t, c, newStateTrx(executorKey, executorPriv, contractKey, blkInvoke2, 0, "", 5))
		tr.CatchUp()

		op, exists := tr.OperationOf(blkInvoke2.Transaction(0).ID())
		if !exists || op.State != contract.Failed {
			t.Fatalf("\t%s\tShould fail the operation on an empty new state.", failed)
		}
		t.Logf("\t%s\tShould fail the operation on an empty new state.", success)

		st := tr.StateOf(contractAddr).Snapshot()
		if st.Current != "first" || !st.LastEmpty {
			t.Fatalf("\t%s\tShould retain the prior state and mark last empty, got %q.", failed, st.Current)
		}
		t.Logf("\t%s\tShould retain the prior state and mark last empty.", success)
	}
}

func Test_InvokeTimeout(t *testing.T) {
	t.Log("Given an invoke whose new state never arrives.")
	{
		const maxRounds = 3

		c := newChain(t)
		tr := newTracker(t, c, maxRounds)

		deployer, deployerPriv := genKey(t)
		contractKey, _ := genKey(t)

		appendPool(t, c, deployTrx(deployer, deployerPriv, contractKey, 1))
		blkInvoke := appendPool(t, c, invokeTrx(deployer, deployerPriv, contractKey, "m", 2))
		tr.CatchUp()

		op, _ := tr.OperationOf(blkInvoke.Transaction(0).ID())
		if op.State != contract.Pending {
			t.Fatalf("\t%s\tShould hold the invoke pending inside the window.", failed)
		}
		t.Logf("\t%s\tShould hold the invoke pending inside the window.", success)

		for i := 0; i < maxRounds+1; i++ {
			appendPool(t, c)
			tr.CatchUp()
		}

		op, _ = tr.OperationOf(blkInvoke.Transaction(0).ID())
		if op.State != contract.Failed {
			t.Fatalf("\t%s\tShould fail the invoke past the cancel window, got %v.", failed, op.State)
		}
		t.Logf("\t%s\tShould fail the invoke past the cancel window.", success)

		// The deploy before it timed out as well; terminal states never
		// transition again.
		appendPool(t, c)
		tr.CatchUp()
		op, _ = tr.OperationOf(blkInvoke.Transaction(0).ID())
		if op.State != contract.Failed {
			t.Fatalf("\t%s\tShould keep the terminal state stable.", failed)
		}
		t.Logf("\t%s\tShould keep the terminal state stable.", success)
	}
}

func Test_WaitForSmartTransaction(t *testing.T) {
	t.Log("Given callers awaiting a contract's next smart transaction.")
	{
		c := newChain(t)
		tr := newTracker(t, c, 10)
		tr.CatchUp()

		deployer, deployerPriv := genKey(t)
		contractKey, _ := genKey(t)
		contractAddr := pool.AddressFromPublicKey(contractKey)

		if _, got := tr.WaitForSmartTransaction(contractAddr, 0); got {
			t.Fatalf("\t%s\tShould return immediately with no result on an empty queue and zero timeout.", failed)
		}
		t.Logf("\t%s\tShould return immediately with no result on an empty queue and zero timeout.", success)

		var wg sync.WaitGroup
		wg.Add(1)
		var gotID pool.TransactionID
		var gotOK bool
		go func() {
			defer wg.Done()
			gotID, gotOK = tr.WaitForSmartTransaction(contractAddr, 5*time.Second)
		}()

		blk := appendPool(t, c, deployTrx(deployer, deployerPriv, contractKey, 1))
		tr.CatchUp()
		wg.Wait()

		if !gotOK || !gotID.Equal(blk.Transaction(0).ID()) {
			t.Fatalf("\t%s\tShould wake the waiter with the sealed id.", failed)
		}
		t.Logf("\t%s\tShould wake the waiter with the sealed id.", success)
	}
}

func Test_WaitTillFront(t *testing.T) {
	t.Log("Given a caller suspended on a contract state predicate.")
	{
		c := newChain(t)
		tr := newTracker(t, c, 10)
		tr.CatchUp()

		deployer, deployerPriv := genKey(t)
		contractKey, _ := genKey(t)
		executorKey, executorPriv := genKey(t)
		contractAddr := pool.AddressFromPublicKey(contractKey)

		entry := tr.StateOf(contractAddr)
		entry.Acquire()
		defer entry.Yield()

		if entry.WaitTillFront(func(st contract.State) bool { return st.Current != "" }, 50*time.Millisecond) {
			t.Fatalf("\t%s\tShould time out while no state exists.", failed)
		}
		t.Logf("\t%s\tShould time out while no state exists.", success)

		done := make(chan bool, 1)
		go func() {
			done <- entry.WaitTillFront(func(st contract.State) bool { return st.Current == "s1" }, 5*time.Second)
		}()

		blkDeploy := appendPool(t, c, deployTrx(deployer, deployerPriv, contractKey, 1))
		appendPool(t, c, newStateTrx(executorKey, executorPriv, contractKey, blkDeploy, 0, "s1", 2))
		tr.CatchUp()

		select {
		case got := <-done:
			if !got {
				t.Fatalf("\t%s\tShould satisfy the predicate on the state update.", failed)
			}
			t.Logf("\t%s\tShould satisfy the predicate on the state update.", success)
		case <-time.After(5 * time.Second):
			t.Fatalf("\t%s\tShould not leave the waiter suspended.", failed)
		}
	}
}

// switchable lets the fork test swap the chain the tracker scans, standing
// in for a store whose head moved to another branch.
type switchable struct {
	mu  sync.Mutex
	cur *chain.Chain
}

func (s *switchable) use(c *chain.Chain) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur = c
}

func (s *switchable) get() *chain.Chain {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

func (s *switchable) LastHash() pool.Hash     { return s.get().LastHash() }
func (s *switchable) LastSequence() uint64    { return s.get().LastSequence() }
func (s *switchable) Subscribe() <-chan struct{} { return s.get().Subscribe() }
func (s *switchable) LoadByHash(h pool.Hash) (*pool.Pool, error) {
	return s.get().LoadByHash(h)
}
func (s *switchable) LoadMeta(h pool.Hash) (pool.Meta, error) {
	return s.get().LoadMeta(h)
}
func (s *switchable) LoadTransaction(id pool.TransactionID) (*pool.Transaction, error) {
	return s.get().LoadTransaction(id)
}

func Test_ForkRecovery(t *testing.T) {
	t.Log("Given a tracker whose chain head moved to another branch.")
	{
		branchA := newChain(t)
		branchB := newChain(t)

		sw := switchable{cur: branchA}
		tr := newTracker(t, &sw, 10)

		deployer, deployerPriv := genKey(t)
		contractAKey, _ := genKey(t)
		contractBKey, _ := genKey(t)

		appendPool(t, branchA, deployTrx(deployer, deployerPriv, contractAKey, 1))
		tr.CatchUp()

		if !tr.IsContract(pool.AddressFromPublicKey(contractAKey)) {
			t.Fatalf("\t%s\tShould index the branch A deploy first.", failed)
		}
		t.Logf("\t%s\tShould index the branch A deploy first.", success)

		appendPool(t, branchB, deployTrx(deployer, deployerPriv, contractBKey, 1))
		appendPool(t, branchB)
		sw.use(branchB)
		tr.CatchUp()

		if tr.IsContract(pool.AddressFromPublicKey(contractAKey)) {
			t.Fatalf("\t%s\tShould discard derived state from the abandoned branch.", failed)
		}
		t.Logf("\t%s\tShould discard derived state from the abandoned branch.", success)

		if !tr.IsContract(pool.AddressFromPublicKey(contractBKey)) {
			t.Fatalf("\t%s\tShould match a from-scratch scan of the new branch.", failed)
		}
		t.Logf("\t%s\tShould match a from-scratch scan of the new branch.", success)
	}
}

func Test_TrackerRunLoop(t *testing.T) {
	defer leaktest.Check(t)()

	t.Log("Given the tracker scan worker wired to the append event.")
	{
		c := newChain(t)
		tr := newTracker(t, c, 10)

		shut := make(chan struct{})
		done := make(chan struct{})
		go func() {
			tr.Run(shut)
			close(done)
		}()

		deployer, deployerPriv := genKey(t)
		contractKey, _ := genKey(t)

		appendPool(t, c, deployTrx(deployer, deployerPriv, contractKey, 1))

		deadline := time.After(5 * time.Second)
		for !tr.IsContract(pool.AddressFromPublicKey(contractKey)) {
			select {
			case <-deadline:
				t.Fatalf("\t%s\tShould index the deploy from the worker loop.", failed)
			case <-time.After(10 * time.Millisecond):
			}
		}
		t.Logf("\t%s\tShould index the deploy from the worker loop.", success)

		close(shut)
		<-done
		t.Logf("\t%s\tShould stop the worker on shutdown.", success)
	}
}
