// Package consensus implements the per-round three-stage commit protocol run
// by each trusted validator: commit, reveal and cross-sign, then aggregate
// and sign the block, retrying with a shrinking trusted mask until the round
// converges or times out.
package consensus

import (
	"crypto/ed25519"
	"strconv"
	"sync"
	"time"

	"github.com/consortia/blockchain/foundation/blockchain/chain"
	"github.com/consortia/blockchain/foundation/blockchain/pool"
	"github.com/consortia/blockchain/foundation/blockchain/transport"
	"github.com/consortia/blockchain/foundation/blockchain/wallets"
	"github.com/pkg/errors"
)

// EventHandler is the logging callback threaded through the consensus.
type EventHandler func(v string, args ...any)

// Round-level errors.
var (
	// ErrRoundFailed reports a round that ended without an appended block:
	// timeouts ran out or the retry shrank the trusted mask below the
	// majority.
	ErrRoundFailed = errors.New("round failed, no block appended")
)

// Config carries the consensus construction parameters.
type Config struct {
	Self       pool.PublicKey
	PrivateKey ed25519.PrivateKey

	Chain     *chain.Chain
	Wallets   *wallets.Wallets
	Transport transport.Transport

	// MinStake is the DPoS admission floor for trusted candidacy.
	MinStake pool.Amount

	// GrayListPenalty is the base penalty in rounds for a misbehaving peer.
	GrayListPenalty uint32

	StageTimeout time.Duration
	RoundTimeout time.Duration

	// Validate gates blocks arriving from the round writer before they are
	// appended. Nil accepts everything.
	Validate func(*pool.Pool) bool

	EvHandler EventHandler
}

type cachedHash struct {
	hash   pool.Hash
	sender pool.PublicKey
	round  uint64
}

// Consensus is one node's view of the protocol. RunRound drives a single
// round to completion; the transport handler feeds the message queue and
// answers stage requests at any time.
type Consensus struct {
	cfg Config
	ev  EventHandler

	msgQueue chan transport.Message

	mu        sync.Mutex
	table     RoundTable
	level     Level
	selfIndex uint8
	subRound  uint8
	iteration uint8
	lastRound uint64

	ownStage1 *StageOne
	ownStage2 *StageTwo
	ownStage3 *StageThree

	stage1s map[uint8]*StageOne
	stage2s map[uint8]*StageTwo
	stage3s []*StageThree

	candidate *pool.Pool

	gray       *grayList
	hashCache  []cachedHash
	candidates map[pool.PublicKey]pool.Hash
}

// New constructs the consensus and subscribes it to the transport.
func New(cfg Config) *Consensus {
	ev := cfg.EvHandler
	if ev == nil {
		ev = func(string, ...any) {}
	}

	c := Consensus{
		cfg:        cfg,
		ev:         ev,
		msgQueue:   make(chan transport.Message, 256),
		stage1s:    make(map[uint8]*StageOne),
		stage2s:    make(map[uint8]*StageTwo),
		gray:       newGrayList(cfg.GrayListPenalty),
		candidates: make(map[pool.PublicKey]pool.Hash),
	}

	cfg.Transport.Subscribe(cfg.Self, c.onMessage)

	return &c
}

// Level returns the node's role in the current round.
func (c *Consensus) Level() Level {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.level
}

// CurrentRound returns the round the machine is on.
func (c *Consensus) CurrentRound() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.table.Round
}

// GrayListed reports whether a peer's hash contributions are suppressed.
func (c *Consensus) GrayListed(sender pool.PublicKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.gray.contains(sender)
}

// onMessage is the transport callback. Stage requests and hashes are served
// inline; everything else queues for the round driver.
func (c *Consensus) onMessage(msg transport.Message) {
	switch msg.Type {
	case transport.MsgHash:
		c.gotHash(msg)
		return
	case transport.MsgStage1Request, transport.MsgStage2Request, transport.MsgStage3Request:
		c.replyStage(msg)
		return
	case transport.MsgBlockReply:
		c.gotBlock(msg)
		return
	}

	select {
	case c.msgQueue <- msg:
	default:
		c.ev("consensus: message queue full, dropping type[%d] round[%d]", msg.Type, msg.Round)
	}
}

// gotHash handles a normal node's head-hash contribution for next-round
// trusted selection: gray list, DPoS stake, and catch-up caching gates.
func (c *Consensus) gotHash(msg transport.Message) {
	hash, err := pool.HashFromBytes(msg.Payload)
	if err != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.gray.contains(msg.Sender) {
		c.ev("consensus: hash from gray-listed sender dropped")
		return
	}

	balance, err := c.cfg.Wallets.Balance(pool.AddressFromPublicKey(msg.Sender))
	if err != nil || balance.Cmp(c.cfg.MinStake) < 0 {
		c.ev("consensus: hash from under-staked sender dropped")
		return
	}

	if msg.Round > c.cfg.Chain.LastSequence()+1 {
		c.hashCache = append(c.hashCache, cachedHash{hash: hash, sender: msg.Sender, round: msg.Round})
		c.ev("consensus: caching hash until the chain catches up")
		return
	}

	c.candidates[msg.Sender] = hash
}

// DrainHashCache re-feeds hashes buffered while the chain was behind. The
// round scheduler calls this after a sync completes.
func (c *Consensus) DrainHashCache() {
	c.mu.Lock()
	cached := c.hashCache
	c.hashCache = nil
	c.mu.Unlock()

	for _, item := range cached {
		c.gotHash(transport.Message{
			Type:    transport.MsgHash,
			Round:   item.round,
			Sender:  item.sender,
			Payload: item.hash[:],
		})
	}
}

// AnnounceHash broadcasts the node's head hash so the trusted set can weigh
// it for next-round selection.
func (c *Consensus) AnnounceHash() {
	hash := c.cfg.Chain.LastHash()
	c.cfg.Transport.Broadcast(transport.MsgHash, c.CurrentRound(), hash[:])
}

// TrustedCandidates returns the hash contributors that passed the gates, for
// next-round table formation.
func (c *Consensus) TrustedCandidates() []pool.PublicKey {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]pool.PublicKey, 0, len(c.candidates))
	for key := range c.candidates {
		out = append(out, key)
	}
	return out
}

// replyStage answers a peer's request for a stage it missed.
func (c *Consensus) replyStage(msg transport.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if msg.Round != c.table.Round {
		return
	}

	switch msg.Type {
	case transport.MsgStage1Request:
		if c.ownStage1 != nil {
			c.cfg.Transport.Unicast(msg.Sender, transport.MsgStage1, msg.Round, c.ownStage1.Bytes())
		}
	case transport.MsgStage2Request:
		if c.ownStage2 != nil {
			c.cfg.Transport.Unicast(msg.Sender, transport.MsgStage2, msg.Round, c.ownStage2.Bytes())
		}
	case transport.MsgStage3Request:
		if c.ownStage3 != nil {
			c.cfg.Transport.Unicast(msg.Sender, transport.MsgStage3, msg.Round, c.ownStage3.Bytes())
		}
	}
}

// gotBlock handles the appended block arriving from the round writer.
func (c *Consensus) gotBlock(msg transport.Message) {
	d := pool.NewDecoder(msg.Payload)
	cp := pool.GetCompressedPool(d)
	if d.Err() != nil {
		return
	}
	p, err := pool.Decompress(cp)
	if err != nil {
		c.ev("consensus: bad block reply: %s", err)
		return
	}
	if c.cfg.Validate != nil && !c.cfg.Validate(p) {
		c.ev("consensus: block reply rejected by validation: blk[%d]", p.Sequence())
		return
	}
	if err := c.cfg.Chain.Append(p); err != nil {
		c.ev("consensus: block reply not appended: %s", err)
	}
}

// =============================================================================
// Round driver.

// StartRound installs the round table, decays the gray list by the round
// delta and derives the node's level.
func (c *Consensus) StartRound(table RoundTable) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if table.Round > c.lastRound {
		c.gray.update(uint32(table.Round - c.lastRound))
		c.lastRound = table.Round
	}

	c.table = table
	c.subRound = 0
	c.iteration = 0
	c.ownStage1, c.ownStage2, c.ownStage3 = nil, nil, nil
	c.stage1s = make(map[uint8]*StageOne)
	c.stage2s = make(map[uint8]*StageTwo)
	c.stage3s = nil
	c.candidate = nil

	index, trusted := table.ConfidantIndex(c.cfg.Self)
	switch {
	case !trusted:
		c.level = LevelNormal
	case index == 0:
		c.level = LevelMain
	default:
		c.level = LevelConfidant
	}
	c.selfIndex = index

	c.ev("consensus: round[%d] started: level[%s] index[%d]", table.Round, c.level, index)
}

// RunRound drives one full round over the given transaction batch. Trusted
// nodes run the three stages; normal nodes wait for the block to arrive.
// Returns the appended pool, or ErrRoundFailed when the round produced none.
func (c *Consensus) RunRound(table RoundTable, trxs []*pool.Transaction) (*pool.Pool, error) {
	c.StartRound(table)

	if c.Level() == LevelNormal {
		return c.observeRound(c.cfg.Chain.LastSequence() + 1)
	}

	candidate := pool.New(c.cfg.Chain.LastHash(), c.cfg.Chain.LastSequence()+1)
	for _, t := range trxs {
		if err := candidate.AddTransaction(t); err != nil {
			return nil, err
		}
	}
	if err := candidate.SetConfidants(table.Confidants); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.candidate = candidate
	c.mu.Unlock()

	if err := c.runStage1(); err != nil {
		return nil, err
	}
	if err := c.runStage2(); err != nil {
		return nil, err
	}
	return c.runStage3()
}

// observeRound waits for the block at the target height to land on the
// chain.
func (c *Consensus) observeRound(target uint64) (*pool.Pool, error) {
	appended := c.cfg.Chain.Subscribe()
	defer c.cfg.Chain.Unsubscribe(appended)

	deadline := time.NewTimer(c.cfg.RoundTimeout)
	defer deadline.Stop()

	for {
		if c.cfg.Chain.LastSequence() >= target {
			return c.cfg.Chain.LoadBySequence(target)
		}
		select {
		case <-appended:
		case <-deadline.C:
			return nil, ErrRoundFailed
		}
	}
}

// runStage1 broadcasts the commit and gathers every confidant's stage 1,
// requesting stragglers once before giving up on them.
func (c *Consensus) runStage1() error {
	c.mu.Lock()
	own := StageOne{
		Sender:            c.selfIndex,
		RoundTimeStamp:    strconv.FormatInt(time.Now().UTC().UnixMilli(), 10),
		TrustedCandidates: append([]pool.PublicKey(nil), c.table.Confidants...),
		HashesCandidates:  append([]pool.Hash(nil), c.table.Hashes...),
	}
	own.Seal(c.cfg.PrivateKey)
	c.ownStage1 = &own
	c.stage1s[c.selfIndex] = &own
	round := c.table.Round
	c.mu.Unlock()

	c.cfg.Transport.Broadcast(transport.MsgStage1, round, own.Bytes())

	return c.collect(round, transport.MsgStage1, transport.MsgStage1Request, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return len(c.stage1s) == len(c.table.Confidants)
	}, func() []uint8 {
		c.mu.Lock()
		defer c.mu.Unlock()
		var missing []uint8
		for i := range c.table.Confidants {
			if _, exists := c.stage1s[uint8(i)]; !exists {
				missing = append(missing, uint8(i))
			}
		}
		return missing
	})
}

// runStage2 reveals the stage-1 hashes seen and cross-signs them.
func (c *Consensus) runStage2() error {
	c.mu.Lock()
	own := StageTwo{Sender: c.selfIndex}
	own.Hashes = make([]pool.Hash, len(c.table.Confidants))
	own.Signatures = make([]pool.Signature, len(c.table.Confidants))
	for i := range c.table.Confidants {
		if s1, exists := c.stage1s[uint8(i)]; exists {
			own.Hashes[i] = s1.MessageHash
			own.Signatures[i] = s1.Signature
		}
	}
	own.Seal(c.cfg.PrivateKey)
	c.ownStage2 = &own
	c.stage2s[c.selfIndex] = &own
	round := c.table.Round
	c.mu.Unlock()

	c.cfg.Transport.Broadcast(transport.MsgStage2, round, own.Bytes())

	return c.collect(round, transport.MsgStage2, transport.MsgStage2Request, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return len(c.stage2s) == len(c.table.Confidants)
	}, func() []uint8 {
		c.mu.Lock()
		defer c.mu.Unlock()
		var missing []uint8
		for i := range c.table.Confidants {
			if _, exists := c.stage2s[uint8(i)]; !exists {
				missing = append(missing, uint8(i))
			}
		}
		return missing
	})
}

// runStage3 aggregates: derive the mask and writer, sign the three hashes,
// and retry with a shrunk mask until every member of the mask sends a
// consistent stage-3 message or the mask falls below the majority.
func (c *Consensus) runStage3() (*pool.Pool, error) {
	deadline := time.NewTimer(c.cfg.RoundTimeout)
	defer deadline.Stop()

	mask := c.buildInitialMask()

	c.mu.Lock()
	needed := len(c.table.Confidants)/2 + 1
	c.mu.Unlock()

	for {
		// A mask below the majority threshold (the all-zero retry included)
		// can never commit; the round fails and the scheduler advances.
		if MaskPopulation(mask) < needed {
			c.ev("consensus: round[%d]: trusted mask too small, round fails", c.CurrentRound())
			c.cfg.Chain.DropDeferred()
			return nil, ErrRoundFailed
		}

		p, retryMask, err := c.stage3Iteration(mask, deadline)
		if err == nil {
			return p, nil
		}
		if retryMask == nil {
			return nil, err
		}

		mask = retryMask
		c.mu.Lock()
		c.iteration++
		c.ownStage3 = nil
		c.mu.Unlock()
		c.ev("consensus: round[%d]: stage3 retry, iteration[%d]", c.CurrentRound(), c.iteration)
	}
}

// buildInitialMask accepts every confidant whose stage 1 and stage 2 arrived
// and verified.
func (c *Consensus) buildInitialMask() []uint8 {
	c.mu.Lock()
	defer c.mu.Unlock()

	mask := make([]uint8, len(c.table.Confidants))
	position := uint8(FirstWriterIndex)
	for i := range c.table.Confidants {
		s1, ok1 := c.stage1s[uint8(i)]
		_, ok2 := c.stage2s[uint8(i)]
		if !ok1 || !ok2 || s1.Verify(c.table.Confidants[i]) != nil {
			mask[i] = InvalidConfidantIndex
			continue
		}
		mask[i] = position
		position++
	}
	return mask
}

// deriveWriter picks the round writer deterministically from the stage-1
// commit hashes: the valid confidant with the greatest score hash wins, ties
// break to the lowest index.
func (c *Consensus) deriveWriter(mask []uint8) uint8 {
	c.mu.Lock()
	defer c.mu.Unlock()

	writer := uint8(0)
	var best pool.Hash
	haveBest := false
	for i := range c.table.Confidants {
		if mask[i] == InvalidConfidantIndex {
			continue
		}
		s1, exists := c.stage1s[uint8(i)]
		if !exists {
			continue
		}
		e := pool.NewEncoder()
		e.PutFixed(s1.Hash[:])
		e.PutUint64(c.table.Round)
		score := pool.HashOf(e.Bytes())
		if !haveBest || greater(score, best) {
			best = score
			writer = uint8(i)
			haveBest = true
		}
	}
	return writer
}

func greater(a, b pool.Hash) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] > b[i]
		}
	}
	return false
}

// trustedHashOf digests the trusted-set summary covered by stage 3.
func (c *Consensus) trustedHashOf(mask []uint8) pool.Hash {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := pool.NewEncoder()
	e.PutBytes(mask)
	for i := range c.table.Confidants {
		if mask[i] != InvalidConfidantIndex {
			e.PutFixed(c.table.Confidants[i][:])
		}
	}
	return pool.HashOf(e.Bytes())
}

// stage3Iteration runs one aggregate round. On success returns the appended
// pool. On detected disagreement, or when mask members stay silent past the
// stage timeout, returns the shrunk mask to retry with; when no member is
// silent or the round deadline passes, returns ErrRoundFailed with no retry
// mask.
func (c *Consensus) stage3Iteration(mask []uint8, deadline *time.Timer) (*pool.Pool, []uint8, error) {
	writer := c.deriveWriter(mask)

	c.mu.Lock()
	table := c.table
	candidate := c.candidate
	iteration := c.iteration
	c.mu.Unlock()

	candidate.SetWriter(table.Confidants[writer])
	if err := candidate.SetRealTrustedMask(MaskBits(mask)); err != nil {
		return nil, nil, err
	}

	// The block timestamp must be identical on every confidant, so it comes
	// from the agreed stage-1 set rather than the local clock.
	if err := candidate.AddUserField(pool.UFTimestamp, pool.IntegerField(c.agreedTimestamp(mask))); err != nil {
		return nil, nil, err
	}

	own := StageThree{
		Sender:          c.selfIndex,
		Writer:          writer,
		Iteration:       iteration,
		RealTrustedMask: append([]uint8(nil), mask...),
		BlockHash:       candidate.SignableHash(),
		RoundHash:       table.Hash(),
		TrustedHash:     c.trustedHashOf(mask),
	}
	own.Seal(c.cfg.PrivateKey)

	c.mu.Lock()
	c.ownStage3 = &own
	c.stage3s = append(c.stage3s, &own)
	c.mu.Unlock()

	c.cfg.Transport.Broadcast(transport.MsgStage3, table.Round, own.Bytes())

	requested := false
	stageTimer := time.NewTimer(c.cfg.StageTimeout)
	defer stageTimer.Stop()

	for {
		agreeing, offenders := c.tallyStage3(&own, mask)
		if len(offenders) > 0 {
			shrunk := append([]uint8(nil), mask...)
			for _, off := range offenders {
				shrunk[off] = InvalidConfidantIndex
			}
			return nil, renumber(shrunk), errors.Wrap(ErrBadStage, "stage3 disagreement")
		}

		// Every non-excluded confidant must contribute a consistent stage 3:
		// the sealed block's signature count has to match the mask
		// population exactly.
		if len(agreeing) == MaskPopulation(mask) {
			p, err := c.commitBlock(candidate, table, writer, mask, agreeing)
			return p, nil, err
		}

		select {
		case msg := <-c.msgQueue:
			c.absorbStage3(msg, table.Round, iteration)
		case <-stageTimer.C:
			if !requested {
				requested = true
				c.requestMissingStage3(table, mask, iteration)
				stageTimer.Reset(c.cfg.StageTimeout)
				continue
			}

			// Mask members that never answered drop out; the shrunk mask
			// retries as the next iteration.
			silent := c.silentMembers(mask, iteration)
			if len(silent) == 0 {
				return nil, nil, ErrRoundFailed
			}
			shrunk := append([]uint8(nil), mask...)
			for _, idx := range silent {
				shrunk[idx] = InvalidConfidantIndex
			}
			return nil, renumber(shrunk), errors.Wrap(ErrRoundFailed, "stage3 timeout")
		case <-deadline.C:
			return nil, nil, ErrRoundFailed
		}
	}
}

// silentMembers returns mask members whose stage 3 never arrived for the
// given iteration.
func (c *Consensus) silentMembers(mask []uint8, iteration uint8) []uint8 {
	c.mu.Lock()
	defer c.mu.Unlock()

	have := make(map[uint8]bool, len(c.stage3s))
	for _, s3 := range c.stage3s {
		if s3.Iteration == iteration {
			have[s3.Sender] = true
		}
	}

	var silent []uint8
	for i, v := range mask {
		if v == InvalidConfidantIndex || have[uint8(i)] {
			continue
		}
		silent = append(silent, uint8(i))
	}
	return silent
}

// absorbStage3 decodes and stores a peer's stage-3 message. Messages from an
// older iteration are stale and drop; newer ones are kept for the coming
// retry. Deduplication is per (sender, iteration).
func (c *Consensus) absorbStage3(msg transport.Message, round uint64, iteration uint8) {
	if msg.Type != transport.MsgStage3 || msg.Round != round {
		return
	}
	s3, err := StageThreeFromBytes(msg.Payload)
	if err != nil {
		c.punish(msg.Sender)
		return
	}
	if s3.Iteration < iteration {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if int(s3.Sender) >= len(c.table.Confidants) {
		return
	}
	for _, seen := range c.stage3s {
		if seen.Sender == s3.Sender && seen.Iteration == s3.Iteration {
			return
		}
	}
	c.stage3s = append(c.stage3s, s3)
}

// tallyStage3 splits the gathered stage-3 set into agreeing senders and
// offenders whose signatures fail or whose outcome diverges.
func (c *Consensus) tallyStage3(own *StageThree, mask []uint8) (agreeing []*StageThree, offenders []uint8) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, s3 := range c.stage3s {
		if s3.Iteration != own.Iteration || mask[s3.Sender] == InvalidConfidantIndex {
			continue
		}
		if s3 == own {
			agreeing = append(agreeing, s3)
			continue
		}
		if err := s3.Verify(c.table.Confidants[s3.Sender]); err != nil {
			c.ev("consensus: stage3 from [%d] fails verification, clearing its bit", s3.Sender)
			c.gray.add(c.table.Confidants[s3.Sender])
			offenders = append(offenders, s3.Sender)
			continue
		}
		if !s3.Agrees(own) {
			offenders = append(offenders, s3.Sender)
			continue
		}
		agreeing = append(agreeing, s3)
	}
	return agreeing, offenders
}

// requestMissingStage3 asks confidants whose stage 3 has not arrived for the
// current iteration.
func (c *Consensus) requestMissingStage3(table RoundTable, mask []uint8, iteration uint8) {
	c.mu.Lock()
	have := make(map[uint8]bool, len(c.stage3s))
	for _, s3 := range c.stage3s {
		if s3.Iteration == iteration {
			have[s3.Sender] = true
		}
	}
	c.mu.Unlock()

	for i, key := range table.Confidants {
		if mask[i] == InvalidConfidantIndex || have[uint8(i)] || uint8(i) == c.selfIndex {
			continue
		}
		c.cfg.Transport.Unicast(key, transport.MsgStage3Request, table.Round, nil)
	}
}

// commitBlock finalizes the round: the writer aggregates the agreeing block
// signatures into the deferred slot and appends; everyone else waits for the
// block to arrive.
func (c *Consensus) commitBlock(candidate *pool.Pool, table RoundTable, writer uint8, mask []uint8, agreeing []*StageThree) (*pool.Pool, error) {
	if writer != c.selfIndex {
		return c.observeRound(candidate.Sequence())
	}

	c.mu.Lock()
	c.level = LevelWriter
	c.mu.Unlock()

	for _, s3 := range agreeing {
		if err := candidate.AddSignature(s3.Sender, s3.BlockSignature); err != nil {
			return nil, err
		}
	}
	candidate.SignWriter(c.cfg.PrivateKey)

	if err := c.cfg.Chain.Defer(candidate); err != nil {
		return nil, err
	}
	if err := c.cfg.Chain.CommitDeferred(); err != nil {
		c.cfg.Chain.DropDeferred()
		return nil, err
	}

	cp, err := pool.Compress(candidate)
	if err == nil {
		e := pool.NewEncoder()
		cp.Put(e)
		c.cfg.Transport.Broadcast(transport.MsgBlockReply, table.Round, e.Bytes())
	}

	c.ev("consensus: round[%d]: block written: blk[%d] signatures[%d]", table.Round, candidate.Sequence(), len(agreeing))
	return candidate, nil
}

// agreedTimestamp takes the round timestamp from the lowest-index valid
// stage 1, falling back to the round number when none parses.
func (c *Consensus) agreedTimestamp(mask []uint8) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.table.Confidants {
		if mask[i] == InvalidConfidantIndex {
			continue
		}
		s1, exists := c.stage1s[uint8(i)]
		if !exists {
			continue
		}
		if ts, err := strconv.ParseInt(s1.RoundTimeStamp, 10, 64); err == nil {
			return ts
		}
	}
	return int64(c.table.Round)
}

// renumber reassigns writer positions after bits were cleared.
func renumber(mask []uint8) []uint8 {
	position := uint8(FirstWriterIndex)
	out := make([]uint8, len(mask))
	for i, v := range mask {
		if v == InvalidConfidantIndex {
			out[i] = InvalidConfidantIndex
			continue
		}
		out[i] = position
		position++
	}
	return out
}

// collect pumps the message queue for one stage until the done predicate
// holds; at the stage timeout it requests the missing pieces once, then
// gives up and lets the mask handle the holes.
func (c *Consensus) collect(round uint64, msgType, reqType transport.MsgType, done func() bool, missing func() []uint8) error {
	requested := false
	stageTimer := time.NewTimer(c.cfg.StageTimeout)
	defer stageTimer.Stop()

	for !done() {
		select {
		case msg := <-c.msgQueue:
			c.absorbStage(msg, round, msgType)
		case <-stageTimer.C:
			if requested {
				c.ev("consensus: round[%d]: stage[%d] incomplete after requests", round, msgType)
				return nil
			}
			requested = true
			c.mu.Lock()
			table := c.table
			c.mu.Unlock()
			for _, idx := range missing() {
				if int(idx) < len(table.Confidants) {
					c.cfg.Transport.Unicast(table.Confidants[idx], reqType, round, nil)
				}
			}
			stageTimer.Reset(c.cfg.StageTimeout)
		}
	}
	return nil
}

// absorbStage verifies and stores a stage 1 or stage 2 message. Malformed
// messages and failing signatures gray-list the sender.
func (c *Consensus) absorbStage(msg transport.Message, round uint64, expect transport.MsgType) {
	if msg.Round != round || msg.Type != expect {
		// A later-stage message racing ahead is kept for its own pump.
		ahead := msg.Type == transport.MsgStage3 || (msg.Type == transport.MsgStage2 && expect == transport.MsgStage1)
		if ahead && msg.Round == round {
			select {
			case c.msgQueue <- msg:
			default:
			}
		}
		return
	}

	c.mu.Lock()
	confidants := c.table.Confidants
	c.mu.Unlock()

	switch msg.Type {
	case transport.MsgStage1:
		s1, err := StageOneFromBytes(msg.Payload)
		if err != nil {
			c.punish(msg.Sender)
			return
		}
		if int(s1.Sender) >= len(confidants) {
			return
		}
		if err := s1.Verify(confidants[s1.Sender]); err != nil {
			c.punish(msg.Sender)
			return
		}
		c.mu.Lock()
		c.stage1s[s1.Sender] = s1
		c.mu.Unlock()

	case transport.MsgStage2:
		s2, err := StageTwoFromBytes(msg.Payload)
		if err != nil {
			c.punish(msg.Sender)
			return
		}
		if int(s2.Sender) >= len(confidants) {
			return
		}
		if err := s2.Verify(confidants[s2.Sender]); err != nil {
			c.punish(msg.Sender)
			return
		}
		c.mu.Lock()
		c.stage2s[s2.Sender] = s2
		c.mu.Unlock()
	}
}

// punish gray-lists a sender for a malformed stage or failing signature.
func (c *Consensus) punish(sender pool.PublicKey) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gray.add(sender)
	c.ev("consensus: gray-listing misbehaving sender")
}
