// Package transport defines the broadcast/unicast capability the consensus
// core consumes. The wire layer, peer selection and gossip live outside the
// core; the in-memory bus here backs single-process clusters and tests.
package transport

import (
	"github.com/consortia/blockchain/foundation/blockchain/pool"
)

// MsgType tags every consensus message on the wire.
type MsgType uint8

// Message types used by consensus.
const (
	MsgRoundTable MsgType = iota
	MsgStage1
	MsgStage2
	MsgStage3
	MsgStage1Request
	MsgStage2Request
	MsgStage3Request
	MsgHash
	MsgHashReply
	MsgTransactionsPacket
	MsgPacketHashesRequest
	MsgPacketHashesReply
	MsgBlockRequest
	MsgBlockReply
	MsgRoundTableRequest
	MsgRoundTableReply
	MsgEmptyRoundPack
	MsgSmartReject
	MsgSmartStage1
	MsgSmartStage2
	MsgSmartStage3
	MsgSmartStage1Request
	MsgSmartStage2Request
	MsgSmartStage3Request
)

// Message is one delivered consensus message.
type Message struct {
	Type    MsgType
	Round   uint64
	Sender  pool.PublicKey
	Payload []byte
}

// Handler receives incoming messages. Handlers must not block; long work is
// handed to the consumer's own queue.
type Handler func(msg Message)

// Transport is the capability the consensus core requires.
type Transport interface {
	Broadcast(msgType MsgType, round uint64, payload []byte)
	Unicast(target pool.PublicKey, msgType MsgType, round uint64, payload []byte)
	Subscribe(self pool.PublicKey, h Handler)
}
