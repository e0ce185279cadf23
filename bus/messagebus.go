package bus

import (
	"sync/atomic"

	"github.com/colossusdb/corestore/table"
)

// WalTxnNotification carries one committed WAL txn to the apply job.
type WalTxnNotification struct {
	Token table.Token
	Txn   int64
}

// AsyncWriterCommand carries a serialized ALTER/UPDATE command to the
// writer thread, for callers that cannot directly acquire the writer.
type AsyncWriterCommand struct {
	Token   table.Token
	Kind    string // e.g. "ALTER", "UPDATE" — opaque to the bus
	Payload []byte
}

const (
	walQueueCapacity     = 1024
	commandQueueCapacity = 256
)

// MessageBus composes the two bounded SPSC queues spec.md §4.7 describes,
// plus the unpublished-count fallback counter that guarantees no WAL
// notification is ever silently lost (P8).
type MessageBus struct {
	walQueue     *ring[WalTxnNotification]
	commandQueue *ring[AsyncWriterCommand]

	unpublishedWalTxnCount int64
}

// New returns a MessageBus with unpublishedWalTxnCount seeded to 1, per
// spec.md §3's "unpublishedWalTxnCount >= 1 at startup (forces a
// reconciliation scan)" invariant: the engine has no record of prior state
// on a fresh start, so it must behave as though something could have been
// missed.
func New() *MessageBus {
	return &MessageBus{
		walQueue:               newRing[WalTxnNotification](walQueueCapacity),
		commandQueue:           newRing[AsyncWriterCommand](commandQueueCapacity),
		unpublishedWalTxnCount: 1,
	}
}

// NotifyWalTxnCommitted attempts to enqueue a WAL commit notification.
// Per spec.md §6, it returns true if the enqueue succeeded; on a full
// queue it returns false after incrementing UnpublishedWalTxnCount so the
// periodic rescan the apply job runs will still pick up the missed txn.
func (b *MessageBus) NotifyWalTxnCommitted(token table.Token, txn int64) bool {
	for {
		cursor := b.walQueue.claim()
		switch cursor {
		case cursorFull:
			b.bumpUnpublished()
			return false
		case cursorRetry:
			continue
		default:
			b.walQueue.set(cursor, WalTxnNotification{Token: token, Txn: txn})
			b.walQueue.publish(cursor)
			return true
		}
	}
}

// PollWalTxnNotification is called by the apply job to drain the queue.
func (b *MessageBus) PollWalTxnNotification() (WalTxnNotification, bool) {
	return b.walQueue.poll()
}

// SubmitAsyncWriterCommand enqueues a command for the writer thread.
// Returns false (without a fallback counter — spec.md only requires the
// no-lose guarantee for WAL notifications) if the queue is full.
func (b *MessageBus) SubmitAsyncWriterCommand(cmd AsyncWriterCommand) bool {
	for {
		cursor := b.commandQueue.claim()
		switch cursor {
		case cursorFull:
			return false
		case cursorRetry:
			continue
		default:
			b.commandQueue.set(cursor, cmd)
			b.commandQueue.publish(cursor)
			return true
		}
	}
}

// PollAsyncWriterCommand is called by the writer thread to drain commands
// dispatched to it.
func (b *MessageBus) PollAsyncWriterCommand() (AsyncWriterCommand, bool) {
	return b.commandQueue.poll()
}

func (b *MessageBus) bumpUnpublished() {
	atomic.AddInt64(&b.unpublishedWalTxnCount, 1)
}

// UnpublishedWalTxnCount returns the current fallback counter. The apply
// job clears entries it has reconciled via ResetUnpublished.
func (b *MessageBus) UnpublishedWalTxnCount() int64 {
	return atomic.LoadInt64(&b.unpublishedWalTxnCount)
}

// ResetUnpublished clears the fallback counter after a full reconciliation
// scan has caught up on any notification that may have been dropped.
func (b *MessageBus) ResetUnpublished() {
	atomic.StoreInt64(&b.unpublishedWalTxnCount, 0)
}
