// Copyright (c) 2020 Uber Technologies, Inc.
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

package message

import (
	"time"

	"github.com/m3db/m3doc/src/docnode/bucket"

	"go.uber.org/atomic"
)

// DefaultTimeout is how long commands may queue before timing out unless
// overridden with SetTimeout.
const DefaultTimeout = 60 * time.Second

// Message id 0 is reserved for holders that are not messages, such as
// externally requested bucket locks.
var msgID = atomic.NewUint64(0)

func nextID() uint64 {
	return msgID.Inc()
}

type command struct {
	id       uint64
	msgType  Type
	bkt      bucket.ID
	priority Priority
	timeout  time.Duration
}

func newCommand(msgType Type, bkt bucket.ID, priority Priority) command {
	return command{
		id:       nextID(),
		msgType:  msgType,
		bkt:      bkt,
		priority: priority,
		timeout:  DefaultTimeout,
	}
}

func (c *command) ID() uint64             { return c.id }
func (c *command) Type() Type             { return c.msgType }
func (c *command) Bucket() bucket.ID      { return c.bkt }
func (c *command) SetBucket(b bucket.ID)  { c.bkt = b }
func (c *command) Priority() Priority     { return c.priority }
func (c *command) LockMode() LockMode     { return LockModeFor(c.msgType) }
func (c *command) IsReply() bool          { return false }
func (c *command) Timeout() time.Duration { return c.timeout }

// SetTimeout overrides how long the command may queue before timing out.
func (c *command) SetTimeout(timeout time.Duration) { c.timeout = timeout }

// MakeReply constructs the reply paired with this command. The reply
// shares the command's id, bucket and priority and starts out successful.
func (c *command) MakeReply() Reply {
	return &reply{
		id:       c.id,
		of:       c.msgType,
		bkt:      c.bkt,
		priority: c.priority,
	}
}

type reply struct {
	id       uint64
	of       Type
	bkt      bucket.ID
	priority Priority
	result   ReturnCode
}

func (r *reply) ID() uint64              { return r.id }
func (r *reply) Type() Type              { return r.of }
func (r *reply) Bucket() bucket.ID       { return r.bkt }
func (r *reply) SetBucket(b bucket.ID)   { r.bkt = b }
func (r *reply) Priority() Priority      { return r.priority }
func (r *reply) LockMode() LockMode      { return LockModeFor(r.of) }
func (r *reply) IsReply() bool           { return true }
func (r *reply) Result() ReturnCode      { return r.result }
func (r *reply) SetResult(rc ReturnCode) { r.result = rc }

// PutCommand writes a document to its bucket.
type PutCommand struct {
	command
	docID string
}

// NewPut creates a put of the given document.
func NewPut(bkt bucket.ID, docID string, priority Priority) *PutCommand {
	return &PutCommand{command: newCommand(PutType, bkt, priority), docID: docID}
}

// DocumentID returns the id of the document being written.
func (c *PutCommand) DocumentID() string { return c.docID }

// GetCommand reads a document from its bucket.
type GetCommand struct {
	command
	docID string
}

// NewGet creates a get of the given document.
func NewGet(bkt bucket.ID, docID string, priority Priority) *GetCommand {
	return &GetCommand{command: newCommand(GetType, bkt, priority), docID: docID}
}

// DocumentID returns the id of the document being read.
func (c *GetCommand) DocumentID() string { return c.docID }

// UpdateCommand applies a partial update to a document.
type UpdateCommand struct {
	command
	docID string
}

// NewUpdate creates an update of the given document.
func NewUpdate(bkt bucket.ID, docID string, priority Priority) *UpdateCommand {
	return &UpdateCommand{command: newCommand(UpdateType, bkt, priority), docID: docID}
}

// DocumentID returns the id of the document being updated.
func (c *UpdateCommand) DocumentID() string { return c.docID }

// RemoveCommand removes a document from its bucket.
type RemoveCommand struct {
	command
	docID string
}

// NewRemove creates a remove of the given document.
func NewRemove(bkt bucket.ID, docID string, priority Priority) *RemoveCommand {
	return &RemoveCommand{command: newCommand(RemoveType, bkt, priority), docID: docID}
}

// DocumentID returns the id of the document being removed.
func (c *RemoveCommand) DocumentID() string { return c.docID }

// RemoveLocationCommand removes all documents in a bucket matching a
// selection.
type RemoveLocationCommand struct {
	command
	selection string
}

// NewRemoveLocation creates a remove of all documents matching selection.
func NewRemoveLocation(bkt bucket.ID, selection string, priority Priority) *RemoveLocationCommand {
	return &RemoveLocationCommand{
		command:   newCommand(RemoveLocationType, bkt, priority),
		selection: selection,
	}
}

// Selection returns the document selection being removed.
func (c *RemoveLocationCommand) Selection() string { return c.selection }

// RevertCommand rolls back previously applied writes.
type RevertCommand struct {
	command
	tokens []uint64
}

// NewRevert creates a revert of the writes identified by tokens.
func NewRevert(bkt bucket.ID, tokens []uint64, priority Priority) *RevertCommand {
	return &RevertCommand{command: newCommand(RevertType, bkt, priority), tokens: tokens}
}

// Tokens returns the revert tokens of the writes to roll back.
func (c *RevertCommand) Tokens() []uint64 { return c.tokens }

// StatBucketCommand reports statistics about documents matching a
// selection.
type StatBucketCommand struct {
	command
	selection string
}

// NewStatBucket creates a stat of documents matching selection.
func NewStatBucket(bkt bucket.ID, selection string, priority Priority) *StatBucketCommand {
	return &StatBucketCommand{
		command:   newCommand(StatBucketType, bkt, priority),
		selection: selection,
	}
}

// Selection returns the document selection being inspected.
func (c *StatBucketCommand) Selection() string { return c.selection }

// CreateBucketCommand creates a bucket on the node.
type CreateBucketCommand struct {
	command
}

// NewCreateBucket creates a create of the given bucket.
func NewCreateBucket(bkt bucket.ID, priority Priority) *CreateBucketCommand {
	return &CreateBucketCommand{command: newCommand(CreateBucketType, bkt, priority)}
}

// DeleteBucketCommand deletes a bucket from the node.
type DeleteBucketCommand struct {
	command
}

// NewDeleteBucket creates a delete of the given bucket.
func NewDeleteBucket(bkt bucket.ID, priority Priority) *DeleteBucketCommand {
	return &DeleteBucketCommand{command: newCommand(DeleteBucketType, bkt, priority)}
}

// SplitBucketCommand splits a bucket into deeper buckets.
type SplitBucketCommand struct {
	command
}

// NewSplitBucket creates a split of the given bucket.
func NewSplitBucket(bkt bucket.ID, priority Priority) *SplitBucketCommand {
	return &SplitBucketCommand{command: newCommand(SplitBucketType, bkt, priority)}
}

// JoinBucketsCommand joins source buckets into their parent.
type JoinBucketsCommand struct {
	command
	sources []bucket.ID
}

// NewJoinBuckets creates a join of sources into bkt.
func NewJoinBuckets(bkt bucket.ID, sources []bucket.ID, priority Priority) *JoinBucketsCommand {
	return &JoinBucketsCommand{
		command: newCommand(JoinBucketsType, bkt, priority),
		sources: sources,
	}
}

// Sources returns the buckets being joined.
func (c *JoinBucketsCommand) Sources() []bucket.ID { return c.sources }

// SetBucketStateCommand activates or deactivates a bucket.
type SetBucketStateCommand struct {
	command
	active bool
}

// NewSetBucketState creates a state change of the given bucket.
func NewSetBucketState(bkt bucket.ID, active bool, priority Priority) *SetBucketStateCommand {
	return &SetBucketStateCommand{
		command: newCommand(SetBucketStateType, bkt, priority),
		active:  active,
	}
}

// Active returns the state the bucket is changing to.
func (c *SetBucketStateCommand) Active() bool { return c.active }

// MergeBucketCommand merges bucket replicas across the given nodes.
type MergeBucketCommand struct {
	command
	nodes []uint32
}

// NewMergeBucket creates a merge of the bucket across nodes.
func NewMergeBucket(bkt bucket.ID, nodes []uint32, priority Priority) *MergeBucketCommand {
	return &MergeBucketCommand{
		command: newCommand(MergeBucketType, bkt, priority),
		nodes:   nodes,
	}
}

// Nodes returns the nodes taking part in the merge.
func (c *MergeBucketCommand) Nodes() []uint32 { return c.nodes }

// GetBucketDiffCommand computes the metadata diff between merge nodes.
type GetBucketDiffCommand struct {
	command
	nodes []uint32
}

// NewGetBucketDiff creates a diff computation across nodes.
func NewGetBucketDiff(bkt bucket.ID, nodes []uint32, priority Priority) *GetBucketDiffCommand {
	return &GetBucketDiffCommand{
		command: newCommand(GetBucketDiffType, bkt, priority),
		nodes:   nodes,
	}
}

// Nodes returns the nodes taking part in the merge.
func (c *GetBucketDiffCommand) Nodes() []uint32 { return c.nodes }

// ApplyBucketDiffCommand transfers diffed documents between merge nodes.
type ApplyBucketDiffCommand struct {
	command
	nodes []uint32
}

// NewApplyBucketDiff creates a diff application across nodes.
func NewApplyBucketDiff(bkt bucket.ID, nodes []uint32, priority Priority) *ApplyBucketDiffCommand {
	return &ApplyBucketDiffCommand{
		command: newCommand(ApplyBucketDiffType, bkt, priority),
		nodes:   nodes,
	}
}

// Nodes returns the nodes taking part in the merge.
func (c *ApplyBucketDiffCommand) Nodes() []uint32 { return c.nodes }

// AbortBucketOperationsCommand requests aborting queued operations for all
// buckets matching a predicate, typically buckets whose ownership just
// moved to another distributor.
type AbortBucketOperationsCommand struct {
	command
	shouldAbort func(b bucket.ID) bool
}

// NewAbortBucketOperations creates an abort of queued operations for
// buckets matching shouldAbort.
func NewAbortBucketOperations(shouldAbort func(b bucket.ID) bool) *AbortBucketOperationsCommand {
	return &AbortBucketOperationsCommand{
		command:     newCommand(AbortBucketOperationsType, bucket.NullID, PriorityHigh),
		shouldAbort: shouldAbort,
	}
}

// NewAbortBucketOperationsForBuckets creates an abort of queued operations
// for an explicit set of buckets.
func NewAbortBucketOperationsForBuckets(buckets ...bucket.ID) *AbortBucketOperationsCommand {
	set := make(map[bucket.ID]struct{}, len(buckets))
	for _, b := range buckets {
		set[b] = struct{}{}
	}
	return NewAbortBucketOperations(func(b bucket.ID) bool {
		_, ok := set[b]
		return ok
	})
}

// ShouldAbort reports whether queued operations for the bucket are to be
// aborted.
func (c *AbortBucketOperationsCommand) ShouldAbort(b bucket.ID) bool {
	return c.shouldAbort(b)
}
