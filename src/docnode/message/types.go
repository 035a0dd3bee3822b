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

// Package message defines the storage commands and replies flowing through
// a document store node, together with their scheduling attributes.
package message

import (
	"time"

	"github.com/m3db/m3doc/src/docnode/bucket"
)

// Type enumerates the kinds of storage messages.
type Type int

// Message types.
const (
	UnknownType Type = iota
	PutType
	GetType
	UpdateType
	RemoveType
	RemoveLocationType
	RevertType
	StatBucketType
	CreateBucketType
	DeleteBucketType
	SplitBucketType
	JoinBucketsType
	SetBucketStateType
	MergeBucketType
	GetBucketDiffType
	ApplyBucketDiffType
	AbortBucketOperationsType
	InternalType
)

func (t Type) String() string {
	switch t {
	case PutType:
		return "put"
	case GetType:
		return "get"
	case UpdateType:
		return "update"
	case RemoveType:
		return "remove"
	case RemoveLocationType:
		return "removelocation"
	case RevertType:
		return "revert"
	case StatBucketType:
		return "statbucket"
	case CreateBucketType:
		return "createbucket"
	case DeleteBucketType:
		return "deletebucket"
	case SplitBucketType:
		return "splitbucket"
	case JoinBucketsType:
		return "joinbuckets"
	case SetBucketStateType:
		return "setbucketstate"
	case MergeBucketType:
		return "mergebucket"
	case GetBucketDiffType:
		return "getbucketdiff"
	case ApplyBucketDiffType:
		return "applybucketdiff"
	case AbortBucketOperationsType:
		return "abortbucketoperations"
	case InternalType:
		return "internal"
	default:
		return "unknown"
	}
}

// Priority orders messages for dispatch, lower values are more urgent.
type Priority uint8

// Priority bands.
const (
	PriorityHighest Priority = 0
	PriorityHigh    Priority = 50
	PriorityNormal  Priority = 120
	PriorityLow     Priority = 200
	PriorityLowest  Priority = 255
)

// LockMode is the bucket lock mode a message dispatches under.
type LockMode int

const (
	// LockModeExclusive grants sole access to the bucket and is the
	// zero value.
	LockModeExclusive LockMode = iota

	// LockModeShared allows concurrent holders, read only operations.
	LockModeShared
)

func (m LockMode) String() string {
	switch m {
	case LockModeExclusive:
		return "exclusive"
	case LockModeShared:
		return "shared"
	default:
		return "unknown"
	}
}

// LockModeFor returns the lock mode messages of the given type dispatch
// under. Read only types take shared locks, everything else exclusive.
func LockModeFor(t Type) LockMode {
	switch t {
	case GetType, StatBucketType:
		return LockModeShared
	default:
		return LockModeExclusive
	}
}

// Code classifies the outcome of an operation.
type Code int

// Outcome codes.
const (
	CodeOK Code = iota
	CodeTimeout
	CodeAborted
	CodeRejected
	CodeBucketDeleted
	CodeBucketNotFound
	CodeDiskFailure
	CodeInternalFailure
)

func (c Code) String() string {
	switch c {
	case CodeOK:
		return "ok"
	case CodeTimeout:
		return "timeout"
	case CodeAborted:
		return "aborted"
	case CodeRejected:
		return "rejected"
	case CodeBucketDeleted:
		return "bucket_deleted"
	case CodeBucketNotFound:
		return "bucket_not_found"
	case CodeDiskFailure:
		return "disk_failure"
	case CodeInternalFailure:
		return "internal_failure"
	default:
		return "unknown"
	}
}

// ReturnCode couples an outcome code with human readable detail.
type ReturnCode struct {
	Code    Code
	Message string
}

// NewReturnCode creates a return code.
func NewReturnCode(code Code, msg string) ReturnCode {
	return ReturnCode{Code: code, Message: msg}
}

// OK reports whether the outcome was a success.
func (rc ReturnCode) OK() bool {
	return rc.Code == CodeOK
}

// Message is a storage command or reply addressed to a bucket.
type Message interface {
	// ID returns the process unique message id.
	ID() uint64

	// Type returns the message type.
	Type() Type

	// Bucket returns the bucket the message operates on, the null bucket
	// when the message has no bucket affinity.
	Bucket() bucket.ID

	// SetBucket rebinds the message to another bucket after the original
	// was split, joined or moved.
	SetBucket(b bucket.ID)

	// Priority returns the dispatch priority, lower is more urgent.
	Priority() Priority

	// LockMode returns the bucket lock mode the message dispatches under.
	LockMode() LockMode

	// IsReply reports whether this message is a reply.
	IsReply() bool
}

// Command is a message requesting an operation.
type Command interface {
	Message

	// Timeout returns how long the command may wait in queue before it is
	// failed with CodeTimeout instead of dispatched.
	Timeout() time.Duration

	// MakeReply constructs the reply paired with this command.
	MakeReply() Reply
}

// Reply is the response to a command.
type Reply interface {
	Message

	// Result returns the outcome.
	Result() ReturnCode

	// SetResult sets the outcome.
	SetResult(rc ReturnCode)
}

// DocumentCommand is a command addressing a single document within its
// bucket.
type DocumentCommand interface {
	Command

	// DocumentID returns the id of the addressed document.
	DocumentID() string
}

// Sender dispatches commands and replies leaving the queue layer.
type Sender interface {
	// SendCommand sends a command.
	SendCommand(cmd Command)

	// SendReply sends a reply.
	SendReply(reply Reply)
}
