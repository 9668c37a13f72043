// Package policy decides whether a caller may perform an operation on a
// document. The rules are a fixed ordered list of pure predicates; the first
// rule that claims the request decides it, and nothing is registered or
// configured at runtime.
package policy

import (
	"docstore/api/internal/accesskey"
	"docstore/api/internal/store"
)

type Operation string

const (
	OpRead         Operation = "read"
	OpOpen         Operation = "open"
	OpOpenOriginal Operation = "openOriginal"
	OpSave         Operation = "save"
	OpRename       Operation = "rename"
	OpDelete       Operation = "delete"
	OpList         Operation = "list"
)

// Caller is the identity a request arrives with. Exactly one trust model is in
// play per request: an authenticated user (User set), an anonymous session
// (RunKey possibly set), or a capability holder (Key set). An authenticated
// caller may still carry a run key; the run-key rule honors it either way.
type Caller struct {
	User   *store.User
	RunKey string
	Key    accesskey.Key
}

func Authenticated(user store.User) Caller {
	return Caller{User: &user}
}

func AuthenticatedWithRunKey(user store.User, runKey string) Caller {
	return Caller{User: &user, RunKey: runKey}
}

func Anonymous(runKey string) Caller {
	return Caller{RunKey: runKey}
}

func CapabilityHolder(key accesskey.Key) Caller {
	return Caller{Key: key}
}

func (c Caller) Authenticated() bool {
	return c.User != nil
}

// CanSave reports whether the caller could own a new document at all:
// authenticated, or anonymous with a run key to tag it with.
func (c Caller) CanSave() bool {
	return c.User != nil || c.RunKey != ""
}

const (
	RuleOwner      = "owner"
	RuleRunKey     = "runKey"
	RuleShared     = "shared"
	RuleCapability = "capability"
)

type Decision struct {
	Allowed bool
	// Rule names the rule that granted access, so callers can tell a
	// shared-read grant (which strips embedded permissions on the way out)
	// from an ownership grant.
	Rule string
}

var deny = Decision{}

type ruleFunc func(op Operation, doc *store.Document, caller Caller) (Decision, bool)

// Rule order is the precedence order: ownership, anonymous run-key
// co-ownership, shared read, capability keys.
var rules = []ruleFunc{
	ownerRule,
	runKeyRule,
	sharedReadRule,
	capabilityRule,
}

// Evaluate authorizes an operation against a resolved document. A nil
// document stands for a would-be new document: only the caller's own identity
// matters then.
func Evaluate(op Operation, doc *store.Document, caller Caller) Decision {
	if doc == nil {
		if caller.CanSave() {
			rule := RuleRunKey
			if caller.Authenticated() {
				rule = RuleOwner
			}
			return Decision{Allowed: true, Rule: rule}
		}
		return deny
	}
	for _, rule := range rules {
		if decision, ok := rule(op, doc, caller); ok {
			return decision
		}
	}
	return deny
}

// ownerRule: the document's owner may do anything with it.
func ownerRule(_ Operation, doc *store.Document, caller Caller) (Decision, bool) {
	if caller.User == nil || doc.OwnerID == nil {
		return deny, false
	}
	if *doc.OwnerID != caller.User.ID {
		return deny, false
	}
	return Decision{Allowed: true, Rule: RuleOwner}, true
}

// runKeyRule: an ownerless document with a run key belongs to whoever holds
// that run key, account or not.
func runKeyRule(_ Operation, doc *store.Document, caller Caller) (Decision, bool) {
	if doc.OwnerID != nil {
		return deny, false
	}
	runKey := doc.RunKeyValue()
	if runKey == "" || caller.RunKey != runKey {
		return deny, false
	}
	return Decision{Allowed: true, Rule: RuleRunKey}, true
}

// sharedReadRule: a shared document is readable by anyone, and only readable.
func sharedReadRule(op Operation, doc *store.Document, _ Caller) (Decision, bool) {
	if !doc.Shared {
		return deny, false
	}
	switch op {
	case OpRead, OpOpen, OpOpenOriginal:
		return Decision{Allowed: true, Rule: RuleShared}, true
	}
	return deny, false
}

// capabilityRule: a matching RO key grants reads, a matching RW key grants
// reads and saves. Neither grants rename or delete.
func capabilityRule(op Operation, doc *store.Document, caller Caller) (Decision, bool) {
	switch {
	case caller.Key.ReadOnly():
		if doc.ReadAccessKey == nil || *doc.ReadAccessKey != caller.Key.Value {
			return deny, false
		}
		if op == OpRead || op == OpOpen || op == OpOpenOriginal {
			return Decision{Allowed: true, Rule: RuleCapability}, true
		}
	case caller.Key.ReadWrite():
		if doc.ReadWriteAccessKey == nil || *doc.ReadWriteAccessKey != caller.Key.Value {
			return deny, false
		}
		if op == OpRead || op == OpOpen || op == OpOpenOriginal || op == OpSave {
			return Decision{Allowed: true, Rule: RuleCapability}, true
		}
	}
	return deny, false
}
