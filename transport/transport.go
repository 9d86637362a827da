// Package transport implements the call-chain record propagated across mesh
// hops for one originating request.
//
// The transport collects every observable effect a request produced while it
// travelled through the mesh: the call stack, return values, errors, file
// references, transaction records and log entries. It is hydrated from the
// inbound payload, mutated by exactly one in-flight message at a time, and
// finalized into the outbound reply. The call stack is append-only: once a
// hop is recorded it is never removed, even when that hop later fails.
package transport

import (
	"fmt"
	"reflect"
	"time"

	"mesh-sdk/value"
)

// DefaultMaxCallDepth bounds how many times the same (service, version,
// action) triple may appear in one call stack before the chain is treated
// as a loop.
const DefaultMaxCallDepth = 8

// Transaction types. Commit and rollback actions run after the whole call
// chain completes, depending on its outcome.
const (
	TransactionCommit   = "commit"
	TransactionRollback = "rollback"
	TransactionComplete = "complete"
)

// Hop identifies one (service, version, action) invocation in the call chain.
type Hop struct {
	Service string `msgpack:"s"`
	Version string `msgpack:"v"`
	Action  string `msgpack:"a"`
}

// Key returns the ledger key for the hop.
func (h Hop) Key() string {
	return h.Service + "/" + h.Version + "/" + h.Action
}

func (h Hop) String() string {
	return fmt.Sprintf(`"%s" (%s) %s`, h.Service, h.Version, h.Action)
}

// CallLoopError reports a call stack that would repeat the same hop beyond
// the configured depth bound.
type CallLoopError struct {
	Hop   Hop
	Depth int
}

func (e *CallLoopError) Error() string {
	return fmt.Sprintf("call loop detected for %s: depth bound %d exceeded", e.Hop, e.Depth)
}

// Meta carries the origin metadata of the request.
type Meta struct {
	ID         string            `msgpack:"i"`
	Datetime   string            `msgpack:"d,omitempty"`
	Origin     *Hop              `msgpack:"o,omitempty"`
	Duration   int64             `msgpack:"D,omitempty"`
	Properties map[string]string `msgpack:"p,omitempty"`
}

// Return is one entry of the return-value ledger.
type Return struct {
	Hop   Hop `msgpack:"h"`
	Value any `msgpack:"v"`
}

// ErrorEntry is one entry of the error ledger, keyed by its origin hop.
// The error ledger is independent from the return ledger: a hop that failed
// keeps any return value it recorded before the failure.
type ErrorEntry struct {
	Hop     Hop    `msgpack:"h"`
	Message string `msgpack:"m"`
	Code    int    `msgpack:"c,omitempty"`
	Status  string `msgpack:"s,omitempty"`
}

// File is a registered file reference. Only handle metadata travels in the
// transport, never the file contents.
type File struct {
	Name  string `msgpack:"n"`
	Path  string `msgpack:"p"`
	Mime  string `msgpack:"m,omitempty"`
	Size  int64  `msgpack:"z,omitempty"`
	Token string `msgpack:"t,omitempty"`
}

// Transaction is a commit or rollback action registered to run after the
// call chain completes.
type Transaction struct {
	Service string            `msgpack:"n"`
	Version string            `msgpack:"v"`
	Caller  string            `msgpack:"c"`
	Target  string            `msgpack:"a"`
	Params  []value.ParamData `msgpack:"p,omitempty"`
}

// Transactions groups the registered transactions by type.
type Transactions struct {
	Commit   []Transaction `msgpack:"c,omitempty"`
	Rollback []Transaction `msgpack:"r,omitempty"`
	Complete []Transaction `msgpack:"C,omitempty"`
}

func (t Transactions) isEmpty() bool {
	return len(t.Commit) == 0 && len(t.Rollback) == 0 && len(t.Complete) == 0
}

// LogEntry is one structured log line recorded during the call chain.
type LogEntry struct {
	Timestamp string `msgpack:"t"`
	Entry     any    `msgpack:"e"`
}

// CallRecord documents a deferred or run-time call made from one hop to
// another, including its parameters and timing.
type CallRecord struct {
	Caller   Hop               `msgpack:"c"`
	Callee   Hop               `msgpack:"e"`
	Duration int64             `msgpack:"d,omitempty"`
	Timeout  int64             `msgpack:"t,omitempty"`
	Params   []value.ParamData `msgpack:"p,omitempty"`
}

// TransportData is the serializable projection of a transport. It is the
// transport section of the wire payload.
type TransportData struct {
	Meta         *Meta         `msgpack:"m,omitempty"`
	Stack        []Hop         `msgpack:"s,omitempty"`
	Returns      []Return      `msgpack:"r,omitempty"`
	Errors       []ErrorEntry  `msgpack:"e,omitempty"`
	Files        []File        `msgpack:"f,omitempty"`
	Transactions *Transactions `msgpack:"x,omitempty"`
	Logs         []LogEntry    `msgpack:"l,omitempty"`
	Calls        []CallRecord  `msgpack:"c,omitempty"`
}

// Transport is the mutable call-chain record threaded through a request's
// lifetime. It is owned by a single in-flight message and is not safe for
// concurrent use; the dispatch loop processes one message at a time.
type Transport struct {
	meta         Meta
	stack        []Hop
	returns      []Return
	errors       []ErrorEntry
	files        []File
	transactions Transactions
	logs         []LogEntry
	calls        []CallRecord
	maxDepth     int
}

// New creates an empty transport with the given request ID.
func New(id string) *Transport {
	return &Transport{
		meta:     Meta{ID: id, Datetime: time.Now().UTC().Format(time.RFC3339)},
		maxDepth: DefaultMaxCallDepth,
	}
}

// Hydrate reconstructs a transport from the inbound payload's transport
// section. Missing sections default to empty collections, never an error.
func Hydrate(data *TransportData) *Transport {
	t := &Transport{maxDepth: DefaultMaxCallDepth}
	if data == nil {
		return t
	}
	if data.Meta != nil {
		t.meta = *data.Meta
	}
	t.stack = append(t.stack, data.Stack...)
	t.returns = append(t.returns, data.Returns...)
	t.errors = append(t.errors, data.Errors...)
	t.files = append(t.files, data.Files...)
	if data.Transactions != nil {
		t.transactions = *data.Transactions
	}
	t.logs = append(t.logs, data.Logs...)
	t.calls = append(t.calls, data.Calls...)
	return t
}

// SetMaxCallDepth overrides the loop-detection depth bound.
func (t *Transport) SetMaxCallDepth(depth int) {
	if depth > 0 {
		t.maxDepth = depth
	}
}

// ID returns the unique request identifier.
func (t *Transport) ID() string { return t.meta.ID }

// SetID sets the unique request identifier.
func (t *Transport) SetID(id string) { t.meta.ID = id }

// Datetime returns the request creation timestamp.
func (t *Transport) Datetime() string { return t.meta.Datetime }

// Origin returns the hop that originated the request, if recorded.
func (t *Transport) Origin() (Hop, bool) {
	if t.meta.Origin == nil {
		return Hop{}, false
	}
	return *t.meta.Origin, true
}

// SetOrigin records the hop that originated the request. The first recorded
// origin wins.
func (t *Transport) SetOrigin(hop Hop) {
	if t.meta.Origin == nil {
		h := hop
		t.meta.Origin = &h
	}
}

// GetProperty returns a userland property value, or the default when the
// property does not exist.
func (t *Transport) GetProperty(name, def string) string {
	if v, ok := t.meta.Properties[name]; ok {
		return v
	}
	return def
}

// SetProperty sets a userland property on the transport meta.
func (t *Transport) SetProperty(name, val string) {
	if t.meta.Properties == nil {
		t.meta.Properties = make(map[string]string)
	}
	t.meta.Properties[name] = val
}

// Stack returns a copy of the call stack recorded so far.
func (t *Transport) Stack() []Hop {
	stack := make([]Hop, len(t.stack))
	copy(stack, t.stack)
	return stack
}

// CurrentHop returns the most recent hop of the call stack.
func (t *Transport) CurrentHop() (Hop, bool) {
	if len(t.stack) == 0 {
		return Hop{}, false
	}
	return t.stack[len(t.stack)-1], true
}

// CheckCall reports whether another invocation of the hop would exceed the
// depth bound, without recording anything. Callers use it before handing a
// call to the router; the callee's own engine registers the hop.
func (t *Transport) CheckCall(service, version, action string) error {
	hop := Hop{Service: service, Version: version, Action: action}
	seen := 0
	for _, h := range t.stack {
		if h == hop {
			seen++
		}
	}
	if seen >= t.maxDepth {
		return &CallLoopError{Hop: hop, Depth: t.maxDepth}
	}
	return nil
}

// RegisterCall appends a hop to the call stack.
//
// The stack is an append-only audit trail. Registering fails with
// *CallLoopError when the same triple would repeat beyond the depth bound,
// which is how infinite recursive mesh calls are cut off.
func (t *Transport) RegisterCall(service, version, action string) error {
	if err := t.CheckCall(service, version, action); err != nil {
		return err
	}
	hop := Hop{Service: service, Version: version, Action: action}
	t.stack = append(t.stack, hop)
	if t.meta.Origin == nil {
		t.SetOrigin(hop)
	}
	return nil
}

// SetReturn records the return value for a hop. Recording again for the
// same hop replaces the previous value.
func (t *Transport) SetReturn(hop Hop, v value.Value) {
	for i := range t.returns {
		if t.returns[i].Hop == hop {
			t.returns[i].Value = v.Raw()
			return
		}
	}
	t.returns = append(t.returns, Return{Hop: hop, Value: v.Raw()})
}

// GetReturn returns the recorded return value for a hop.
func (t *Transport) GetReturn(hop Hop) (value.Value, bool) {
	for _, r := range t.returns {
		if r.Hop == hop {
			return value.Of(r.Value), true
		}
	}
	return value.Null(), false
}

// AddError records a structured error against its origin hop. Errors never
// replace previously recorded data.
func (t *Transport) AddError(hop Hop, message string, code int, status string) {
	t.errors = append(t.errors, ErrorEntry{Hop: hop, Message: message, Code: code, Status: status})
}

// Errors returns a copy of the error ledger.
func (t *Transport) Errors() []ErrorEntry {
	entries := make([]ErrorEntry, len(t.errors))
	copy(entries, t.errors)
	return entries
}

// HasErrors reports whether any hop recorded an error.
func (t *Transport) HasErrors() bool { return len(t.errors) > 0 }

// RegisterFile registers a file reference. Files dedupe by reference
// identity, so registering the same handle twice keeps a single entry.
func (t *Transport) RegisterFile(f File) {
	for _, existing := range t.files {
		if existing == f {
			return
		}
	}
	t.files = append(t.files, f)
}

// Files returns a copy of the registered file references.
func (t *Transport) Files() []File {
	files := make([]File, len(t.files))
	copy(files, t.files)
	return files
}

// HasFiles reports whether any file references were registered.
func (t *Transport) HasFiles() bool { return len(t.files) > 0 }

// AddTransaction registers a transaction of the given type to run after the
// call chain completes.
func (t *Transport) AddTransaction(txType string, tx Transaction) error {
	switch txType {
	case TransactionCommit:
		t.transactions.Commit = append(t.transactions.Commit, tx)
	case TransactionRollback:
		t.transactions.Rollback = append(t.transactions.Rollback, tx)
	case TransactionComplete:
		t.transactions.Complete = append(t.transactions.Complete, tx)
	default:
		return fmt.Errorf("invalid transaction type value: %s", txType)
	}
	return nil
}

// Transactions returns the registered transactions grouped by type.
func (t *Transport) Transactions() Transactions { return t.transactions }

// HasTransactions reports whether any transactions were registered.
func (t *Transport) HasTransactions() bool { return !t.transactions.isEmpty() }

// Log records a structured log entry with the current timestamp.
func (t *Transport) Log(entry any) {
	t.logs = append(t.logs, LogEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Entry:     entry,
	})
}

// Logs returns a copy of the recorded log entries.
func (t *Transport) Logs() []LogEntry {
	logs := make([]LogEntry, len(t.logs))
	copy(logs, t.logs)
	return logs
}

// AddCall documents a deferred or run-time call in the calls ledger.
func (t *Transport) AddCall(record CallRecord) {
	t.calls = append(t.calls, record)
}

// Calls returns a copy of the calls ledger.
func (t *Transport) Calls() []CallRecord {
	calls := make([]CallRecord, len(t.calls))
	copy(calls, t.calls)
	return calls
}

// HasCalls reports whether any calls were registered from the given hop.
func (t *Transport) HasCalls(service, version string) bool {
	for _, c := range t.calls {
		if c.Caller.Service == service && c.Caller.Version == version {
			return true
		}
	}
	return false
}

// Merge union-merges another transport into this one.
//
// Collections are keyed by hop identity: return entries from a different hop
// never collide, errors and logs concatenate, files dedupe by reference
// identity. Merging never overwrites or drops previously recorded data, and
// merging identical inputs repeatedly is idempotent.
func (t *Transport) Merge(other *Transport) {
	if other == nil {
		return
	}
	t.MergeData(other.Finalize())
}

// MergeData union-merges a serialized transport section, typically returned
// from a nested run-time call.
func (t *Transport) MergeData(data *TransportData) {
	if data == nil {
		return
	}

	if data.Meta != nil {
		if t.meta.ID == "" {
			t.meta.ID = data.Meta.ID
		}
		if t.meta.Origin == nil && data.Meta.Origin != nil {
			t.SetOrigin(*data.Meta.Origin)
		}
		for name, val := range data.Meta.Properties {
			if _, ok := t.meta.Properties[name]; !ok {
				t.SetProperty(name, val)
			}
		}
	}

	// A callee's stack normally extends the caller's, so when one stack is
	// a prefix of the other the longer one wins: a hop that legally repeats
	// under the depth bound stays in the audit trail and loop detection
	// keeps an accurate count. Unrelated stacks union per hop.
	switch {
	case isHopPrefix(t.stack, data.Stack):
		t.stack = append(t.stack[:0], data.Stack...)
	case isHopPrefix(data.Stack, t.stack):
		// already recorded
	default:
		for _, hop := range data.Stack {
			if !containsHop(t.stack, hop) {
				t.stack = append(t.stack, hop)
			}
		}
	}

	for _, r := range data.Returns {
		if _, ok := t.GetReturn(r.Hop); !ok {
			t.returns = append(t.returns, r)
		}
	}

	for _, e := range data.Errors {
		if !containsEqual(t.errors, e) {
			t.errors = append(t.errors, e)
		}
	}

	for _, f := range data.Files {
		t.RegisterFile(f)
	}

	if data.Transactions != nil {
		t.transactions.Commit = appendMissing(t.transactions.Commit, data.Transactions.Commit)
		t.transactions.Rollback = appendMissing(t.transactions.Rollback, data.Transactions.Rollback)
		t.transactions.Complete = appendMissing(t.transactions.Complete, data.Transactions.Complete)
	}

	for _, l := range data.Logs {
		if !containsEqual(t.logs, l) {
			t.logs = append(t.logs, l)
		}
	}

	for _, c := range data.Calls {
		if !containsEqual(t.calls, c) {
			t.calls = append(t.calls, c)
		}
	}
}

// Finalize returns the serializable projection of the transport for the
// outbound reply.
func (t *Transport) Finalize() *TransportData {
	data := &TransportData{
		Stack:   t.Stack(),
		Returns: append([]Return(nil), t.returns...),
		Errors:  t.Errors(),
		Files:   t.Files(),
		Logs:    t.Logs(),
		Calls:   t.Calls(),
	}
	meta := t.meta
	data.Meta = &meta
	if !t.transactions.isEmpty() {
		tx := t.transactions
		data.Transactions = &tx
	}
	return data
}

func containsHop(stack []Hop, hop Hop) bool {
	for _, h := range stack {
		if h == hop {
			return true
		}
	}
	return false
}

// isHopPrefix reports whether prefix matches the leading hops of stack.
func isHopPrefix(prefix, stack []Hop) bool {
	if len(prefix) > len(stack) {
		return false
	}
	for i, h := range prefix {
		if stack[i] != h {
			return false
		}
	}
	return true
}

func containsEqual[T any](items []T, item T) bool {
	for _, existing := range items {
		if reflect.DeepEqual(existing, item) {
			return true
		}
	}
	return false
}

func appendMissing[T any](dst, src []T) []T {
	for _, item := range src {
		if !containsEqual(dst, item) {
			dst = append(dst, item)
		}
	}
	return dst
}
