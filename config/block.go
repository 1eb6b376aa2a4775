package config

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cast"

	"github.com/kbukum/flowkit/errors"
)

// Separator joins the segments of a hierarchical key.
const Separator = "."

// store is the storage shared by a block and every view derived from it.
type store struct {
	mu           sync.RWMutex
	values       map[string]string
	descriptions map[string]string
	readOnly     map[string]bool
	lockedTrees  []string
}

// Block is a hierarchical mapping of dotted keys to string values.
//
// A Block may be a view onto a subtree of another block (see SubblockView);
// views share storage and read-only state with their parent.
type Block struct {
	s      *store
	prefix string
}

// NewBlock creates an empty block.
func NewBlock() *Block {
	return &Block{s: newStore()}
}

// FromMap creates a block holding the given key/value pairs.
func FromMap(values map[string]string) *Block {
	b := NewBlock()
	for k, v := range values {
		b.s.values[k] = v
	}
	return b
}

func newStore() *store {
	return &store{
		values:       make(map[string]string),
		descriptions: make(map[string]string),
		readOnly:     make(map[string]bool),
	}
}

func (b *Block) full(key string) string {
	if b.prefix == "" {
		return key
	}
	if key == "" {
		return b.prefix
	}
	return b.prefix + Separator + key
}

func (b *Block) relative(full string) (string, bool) {
	if b.prefix == "" {
		return full, true
	}
	p := b.prefix + Separator
	if !strings.HasPrefix(full, p) {
		return "", false
	}
	return full[len(p):], true
}

// Get returns the raw value stored under key.
func (b *Block) Get(key string) (string, bool) {
	b.s.mu.RLock()
	defer b.s.mu.RUnlock()
	v, ok := b.s.values[b.full(key)]
	return v, ok
}

// Has reports whether key holds a value.
func (b *Block) Has(key string) bool {
	_, ok := b.Get(key)
	return ok
}

// GetString returns the value of key, failing with unknown-configuration-value if absent.
func (b *Block) GetString(key string) (string, error) {
	v, ok := b.Get(key)
	if !ok {
		return "", &errors.Error{
			Kind:    errors.KindUnknownConfigurationValue,
			Key:     b.full(key),
			Message: "no value for configuration key " + b.full(key),
		}
	}
	return v, nil
}

// GetDefault returns the value of key, or def if absent.
func (b *Block) GetDefault(key, def string) string {
	if v, ok := b.Get(key); ok {
		return v
	}
	return def
}

// GetBool parses key as a boolean. Accepts the strconv forms plus yes/no and on/off.
func (b *Block) GetBool(key string) (bool, error) {
	v, err := b.GetString(key)
	if err != nil {
		return false, err
	}
	return b.toBool(key, v)
}

// GetBoolOr parses key as a boolean, or returns def if absent.
func (b *Block) GetBoolOr(key string, def bool) (bool, error) {
	v, ok := b.Get(key)
	if !ok {
		return def, nil
	}
	return b.toBool(key, v)
}

func (b *Block) toBool(key, v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "yes", "on":
		return true, nil
	case "no", "off":
		return false, nil
	}
	out, err := cast.ToBoolE(strings.TrimSpace(v))
	if err != nil {
		return false, errors.BadValueCast(b.full(key), v, "bool").WithCause(err)
	}
	return out, nil
}

// GetInt parses key as an integer.
func (b *Block) GetInt(key string) (int, error) {
	v, err := b.GetString(key)
	if err != nil {
		return 0, err
	}
	return b.toInt(key, v)
}

// GetIntOr parses key as an integer, or returns def if absent.
func (b *Block) GetIntOr(key string, def int) (int, error) {
	v, ok := b.Get(key)
	if !ok {
		return def, nil
	}
	return b.toInt(key, v)
}

func (b *Block) toInt(key, v string) (int, error) {
	out, err := cast.ToIntE(strings.TrimSpace(v))
	if err != nil || strings.TrimSpace(v) == "" {
		return 0, errors.BadValueCast(b.full(key), v, "int").WithCause(err)
	}
	return out, nil
}

// GetFloat parses key as a float64.
func (b *Block) GetFloat(key string) (float64, error) {
	v, err := b.GetString(key)
	if err != nil {
		return 0, err
	}
	out, cerr := cast.ToFloat64E(strings.TrimSpace(v))
	if cerr != nil || strings.TrimSpace(v) == "" {
		return 0, errors.BadValueCast(b.full(key), v, "float").WithCause(cerr)
	}
	return out, nil
}

// GetDuration parses key as a time.Duration ("250ms", "2s").
func (b *Block) GetDuration(key string) (time.Duration, error) {
	v, err := b.GetString(key)
	if err != nil {
		return 0, err
	}
	out, cerr := time.ParseDuration(strings.TrimSpace(v))
	if cerr != nil {
		return 0, errors.BadValueCast(b.full(key), v, "duration").WithCause(cerr)
	}
	return out, nil
}

// Set stores value under key, failing with read-only-value if the key is locked.
func (b *Block) Set(key, value string) error {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	full := b.full(key)
	if b.s.isReadOnly(full) {
		if cur, ok := b.s.values[full]; !ok || cur != value {
			return errors.ReadOnlyValue(full)
		}
	}
	b.s.values[full] = value
	return nil
}

// SetDescription attaches a human-readable description to key.
func (b *Block) SetDescription(key, description string) {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	b.s.descriptions[b.full(key)] = description
}

// Description returns the description attached to key.
func (b *Block) Description(key string) string {
	b.s.mu.RLock()
	defer b.s.mu.RUnlock()
	return b.s.descriptions[b.full(key)]
}

// Unset removes key, failing with read-only-value if the key is locked.
func (b *Block) Unset(key string) error {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	full := b.full(key)
	if b.s.isReadOnly(full) {
		return errors.ReadOnlyValue(full)
	}
	delete(b.s.values, full)
	return nil
}

// MarkReadOnly locks a single key against further changes.
func (b *Block) MarkReadOnly(key string) {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	b.s.readOnly[b.full(key)] = true
}

// ClearReadOnly unlocks a key marked with MarkReadOnly. Keys under a locked
// subtree stay locked.
func (b *Block) ClearReadOnly(key string) {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	delete(b.s.readOnly, b.full(key))
}

// LockSubtree makes every key under prefix read-only, including keys added
// later. An empty prefix locks the whole block (or the whole view).
func (b *Block) LockSubtree(prefix string) {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	b.s.lockedTrees = append(b.s.lockedTrees, b.full(prefix))
}

// IsReadOnly reports whether key is locked.
func (b *Block) IsReadOnly(key string) bool {
	b.s.mu.RLock()
	defer b.s.mu.RUnlock()
	return b.s.isReadOnly(b.full(key))
}

func (s *store) isReadOnly(full string) bool {
	if s.readOnly[full] {
		return true
	}
	for _, tree := range s.lockedTrees {
		if tree == "" || full == tree || strings.HasPrefix(full, tree+Separator) {
			return true
		}
	}
	return false
}

// Keys returns every key in the block, sorted, relative to the block.
func (b *Block) Keys() []string {
	b.s.mu.RLock()
	defer b.s.mu.RUnlock()
	keys := make([]string, 0, len(b.s.values))
	for full := range b.s.values {
		if rel, ok := b.relative(full); ok && rel != "" {
			keys = append(keys, rel)
		}
	}
	sort.Strings(keys)
	return keys
}

// Subblock returns an independent copy of the keys under prefix, with the
// prefix stripped. Read-only state is carried over.
func (b *Block) Subblock(prefix string) *Block {
	view := b.SubblockView(prefix)
	return view.Clone()
}

// SubblockView returns a live view of the keys under prefix. Changes through
// the view are visible in the parent and vice versa.
func (b *Block) SubblockView(prefix string) *Block {
	return &Block{s: b.s, prefix: b.full(prefix)}
}

// Clone returns an independent copy of the block (or view).
func (b *Block) Clone() *Block {
	out := NewBlock()
	b.s.mu.RLock()
	defer b.s.mu.RUnlock()
	for full, v := range b.s.values {
		rel, ok := b.relative(full)
		if !ok || rel == "" {
			continue
		}
		out.s.values[rel] = v
		if d, ok := b.s.descriptions[full]; ok {
			out.s.descriptions[rel] = d
		}
		if b.s.isReadOnly(full) {
			out.s.readOnly[rel] = true
		}
	}
	return out
}

// Merge copies every value of other into b. Values already present in b are
// overwritten unless locked, in which case merge fails with read-only-value.
func (b *Block) Merge(other *Block) error {
	if other == nil {
		return nil
	}
	for _, key := range other.Keys() {
		v, _ := other.Get(key)
		if err := b.Set(key, v); err != nil {
			return err
		}
		if d := other.Description(key); d != "" {
			b.SetDescription(key, d)
		}
	}
	return nil
}

// ToMap returns the block's values keyed relative to the block.
func (b *Block) ToMap() map[string]string {
	out := make(map[string]string)
	for _, key := range b.Keys() {
		v, _ := b.Get(key)
		out[key] = v
	}
	return out
}

// JoinKey joins key segments with the separator, skipping empty segments.
func JoinKey(parts ...string) string {
	nonEmpty := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, Separator)
}
