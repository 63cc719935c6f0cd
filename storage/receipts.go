package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/readone97/Sol-Kart/native/payrequest"
)

const (
	receiptKeyPrefix = "receipt:"
	settledKeyPrefix = "settled:"
)

// ReceiptLedger is a LevelDB-backed record of finalized payments. Receipts are
// keyed by reference with a secondary index ordered by settlement time.
type ReceiptLedger struct {
	db *leveldb.DB
}

// OpenReceiptLedger opens (or creates) a ledger at path.
func OpenReceiptLedger(path string) (*ReceiptLedger, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("receipt ledger path required")
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return nil, fmt.Errorf("resolve receipt ledger path: %w", err)
	}
	db, err := leveldb.OpenFile(abs, nil)
	if err != nil {
		return nil, fmt.Errorf("open receipt ledger: %w", err)
	}
	return &ReceiptLedger{db: db}, nil
}

// Close releases the underlying LevelDB resources.
func (l *ReceiptLedger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

// Record stores a receipt. The first receipt for a reference wins.
func (l *ReceiptLedger) Record(_ context.Context, receipt payrequest.Receipt) error {
	key := []byte(receiptKeyPrefix + receipt.Reference.String())
	if ok, err := l.db.Has(key, nil); err != nil {
		return fmt.Errorf("load receipt: %w", err)
	} else if ok {
		return nil
	}
	payload, err := json.Marshal(receipt)
	if err != nil {
		return fmt.Errorf("encode receipt: %w", err)
	}
	batch := new(leveldb.Batch)
	batch.Put(key, payload)
	batch.Put([]byte(settledKey(settledNanos(receipt.SettledAt), receipt.Reference.String())), nil)
	if err := l.db.Write(batch, nil); err != nil {
		return fmt.Errorf("record receipt: %w", err)
	}
	return nil
}

// Get returns the receipt for ref or payrequest.ErrNotFound.
func (l *ReceiptLedger) Get(_ context.Context, ref payrequest.Reference) (*payrequest.Receipt, error) {
	payload, err := l.db.Get([]byte(receiptKeyPrefix+ref.String()), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, payrequest.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load receipt: %w", err)
	}
	var receipt payrequest.Receipt
	if err := json.Unmarshal(payload, &receipt); err != nil {
		return nil, fmt.Errorf("decode receipt: %w", err)
	}
	return &receipt, nil
}

// Recent returns receipts settled at or after since, oldest first.
func (l *ReceiptLedger) Recent(ctx context.Context, since time.Time) ([]payrequest.Receipt, error) {
	iter := l.db.NewIterator(util.BytesPrefix([]byte(settledKeyPrefix)), nil)
	defer iter.Release()

	receipts := make([]payrequest.Receipt, 0)
	for ok := iter.Seek([]byte(settledKey(settledNanos(since), ""))); ok; ok = iter.Next() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		ref, ok := parseSettledKey(iter.Key())
		if !ok {
			continue
		}
		parsed, err := payrequest.ParseReference(ref)
		if err != nil {
			continue
		}
		receipt, err := l.Get(ctx, parsed)
		if err != nil {
			return nil, err
		}
		receipts = append(receipts, *receipt)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterate receipts: %w", err)
	}
	return receipts, nil
}

// settledNanos keeps index keys non-negative; UnixNano is undefined before 1678
// and negative before the epoch, and either would break key ordering.
func settledNanos(t time.Time) int64 {
	if t.Before(time.Unix(0, 0)) {
		return 0
	}
	return t.UTC().UnixNano()
}

func settledKey(nanos int64, ref string) string {
	return fmt.Sprintf("%s%020d:%s", settledKeyPrefix, nanos, ref)
}

func parseSettledKey(key []byte) (string, bool) {
	parts := strings.SplitN(string(key), ":", 3)
	if len(parts) != 3 || parts[2] == "" {
		return "", false
	}
	return parts[2], true
}

// MemoryReceipts is an in-process receipt store for development and tests.
type MemoryReceipts struct {
	mu       sync.RWMutex
	receipts map[payrequest.Reference]payrequest.Receipt
}

func NewMemoryReceipts() *MemoryReceipts {
	return &MemoryReceipts{receipts: make(map[payrequest.Reference]payrequest.Receipt)}
}

func (m *MemoryReceipts) Record(_ context.Context, receipt payrequest.Receipt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.receipts[receipt.Reference]; !ok {
		m.receipts[receipt.Reference] = receipt
	}
	return nil
}

func (m *MemoryReceipts) Get(_ context.Context, ref payrequest.Reference) (*payrequest.Receipt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	receipt, ok := m.receipts[ref]
	if !ok {
		return nil, payrequest.ErrNotFound
	}
	return &receipt, nil
}

func (m *MemoryReceipts) Recent(_ context.Context, since time.Time) ([]payrequest.Receipt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]payrequest.Receipt, 0, len(m.receipts))
	for _, receipt := range m.receipts {
		if !receipt.SettledAt.Before(since) {
			out = append(out, receipt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SettledAt.Before(out[j].SettledAt) })
	return out, nil
}

var (
	_ payrequest.Receipts = (*ReceiptLedger)(nil)
	_ payrequest.Receipts = (*MemoryReceipts)(nil)
)
