package rewards

import (
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/fxamacker/cbor/v2"
)

// Badger key prefixes for reward storage
var (
	prefixAllocation = []byte("rw:alloc:")
	prefixPayment    = []byte("rw:pay:")
	prefixPaySigning = []byte("rw:paysig:")
)

// Store persists reward allocations and payments. Both row families are
// keyed by (event, participant) so existence checks are single lookups.
type Store struct {
	db *badger.DB
}

// NewStore creates a reward store over the shared database.
func NewStore(db *badger.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("database cannot be nil")
	}
	return &Store{db: db}, nil
}

func allocationKey(eventID, participantID string) []byte {
	k := append(append([]byte{}, prefixAllocation...), eventID...)
	k = append(k, ':')
	return append(k, participantID...)
}

func paymentKey(eventID, participantID string) []byte {
	k := append(append([]byte{}, prefixPayment...), eventID...)
	k = append(k, ':')
	return append(k, participantID...)
}

func paySigningKey(correlationID string) []byte {
	return append(append([]byte{}, prefixPaySigning...), correlationID...)
}

// InsertAllocation persists an allocation unless one already exists for
// the (event, participant) pair, in which case the existing row is
// returned and created reports false.
func (s *Store) InsertAllocation(alloc *RewardAllocation) (existing *RewardAllocation, created bool, err error) {
	if alloc == nil || alloc.EventID == "" || alloc.ParticipantID == "" {
		return nil, false, fmt.Errorf("allocation must have event and participant ids")
	}

	key := allocationKey(alloc.EventID, alloc.ParticipantID)
	err = s.db.Update(func(txn *badger.Txn) error {
		var prior RewardAllocation
		getErr := getRecord(txn, key, &prior)
		if getErr == nil {
			existing = &prior
			return nil
		}
		if getErr != ErrNotFound {
			return getErr
		}

		created = true
		existing = alloc
		return putRecord(txn, key, alloc)
	})
	if err != nil {
		return nil, false, err
	}
	return existing, created, nil
}

// Allocation retrieves one allocation row.
func (s *Store) Allocation(eventID, participantID string) (*RewardAllocation, error) {
	var alloc RewardAllocation
	err := s.db.View(func(txn *badger.Txn) error {
		return getRecord(txn, allocationKey(eventID, participantID), &alloc)
	})
	if err != nil {
		return nil, err
	}
	return &alloc, nil
}

// Allocations lists all allocation rows for an event.
func (s *Store) Allocations(eventID string) ([]*RewardAllocation, error) {
	prefix := append(append([]byte{}, prefixAllocation...), eventID+":"...)
	var result []*RewardAllocation

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var alloc RewardAllocation
			err := it.Item().Value(func(val []byte) error {
				return cbor.Unmarshal(val, &alloc)
			})
			if err != nil {
				continue
			}
			row := alloc
			result = append(result, &row)
		}
		return nil
	})

	return result, err
}

// VerifyAllocation records the measured actual amount and moves the
// allocation to Verified. A no-op when already verified.
func (s *Store) VerifyAllocation(eventID, participantID string, actualAmount float64) error {
	return s.db.Update(func(txn *badger.Txn) error {
		key := allocationKey(eventID, participantID)
		var alloc RewardAllocation
		if err := getRecord(txn, key, &alloc); err != nil {
			return err
		}
		if alloc.Status == AllocationVerified {
			return nil
		}
		now := time.Now().UTC()
		alloc.ActualAmount = actualAmount
		alloc.Status = AllocationVerified
		alloc.VerifiedAt = &now
		return putRecord(txn, key, &alloc)
	})
}

// CancelAllocation marks an allocation cancelled with zero actual reward.
func (s *Store) CancelAllocation(eventID, participantID string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		key := allocationKey(eventID, participantID)
		var alloc RewardAllocation
		if err := getRecord(txn, key, &alloc); err != nil {
			return err
		}
		if alloc.Status != AllocationAllocated {
			return nil
		}
		alloc.Status = AllocationCancelled
		return putRecord(txn, key, &alloc)
	})
}

// InsertPayment persists a payment unless a non-Failed payment already
// exists for the (event, participant) pair. The "already created" check
// and the insert run in one transaction.
func (s *Store) InsertPayment(payment *RewardPayment) (existing *RewardPayment, created bool, err error) {
	if payment == nil || payment.EventID == "" || payment.ParticipantID == "" {
		return nil, false, fmt.Errorf("payment must have event and participant ids")
	}

	key := paymentKey(payment.EventID, payment.ParticipantID)
	err = s.db.Update(func(txn *badger.Txn) error {
		var prior RewardPayment
		getErr := getRecord(txn, key, &prior)
		if getErr == nil && prior.Status != PaymentFailed {
			existing = &prior
			return nil
		}
		if getErr != nil && getErr != ErrNotFound {
			return getErr
		}

		created = true
		existing = payment
		if err := putRecord(txn, key, payment); err != nil {
			return err
		}
		return txn.Set(paySigningKey(payment.SigningID), key)
	})
	if err != nil {
		return nil, false, err
	}
	return existing, created, nil
}

// Payment retrieves one payment row.
func (s *Store) Payment(eventID, participantID string) (*RewardPayment, error) {
	var payment RewardPayment
	err := s.db.View(func(txn *badger.Txn) error {
		return getRecord(txn, paymentKey(eventID, participantID), &payment)
	})
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// PaymentBySigningID retrieves the payment whose signing request matches
// the correlation id. Returns ErrPaymentNotFound for unknown ids.
func (s *Store) PaymentBySigningID(correlationID string) (*RewardPayment, error) {
	var payment RewardPayment
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(paySigningKey(correlationID))
		if err == badger.ErrKeyNotFound {
			return ErrPaymentNotFound
		}
		if err != nil {
			return err
		}
		key, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if err := getRecord(txn, key, &payment); err == ErrNotFound {
			return ErrPaymentNotFound
		} else if err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// CompletePayment moves a payment from PendingSignature to Completed,
// recording the confirmed hash. The update is conditional on the current
// status, so a duplicate webhook is a harmless no-op; completed reports
// whether this call applied the transition.
func (s *Store) CompletePayment(correlationID, txHash string) (payment *RewardPayment, completed bool, err error) {
	err = s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(paySigningKey(correlationID))
		if err == badger.ErrKeyNotFound {
			return ErrPaymentNotFound
		}
		if err != nil {
			return err
		}
		key, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}

		var p RewardPayment
		if err := getRecord(txn, key, &p); err != nil {
			return err
		}
		payment = &p
		if p.Status != PaymentPendingSignature {
			return nil
		}

		now := time.Now().UTC()
		p.Status = PaymentCompleted
		p.ConfirmedTxHash = txHash
		p.CompletedAt = &now
		completed = true
		payment = &p
		return putRecord(txn, key, &p)
	})
	if err != nil {
		return nil, false, err
	}
	return payment, completed, nil
}

// FailPayment marks a payment Failed, permitting a later re-issue.
func (s *Store) FailPayment(correlationID string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(paySigningKey(correlationID))
		if err == badger.ErrKeyNotFound {
			return ErrPaymentNotFound
		}
		if err != nil {
			return err
		}
		key, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}

		var p RewardPayment
		if err := getRecord(txn, key, &p); err != nil {
			return err
		}
		if p.Status != PaymentPendingSignature {
			return nil
		}
		p.Status = PaymentFailed
		return putRecord(txn, key, &p)
	})
}

func putRecord(txn *badger.Txn, key []byte, v any) error {
	data, err := cbor.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	return txn.Set(key, data)
}

func getRecord(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if err == badger.ErrKeyNotFound {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to get record: %w", err)
	}
	return item.Value(func(val []byte) error {
		return cbor.Unmarshal(val, v)
	})
}
