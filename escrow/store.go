package escrow

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/fxamacker/cbor/v2"
)

// Badger key prefixes for hold storage
var (
	prefixHold        = []byte("hold:rec:")
	prefixSigning     = []byte("hold:sig:")
	prefixMain        = []byte("hold:main:")
	prefixParticipant = []byte("hold:part:")
	prefixTx          = []byte("hold:tx:")
)

// Store is the durable repository of conditional holds. Every hold ever
// created stays in the store; state transitions are conditional updates
// keyed on the current state so concurrent writers cannot double-apply a
// transition.
type Store struct {
	db *badger.DB
}

// NewStore creates a hold store over the shared database.
func NewStore(db *badger.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("database cannot be nil")
	}
	return &Store{db: db}, nil
}

func holdKey(id string) []byte {
	return append(append([]byte{}, prefixHold...), id...)
}

func signingKey(correlationID string) []byte {
	return append(append([]byte{}, prefixSigning...), correlationID...)
}

func mainKey(eventID string) []byte {
	return append(append([]byte{}, prefixMain...), eventID...)
}

func txKey(hash string) []byte {
	return append(append([]byte{}, prefixTx...), hash...)
}

func participantHoldKey(eventID, participantID string) []byte {
	k := append(append([]byte{}, prefixParticipant...), eventID...)
	k = append(k, ':')
	return append(k, participantID...)
}

// NewID generates a unique hold identifier.
func NewID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}

// Insert persists a new hold together with its kind index and the signing
// correlation index for the create request.
func (s *Store) Insert(hold *ConditionalHold) error {
	if hold == nil || hold.ID == "" {
		return fmt.Errorf("hold must have an id")
	}

	return s.db.Update(func(txn *badger.Txn) error {
		data, err := cbor.Marshal(hold)
		if err != nil {
			return fmt.Errorf("failed to marshal hold: %w", err)
		}
		if err := txn.Set(holdKey(hold.ID), data); err != nil {
			return err
		}

		if hold.CreateSigningID != "" {
			if err := txn.Set(signingKey(hold.CreateSigningID), []byte(hold.ID)); err != nil {
				return err
			}
		}

		switch hold.Kind {
		case KindMainEvent:
			return txn.Set(mainKey(hold.EventID), []byte(hold.ID))
		case KindParticipant:
			return txn.Set(participantHoldKey(hold.EventID, hold.ParticipantID), []byte(hold.ID))
		}
		return nil
	})
}

// Get retrieves a hold by id.
func (s *Store) Get(id string) (*ConditionalHold, error) {
	var hold ConditionalHold
	err := s.db.View(func(txn *badger.Txn) error {
		return getHold(txn, holdKey(id), &hold)
	})
	if err != nil {
		return nil, err
	}
	return &hold, nil
}

// GetByCorrelationID retrieves the hold whose create, finish or cancel
// signing id equals the given correlation id.
func (s *Store) GetByCorrelationID(correlationID string) (*ConditionalHold, error) {
	var hold ConditionalHold
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(signingKey(correlationID))
		if err == badger.ErrKeyNotFound {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		id, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return getHold(txn, holdKey(string(id)), &hold)
	})
	if err != nil {
		return nil, err
	}
	return &hold, nil
}

// GetByTxHash retrieves the hold whose confirmed transaction matches the
// given hash.
func (s *Store) GetByTxHash(hash string) (*ConditionalHold, error) {
	return s.getIndexed(txKey(hash))
}

// MainHold retrieves the event-level funding hold for an event.
func (s *Store) MainHold(eventID string) (*ConditionalHold, error) {
	return s.getIndexed(mainKey(eventID))
}

// ParticipantHold retrieves the per-participant hold for an event.
func (s *Store) ParticipantHold(eventID, participantID string) (*ConditionalHold, error) {
	return s.getIndexed(participantHoldKey(eventID, participantID))
}

// ListByEvent lists every hold recorded for an event.
func (s *Store) ListByEvent(eventID string) ([]*ConditionalHold, error) {
	var result []*ConditionalHold

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefixHold
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefixHold); it.ValidForPrefix(prefixHold); it.Next() {
			var hold ConditionalHold
			err := it.Item().Value(func(val []byte) error {
				return cbor.Unmarshal(val, &hold)
			})
			if err != nil {
				continue // Skip corrupted rows
			}
			if hold.EventID == eventID {
				h := hold
				result = append(result, &h)
			}
		}
		return nil
	})

	return result, err
}

// Transition applies a state change as a conditional update: the hold is
// re-read inside the transaction and the update is dropped with
// ErrInvalidState unless its current state equals from. A duplicate webhook
// that races another therefore applies exactly once. The mutate callback
// runs after the state check and before the write.
func (s *Store) Transition(id string, from, to HoldState, mutate func(*ConditionalHold)) (*ConditionalHold, error) {
	var hold ConditionalHold

	err := s.db.Update(func(txn *badger.Txn) error {
		if err := getHold(txn, holdKey(id), &hold); err != nil {
			return err
		}
		if hold.State != from {
			return fmt.Errorf("%w: hold %s is %s, expected %s", ErrInvalidState, id, hold.State, from)
		}

		hold.State = to
		hold.UpdatedAt = time.Now().UTC()
		if mutate != nil {
			mutate(&hold)
		}

		data, err := cbor.Marshal(&hold)
		if err != nil {
			return fmt.Errorf("failed to marshal hold: %w", err)
		}
		if err := txn.Set(holdKey(id), data); err != nil {
			return err
		}

		// Keep the correlation index covering whichever signing id the
		// mutation recorded.
		for _, cid := range []string{hold.CreateSigningID, hold.FinishSigningID, hold.CancelSigningID} {
			if cid == "" {
				continue
			}
			if err := txn.Set(signingKey(cid), []byte(hold.ID)); err != nil {
				return err
			}
		}

		if hold.ConfirmedTxHash != "" {
			if err := txn.Set(txKey(hold.ConfirmedTxHash), []byte(hold.ID)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &hold, nil
}

func (s *Store) getIndexed(indexKey []byte) (*ConditionalHold, error) {
	var hold ConditionalHold
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(indexKey)
		if err == badger.ErrKeyNotFound {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		id, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return getHold(txn, holdKey(string(id)), &hold)
	})
	if err != nil {
		return nil, err
	}
	return &hold, nil
}

func getHold(txn *badger.Txn, key []byte, hold *ConditionalHold) error {
	item, err := txn.Get(key)
	if err == badger.ErrKeyNotFound {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to get hold: %w", err)
	}
	return item.Value(func(val []byte) error {
		return cbor.Unmarshal(val, hold)
	})
}
