package events

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/fxamacker/cbor/v2"
)

// ErrNotFound is returned when an event, participation or participant row
// is absent.
var ErrNotFound = errors.New("not found")

// Badger key prefixes for the event directory
var (
	prefixEvent         = []byte("ev:event:")
	prefixParticipation = []byte("ev:part:")
	prefixParticipant   = []byte("ev:acct:")
)

// Directory is the read-mostly view of event and participation rows the
// settlement engine consumes. Row creation belongs to the marketplace CRUD
// layer; the engine records measured savings, claims and forward-only
// status changes.
type Directory struct {
	db *badger.DB
}

// NewDirectory creates an event directory over the shared store.
func NewDirectory(db *badger.DB) (*Directory, error) {
	if db == nil {
		return nil, fmt.Errorf("database cannot be nil")
	}
	return &Directory{db: db}, nil
}

func eventKey(id string) []byte {
	return append(append([]byte{}, prefixEvent...), id...)
}

func participationKey(eventID, participantID string) []byte {
	k := append(append([]byte{}, prefixParticipation...), eventID...)
	k = append(k, ':')
	return append(k, participantID...)
}

func participantKey(id string) []byte {
	return append(append([]byte{}, prefixParticipant...), id...)
}

// PutEvent stores an event row. Exposed for the CRUD layer and tests.
func (d *Directory) PutEvent(event *CurtailmentEvent) error {
	if event == nil || event.ID == "" {
		return fmt.Errorf("event must have an id")
	}
	return d.put(eventKey(event.ID), event)
}

// PutParticipation stores a participation row. Exposed for the CRUD layer
// and tests.
func (d *Directory) PutParticipation(p *EventParticipation) error {
	if p == nil || p.EventID == "" || p.ParticipantID == "" {
		return fmt.Errorf("participation must have event and participant ids")
	}
	return d.put(participationKey(p.EventID, p.ParticipantID), p)
}

// PutParticipant stores a participant row. Exposed for the CRUD layer and
// tests.
func (d *Directory) PutParticipant(p *Participant) error {
	if p == nil || p.ID == "" {
		return fmt.Errorf("participant must have an id")
	}
	return d.put(participantKey(p.ID), p)
}

// Event retrieves an event by id.
func (d *Directory) Event(id string) (*CurtailmentEvent, error) {
	var event CurtailmentEvent
	if err := d.get(eventKey(id), &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// SetEventMainHold records the funding hold id on an event.
func (d *Directory) SetEventMainHold(eventID, holdID string) error {
	return d.db.Update(func(txn *badger.Txn) error {
		var event CurtailmentEvent
		if err := getTxn(txn, eventKey(eventID), &event); err != nil {
			return err
		}
		event.MainHoldID = holdID
		return putTxn(txn, eventKey(eventID), &event)
	})
}

// CompletedEventsEndedSince lists events in Completed status whose end time
// falls at or after the cutoff. The oracle scans these each pass.
func (d *Directory) CompletedEventsEndedSince(cutoff time.Time) ([]*CurtailmentEvent, error) {
	var result []*CurtailmentEvent

	err := d.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefixEvent
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefixEvent); it.ValidForPrefix(prefixEvent); it.Next() {
			var event CurtailmentEvent
			err := it.Item().Value(func(val []byte) error {
				return cbor.Unmarshal(val, &event)
			})
			if err != nil {
				continue // Skip corrupted rows
			}
			if event.Status == EventCompleted && !event.EndTime.Before(cutoff) {
				e := event
				result = append(result, &e)
			}
		}
		return nil
	})

	return result, err
}

// Participations lists all participation rows for an event.
func (d *Directory) Participations(eventID string) ([]*EventParticipation, error) {
	prefix := append(append([]byte{}, prefixParticipation...), eventID+":"...)
	var result []*EventParticipation

	err := d.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var p EventParticipation
			err := it.Item().Value(func(val []byte) error {
				return cbor.Unmarshal(val, &p)
			})
			if err != nil {
				continue
			}
			row := p
			result = append(result, &row)
		}
		return nil
	})

	return result, err
}

// Participation retrieves one participation row.
func (d *Directory) Participation(eventID, participantID string) (*EventParticipation, error) {
	var p EventParticipation
	if err := d.get(participationKey(eventID, participantID), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Participant retrieves one participant row.
func (d *Directory) Participant(id string) (*Participant, error) {
	var p Participant
	if err := d.get(participantKey(id), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// RecordEnergySaved writes the measured savings for a participation.
func (d *Directory) RecordEnergySaved(eventID, participantID string, kwh float64) error {
	return d.db.Update(func(txn *badger.Txn) error {
		key := participationKey(eventID, participantID)
		var p EventParticipation
		if err := getTxn(txn, key, &p); err != nil {
			return err
		}
		p.EnergySavedKwh = kwh
		return putTxn(txn, key, &p)
	})
}

// AdvanceParticipation moves a participation status forward. A transition
// that would lower the status rank is rejected; statuses never move
// backward.
func (d *Directory) AdvanceParticipation(eventID, participantID string, to ParticipationStatus) error {
	return d.db.Update(func(txn *badger.Txn) error {
		key := participationKey(eventID, participantID)
		var p EventParticipation
		if err := getTxn(txn, key, &p); err != nil {
			return err
		}
		if statusRank[to] < statusRank[p.Status] {
			return fmt.Errorf("cannot move participation %s/%s from %s back to %s",
				eventID, participantID, p.Status, to)
		}
		p.Status = to
		return putTxn(txn, key, &p)
	})
}

// MarkRewardClaimed flips the participation's reward-claimed flag and adds
// the amount to the participant's cumulative total. Settlement's payment
// processing is the only caller.
func (d *Directory) MarkRewardClaimed(eventID, participantID string, amount float64) error {
	return d.db.Update(func(txn *badger.Txn) error {
		pKey := participationKey(eventID, participantID)
		var p EventParticipation
		if err := getTxn(txn, pKey, &p); err != nil {
			return err
		}
		p.RewardClaimed = true
		if err := putTxn(txn, pKey, &p); err != nil {
			return err
		}

		aKey := participantKey(participantID)
		var acct Participant
		err := getTxn(txn, aKey, &acct)
		if errors.Is(err, ErrNotFound) {
			acct = Participant{ID: participantID, WalletAddress: p.WalletAddress}
		} else if err != nil {
			return err
		}
		acct.TotalRewardsClaimed += amount
		return putTxn(txn, aKey, &acct)
	})
}

func (d *Directory) put(key []byte, v any) error {
	return d.db.Update(func(txn *badger.Txn) error {
		return putTxn(txn, key, v)
	})
}

func (d *Directory) get(key []byte, v any) error {
	return d.db.View(func(txn *badger.Txn) error {
		return getTxn(txn, key, v)
	})
}

func putTxn(txn *badger.Txn, key []byte, v any) error {
	data, err := cbor.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	return txn.Set(key, data)
}

func getTxn(txn *badger.Txn, key []byte, v any) error {
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
