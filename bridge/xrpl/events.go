package xrpl

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// TxConfirmation is a validated-transaction notification from the ledger's
// websocket stream.
type TxConfirmation struct {
	Hash         string `json:"hash"`
	EngineResult string `json:"engine_result"`
	Validated    bool   `json:"validated"`
	LedgerIndex  uint32 `json:"ledger_index"`
}

// EventSubscriber maintains a websocket subscription for transaction
// confirmations. It is a supplement to webhook delivery: a hold whose
// webhook was lost can still be reconciled from the stream.
type EventSubscriber struct {
	mu             sync.RWMutex
	wsURL          string
	conn           *websocket.Conn
	confirmations  chan *TxConfirmation
	subscriptions  map[string]bool
	logger         *zap.Logger
	reconnectDelay time.Duration
	pingInterval   time.Duration
	maxReconnects  int
	connected      bool
	done           chan struct{}
	stopOnce       sync.Once
}

// NewEventSubscriber creates a websocket subscriber from the node's HTTP
// endpoint URL.
func NewEventSubscriber(apiURL string, logger *zap.Logger) (*EventSubscriber, error) {
	u, err := url.Parse(apiURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s", u.Scheme)
	}

	return &EventSubscriber{
		wsURL:          u.String(),
		confirmations:  make(chan *TxConfirmation, 100),
		subscriptions:  make(map[string]bool),
		logger:         logger.Named("xrpl-events"),
		reconnectDelay: 5 * time.Second,
		pingInterval:   30 * time.Second,
		maxReconnects:  10,
		done:           make(chan struct{}),
	}, nil
}

// Start begins the websocket connection and message processing.
func (es *EventSubscriber) Start(ctx context.Context) error {
	es.logger.Info("starting websocket event subscriber", zap.String("url", es.wsURL))
	go es.connectionLoop(ctx)
	return nil
}

// Stop signals the loops to exit and closes the websocket. The
// confirmations channel stays owned by the connection loop, which closes it
// on its way out, so an in-flight read can never send on a closed channel.
func (es *EventSubscriber) Stop() error {
	es.stopOnce.Do(func() { close(es.done) })

	es.mu.Lock()
	if es.conn != nil {
		es.conn.Close()
		es.conn = nil
	}
	es.connected = false
	es.mu.Unlock()

	es.logger.Info("websocket event subscriber stopped")
	return nil
}

// Confirmations returns the channel delivering validated transactions.
func (es *EventSubscriber) Confirmations() <-chan *TxConfirmation {
	return es.confirmations
}

// SubscribeToTx subscribes to status updates for a transaction hash.
// Subscriptions issued while disconnected are queued and replayed after
// reconnect.
func (es *EventSubscriber) SubscribeToTx(hash string) error {
	es.mu.Lock()
	defer es.mu.Unlock()

	if es.subscriptions[hash] {
		return nil
	}
	es.subscriptions[hash] = true

	if !es.connected || es.conn == nil {
		es.logger.Debug("not connected, queueing subscription", zap.String("hash", hash))
		return nil
	}
	return es.sendSubscribe(hash)
}

// sendSubscribe writes a subscription message. Caller holds es.mu.
func (es *EventSubscriber) sendSubscribe(hash string) error {
	msg := map[string]any{
		"command":      "subscribe",
		"transactions": []string{hash},
	}
	if err := es.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to send subscription for %s: %w", hash, err)
	}
	return nil
}

// connectionLoop maintains the websocket connection with reconnects. It
// owns the confirmations channel and closes it when the loop exits.
func (es *EventSubscriber) connectionLoop(ctx context.Context) {
	defer close(es.confirmations)
	reconnects := 0

	for {
		select {
		case <-ctx.Done():
			return
		case <-es.done:
			return
		default:
		}

		if err := es.connect(); err != nil {
			reconnects++
			if reconnects > es.maxReconnects {
				es.logger.Error("giving up on websocket reconnects", zap.Int("attempts", reconnects))
				return
			}
			es.logger.Warn("websocket connect failed, retrying",
				zap.Error(err), zap.Duration("delay", es.reconnectDelay))
			select {
			case <-time.After(es.reconnectDelay):
			case <-ctx.Done():
				return
			case <-es.done:
				return
			}
			continue
		}

		reconnects = 0
		es.readLoop(ctx)
	}
}

// connect dials the websocket endpoint and replays queued subscriptions.
func (es *EventSubscriber) connect() error {
	conn, _, err := websocket.DefaultDialer.Dial(es.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", es.wsURL, err)
	}

	es.mu.Lock()
	select {
	case <-es.done:
		es.mu.Unlock()
		conn.Close()
		return fmt.Errorf("subscriber stopped")
	default:
	}
	es.conn = conn
	es.connected = true
	for hash := range es.subscriptions {
		if err := es.sendSubscribe(hash); err != nil {
			es.logger.Warn("failed to replay subscription", zap.String("hash", hash), zap.Error(err))
		}
	}
	es.mu.Unlock()

	return nil
}

// readLoop consumes messages until the connection drops. It reads from a
// local handle so a concurrent Stop nilling es.conn cannot trip it up;
// Stop's Close makes the blocked read return an error instead.
func (es *EventSubscriber) readLoop(ctx context.Context) {
	es.mu.RLock()
	conn := es.conn
	es.mu.RUnlock()
	if conn == nil {
		return
	}

	defer func() {
		conn.Close()
		es.mu.Lock()
		if es.conn == conn {
			es.conn = nil
		}
		es.connected = false
		es.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-es.done:
			return
		default:
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			es.logger.Warn("websocket read failed", zap.Error(err))
			return
		}

		var msg struct {
			Type        string `json:"type"`
			Validated   bool   `json:"validated"`
			LedgerIndex uint32 `json:"ledger_index"`
			Transaction struct {
				Hash string `json:"hash"`
			} `json:"transaction"`
			Meta struct {
				TransactionResult string `json:"TransactionResult"`
			} `json:"meta"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			es.logger.Debug("skipping unparseable message", zap.Error(err))
			continue
		}
		if msg.Type != "transaction" || !msg.Validated {
			continue
		}

		confirmation := &TxConfirmation{
			Hash:         msg.Transaction.Hash,
			EngineResult: msg.Meta.TransactionResult,
			Validated:    msg.Validated,
			LedgerIndex:  msg.LedgerIndex,
		}

		select {
		case es.confirmations <- confirmation:
		default:
			es.logger.Warn("confirmation channel full, dropping", zap.String("hash", confirmation.Hash))
		}
	}
}
