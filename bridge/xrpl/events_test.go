package xrpl

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewEventSubscriberRewritesScheme(t *testing.T) {
	es, err := NewEventSubscriber("https://ledger.example:51234", zap.NewNop())
	require.NoError(t, err)
	require.Equal(t, "wss://ledger.example:51234", es.wsURL)

	_, err = NewEventSubscriber("ftp://ledger.example", zap.NewNop())
	require.Error(t, err)
}

func TestSubscribeWhileDisconnectedQueues(t *testing.T) {
	es, err := NewEventSubscriber("http://127.0.0.1:1", zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, es.SubscribeToTx("TXHASH1"))
	require.NoError(t, es.SubscribeToTx("TXHASH1"))
	require.True(t, es.subscriptions["TXHASH1"])
}

func TestStopClosesConfirmationsAndHaltsRedials(t *testing.T) {
	// Nothing listens on port 1, so the subscriber sits in its redial loop.
	es, err := NewEventSubscriber("http://127.0.0.1:1", zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, es.Start(context.Background()))

	require.NoError(t, es.Stop())
	require.NoError(t, es.Stop())

	select {
	case _, ok := <-es.Confirmations():
		require.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("confirmations channel was not closed after Stop")
	}
}
