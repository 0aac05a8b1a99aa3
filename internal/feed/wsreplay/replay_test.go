package wsreplay

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/CryptologySAC/OrderFlow-Trading-sub011/internal/fixedpoint"
	"github.com/CryptologySAC/OrderFlow-Trading-sub011/internal/orderbook"
	"github.com/CryptologySAC/OrderFlow-Trading-sub011/internal/preprocess"
)

func TestClientReceivesTradeAndDepthEvents(t *testing.T) {
	tradeEv, err := NewTradeEvent(preprocess.RawTrade{
		TradeID: 1, PriceTicks: 890500, QtyTicks: 18, TimestampMs: 1000,
	})
	require.NoError(t, err)

	depthEv, err := NewDepthEvent(orderbook.DepthUpdate{
		FirstUpdateID: 1, FinalUpdateID: 2,
		Bids: []orderbook.LevelUpdate{{PriceTicks: 890000, Qty: fixedpoint.Ticks(500)}},
	})
	require.NoError(t, err)

	srv := NewServer([]Event{tradeEv, depthEv}, time.Millisecond, zerolog.Nop())
	ts := httptest.NewServer(srv)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")

	var gotTrades []preprocess.RawTrade
	var gotDepths []orderbook.DepthUpdate

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	client := NewClient(wsURL, zerolog.Nop())
	err = client.Run(ctx, Handlers{
		OnTrade: func(tr preprocess.RawTrade) { gotTrades = append(gotTrades, tr) },
		OnDepth: func(d orderbook.DepthUpdate) { gotDepths = append(gotDepths, d) },
	})
	require.NoError(t, err)

	require.Len(t, gotTrades, 1)
	require.Len(t, gotDepths, 1)
	require.Equal(t, fixedpoint.Ticks(890500), gotTrades[0].PriceTicks)
	require.Equal(t, int64(2), gotDepths[0].FinalUpdateID)
}
