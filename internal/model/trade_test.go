package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func trade(tradeTime string, transID, tickID int64, price float64) Trade {
	ts, err := time.Parse("2006-01-02T15:04:05", tradeTime)
	if err != nil {
		panic(err)
	}
	return Trade{TradeTime: ts, TransID: transID, TickID: tickID, Price: price, Volume: 10}
}

func TestMergeTrades_DedupsByTransIDAndTickID(t *testing.T) {
	existing := []Trade{
		trade("2025-01-02T10:00:00", 1, 1, 100),
		trade("2025-01-02T10:00:05", 1, 2, 101),
	}
	incoming := []Trade{
		trade("2025-01-02T10:00:05", 1, 2, 999), // same (trans_id, tick_id), new price wins
		trade("2025-01-02T10:00:10", 2, 1, 102),
	}

	merged := MergeTrades(existing, incoming)
	require.Len(t, merged, 3)
	require.Equal(t, 100.0, merged[0].Price)
	require.Equal(t, 999.0, merged[1].Price)
	require.Equal(t, 102.0, merged[2].Price)
}

func TestMergeTrades_SameTransIDDifferentTickIDAreDistinctRows(t *testing.T) {
	existing := []Trade{trade("2025-01-02T10:00:00", 1, 1, 100)}
	incoming := []Trade{trade("2025-01-02T10:00:01", 1, 2, 101)}

	merged := MergeTrades(existing, incoming)
	require.Len(t, merged, 2, "trans_id alone must not collide without a matching tick_id")
}

func TestMergeTrades_SortsByTradeTimeAscending(t *testing.T) {
	incoming := []Trade{
		trade("2025-01-02T10:00:10", 3, 1, 1),
		trade("2025-01-02T10:00:00", 1, 1, 2),
		trade("2025-01-02T10:00:05", 2, 1, 3),
	}

	merged := MergeTrades(nil, incoming)
	require.Len(t, merged, 3)
	for i := 1; i < len(merged); i++ {
		require.True(t, merged[i].TradeTime.After(merged[i-1].TradeTime))
	}
}

func TestMergeTrades_EmptyInputsYieldEmptyOutput(t *testing.T) {
	require.Empty(t, MergeTrades(nil, nil))
}
