package pipeline

import (
	"encoding/json"

	"github.com/specx-labs/matchcore/pkg/orderbook"
	"github.com/specx-labs/matchcore/pkg/ubscore"
)

// Payload encoding for WAL entries uses encoding/json, matching the
// teacher's own persistence encoding choice throughout
// pkg/app/core/account/store.go (every Pebble value is JSON-marshaled).
// WAL entries don't need JSON's self-description, but reusing the
// teacher's chosen serialization keeps one encoding convention across
// the whole system rather than introducing a second one solely for the
// log.

type seqActionRecord struct {
	SeqID  uint64
	Action OrderAction
}

func encodeAction(seq uint64, a OrderAction) []byte {
	data, err := json.Marshal(seqActionRecord{SeqID: seq, Action: a})
	if err != nil {
		panic("pipeline: action is never expected to fail JSON encoding: " + err.Error())
	}
	return data
}

func decodeAction(payload []byte) (seqActionRecord, error) {
	var rec seqActionRecord
	err := json.Unmarshal(payload, &rec)
	return rec, err
}

// decodeJSONInto is the generic counterpart to the typed decode* helpers
// above, used by recovery to unmarshal whichever payload shape a given
// WAL entry type carries.
func decodeJSONInto(payload []byte, v any) error {
	return json.Unmarshal(payload, v)
}

func encodeOrderState(o *orderbook.Order) []byte {
	data, err := json.Marshal(o)
	if err != nil {
		panic("pipeline: order state is never expected to fail JSON encoding: " + err.Error())
	}
	return data
}

func encodeTrade(t Trade) []byte {
	data, err := json.Marshal(t)
	if err != nil {
		panic("pipeline: trade is never expected to fail JSON encoding: " + err.Error())
	}
	return data
}

func encodeBalanceEvent(e ubscore.BalanceEvent) []byte {
	data, err := json.Marshal(e)
	if err != nil {
		panic("pipeline: balance event is never expected to fail JSON encoding: " + err.Error())
	}
	return data
}

type checkpointRecord struct {
	SymbolID    uint32
	LastTradeID uint64
}

func encodeCheckpoint(c checkpointRecord) []byte {
	data, err := json.Marshal(c)
	if err != nil {
		panic("pipeline: checkpoint is never expected to fail JSON encoding: " + err.Error())
	}
	return data
}
