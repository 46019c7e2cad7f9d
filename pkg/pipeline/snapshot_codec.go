package pipeline

import (
	"encoding/json"

	"github.com/specx-labs/matchcore/pkg/orderbook"
	"github.com/specx-labs/matchcore/pkg/ubscore"
)

// Snapshot payload shapes for each stage (§4.6). Like every other WAL/KV
// payload in this system, these are JSON-encoded to match the teacher's
// persistence convention rather than introducing a second codec.

type ingestionSnapshotBody struct {
	NextSeq uint64
}

func encodeIngestionSnapshot(nextSeq uint64) []byte {
	data, _ := json.Marshal(ingestionSnapshotBody{NextSeq: nextSeq})
	return data
}

func decodeIngestionSnapshot(body []byte) (ingestionSnapshotBody, error) {
	var s ingestionSnapshotBody
	err := json.Unmarshal(body, &s)
	return s, err
}

type balanceRecord struct {
	UserID  uint64
	AssetID uint32
	Balance ubscore.Balance
}

type ubscoreSnapshotBody struct {
	Balances []balanceRecord
}

func encodeUBSCoreSnapshot(l *ubscore.Ledger) []byte {
	var body ubscoreSnapshotBody
	l.Range(func(userID uint64, assetID uint32, b ubscore.Balance) {
		body.Balances = append(body.Balances, balanceRecord{UserID: userID, AssetID: assetID, Balance: b})
	})
	data, _ := json.Marshal(body)
	return data
}

func decodeUBSCoreSnapshot(body []byte) (ubscoreSnapshotBody, error) {
	var s ubscoreSnapshotBody
	err := json.Unmarshal(body, &s)
	return s, err
}

type matchingSnapshotBody struct {
	NextTradeID uint64
	Orders      []*orderbook.Order // every still-resting order, across all symbols
}

func encodeMatchingSnapshot(nextTradeID uint64, books map[uint32]*orderbook.Book) []byte {
	body := matchingSnapshotBody{NextTradeID: nextTradeID}
	for _, b := range books {
		body.Orders = append(body.Orders, b.RestingOrders()...)
	}
	data, _ := json.Marshal(body)
	return data
}

func decodeMatchingSnapshot(body []byte) (matchingSnapshotBody, error) {
	var s matchingSnapshotBody
	err := json.Unmarshal(body, &s)
	return s, err
}

type settlementSnapshotBody struct {
	Checkpoints map[uint32]uint64
}

func encodeSettlementSnapshot(checkpoints map[uint32]uint64) []byte {
	data, _ := json.Marshal(settlementSnapshotBody{Checkpoints: checkpoints})
	return data
}

func decodeSettlementSnapshot(body []byte) (settlementSnapshotBody, error) {
	var s settlementSnapshotBody
	err := json.Unmarshal(body, &s)
	return s, err
}
