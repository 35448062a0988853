package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quorum-trader/pkg/models"
)

var storeBase = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func mirrorRecord() *models.JournalRecord {
	return &models.JournalRecord{
		V:        models.JournalSchemaVersion,
		CycleID:  uuid.New(),
		Pair:     "BTC/USDT",
		Interval: models.Interval1h,
		Trigger: models.TriggerInfo{
			Cause:    models.CauseScheduled,
			FireTime: storeBase,
		},
		Snapshot: &models.SnapshotInfo{TSnap: storeBase.Add(-2 * time.Second), Quality: models.SnapshotFull},
		Opinions: []models.OpinionRecord{
			{AnalystID: "tech-1", Signal: models.SignalBuy, Confidence: 80, DataQuality: models.QualityFull, Weight: 0.6, WeightedScore: 0.48},
			{AnalystID: "sent-1", Signal: models.SignalBuy, Confidence: 50, DataQuality: models.QualityFull, Weight: 0.4, WeightedScore: 0.2},
		},
		Decision:     &models.DecisionRecord{Signal: models.SignalBuy, Confidence: 68, Score: 0.68},
		GuardOutcome: &models.GuardOutcome{Result: models.GuardPass},
		Intent: &models.IntentRecord{
			Side:         models.SignalBuy,
			QuantityBase: 0.02,
			SizingInputs: models.SizingInputs{BaseNotional: 1000, Confidence: 68, ReferencePrice: 50000},
		},
		DurationMs: 310,
	}
}

func TestInsertRecordFullCycle(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s := New(mock, zerolog.Nop())
	rec := mirrorRecord()

	mock.ExpectExec("INSERT INTO decision_records").
		WithArgs(rec.CycleID, "BTC/USDT", "1h", "BUY", 68, 0.68,
			"PASS", nil, nil, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = s.InsertRecord(context.Background(), rec)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertRecordErrorFlavored(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s := New(mock, zerolog.Nop())

	rec := mirrorRecord()
	rec.Snapshot = nil
	rec.Opinions = nil
	rec.Decision = nil
	rec.GuardOutcome = nil
	rec.Intent = nil
	rec.Errors = []models.CycleError{
		{Stage: "fetch", Kind: models.ErrKindDataUnavailable, Detail: "all candle providers failed"},
	}

	// Decision, guard, and intent columns stay NULL when the cycle never
	// reached those stages.
	mock.ExpectExec("INSERT INTO decision_records").
		WithArgs(rec.CycleID, "BTC/USDT", "1h", nil, nil, nil,
			nil, nil, nil, nil, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = s.InsertRecord(context.Background(), rec)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertRecordVetoedCycle(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s := New(mock, zerolog.Nop())

	rec := mirrorRecord()
	by := "drawdown"
	rec.GuardOutcome = &models.GuardOutcome{Result: models.GuardVeto, By: &by, Reason: "drawdown 16.0% >= 15.0%"}
	rec.Intent = nil

	mock.ExpectExec("INSERT INTO decision_records").
		WithArgs(rec.CycleID, "BTC/USDT", "1h", "BUY", 68, 0.68,
			"VETO", &by, "drawdown 16.0% >= 15.0%", nil, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = s.InsertRecord(context.Background(), rec)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertRecordDuplicateCycleIDIsNoOp(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s := New(mock, zerolog.Nop())
	rec := mirrorRecord()

	mock.ExpectExec("INSERT INTO decision_records").
		WithArgs(rec.CycleID, "BTC/USDT", "1h", "BUY", 68, 0.68,
			"PASS", nil, nil, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	err = s.InsertRecord(context.Background(), rec)
	assert.NoError(t, err, "ON CONFLICT DO NOTHING keeps replays idempotent")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertRecordDatabaseError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s := New(mock, zerolog.Nop())
	rec := mirrorRecord()

	mock.ExpectExec("INSERT INTO decision_records").
		WithArgs(rec.CycleID, "BTC/USDT", "1h", "BUY", 68, 0.68,
			"PASS", nil, nil, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("connection refused"))

	err = s.InsertRecord(context.Background(), rec)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to insert decision record")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPing(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s := New(mock, zerolog.Nop())

	mock.ExpectPing()
	assert.NoError(t, s.Ping(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
