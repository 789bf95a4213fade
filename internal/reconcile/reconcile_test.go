package reconcile

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stocklane/stocklane/internal/shared"
)

type fakeTx struct {
	credits []float64
	losses  []float64
	failOn  string
}

func (f *fakeTx) CreditStock(ctx context.Context, ref Ref, line Line, receivedQty float64) error {
	if f.failOn == "credit" {
		return errors.New("boom")
	}
	f.credits = append(f.credits, receivedQty)
	return nil
}

func (f *fakeTx) BookLoss(ctx context.Context, ref Ref, line Line) error {
	if f.failOn == "loss" {
		return errors.New("boom")
	}
	f.losses = append(f.losses, line.SpoiledQty)
	return nil
}

func TestApplyCreditsNetOfSpoilage(t *testing.T) {
	tx := &fakeTx{}
	summary, err := Apply(context.Background(), tx, Ref{Module: "orders"}, []Line{
		{ProductID: 1, FulfilledQty: 10, SpoiledQty: 2, UnitCost: 100},
		{ProductID: 2, FulfilledQty: 5, UnitCost: 40},
	})
	require.NoError(t, err)
	require.Equal(t, 2, summary.LinesCredited)
	require.InDelta(t, 13.0, summary.ReceivedQty, 0.0001)
	require.InDelta(t, 8*100+5*40.0, summary.ReceivedValue, 0.0001)
	require.InDelta(t, 2.0, summary.SpoiledQty, 0.0001)
	require.Equal(t, 1, summary.LossesBooked)
	require.Equal(t, []float64{8, 5}, tx.credits)
}

func TestApplyFullySpoiledLineCreditsNothing(t *testing.T) {
	tx := &fakeTx{}
	summary, err := Apply(context.Background(), tx, Ref{}, []Line{
		{ProductID: 1, FulfilledQty: 4, SpoiledQty: 4},
	})
	require.NoError(t, err)
	require.Equal(t, 0, summary.LinesCredited)
	require.Equal(t, 1, summary.LossesBooked)
	require.Empty(t, tx.credits)
}

func TestApplySpoiledExceedingFulfilledFloorsAtZero(t *testing.T) {
	tx := &fakeTx{}
	summary, err := Apply(context.Background(), tx, Ref{}, []Line{
		{ProductID: 1, FulfilledQty: 3, SpoiledQty: 5},
	})
	require.NoError(t, err)
	require.InDelta(t, 0.0, summary.ReceivedQty, 0.0001)
	require.InDelta(t, 5.0, summary.SpoiledQty, 0.0001)
}

func TestApplyValidation(t *testing.T) {
	tx := &fakeTx{}
	_, err := Apply(context.Background(), tx, Ref{}, []Line{{FulfilledQty: 1}})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = Apply(context.Background(), tx, Ref{}, []Line{{ProductID: 1, FulfilledQty: -1}})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestApplyStopsOnFirstFailure(t *testing.T) {
	tx := &fakeTx{failOn: "loss"}
	_, err := Apply(context.Background(), tx, Ref{}, []Line{
		{ProductID: 1, FulfilledQty: 10, SpoiledQty: 2},
	})
	require.Error(t, err)
	require.Len(t, tx.credits, 1)
}
