package purchasing

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestApplyTransitionApproveDefaultsToRequested(t *testing.T) {
	order := sampleOrder()
	next, err := ApplyTransition(order, Command{Action: ActionApprove, Actor: hq, Version: 1, At: fixedNow})
	require.NoError(t, err)
	require.Equal(t, StatusApproved, next.Status)
	require.True(t, next.TotalPrice.Equal(decimal.NewFromInt(11000)))
	require.Equal(t, int64(2), next.Version)
	for _, line := range next.Lines {
		require.NotNil(t, line.ApprovedQuantity)
		require.Equal(t, line.RequestedQuantity, *line.ApprovedQuantity)
	}
	require.Nil(t, order.Lines[0].ApprovedQuantity, "input order must not be mutated")
	require.Equal(t, int64(1), order.Version)
}

func TestApplyTransitionReject(t *testing.T) {
	order := sampleOrder()
	next, err := ApplyTransition(order, Command{Action: ActionReject, Actor: hq, Version: 1, Reason: "  재고 부족 "})
	require.NoError(t, err)
	require.Equal(t, StatusRejected, next.Status)
	require.Equal(t, "재고 부족", next.RejectionReason)
	require.True(t, next.TotalPrice.IsZero())
	for _, line := range next.Lines {
		require.Equal(t, int64(0), *line.ApprovedQuantity)
	}

	_, err = ApplyTransition(order, Command{Action: ActionReject, Actor: hq, Version: 1, Reason: "   "})
	require.ErrorIs(t, err, ErrReasonRequired)
	require.Equal(t, ClassValidation, Classify(err))
}

func TestApplyTransitionShipFromPendingNamesAllowedSet(t *testing.T) {
	_, err := ApplyTransition(sampleOrder(), Command{Action: ActionShip, Actor: hq, Version: 1})
	require.ErrorIs(t, err, ErrInvalidTransition)
	var terr *TransitionError
	require.True(t, errors.As(err, &terr))
	require.Equal(t, StatusPending, terr.From)
	require.Equal(t, ActionShip, terr.Action)
	require.ElementsMatch(t, []Action{ActionApprove, ActionPartialApprove, ActionReject, ActionCancel}, terr.Allowed)
	require.NotContains(t, terr.Allowed, ActionShip)
	require.Contains(t, err.Error(), "PENDING")
}

func TestApplyTransitionStaleVersion(t *testing.T) {
	order := sampleOrder()
	next, err := ApplyTransition(order, Command{Action: ActionApprove, Actor: hq, Version: 1})
	require.NoError(t, err)

	for _, cmd := range []Command{
		{Action: ActionShip, Actor: hq, Version: 1},
		{Action: ActionApprove, Actor: hq, Version: 1},
		{Action: ActionCancel, Actor: branch2, Version: 1},
	} {
		_, err := ApplyTransition(next, cmd)
		require.ErrorIs(t, err, ErrStaleVersion, "action %s", cmd.Action)
		require.Equal(t, ClassConflict, Classify(err))
	}
}

func TestApplyTransitionAuthorization(t *testing.T) {
	order := sampleOrder()

	_, err := ApplyTransition(order, Command{Action: ActionApprove, Actor: branch2, Version: 1})
	require.ErrorIs(t, err, ErrForbidden)

	_, err = ApplyTransition(order, Command{Action: ActionCancel, Actor: branch3, Version: 1})
	require.ErrorIs(t, err, ErrForbidden)

	_, err = ApplyTransition(order, Command{Action: ActionCancel, Actor: hq, Version: 1})
	require.ErrorIs(t, err, ErrForbidden)

	// authorization is checked before the version so nothing leaks to outsiders
	_, err = ApplyTransition(order, Command{Action: ActionCancel, Actor: branch3, Version: 99})
	require.ErrorIs(t, err, ErrForbidden)

	next, err := ApplyTransition(order, Command{Action: ActionCancel, Actor: branch2, Version: 1})
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, next.Status)
	require.Nil(t, next.Lines[0].ApprovedQuantity)
}

func TestLifecycleInvariantsHoldAtEveryStep(t *testing.T) {
	sequences := [][]Command{
		{
			{Action: ActionApprove, Actor: hq},
			{Action: ActionShip, Actor: hq},
			{Action: ActionComplete, Actor: branch2},
		},
		{
			{Action: ActionPartialApprove, Actor: hq, Approvals: map[int64]int64{101: 5, 102: 1}},
			{Action: ActionShip, Actor: hq},
			{Action: ActionComplete, Actor: branch2},
		},
		{
			{Action: ActionReject, Actor: hq, Reason: "단종"},
			{Action: ActionCancel, Actor: branch2},
		},
		{
			{Action: ActionCancel, Actor: branch2},
		},
	}
	for _, seq := range sequences {
		order := sampleOrder()
		require.NoError(t, CheckInvariants(order))
		for _, cmd := range seq {
			cmd.Version = order.Version
			next, err := ApplyTransition(order, cmd)
			require.NoError(t, err, "action %s from %s", cmd.Action, order.Status)
			require.NoError(t, CheckInvariants(next))
			require.Greater(t, next.Version, order.Version)
			order = next
		}
		require.True(t, order.Status.IsTerminal())
		require.Empty(t, Allowed(order.Status))
		for _, action := range []Action{ActionApprove, ActionShip, ActionCancel, ActionComplete} {
			_, err := ApplyTransition(order, Command{Action: action, Actor: hq, Version: order.Version})
			require.Error(t, err)
		}
	}
}

func TestRejectedCancelKeepsZeroApprovals(t *testing.T) {
	order := sampleOrder()
	rejected, err := ApplyTransition(order, Command{Action: ActionReject, Actor: hq, Version: 1, Reason: "단종"})
	require.NoError(t, err)
	cancelled, err := ApplyTransition(rejected, Command{Action: ActionCancel, Actor: branch2, Version: 2})
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)
	require.Empty(t, cancelled.RejectionReason)
	require.Equal(t, int64(0), *cancelled.Lines[0].ApprovedQuantity)
}

func TestAllowedActionsByPrincipal(t *testing.T) {
	order := sampleOrder()
	require.Equal(t, []Action{ActionApprove, ActionPartialApprove, ActionReject}, AllowedActions(order, hq))
	require.Equal(t, []Action{ActionCancel}, AllowedActions(order, branch2))
	require.Empty(t, AllowedActions(order, branch3))
	require.NotNil(t, AllowedActions(order, branch3))

	order.Status = StatusShipped
	require.Equal(t, []Action{ActionComplete}, AllowedActions(order, branch2))
	require.Empty(t, AllowedActions(order, hq))
}

func TestCheckInvariantsDetectsCorruption(t *testing.T) {
	order := sampleOrder()
	order.TotalPrice = decimal.NewFromInt(1)
	require.ErrorIs(t, CheckInvariants(order), ErrInvariant)

	order = sampleOrder()
	order.Status = StatusApproved
	require.ErrorIs(t, CheckInvariants(order), ErrInvariant)

	order = sampleOrder()
	order.RejectionReason = "stray"
	require.ErrorIs(t, CheckInvariants(order), ErrInvariant)
}

func TestUnknownActionIsValidationError(t *testing.T) {
	_, err := ApplyTransition(sampleOrder(), Command{Action: "archive", Actor: hq, Version: 1})
	require.ErrorIs(t, err, ErrValidation)
}
