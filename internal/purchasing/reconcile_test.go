package purchasing

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestReconcilePartial(t *testing.T) {
	next, err := Reconcile(sampleOrder(), map[int64]int64{101: 5, 102: 1})
	require.NoError(t, err)
	require.Equal(t, StatusPartial, next.Status)
	require.True(t, next.TotalPrice.Equal(decimal.NewFromInt(7000)))
	require.True(t, next.Lines[0].Subtotal.Equal(decimal.NewFromInt(5000)))
	require.True(t, next.Lines[1].Subtotal.Equal(decimal.NewFromInt(2000)))
}

func TestReconcileFullIsApproved(t *testing.T) {
	next, err := Reconcile(sampleOrder(), map[int64]int64{101: 5, 102: 3})
	require.NoError(t, err)
	require.Equal(t, StatusApproved, next.Status)
	require.True(t, next.TotalPrice.Equal(decimal.NewFromInt(11000)))
}

func TestReconcileOmittedLineCountsAsZero(t *testing.T) {
	next, err := Reconcile(sampleOrder(), map[int64]int64{101: 2})
	require.NoError(t, err)
	require.Equal(t, StatusPartial, next.Status)
	require.Equal(t, int64(0), *next.Lines[1].ApprovedQuantity)
	require.True(t, next.TotalPrice.Equal(decimal.NewFromInt(2000)))
}

func TestReconcileAllZeroMustUseReject(t *testing.T) {
	_, err := Reconcile(sampleOrder(), map[int64]int64{101: 0, 102: 0})
	require.ErrorIs(t, err, ErrUseRejectInstead)
	require.Equal(t, ClassConflict, Classify(err))

	_, err = Reconcile(sampleOrder(), nil)
	require.ErrorIs(t, err, ErrUseRejectInstead)
}

func TestReconcileQuantityOutOfRange(t *testing.T) {
	for _, approvals := range []map[int64]int64{
		{101: 6, 102: 3},
		{101: -1, 102: 3},
	} {
		_, err := Reconcile(sampleOrder(), approvals)
		require.ErrorIs(t, err, ErrQuantityOutOfRange)
		var lerr *LineError
		require.True(t, errors.As(err, &lerr))
		require.Equal(t, int64(101), lerr.LineID)
		require.Equal(t, int64(5), lerr.Requested)
		require.Equal(t, "QUANTITY_OUT_OF_RANGE", ErrorCode(err))
	}
}

func TestReconcileUnknownLine(t *testing.T) {
	_, err := Reconcile(sampleOrder(), map[int64]int64{101: 5, 102: 3, 999: 1, 998: 1})
	require.ErrorIs(t, err, ErrValidation)
	var lerr *LineError
	require.True(t, errors.As(err, &lerr))
	require.Equal(t, int64(998), lerr.LineID)
}

func TestReconcileIsDeterministicAndPure(t *testing.T) {
	order := sampleOrder()
	approvals := map[int64]int64{101: 4, 102: 3}
	first, err := Reconcile(order, approvals)
	require.NoError(t, err)
	second, err := Reconcile(order, approvals)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Nil(t, order.Lines[0].ApprovedQuantity)
	require.True(t, order.TotalPrice.Equal(decimal.NewFromInt(11000)))
}

func TestDeriveStatus(t *testing.T) {
	line := func(requested int64, approved *int64) OrderLine {
		return OrderLine{RequestedQuantity: requested, ApprovedQuantity: approved}
	}
	cases := []struct {
		name  string
		lines []OrderLine
		want  Status
	}{
		{"pending", []OrderLine{line(3, nil), line(2, nil)}, StatusPending},
		{"mixed undecided", []OrderLine{line(3, int64Ptr(3)), line(2, nil)}, ""},
		{"full", []OrderLine{line(3, int64Ptr(3)), line(2, int64Ptr(2))}, StatusApproved},
		{"zero", []OrderLine{line(3, int64Ptr(0)), line(2, int64Ptr(0))}, StatusRejected},
		{"short one line", []OrderLine{line(3, int64Ptr(3)), line(2, int64Ptr(1))}, StatusPartial},
		{"one zero one full", []OrderLine{line(3, int64Ptr(0)), line(2, int64Ptr(2))}, StatusPartial},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, DeriveStatus(tc.lines))
		})
	}
}
