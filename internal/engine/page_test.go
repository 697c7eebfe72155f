package engine

import (
	"context"
	"testing"
	"time"

	"github.com/JonMunkholm/dataserve/internal/core"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestCursor(t *testing.T) {
	for _, offset := range []int{0, 3, 100, 123456} {
		n, err := decodeCursor(encodeCursor(offset))
		require.NoError(t, err)
		require.Equal(t, offset, n)
	}

	n, err := decodeCursor("")
	require.NoError(t, err)
	require.Zero(t, n)

	for _, bad := range []string{"!!", "YWJj", "LTE"} { // garbage, "abc", "-1"
		_, err := decodeCursor(bad)
		require.ErrorIs(t, err, core.ErrInvalidQuery, bad)
	}
}

func TestPaginate(t *testing.T) {
	sql, err := paginate("select 1", core.QueryOptions{})
	require.NoError(t, err)
	require.Equal(t, "select 1", sql)

	sql, err = paginate("select 1", core.QueryOptions{Paginate: true, PageSize: 10, Cursor: encodeCursor(20)})
	require.NoError(t, err)
	require.Equal(t, "select 1 limit 11 offset 20", sql)
}

func TestCollector(t *testing.T) {
	c, err := newCollector([]string{"a"}, core.QueryOptions{Paginate: true, PageSize: 2, Cursor: encodeCursor(4)})
	require.NoError(t, err)

	require.True(t, c.add([]any{[]byte("x")}))
	require.True(t, c.add([]any{int32(2)}))
	require.False(t, c.add([]any{"dropped"}))

	want := &core.Page{
		Columns: []string{"a"},
		Rows:    [][]any{{"x"}, {int64(2)}},
		Next:    encodeCursor(6),
	}
	if diff := cmp.Diff(want, c.page); diff != "" {
		t.Errorf("page mismatch (-want +got):\n%s", diff)
	}
}

func TestNormalizeValue(t *testing.T) {
	tests := []struct {
		in   any
		want any
	}{
		{[]byte("text"), "text"},
		{[]byte{0xff, 0xfe}, []byte{0xff, 0xfe}},
		{int8(1), int64(1)},
		{int16(1), int64(1)},
		{int32(1), int64(1)},
		{float32(1.5), float64(1.5)},
		{"s", "s"},
		{nil, nil},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, normalizeValue(tt.in))
	}
}

func TestFilterParams(t *testing.T) {
	got := filterParams("select :a, :b", map[string]any{"a": 1, "c": 3})
	require.Equal(t, map[string]any{"a": 1, "b": ""}, got)
}

func TestInterrupted(t *testing.T) {
	parent := context.Background()
	qctx, cancel := context.WithTimeout(parent, time.Nanosecond)
	defer cancel()
	<-qctx.Done()
	require.True(t, interrupted(parent, qctx, context.DeadlineExceeded))

	gone, stop := context.WithCancel(parent)
	stop()
	require.False(t, interrupted(gone, qctx, context.DeadlineExceeded))
}
