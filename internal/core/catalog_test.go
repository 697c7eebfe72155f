package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalog_Register(t *testing.T) {
	c := NewCatalog()
	t.Cleanup(func() { c.Close() })

	require.NoError(t, c.Register(&Database{Name: "b", Hash: "1234567890", Engine: newFakeEngine()}))
	require.NoError(t, c.Register(&Database{Name: "a", Hash: "ignored", Mutable: true, Engine: newFakeEngine()}))
	require.Error(t, c.Register(&Database{Name: "b"}), "duplicate name")
	require.Error(t, c.Register(&Database{}), "empty name")

	require.Equal(t, 2, c.Len())
	all := c.All()
	require.Equal(t, "b", all[0].Name, "registration order is kept")

	a, ok := c.Get("a")
	require.True(t, ok)
	require.Empty(t, a.Hash, "mutable databases are unhashed")
	require.NotNil(t, a.Writes)

	b, _ := c.Get("b")
	require.Equal(t, "1234567", b.ShortHash())
	require.Nil(t, b.Writes)
}

func TestWriteQueue_SerializesWrites(t *testing.T) {
	var (
		mu      sync.Mutex
		running int
		maxSeen int
		applied []string
	)
	q := NewWriteQueue("test", func(_ context.Context, sql string, _ map[string]any) error {
		mu.Lock()
		running++
		if running > maxSeen {
			maxSeen = running
		}
		mu.Unlock()

		time.Sleep(time.Millisecond)

		mu.Lock()
		running--
		applied = append(applied, sql)
		mu.Unlock()
		return nil
	})
	defer q.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ack, err := q.Execute(context.Background(), "insert", nil)
			assert.NoError(t, err)
			assert.True(t, ack.OK)
			assert.NotEmpty(t, ack.ID)
			assert.Equal(t, "test", ack.Database)
		}()
	}
	wg.Wait()

	require.Equal(t, 1, maxSeen)
	require.Len(t, applied, 20)
}

func TestWriteQueue_Errors(t *testing.T) {
	boom := errors.New("constraint failed")
	q := NewWriteQueue("test", func(context.Context, string, map[string]any) error { return boom })

	ack, err := q.Execute(context.Background(), "insert", nil)
	require.ErrorIs(t, err, boom)
	require.False(t, ack.OK)

	q.Close()
	q.Close()
	_, err = q.Execute(context.Background(), "insert", nil)
	require.ErrorIs(t, err, ErrQueueClosed)
}

func TestWriteQueue_CancelledBeforeHandoff(t *testing.T) {
	release := make(chan struct{})
	q := NewWriteQueue("test", func(context.Context, string, map[string]any) error {
		<-release
		return nil
	})
	defer q.Close()

	// Occupy the worker.
	done := make(chan struct{})
	go func() {
		q.Execute(context.Background(), "slow", nil)
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := q.Execute(ctx, "waiting", nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	<-done
}

func TestDatabase_WriteReadonly(t *testing.T) {
	db := &Database{Name: "fixtures"}
	_, err := db.Write(context.Background(), "delete from t", nil)
	require.EqualError(t, err, "attempt to write a readonly database: fixtures")
}
