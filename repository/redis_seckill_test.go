package repository

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSeckillRepo(t *testing.T) *RedisRepository {
	t.Helper()
	_, client := newTestRedis(t)
	repo := NewRedisRepository(client, "stream.orders")
	require.NoError(t, repo.EnsureGroup(context.Background(), "g1"))
	return repo
}

func TestAdmitExactlyStockManyBuyers(t *testing.T) {
	repo := newTestSeckillRepo(t)
	ctx := context.Background()

	const stock = 10
	const buyers = 100
	require.NoError(t, repo.PrepareVoucher(ctx, "1", stock))

	var wg sync.WaitGroup
	codes := make(chan AdmissionCode, buyers)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(buyer int) {
			defer wg.Done()
			code, err := repo.Admit(ctx, "1", strconv.Itoa(buyer), strconv.Itoa(1000+buyer))
			assert.NoError(t, err)
			codes <- code
		}(i)
	}
	wg.Wait()
	close(codes)

	var admitted, soldOut int
	for code := range codes {
		switch code {
		case AdmissionOK:
			admitted++
		case AdmissionSoldOut:
			soldOut++
		default:
			t.Fatalf("unexpected code %d", code)
		}
	}
	assert.Equal(t, stock, admitted, "exactly stock buyers admitted")
	assert.Equal(t, buyers-stock, soldOut)

	remaining, err := repo.GetStock(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, 0, remaining, "stock never goes below zero")

	length, err := repo.Client.XLen(ctx, repo.Stream).Result()
	require.NoError(t, err)
	assert.EqualValues(t, stock, length, "one queue entry per admission")
}

func TestAdmitDuplicateBuyer(t *testing.T) {
	repo := newTestSeckillRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.PrepareVoucher(ctx, "1", 5))

	code, err := repo.Admit(ctx, "1", "77", "1001")
	require.NoError(t, err)
	require.Equal(t, AdmissionOK, code)

	code, err = repo.Admit(ctx, "1", "77", "1002")
	require.NoError(t, err)
	assert.Equal(t, AdmissionDuplicate, code)

	remaining, err := repo.GetStock(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, 4, remaining, "duplicate attempt must not touch stock")
}

func TestAdmitConcurrentDuplicateBuyerAtMostOnce(t *testing.T) {
	repo := newTestSeckillRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.PrepareVoucher(ctx, "1", 100))

	const attempts = 50
	var wg sync.WaitGroup
	okCount := make(chan struct{}, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			code, err := repo.Admit(ctx, "1", "9", strconv.Itoa(2000+n))
			assert.NoError(t, err)
			if code == AdmissionOK {
				okCount <- struct{}{}
			}
		}(i)
	}
	wg.Wait()
	close(okCount)

	assert.Len(t, okCount, 1, "one buyer admitted at most once under concurrency")
}

func TestAdmitLastUnitRace(t *testing.T) {
	repo := newTestSeckillRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.PrepareVoucher(ctx, "1", 1))

	var wg sync.WaitGroup
	results := make(chan AdmissionCode, 2)
	for _, buyer := range []string{"100", "200"} {
		wg.Add(1)
		go func(buyer string) {
			defer wg.Done()
			code, err := repo.Admit(ctx, "1", buyer, buyer+"1")
			assert.NoError(t, err)
			results <- code
		}(buyer)
	}
	wg.Wait()
	close(results)

	var ok, rejected int
	for code := range results {
		if code == AdmissionOK {
			ok++
		} else {
			rejected++
		}
	}
	assert.Equal(t, 1, ok, "exactly one buyer wins the last unit")
	assert.Equal(t, 1, rejected)
}

func TestAdmitMissingStockKeyIsSoldOut(t *testing.T) {
	repo := newTestSeckillRepo(t)

	code, err := repo.Admit(context.Background(), "404", "1", "1001")
	require.NoError(t, err)
	assert.Equal(t, AdmissionSoldOut, code)
}

func TestReadNewParsesOrderMessage(t *testing.T) {
	repo := newTestSeckillRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.PrepareVoucher(ctx, "3", 1))

	code, err := repo.Admit(ctx, "3", "55", "9001")
	require.NoError(t, err)
	require.Equal(t, AdmissionOK, code)

	msg, err := repo.ReadNew(ctx, "g1", "c1", 100*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.EqualValues(t, 9001, msg.OrderID)
	assert.EqualValues(t, 3, msg.VoucherID)
	assert.EqualValues(t, 55, msg.BuyerID)
	assert.NotEmpty(t, msg.EntryID)

	require.NoError(t, repo.Ack(ctx, "g1", msg.EntryID))

	// Acked entries leave the pending list.
	pending, err := repo.ReadPending(ctx, "g1", "c1")
	require.NoError(t, err)
	assert.Nil(t, pending)
}

func TestReadPendingRedeliversUnacked(t *testing.T) {
	repo := newTestSeckillRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.PrepareVoucher(ctx, "3", 1))

	_, err := repo.Admit(ctx, "3", "55", "9001")
	require.NoError(t, err)

	msg, err := repo.ReadNew(ctx, "g1", "c1", 100*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, msg)

	// No ack: a crashed consumer. The pending read must hand the same
	// entry back, any number of times.
	for i := 0; i < 2; i++ {
		again, err := repo.ReadPending(ctx, "g1", "c1")
		require.NoError(t, err)
		require.NotNil(t, again)
		assert.Equal(t, msg.EntryID, again.EntryID)
		assert.Equal(t, msg.OrderID, again.OrderID)
	}
}

func TestSeedStockDoesNotResetLiveCounter(t *testing.T) {
	repo := newTestSeckillRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.SeedStock(ctx, "5", 100))
	_, err := repo.Admit(ctx, "5", "1", "1001")
	require.NoError(t, err)

	// A restart re-seeds; the decremented counter must survive.
	require.NoError(t, repo.SeedStock(ctx, "5", 100))
	stock, err := repo.GetStock(ctx, "5")
	require.NoError(t, err)
	assert.Equal(t, 99, stock)
}
