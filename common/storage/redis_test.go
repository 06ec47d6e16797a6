package storage

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mayor78/mtbm-attendance-sub000/models"
)

func testItem(createdAt time.Time) *models.QueueItem {
	return &models.QueueItem{
		Id: uuid.New(),
		Payload: models.PresencePayload{
			SessionId: "session-1",
			StudentId: "student-1",
			Code:      "482913",
			Timestamp: createdAt.UTC(),
		},
		CreatedAt: createdAt.UTC(),
	}
}

func TestRedisQueueStorePut(t *testing.T) {
	client, mock := redismock.NewClientMock()
	store := NewRedisQueueStore(client)

	item := testItem(time.Now())
	data, err := json.Marshal(item)
	require.NoError(t, err)

	mock.ExpectHSet(store.queueKey, item.Id.String(), data).SetVal(1)
	assert.NoError(t, store.Put(context.Background(), item))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisQueueStoreLoadOrdersOldestFirst(t *testing.T) {
	client, mock := redismock.NewClientMock()
	store := NewRedisQueueStore(client)

	now := time.Now()
	older := testItem(now.Add(-time.Hour))
	newer := testItem(now)
	olderData, err := json.Marshal(older)
	require.NoError(t, err)
	newerData, err := json.Marshal(newer)
	require.NoError(t, err)

	mock.ExpectHGetAll(store.queueKey).SetVal(map[string]string{
		newer.Id.String(): string(newerData),
		older.Id.String(): string(olderData),
	})

	items, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, older.Id, items[0].Id)
	assert.Equal(t, newer.Id, items[1].Id)
	assert.Equal(t, 0, items[0].Attempts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisQueueStoreRemove(t *testing.T) {
	client, mock := redismock.NewClientMock()
	store := NewRedisQueueStore(client)

	id := uuid.New()
	mock.ExpectHDel(store.queueKey, id.String()).SetVal(1)
	assert.NoError(t, store.Remove(context.Background(), id))
	assert.NoError(t, mock.ExpectationsWereMet())
}
