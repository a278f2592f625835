package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"keygate/internal/config"
)

// KeyStoreSuite runs the same contract against every implementation.
type KeyStoreSuite struct {
	suite.Suite
	newStore func(t *testing.T) KeyStore
	store    KeyStore
	ctx      context.Context
}

func (s *KeyStoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = s.newStore(s.T())
}

func (s *KeyStoreSuite) TearDownTest() {
	_ = s.store.Close()
}

func (s *KeyStoreSuite) TestHashRoundTrip() {
	key := RecordKey("AB12-CD34-EF56-7890")

	all, err := s.store.HGetAll(s.ctx, key)
	s.Require().NoError(err)
	s.Empty(all)

	s.Require().NoError(s.store.HSet(s.ctx, key, map[string]string{"key": "AB12-CD34-EF56-7890", "revoked": "false"}))
	s.Require().NoError(s.store.HSet(s.ctx, key, map[string]string{"revoked": "true"}))

	all, err = s.store.HGetAll(s.ctx, key)
	s.Require().NoError(err)
	s.Equal(map[string]string{"key": "AB12-CD34-EF56-7890", "revoked": "true"}, all)

	v, ok, err := s.store.HGet(s.ctx, key, "revoked")
	s.Require().NoError(err)
	s.True(ok)
	s.Equal("true", v)

	_, ok, err = s.store.HGet(s.ctx, key, "deviceId")
	s.Require().NoError(err)
	s.False(ok)

	exists, err := s.store.Exists(s.ctx, key)
	s.Require().NoError(err)
	s.True(exists)
}

func (s *KeyStoreSuite) TestHSetNXFirstWriterWins() {
	key := RecordKey("K")

	ok, err := s.store.HSetNX(s.ctx, key, "deviceId", "first")
	s.Require().NoError(err)
	s.True(ok)

	ok, err = s.store.HSetNX(s.ctx, key, "deviceId", "second")
	s.Require().NoError(err)
	s.False(ok)

	v, _, err := s.store.HGet(s.ctx, key, "deviceId")
	s.Require().NoError(err)
	s.Equal("first", v)
}

func (s *KeyStoreSuite) TestHSetNXConcurrent() {
	key := RecordKey("RACE")
	var wg sync.WaitGroup
	wins := make(chan string, 10)

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			value := string(rune('a' + id))
			ok, err := s.store.HSetNX(s.ctx, key, "macAddress", value)
			if err == nil && ok {
				wins <- value
			}
		}(i)
	}
	wg.Wait()
	close(wins)

	var winners []string
	for w := range wins {
		winners = append(winners, w)
	}
	s.Len(winners, 1)
}

func (s *KeyStoreSuite) TestHDel() {
	key := RecordKey("K")
	s.Require().NoError(s.store.HSet(s.ctx, key, map[string]string{"a": "1", "b": "2"}))
	s.Require().NoError(s.store.HDel(s.ctx, key, "a"))

	all, err := s.store.HGetAll(s.ctx, key)
	s.Require().NoError(err)
	s.Equal(map[string]string{"b": "2"}, all)

	s.Require().NoError(s.store.HDel(s.ctx, RecordKey("missing"), "a"))
}

func (s *KeyStoreSuite) TestSetIndex() {
	s.Require().NoError(s.store.SAdd(s.ctx, IndexKey, "B"))
	s.Require().NoError(s.store.SAdd(s.ctx, IndexKey, "A"))
	s.Require().NoError(s.store.SAdd(s.ctx, IndexKey, "A"))

	members, err := s.store.SMembers(s.ctx, IndexKey)
	s.Require().NoError(err)
	s.ElementsMatch([]string{"A", "B"}, members)
}

func (s *KeyStoreSuite) TestPing() {
	s.NoError(s.store.Ping(s.ctx))
}

func TestMemoryStore(t *testing.T) {
	suite.Run(t, &KeyStoreSuite{newStore: func(t *testing.T) KeyStore {
		return NewMemoryStore()
	}})
}

func TestRedisStore(t *testing.T) {
	suite.Run(t, &KeyStoreSuite{newStore: func(t *testing.T) KeyStore {
		mr := miniredis.RunT(t)
		client, err := Connect(context.Background(), mr.Addr())
		require.NoError(t, err)
		return NewRedisStore(client, time.Second)
	}})
}

func TestRedisStoreUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := Connect(context.Background(), "redis://"+mr.Addr()+"/0")
	require.NoError(t, err)
	s := NewRedisStore(client, 200*time.Millisecond)
	defer s.Close()

	mr.Close()

	_, err = s.HGetAll(context.Background(), RecordKey("K"))
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestMemoryStoreClosed(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Ping(context.Background()), ErrUnavailable)
}

func TestOpen(t *testing.T) {
	s, err := Open(context.Background(), config.StoreConfig{Backend: config.StoreBackendMemory})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	mr := miniredis.RunT(t)
	s, err = Open(context.Background(), config.StoreConfig{
		Backend:          config.StoreBackendRedis,
		URL:              mr.Addr(),
		OperationTimeout: time.Second,
	})
	require.NoError(t, err)
	assert.IsType(t, &RedisStore{}, s)
	require.NoError(t, s.Close())

	_, err = Open(context.Background(), config.StoreConfig{Backend: "etcd"})
	assert.Error(t, err)
}

func TestConnectRejectsBadURL(t *testing.T) {
	_, err := Connect(context.Background(), "redis://localhost:6379/notanumber")
	assert.Error(t, err)
}
