package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"suiverify/internal/otp/models"
)

var errRejected = errors.New("rejected")

type storeUnderTest interface {
	Store
	Get(ctx context.Context, key string) (*models.Record, error)
}

// StoreSuite runs the same behavior checks against every implementation.
type StoreSuite struct {
	suite.Suite
	newStore func() storeUnderTest
	now      time.Time
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, &StoreSuite{newStore: func() storeUnderTest { return NewInMemoryStore() }})
}

func TestRedisStoreSuite(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	suite.Run(t, &StoreSuite{newStore: func() storeUnderTest {
		mr.FlushAll()
		return NewRedisStore(client)
	}})
}

func (s *StoreSuite) SetupTest() {
	s.now = time.Now().UTC().Truncate(time.Millisecond)
}

func (s *StoreSuite) record(key string) *models.Record {
	return &models.Record{
		Key:         key,
		Phone:       "919876543210",
		UserAddress: "0xabc",
		Purpose:     models.DefaultPurpose,
		CodeHash:    []byte("$2a$04$hash"),
		CreatedAt:   s.now,
		ExpiresAt:   s.now.Add(10 * time.Minute),
	}
}

func (s *StoreSuite) TestUpdateCreatesAndReads() {
	ctx := context.Background()
	st := s.newStore()

	err := st.Update(ctx, "k1", func(current *models.Record) (Change, error) {
		s.Nil(current)
		return Change{Save: s.record("k1")}, nil
	})
	s.Require().NoError(err)

	got, err := st.Get(ctx, "k1")
	s.Require().NoError(err)
	s.Equal("919876543210", got.Phone)
	s.Equal([]byte("$2a$04$hash"), got.CodeHash)
	s.True(got.ExpiresAt.Equal(s.now.Add(10 * time.Minute)))
}

func (s *StoreSuite) TestGetMissing() {
	_, err := s.newStore().Get(context.Background(), "missing")
	s.ErrorIs(err, ErrNotFound)
}

func (s *StoreSuite) TestUpdateAppliesChangeAlongsideError() {
	ctx := context.Background()
	st := s.newStore()
	s.Require().NoError(st.Update(ctx, "k1", func(*models.Record) (Change, error) {
		return Change{Save: s.record("k1")}, nil
	}))

	err := st.Update(ctx, "k1", func(current *models.Record) (Change, error) {
		current.Attempts++
		return Change{Save: current}, errRejected
	})
	s.ErrorIs(err, errRejected)

	got, err := st.Get(ctx, "k1")
	s.Require().NoError(err)
	s.Equal(1, got.Attempts)
}

func (s *StoreSuite) TestUpdateDelete() {
	ctx := context.Background()
	st := s.newStore()
	s.Require().NoError(st.Update(ctx, "k1", func(*models.Record) (Change, error) {
		return Change{Save: s.record("k1")}, nil
	}))

	s.Require().NoError(st.Update(ctx, "k1", func(current *models.Record) (Change, error) {
		s.NotNil(current)
		return Change{Delete: true}, nil
	}))

	_, err := st.Get(ctx, "k1")
	s.ErrorIs(err, ErrNotFound)
}

func (s *StoreSuite) TestUpdateNoChangeLeavesRecord() {
	ctx := context.Background()
	st := s.newStore()
	s.Require().NoError(st.Update(ctx, "k1", func(*models.Record) (Change, error) {
		return Change{Save: s.record("k1")}, nil
	}))

	err := st.Update(ctx, "k1", func(current *models.Record) (Change, error) {
		current.Attempts = 99
		return Change{}, nil
	})
	s.Require().NoError(err)

	got, err := st.Get(ctx, "k1")
	s.Require().NoError(err)
	s.Equal(0, got.Attempts, "mutating the copy must not leak into the store")
}

func (s *StoreSuite) TestConcurrentUpdatesAreSerialized() {
	ctx := context.Background()
	st := s.newStore()
	s.Require().NoError(st.Update(ctx, "k1", func(*models.Record) (Change, error) {
		return Change{Save: s.record("k1")}, nil
	}))

	const workers = 10
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- st.Update(ctx, "k1", func(current *models.Record) (Change, error) {
				current.Attempts++
				return Change{Save: current}, nil
			})
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
		} else {
			s.ErrorIs(err, ErrUnavailable)
		}
	}

	got, err := st.Get(ctx, "k1")
	s.Require().NoError(err)
	s.Equal(succeeded, got.Attempts, "no increment may be lost")
}

func TestInMemoryDeleteExpired(t *testing.T) {
	ctx := context.Background()
	st := NewInMemoryStore()
	now := time.Now()

	for key, expires := range map[string]time.Time{
		"stale": now.Add(-time.Second),
		"fresh": now.Add(time.Minute),
	} {
		rec := &models.Record{Key: key, ExpiresAt: expires}
		if err := st.Update(ctx, key, func(*models.Record) (Change, error) { return Change{Save: rec}, nil }); err != nil {
			t.Fatal(err)
		}
	}

	deleted, err := st.DeleteExpired(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 1 || st.Len() != 1 {
		t.Fatalf("deleted=%d len=%d, want 1 and 1", deleted, st.Len())
	}
	if _, err := st.Get(ctx, "fresh"); err != nil {
		t.Fatalf("fresh record removed: %v", err)
	}
}

func TestRedisStoreTTL(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	st := NewRedisStore(client, WithKeyPrefix("test:"), WithClock(func() time.Time { return now }))

	rec := &models.Record{Key: "k1", ExpiresAt: now.Add(10 * time.Minute)}
	if err := st.Update(ctx, "k1", func(*models.Record) (Change, error) { return Change{Save: rec}, nil }); err != nil {
		t.Fatal(err)
	}
	if ttl := mr.TTL("test:k1"); ttl != 10*time.Minute+ExpiryGrace {
		t.Fatalf("ttl = %v", ttl)
	}

	mr.FastForward(11*time.Minute + time.Second)
	if _, err := st.Get(ctx, "k1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected record to lapse, got %v", err)
	}
}

func TestRedisStoreSaveInPastDeletes(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	now := time.Now()
	st := NewRedisStore(client, WithClock(func() time.Time { return now }))
	mr.Set(DefaultKeyPrefix+"k1", `{"key":"k1"}`)

	stale := &models.Record{Key: "k1", ExpiresAt: now.Add(-time.Hour)}
	if err := st.Update(ctx, "k1", func(*models.Record) (Change, error) { return Change{Save: stale}, nil }); err != nil {
		t.Fatal(err)
	}
	if mr.Exists(DefaultKeyPrefix + "k1") {
		t.Fatal("record past its grace window must not be written")
	}
}

func TestRedisStoreUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	st := NewRedisStore(client)
	err := st.Update(context.Background(), "k1", func(*models.Record) (Change, error) { return Change{}, nil })
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestRedisStoreCorruptValue(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	mr.Set(DefaultKeyPrefix+"k1", "not-json")

	_, err := NewRedisStore(client).Get(context.Background(), "k1")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
