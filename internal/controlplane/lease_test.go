package controlplane

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newMiniLease(t *testing.T, instances ...string) (*miniredis.Miniredis, []*RedisLease) {
	t.Helper()
	mr := miniredis.RunT(t)
	leases := make([]*RedisLease, 0, len(instances))
	for _, id := range instances {
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { rdb.Close() })
		leases = append(leases, newRedisLease(rdb, id, 30*time.Second))
	}
	return mr, leases
}

func TestRedisLease_AcquireRenewAndRefuse(t *testing.T) {
	mr, leases := newMiniLease(t, "a", "b")
	a, b := leases[0], leases[1]
	ctx := context.Background()

	if ok, err := a.Acquire(ctx, "p1"); err != nil || !ok {
		t.Fatalf("a.Acquire() = (%v, %v), want (true, nil)", ok, err)
	}
	if got, _ := mr.Get(leaseKeyPrefix + "p1"); got != "a" {
		t.Errorf("lease holder = %q, want a", got)
	}

	mr.FastForward(20 * time.Second)
	if ok, err := a.Acquire(ctx, "p1"); err != nil || !ok {
		t.Fatalf("renew by owner = (%v, %v), want (true, nil)", ok, err)
	}
	if ttl := mr.TTL(leaseKeyPrefix + "p1"); ttl != 30*time.Second {
		t.Errorf("renew must reset the ttl, got %v", ttl)
	}

	if ok, err := b.Acquire(ctx, "p1"); err != nil || ok {
		t.Fatalf("b.Acquire() = (%v, %v), want (false, nil)", ok, err)
	}
	if ok, err := b.Acquire(ctx, "p2"); err != nil || !ok {
		t.Errorf("other keys stay free, got (%v, %v)", ok, err)
	}
}

func TestRedisLease_ReleaseOnlyByOwner(t *testing.T) {
	mr, leases := newMiniLease(t, "a", "b")
	a, b := leases[0], leases[1]
	ctx := context.Background()

	if ok, _ := a.Acquire(ctx, "p1"); !ok {
		t.Fatal("a should acquire p1")
	}
	if err := b.Release(ctx, "p1"); err != nil {
		t.Fatalf("b.Release() error: %v", err)
	}
	if !mr.Exists(leaseKeyPrefix + "p1") {
		t.Fatal("release by another instance must keep the lease")
	}

	if err := a.Release(ctx, "p1"); err != nil {
		t.Fatalf("a.Release() error: %v", err)
	}
	if mr.Exists(leaseKeyPrefix + "p1") {
		t.Fatal("owner release must drop the lease")
	}
	if err := a.Release(ctx, "p1"); err != nil {
		t.Errorf("releasing a free lease: %v", err)
	}
	if ok, _ := b.Acquire(ctx, "p1"); !ok {
		t.Error("b should acquire p1 after release")
	}
}

func TestRedisLease_ExpiredLeaseIsFree(t *testing.T) {
	mr, leases := newMiniLease(t, "a", "b")
	ctx := context.Background()

	if ok, _ := leases[0].Acquire(ctx, "p1"); !ok {
		t.Fatal("a should acquire p1")
	}
	mr.FastForward(31 * time.Second)
	if ok, err := leases[1].Acquire(ctx, "p1"); err != nil || !ok {
		t.Errorf("expired lease: b.Acquire() = (%v, %v), want (true, nil)", ok, err)
	}
}
