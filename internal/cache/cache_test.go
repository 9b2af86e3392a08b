package cache

import (
	"testing"
	"time"

	"marketintel/internal/models"
)

type fakeClock struct {
	t time.Time
}

func (f *fakeClock) now() time.Time { return f.t }

func newTestCache(ttl time.Duration) (*TrendCache, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	c := NewTrendCache(ttl)
	c.now = clock.now
	return c, clock
}

func report(mp models.Marketplace) *models.TrendReport {
	return &models.TrendReport{
		Marketplace: mp,
		Summary:     models.PriceSummary{Count: 1, AvgPrice: 10, MinPrice: 10, MaxPrice: 10},
		Products:    []models.ProductRecord{},
	}
}

func TestTrendCacheScenarios(t *testing.T) {
	c, clock := newTestCache(time.Minute)
	key := Key(models.MarketplaceAmazon, "", 20)

	// Missing entry
	if got, ok := c.Get(key); ok || got != nil {
		t.Fatalf("expected miss on empty cache, got %v", got)
	}
	if _, ok := c.Age(key); ok {
		t.Fatal("missing entry should have no age")
	}

	// Fresh entry
	c.Put(key, report(models.MarketplaceAmazon))
	clock.t = clock.t.Add(30 * time.Second)
	got, ok := c.Get(key)
	if !ok || got.Marketplace != models.MarketplaceAmazon {
		t.Fatalf("expected cached report, got %v, %v", got, ok)
	}
	if age, ok := c.Age(key); !ok || age != 30*time.Second {
		t.Fatalf("expected age 30s, got %v", age)
	}

	// Expired entry is evicted on read
	clock.t = clock.t.Add(time.Minute)
	if _, ok := c.Get(key); ok {
		t.Fatal("expected expired entry to miss")
	}
	if c.Len() != 0 {
		t.Fatalf("expected expired entry to be evicted, got %d entries", c.Len())
	}
}

func TestKeyNormalizesCategory(t *testing.T) {
	a := Key(models.MarketplaceMercadoLivre, " Informatica ", 10)
	b := Key(models.MarketplaceMercadoLivre, "informatica", 10)
	if a != b {
		t.Fatalf("expected equal keys, got %q and %q", a, b)
	}
	if Key(models.MarketplaceMercadoLivre, "informatica", 20) == a {
		t.Fatal("limit must be part of the key")
	}
}

func TestInvalidateMarketplace(t *testing.T) {
	c, _ := newTestCache(time.Minute)
	c.Put(Key(models.MarketplaceAmazon, "", 10), report(models.MarketplaceAmazon))
	c.Put(Key(models.MarketplaceAmazon, "livros", 10), report(models.MarketplaceAmazon))
	c.Put(Key(models.MarketplaceMercadoLivre, "", 10), report(models.MarketplaceMercadoLivre))

	if removed := c.Invalidate(models.MarketplaceAmazon); removed != 2 {
		t.Fatalf("expected 2 entries removed, got %d", removed)
	}
	if _, ok := c.Get(Key(models.MarketplaceMercadoLivre, "", 10)); !ok {
		t.Fatal("other marketplaces must survive invalidation")
	}
}

func TestPutIgnoresNilAndDefaultsTTL(t *testing.T) {
	c := NewTrendCache(0)
	if c.ttl != DefaultTTL {
		t.Fatalf("expected default TTL, got %s", c.ttl)
	}
	c.Put("k", nil)
	if c.Len() != 0 {
		t.Fatal("nil report must not be stored")
	}
}
