package dispatch

import (
	"testing"

	"github.com/otterjit/otterjit/internal/ir"
)

func TestBlockCachePublishLookup(t *testing.T) {
	// Spec §8: "lookup(cache, rip) after publish(block(rip)) returns
	// the published pointer."
	c := NewBlockCache()
	key := ir.Key{RIP: 0x401000, Config: ir.FingerprintTSO}

	if _, ok := c.Lookup(key); ok {
		t.Fatal("lookup on empty cache hit")
	}

	pb := &PublishedBlock{Block: ir.NewBlock(key.RIP, key.Config)}
	c.Publish(key, pb)

	got, ok := c.Lookup(key)
	if !ok || got != pb {
		t.Fatalf("lookup = %v/%v, want the published block", got, ok)
	}
}

func TestBlockCacheConfigSeparation(t *testing.T) {
	// Same RIP under different Fingerprints must not collide (spec §3
	// Block identity includes the configuration fingerprint).
	c := NewBlockCache()
	tso := ir.Key{RIP: 0x401000, Config: ir.FingerprintTSO}
	multi := ir.Key{RIP: 0x401000, Config: ir.FingerprintTSO | ir.FingerprintMultiblock}

	pbTSO := &PublishedBlock{Block: ir.NewBlock(tso.RIP, tso.Config)}
	c.Publish(tso, pbTSO)

	if _, ok := c.Lookup(multi); ok {
		t.Fatal("multiblock key hit the single-block entry")
	}

	pbMulti := &PublishedBlock{Block: ir.NewBlock(multi.RIP, multi.Config)}
	c.Publish(multi, pbMulti)
	if got, _ := c.Lookup(tso); got != pbTSO {
		t.Fatal("TSO entry clobbered by multiblock publish")
	}
	if got, _ := c.Lookup(multi); got != pbMulti {
		t.Fatal("multiblock entry not retrievable")
	}
}

func TestBlockCacheInvalidatePage(t *testing.T) {
	// Spec §8: "after invalidate_page(p), lookup(cache, rip) for any
	// rip in p returns miss."
	c := NewBlockCache()
	keys := []ir.Key{
		{RIP: 0x401000, Config: ir.FingerprintTSO},
		{RIP: 0x401800, Config: ir.FingerprintTSO},
		{RIP: 0x402000, Config: ir.FingerprintTSO}, // neighboring page, must survive
	}
	for _, k := range keys {
		c.Publish(k, &PublishedBlock{Block: ir.NewBlock(k.RIP, k.Config)})
	}

	c.InvalidatePage(0x401000)

	for _, k := range keys[:2] {
		if _, ok := c.Lookup(k); ok {
			t.Errorf("rip 0x%x still cached after page invalidation", k.RIP)
		}
	}
	if _, ok := c.Lookup(keys[2]); !ok {
		t.Error("neighboring page was wrongly invalidated")
	}
}
