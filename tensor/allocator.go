// allocator.go - Pro-Geraet Allokatoren
//
// allocData/freeData fuehren jedes Geraet, auch CPU, ueber einen eigenen
// Bin-Caching-Pool, parametrisiert durch (bin_growth, min_bin, max_bin,
// max_cached_bytes), wie es fuer CUDA-Allokatoren ueblich ist; nur GPU
// liest dafuer CT2_CUDA_CACHING_ALLOCATOR_CONFIG. Da kein cgo/CUDA-Binding
// im Paketarchiv verfuegbar ist, liegen auch GPU-Puffer im Host-Speicher.
// Storage ruft allocData/freeData nicht auf: seine Puffer kommen direkt
// aus make.
package tensor

import (
	"fmt"
	"sync"
)

// AllocatorConfig parametrisiert den Bin-Caching-Pool.
type AllocatorConfig struct {
	BinGrowth     int
	MinBin        int
	MaxBin        int
	MaxCachedBytes int64
}

// DefaultAllocatorConfig liefert die CTranslate2-Standardwerte.
func DefaultAllocatorConfig() AllocatorConfig {
	return AllocatorConfig{
		BinGrowth:      4,
		MinBin:         3,
		MaxBin:         12,
		MaxCachedBytes: 200 * 1024 * 1024,
	}
}

type bin struct {
	blockSize int
	free      [][]byte
}

// cachingAllocator is a bin-caching pool keyed by power-of-BinGrowth
// block sizes between MinBin and MaxBin, capped at MaxCachedBytes.
type cachingAllocator struct {
	mu          sync.Mutex
	config      AllocatorConfig
	bins        map[int]*bin
	cachedBytes int64
}

func newCachingAllocator(cfg AllocatorConfig) *cachingAllocator {
	return &cachingAllocator{config: cfg, bins: make(map[int]*bin)}
}

func (a *cachingAllocator) binIndex(n int) int {
	idx := a.config.MinBin
	size := 1
	for i := 0; i < a.config.MinBin; i++ {
		size *= a.config.BinGrowth
	}
	for size < n && idx < a.config.MaxBin {
		size *= a.config.BinGrowth
		idx++
	}
	return idx
}

func (a *cachingAllocator) alloc(n int) []byte {
	if n <= 0 {
		return nil
	}

	idx := a.binIndex(n)

	a.mu.Lock()
	b, ok := a.bins[idx]
	if ok && len(b.free) > 0 {
		buf := b.free[len(b.free)-1]
		b.free = b.free[:len(b.free)-1]
		a.cachedBytes -= int64(len(buf))
		a.mu.Unlock()
		return buf[:n]
	}
	a.mu.Unlock()

	return make([]byte, n)
}

func (a *cachingAllocator) free(buf []byte) {
	if cap(buf) == 0 {
		return
	}

	idx := a.binIndex(cap(buf))

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cachedBytes+int64(cap(buf)) > a.config.MaxCachedBytes {
		return
	}

	b, ok := a.bins[idx]
	if !ok {
		b = &bin{blockSize: cap(buf)}
		a.bins[idx] = b
	}
	b.free = append(b.free, buf[:cap(buf)])
	a.cachedBytes += int64(cap(buf))
}

// deviceContext bundles the allocator for a single device. There is one
// context per Device value, shared by all goroutines; contexts are not
// kept per thread.
type deviceContext struct {
	device    Device
	allocator *cachingAllocator
}

var (
	contextsMu sync.Mutex
	contexts   = make(map[Device]*deviceContext)
)

func contextFor(d Device) *deviceContext {
	contextsMu.Lock()
	defer contextsMu.Unlock()

	ctx, ok := contexts[d]
	if !ok {
		cfg := DefaultAllocatorConfig()
		if d.Kind == GPU {
			if c, err := allocatorConfigFromEnv(); err == nil {
				cfg = c
			}
		}
		ctx = &deviceContext{device: d, allocator: newCachingAllocator(cfg)}
		contexts[d] = ctx
	}
	return ctx
}

func allocData(d Device, n int) []byte {
	return contextFor(d).allocator.alloc(n)
}

func freeData(d Device, buf []byte) {
	contextFor(d).allocator.free(buf)
}

// releaseDeviceContext tears down the context of device d, shared by
// every goroutine that uses d.
func releaseDeviceContext(d Device) {
	contextsMu.Lock()
	defer contextsMu.Unlock()
	delete(contexts, d)
}

func validateAllocatorConfig(cfg AllocatorConfig) error {
	if cfg.BinGrowth < 2 || cfg.MinBin < 0 || cfg.MaxBin <= cfg.MinBin || cfg.MaxCachedBytes < 0 {
		return fmt.Errorf("invalid caching allocator configuration: %+v", cfg)
	}
	return nil
}
