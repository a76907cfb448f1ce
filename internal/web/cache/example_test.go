package cache_test

import (
	"context"
	"fmt"
	"time"

	"github.com/learnhub/learnhub/internal/web/cache"
)

func Example() {
	ctx := context.Background()
	store := cache.NewStore(cache.NewMemoryCacheWithConfig(cache.DefaultConfig(), 0), "memory", nil)
	defer store.Close()

	cache.SetCached(ctx, store, "user:1:profile", map[string]string{"name": "Ada"}, time.Minute)
	cache.SetCached(ctx, store, "user:2:profile", map[string]string{"name": "Alan"}, time.Minute)

	profile, ok := cache.GetCached[map[string]string](ctx, store, "user:1:profile")
	fmt.Println(profile["name"], ok)

	fmt.Println(cache.InvalidateCache(ctx, store, "user:*"))

	_, ok = cache.GetCached[map[string]string](ctx, store, "user:2:profile")
	fmt.Println(ok)
	// Output:
	// Ada true
	// 2
	// false
}

func ExampleCompilePattern() {
	p, _ := cache.CompilePattern("user:*")
	fmt.Println(p.Match("user:42"), p.Match("admin-user:7"), p.Match("course:1"))
	// Output: true true false
}
