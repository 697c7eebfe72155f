package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
)

// DefaultHashWorkers bounds how many files are hashed at once.
const DefaultHashWorkers = 4

// HashFile returns the hex sha256 of the file at path.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashFiles hashes paths on a bounded worker pool and returns the digests
// keyed by path. Errors are joined and returned after every submitted
// task has finished.
func HashFiles(ctx context.Context, paths []string, workers int) (map[string]string, error) {
	if workers <= 0 {
		workers = DefaultHashWorkers
	}
	pool, err := ants.NewPool(workers, ants.WithPanicHandler(func(v any) {
		slog.Error("hash worker panic", "panic", v)
	}))
	if err != nil {
		return nil, fmt.Errorf("hash pool: %w", err)
	}
	defer pool.ReleaseTimeout(3 * time.Second)

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		errs   []error
		hashes = make(map[string]string, len(paths))
	)
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
			break
		}
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			start := time.Now()
			sum, err := HashFile(path)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			hashes[path] = sum
			slog.Debug("hashed database file", "path", path, "duration", time.Since(start))
		})
		if submitErr != nil {
			wg.Done()
			mu.Lock()
			errs = append(errs, fmt.Errorf("submit %s: %w", path, submitErr))
			mu.Unlock()
		}
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return hashes, nil
}
