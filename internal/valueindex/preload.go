package valueindex

import (
	"context"
	"errors"
	"runtime"
	"slices"
	"sync"

	"github.com/barusanov/Perl5-IDEA/internal/plvalue"
	"github.com/barusanov/Perl5-IDEA/internal/valuecodec"
	"golang.org/x/sync/errgroup"
)

type PreloadResult struct {
	// number of records decoded and cached
	Loaded int

	// keys of the corrupt records that were discarded
	Discarded []string
}

// Preload decodes all the records in r and fills the record cache. The decoding is done concurrently,
// corrupt records are discarded. Records modified during the preloading are neither loaded nor discarded.
func (s *Store) Preload(ctx context.Context, r *plvalue.Registry) (PreloadResult, error) {
	keys, records, err := s.readRecords("")
	if err != nil {
		return PreloadResult{}, err
	}

	epoch := r.Epoch()

	var (
		resultLock sync.Mutex
		result     PreloadResult
		corrupt    = map[string][]byte{}
	)

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(runtime.GOMAXPROCS(0))

	for i := range keys {
		key, data := keys[i], records[i]

		group.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			v, err := valuecodec.NewDecoder(r, s.names).Decode(data)

			switch {
			case errors.Is(err, valuecodec.ErrCorruptRecord):
				resultLock.Lock()
				corrupt[key] = data
				resultLock.Unlock()
				return nil
			case err != nil:
				return err
			}

			//a record stored after the snapshot must not be shadowed by the value of the old one.
			cached, err := s.cacheIfUnchanged(key, data, cachedValue{epoch: epoch, value: v})
			if err != nil || !cached {
				return err
			}

			resultLock.Lock()
			result.Loaded++
			resultLock.Unlock()
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return result, err
	}

	corruptKeys := make([]string, 0, len(corrupt))
	for key := range corrupt {
		corruptKeys = append(corruptKeys, key)
	}
	slices.Sort(corruptKeys)

	for _, key := range corruptKeys {
		discarded, err := s.discardIfUnchanged(key, corrupt[key], valuecodec.ErrCorruptRecord)
		if err != nil {
			return result, err
		}
		if discarded {
			result.Discarded = append(result.Discarded, key)
		}
	}

	s.logger.Debug().Int("loaded", result.Loaded).Int("discarded", len(result.Discarded)).Msg("records preloaded")
	return result, nil
}
