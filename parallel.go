package tilefits

import "golang.org/x/sync/errgroup"

// ParallelFor invokes body(i) for every i in [begin, end). If numThreads
// is <= 1, or numThreads >= end-begin, it runs serially in the calling
// goroutine. Otherwise it fans out numThreads workers, worker k covering
// indices begin+k, begin+k+numThreads, ... (stride numThreads), and waits
// for all of them before returning.
//
// It reports whether every worker completed without error — mirroring the
// spec's "returns success/failure based on whether every worker was
// spawned" via errgroup.Group's first-error-wins Wait, the same
// fan-out/join shape the pack uses elsewhere for bounded worker pools.
func ParallelFor(begin, end, numThreads int, body func(i int) error) error {
	n := end - begin
	if n <= 0 {
		return nil
	}
	if numThreads <= 1 || numThreads >= n {
		for i := begin; i < end; i++ {
			if err := body(i); err != nil {
				return err
			}
		}
		return nil
	}

	var g errgroup.Group
	for k := 0; k < numThreads; k++ {
		k := k
		g.Go(func() error {
			for i := begin + k; i < end; i += numThreads {
				if err := body(i); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}
