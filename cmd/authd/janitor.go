// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/holomush/authd/pkg/errutil"
)

// janitorInterval is how often expired recovery rows are purged.
const janitorInterval = 5 * time.Minute

// sweep deletes one kind of expired row and reports how many went.
type sweep struct {
	name string
	run  func(ctx context.Context) (int64, error)
}

// runJanitor runs every sweep once per interval until ctx is canceled.
// Expired rows are already unusable; purging only bounds table growth.
func runJanitor(ctx context.Context, logger *slog.Logger, interval time.Duration, sweeps ...sweep) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, s := range sweeps {
				n, err := s.run(ctx)
				if err != nil {
					errutil.LogErrorContext(ctx, logger, "janitor sweep failed", err)
					continue
				}
				if n > 0 {
					logger.DebugContext(ctx, "janitor purged rows", "sweep", s.name, "rows", n)
				}
			}
		}
	}
}
