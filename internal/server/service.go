package server

import (
	"context"

	"github.com/preston-bernstein/livescore-service/internal/feed"
)

// scoreService is the part of the scoreboard service the server drives.
type scoreService interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Status() feed.Status
}

// Poller defines the minimal poller behavior needed by the server.
type Poller interface {
	Start(ctx context.Context)
	Stop(ctx context.Context) error
}
