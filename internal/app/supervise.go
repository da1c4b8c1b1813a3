package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
)

// background services restart on failure; past the threshold they back off
const (
	failureThreshold = 5
	failureDecay     = 30
	failureBackoff   = 15 * time.Second
	stopTimeout      = 10 * time.Second
)

func newSupervisor(log *slog.Logger, backoff time.Duration) *suture.Supervisor {
	h := &sutureslog.Handler{Logger: log}
	return suture.New("geologic-api", suture.Spec{
		EventHook:        h.MustHook(),
		FailureThreshold: failureThreshold,
		FailureDecay:     failureDecay,
		FailureBackoff:   backoff,
		Timeout:          stopTimeout,
	})
}

// starter is anything that runs until its context ends.
type starter interface {
	Start(ctx context.Context) error
}

type service struct {
	name string
	run  starter
}

func (s service) Serve(ctx context.Context) error { return s.run.Start(ctx) }

func (s service) String() string { return s.name }
