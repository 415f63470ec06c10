package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dyadchat/dyad/cockroach"
	"github.com/dyadchat/dyad/metrics"
	"github.com/dyadchat/dyad/realtime"
)

type Config struct {
	Cockroach *cockroach.Cockroach
	Hub       *realtime.Hub
	Presence  *realtime.Presence
	Logger    *slog.Logger
	Metrics   *metrics.Metrics

	TokenKey    string
	RingTimeout time.Duration

	VAPIDPublicKey  string
	VAPIDPrivateKey string
	PushContact     string

	BaseCtx           context.Context
	BackgroundTimeout time.Duration
}

type Service struct {
	Cockroach *cockroach.Cockroach
	Hub       *realtime.Hub
	Presence  *realtime.Presence
	Logger    *slog.Logger
	Metrics   *metrics.Metrics

	tokenKey    string
	ringTimeout time.Duration

	vapidPublicKey  string
	vapidPrivateKey string
	pushContact     string

	baseCtx           context.Context
	backgroundTimeout time.Duration
	wg                sync.WaitGroup
	errs              chan error
}

func New(cfg *Config) *Service {
	return &Service{
		Cockroach: cfg.Cockroach,
		Hub:       cfg.Hub,
		Presence:  cfg.Presence,
		Logger:    cfg.Logger,
		Metrics:   cfg.Metrics,

		tokenKey:    cfg.TokenKey,
		ringTimeout: cfg.RingTimeout,

		vapidPublicKey:  cfg.VAPIDPublicKey,
		vapidPrivateKey: cfg.VAPIDPrivateKey,
		pushContact:     cfg.PushContact,

		baseCtx:           cfg.BaseCtx,
		backgroundTimeout: cfg.BackgroundTimeout,
		errs:              make(chan error, 1),
	}
}

func (svc *Service) Errs() <-chan error {
	return svc.errs
}

func (svc *Service) Close() error {
	svc.wg.Wait()
	close(svc.errs)
	return nil
}

func (svc *Service) background(fn func(ctx context.Context) error) {
	svc.wg.Go(func() {
		defer func() {
			if rcv := recover(); rcv != nil {
				select {
				case svc.errs <- fmt.Errorf("service background panic: %v", rcv):
				default:
				}
			}
		}()

		ctx, cancel := context.WithTimeout(svc.baseCtx, svc.backgroundTimeout)
		defer cancel()

		if err := fn(ctx); err != nil {
			select {
			case svc.errs <- fmt.Errorf("service background error: %w", err):
			default:
			}
		}
	})
}
