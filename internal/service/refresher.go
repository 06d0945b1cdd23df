package service

import (
	"context"
	"time"

	"market-data-api/internal/logger"
)

// Refresher periodically force-refreshes the configured baskets through the
// regular fetch path. It runs independently of foreground request handling.
type Refresher struct {
	service  *QuoteService
	logger   *logger.Logger
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
}

// NewRefresher creates a background refresher. Call Start to run it.
func NewRefresher(quoteService *QuoteService, log *logger.Logger, interval time.Duration) *Refresher {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Refresher{
		service:  quoteService,
		logger:   log,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the refresh loop in its own goroutine.
func (r *Refresher) Start() {
	go r.loop()
}

func (r *Refresher) loop() {
	defer close(r.done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.refresh()
		case <-r.stop:
			return
		}
	}
}

func (r *Refresher) refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), r.interval)
	defer cancel()

	basket := r.service.GetKoreanBasket(ctx, true)
	if len(basket.Stocks.Errors) > 0 || basket.IndexError != "" {
		r.logger.Warnf("background refresh: %d korean basket symbols failed", len(basket.Stocks.Errors))
	}
	forex := r.service.GetForexBasket(ctx, true)
	if len(forex.Errors) > 0 {
		r.logger.Warnf("background refresh: %d forex pairs failed", len(forex.Errors))
	}
}

// Stop terminates the refresh loop and waits for it to exit.
func (r *Refresher) Stop() {
	close(r.stop)
	<-r.done
}
