package service

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Janitor periodically purges expired tokens from the user database and
// performs the final flush when the server stops.
type Janitor struct {
	db       *UserDB
	interval time.Duration
	log      *logrus.Entry

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewJanitor(db *UserDB, interval time.Duration, logger *logrus.Logger) *Janitor {
	if interval <= 0 {
		interval = time.Hour
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Janitor{
		db:       db,
		interval: interval,
		log:      logger.WithField("component", "janitor"),
	}
}

// Start launches the sweep loop. It returns immediately.
func (j *Janitor) Start(ctx context.Context) {
	ctx, j.cancel = context.WithCancel(ctx)
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := j.db.Sweep(ctx); err != nil {
					j.log.Warnf("sweep tokens: %v", err)
				}
			}
		}
	}()
	j.log.Infof("janitor started, interval %s", j.interval)
}

// Shutdown stops the loop and flushes the user database. ctx bounds the flush.
func (j *Janitor) Shutdown(ctx context.Context) error {
	if j.cancel != nil {
		j.cancel()
	}
	j.wg.Wait()
	if err := j.db.Close(ctx); err != nil {
		return err
	}
	j.log.Info("janitor stopped")
	return nil
}
