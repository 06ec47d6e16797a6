package conn

import (
	"context"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Mayor78/mtbm-attendance-sub000/common"
	"github.com/Mayor78/mtbm-attendance-sub000/models"
)

// ProbeFunc reports whether the server is currently reachable.
type ProbeFunc func(ctx context.Context) error

// Monitor runs a reachability probe on a ticker and publishes offline/online
// transitions. It starts offline: the first successful probe is the initial
// "became online" transition, which is what kicks off the first drain pass.
type Monitor struct {
	probe    ProbeFunc
	interval time.Duration
	logger   models.Logger

	mu          sync.Mutex
	online      bool
	transitions chan bool
}

func NewMonitor(probe ProbeFunc, logger models.Logger) *Monitor {
	probeInterval := models.DefaultProbeInterval
	if configProbeInterval, found := os.LookupEnv(models.Env_ProbeInterval); found {
		if parsedProbeInterval, err := time.ParseDuration(configProbeInterval); err == nil {
			probeInterval = parsedProbeInterval
		}
	}
	return &Monitor{
		probe:       probe,
		interval:    probeInterval,
		logger:      logger,
		transitions: make(chan bool, 1),
	}
}

func (m *Monitor) Run(ctx context.Context) {
	m.check(ctx)
	tick := time.NewTicker(m.interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			m.logger.Infoln("conn: monitor stopped")
			return
		case <-tick.C:
			m.check(ctx)
		}
	}
}

func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

func (m *Monitor) Transitions() <-chan bool {
	return m.transitions
}

func (m *Monitor) check(ctx context.Context) {
	probeCtx, probeCancel := context.WithTimeout(ctx, common.DefaultRpcWaitTime)
	defer probeCancel()

	err := m.probe(probeCtx)
	online := err == nil

	m.mu.Lock()
	changed := online != m.online
	m.online = online
	m.mu.Unlock()

	if !changed {
		return
	}
	if online {
		m.logger.Infoln("conn: became online")
	} else {
		m.logger.Warnf("conn: became offline: %v", err)
	}
	// Coalesce: a pending undelivered transition is superseded by this one.
	select {
	case <-m.transitions:
	default:
	}
	m.transitions <- online
}

// HttpProbe treats any HTTP response as reachability, regardless of status.
func HttpProbe(url string) ProbeFunc {
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		return nil
	}
}

// RedisProbe checks the local store as well, so the queue does not drain into
// a store it cannot update.
func RedisProbe(client *redis.Client) ProbeFunc {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}
