// Package notify delivers threshold alerts to the secondary channels: a
// webhook, a JSON-lines log, Microsoft Graph email and an S3 archive.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-soundwatch/internal/types"
	"github.com/oszuidwest/zwfm-soundwatch/internal/util"
)

// sendTimeout bounds a single channel delivery.
const sendTimeout = 2 * time.Minute

// Settings is the notification part of the configuration.
type Settings struct {
	StationName string
	WebhookURL  string
	LogPath     string
	Graph       types.GraphConfig
	S3          types.S3Config
}

// Recorder observes the outcome of each delivery. observe.Metrics satisfies it.
type Recorder interface {
	RecordNotification(ctx context.Context, notifyType string, err error)
}

// AlertNotifier fans an alert out to every configured channel.
type AlertNotifier struct {
	settings func() Settings
	recorder Recorder

	mu          sync.Mutex
	graphClient *GraphClient
	graphKey    types.GraphConfig
	store       ObjectStore
	storeKey    types.S3Config
	storeFixed  bool

	wg sync.WaitGroup
}

// NewAlertNotifier returns an AlertNotifier that reads its settings on
// every alert, so configuration changes apply without a restart.
// recorder may be nil.
func NewAlertNotifier(settings func() Settings, recorder Recorder) *AlertNotifier {
	return &AlertNotifier{settings: settings, recorder: recorder}
}

// SetObjectStore overrides the S3 client.
func (n *AlertNotifier) SetObjectStore(store ObjectStore) {
	n.mu.Lock()
	n.store, n.storeFixed = store, true
	n.mu.Unlock()
}

// HandleAlert starts one delivery per configured channel and returns
// immediately.
func (n *AlertNotifier) HandleAlert(ctx context.Context, alert *types.Alert) {
	cfg := n.settings()
	ctx = context.WithoutCancel(ctx)

	if util.IsConfigured(cfg.WebhookURL) {
		n.send(ctx, "webhook", func(ctx context.Context) error {
			return SendAlertWebhook(ctx, cfg.WebhookURL, alert)
		})
	}
	if util.IsConfigured(cfg.LogPath) {
		n.send(ctx, "log", func(context.Context) error {
			return LogAlert(cfg.LogPath, alert)
		})
	}
	if IsConfigured(&cfg.Graph) {
		n.send(ctx, "email", func(ctx context.Context) error {
			client, err := n.graph(&cfg.Graph)
			if err != nil {
				return util.WrapError("create Graph client", err)
			}
			return SendAlertEmail(ctx, client, &cfg.Graph, cfg.StationName, alert)
		})
	}
	if S3IsConfigured(&cfg.S3) {
		n.send(ctx, "s3", func(ctx context.Context) error {
			return ArchiveAlert(ctx, n.objectStore(&cfg.S3), &cfg.S3, alert)
		})
	}
}

func (n *AlertNotifier) send(ctx context.Context, notifyType string, fn func(context.Context) error) {
	n.wg.Go(func() {
		ctx, cancel := context.WithTimeout(ctx, sendTimeout)
		defer cancel()
		util.LogNotifyResult(func() error {
			err := fn(ctx)
			if n.recorder != nil {
				n.recorder.RecordNotification(ctx, notifyType, err)
			}
			return err
		}, notifyType)
	})
}

// Wait blocks until all started deliveries have finished.
func (n *AlertNotifier) Wait() {
	n.wg.Wait()
}

// graph returns a cached client, rebuilding it when the settings changed.
func (n *AlertNotifier) graph(cfg *types.GraphConfig) (*GraphClient, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.graphClient != nil && n.graphKey == *cfg {
		return n.graphClient, nil
	}
	client, err := NewGraphClient(cfg)
	if err != nil {
		return nil, err
	}
	n.graphClient, n.graphKey = client, *cfg
	return client, nil
}

func (n *AlertNotifier) objectStore(cfg *types.S3Config) ObjectStore {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.storeFixed || (n.store != nil && n.storeKey == *cfg) {
		return n.store
	}
	n.store, n.storeKey = NewS3Client(cfg), *cfg
	return n.store
}
