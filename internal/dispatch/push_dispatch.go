package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/example/driver-companion/internal/models"
	"github.com/example/driver-companion/internal/trip"
)

// SettingsSource reports whether the driver wants notifications.
type SettingsSource interface {
	LoadSettings(ctx context.Context) (models.Settings, error)
}

// PushNotifier posts new ride requests to a push-gateway webhook so the
// driver is alerted while the app is in the background.
type PushNotifier struct {
	Endpoint string
	Client   *http.Client
	settings SettingsSource
	logger   *slog.Logger
}

type pushPayload struct {
	Title   string              `json:"title"`
	Body    string              `json:"body"`
	Request *models.RideRequest `json:"request"`
}

func NewPushNotifier(endpoint string, settings SettingsSource, logger *slog.Logger) *PushNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &PushNotifier{
		Endpoint: endpoint,
		Client:   &http.Client{Timeout: 3 * time.Second},
		settings: settings,
		logger:   logger,
	}
}

// Publish sends a notification for every received request. Delivery runs in
// the background and failures are only logged.
func (p *PushNotifier) Publish(ctx context.Context, ev trip.Event) {
	if p == nil || p.Endpoint == "" || ev.Type != trip.EventRequestReceived || ev.Request == nil {
		return
	}
	req := *ev.Request
	go func() {
		ctx := context.WithoutCancel(ctx)
		if err := p.notify(ctx, req); err != nil {
			p.logger.Warn("push notification failed", "request_id", req.ID, "error", err)
		}
	}()
}

func (p *PushNotifier) notify(ctx context.Context, req models.RideRequest) error {
	if p.settings != nil {
		s, err := p.settings.LoadSettings(ctx)
		if err != nil {
			return fmt.Errorf("load settings: %w", err)
		}
		if !s.Notifications {
			return nil
		}
	}
	body := pushPayload{
		Title:   "New ride request",
		Body:    fmt.Sprintf("%s to %s, $%.2f", req.Pickup.Address, req.Destination.Address, req.EstimatedFare),
		Request: &req,
	}
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, p.Client.Timeout)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := p.Client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("push gateway returned %s", resp.Status)
	}
	return nil
}
