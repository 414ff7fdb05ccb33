package spchttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	spc "github.com/sundaman/defect-warning-system"
	"github.com/sundaman/defect-warning-system/manager"
)

// Pusher delivers alert notifications to an external sink.
type Pusher interface {
	Push(ctx context.Context, alert Alert) error
}

// Alert is the notification payload delivered on a confirmed, non-suppressed
// alert.
type Alert struct {
	ID      string       `json:"alert_id"`
	Key     string       `json:"unique_key"`
	Item    string       `json:"item_name"`
	Side    spc.Side     `json:"alert_side"`
	Time    time.Time    `json:"timestamp"`
	Current spc.Decision `json:"current_status"`
	History AlertHistory `json:"history"`
}

// AlertHistory carries the recent trajectory as parallel series, oldest
// first, for charting on the receiving side.
type AlertHistory struct {
	Timestamps []time.Time `json:"timestamps"`
	Values     []float64   `json:"values"`
	Baselines  []float64   `json:"baselines"`
	KValues    []float64   `json:"k_values"`
	CusumPlus  []float64   `json:"cusum_plus"`
	CusumMinus []float64   `json:"cusum_minus"`
	ThresholdH []float64   `json:"threshold_h"`
}

// NewAlert builds the notification payload from a processing result.
func NewAlert(item string, res manager.Result) Alert {
	h := AlertHistory{}
	for _, d := range res.Trajectory {
		h.Timestamps = append(h.Timestamps, d.Time)
		h.Values = append(h.Values, d.Value)
		h.Baselines = append(h.Baselines, d.Baseline)
		h.KValues = append(h.KValues, d.K)
		h.CusumPlus = append(h.CusumPlus, d.SPlus)
		h.CusumMinus = append(h.CusumMinus, d.SMinus)
		h.ThresholdH = append(h.ThresholdH, d.Threshold)
	}
	return Alert{
		ID:      uuid.NewString(),
		Key:     res.Key,
		Item:    item,
		Side:    res.AlertSide,
		Time:    res.Decision.Time,
		Current: res.Decision,
		History: h,
	}
}

// WebhookPusher POSTs alerts as JSON to a fixed URL.
type WebhookPusher struct {
	url    string
	client *http.Client
	log    zerolog.Logger
}

var _ Pusher = (*WebhookPusher)(nil)

// NewWebhookPusher creates a pusher targeting url. A nil client uses a
// default with a 10 second timeout.
func NewWebhookPusher(url string, client *http.Client, log zerolog.Logger) *WebhookPusher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookPusher{url: url, client: client, log: log}
}

func (p *WebhookPusher) Push(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	p.log.Debug().Str("alert_id", alert.ID).Str("key", alert.Key).Msg("alert pushed")
	return nil
}
