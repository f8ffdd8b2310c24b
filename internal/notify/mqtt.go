package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	connectTimeout = 5 * time.Second
	publishTimeout = 2 * time.Second
)

// MQTTConfig はMQTT通知の設定
type MQTTConfig struct {
	Broker   string // host:port
	Topic    string
	ClientID string
	QoS      byte
}

// MQTTPublisher は取り込みイベントをMQTTブローカーへ送信する
type MQTTPublisher struct {
	cfg    MQTTConfig
	client mqtt.Client

	mu        sync.Mutex
	published uint64
	failures  uint64
}

// NewMQTTPublisher はブローカーへ接続したMQTTPublisherを作成する
func NewMQTTPublisher(ctx context.Context, cfg MQTTConfig) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", cfg.Broker))
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(mqtt.Client) {
		slog.Info("MQTTブローカーに接続しました", "broker", cfg.Broker, "client_id", cfg.ClientID)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		slog.Warn("MQTT接続が切断されました。自動再接続を待機します", "broker", cfg.Broker, "error", err)
	}

	p := &MQTTPublisher{cfg: cfg, client: mqtt.NewClient(opts)}

	if err := connect(ctx, p.client, connectTimeout); err != nil {
		return nil, fmt.Errorf("MQTT接続に失敗: %w", err)
	}

	return p, nil
}

// connect は接続完了を待ち、失敗時はバックグラウンドの再試行を止める
func connect(ctx context.Context, client mqtt.Client, timeout time.Duration) error {
	if err := waitToken(ctx, client.Connect(), timeout); err != nil {
		client.Disconnect(0)
		return err
	}
	return nil
}

// Publish はイベントをJSONとして送信する
func (p *MQTTPublisher) Publish(ctx context.Context, ev Event) error {
	payload, err := encode(ev)
	if err != nil {
		return fmt.Errorf("通知のエンコードに失敗: %w", err)
	}

	token := p.client.Publish(p.cfg.Topic, p.cfg.QoS, false, payload)
	if err := waitToken(ctx, token, publishTimeout); err != nil {
		p.mu.Lock()
		p.failures++
		p.mu.Unlock()
		return fmt.Errorf("MQTT送信に失敗 (topic=%s): %w", p.cfg.Topic, err)
	}

	p.mu.Lock()
	p.published++
	p.mu.Unlock()
	return nil
}

// Close はブローカーから切断する
func (p *MQTTPublisher) Close() error {
	p.mu.Lock()
	published, failures := p.published, p.failures
	p.mu.Unlock()

	p.client.Disconnect(250)
	slog.Info("MQTTブローカーから切断しました", "published", published, "failures", failures)
	return nil
}

func waitToken(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(timeout):
		return fmt.Errorf("タイムアウト (%s)", timeout)
	}
}
