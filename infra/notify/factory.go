package notify

import (
	"context"
	"time"

	"github.com/kilianp07/tankwatch/core/alert"
	"github.com/kilianp07/tankwatch/core/factory"
	infmqtt "github.com/kilianp07/tankwatch/infra/mqtt"
)

// init registers built-in notifiers.
func init() {
	_ = alert.RegisterNotifier("log", func(map[string]any) (alert.Notifier, error) {
		return NewLogNotifier(), nil
	})

	_ = alert.RegisterNotifier("redis", func(conf map[string]any) (alert.Notifier, error) {
		var c RedisConfig
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return NewRedisNotifier(ctx, c)
	})

	_ = alert.RegisterNotifier("mqtt", func(conf map[string]any) (alert.Notifier, error) {
		var c infmqtt.Config
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		cli, err := infmqtt.NewPahoClient(c)
		if err != nil {
			return nil, err
		}
		return NewMQTTNotifier(cli, cli.Config()), nil
	})

	_ = alert.RegisterNotifier("kafka", func(conf map[string]any) (alert.Notifier, error) {
		var c KafkaConfig
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		return NewKafkaNotifier(c)
	})

	_ = alert.RegisterNotifier("webhook", func(conf map[string]any) (alert.Notifier, error) {
		var c WebhookConfig
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		return NewWebhookNotifier(c)
	})
}
