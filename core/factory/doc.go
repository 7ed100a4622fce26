// Package factory instantiates pluggable modules, such as alert notifiers
// and metrics sinks, from configuration. A module is a type name plus a map
// of raw settings; each registered factory decodes the settings into its own
// typed struct.
//
//	notifiers := factory.NewRegistry[alert.Notifier]()
//	notifiers.Register("webhook", func(conf map[string]any) (alert.Notifier, error) {
//	    var c notify.WebhookConfig
//	    if err := factory.Decode(conf, &c); err != nil {
//	        return nil, err
//	    }
//	    return notify.NewWebhookNotifier(c)
//	})
//	ns, err := notifiers.CreateAll(cfg.Notifiers)
package factory
