package main

import (
	"context"
	"log/slog"

	"github.com/casualjim/mqtt4w/config"
	"github.com/casualjim/mqtt4w/internal/mdns"
	"github.com/casualjim/mqtt4w/internal/transport"
	"github.com/casualjim/mqtt4w/pkg/uuidx"
)

const dryRunHistory = 256

// newDialer picks the transport. An automatic hostname is resolved with
// mDNS on every dial, so a broker that moved is found again on reconnect.
func newDialer(cfg *config.Config, dryRun bool) (transport.Dialer, error) {
	if dryRun {
		return transport.NewLocal().WithHistoryLimit(dryRunHistory).OnPublish(func(msg transport.Message) {
			slog.Info("publish",
				slog.String("topic", msg.Topic),
				slog.String("payload", string(msg.Payload)),
				slog.Bool("retain", msg.Retained),
			)
		}), nil
	}

	clientID := cfg.MQTT.Client.ClientID
	if clientID == "" {
		clientID = uuidx.ClientID(config.Name + "-" + cfg.WorkstationName)
	}
	if !cfg.MQTT.Client.AutoLocate() {
		return dialerFor(cfg, cfg.MQTT.BrokerURL(""), clientID), nil
	}

	locator, err := mdns.NewLocator()
	if err != nil {
		return nil, err
	}
	return transport.DialerFunc(func(ctx context.Context, will transport.Will) (transport.Conn, error) {
		broker, err := locator.Locate(ctx)
		if err != nil {
			return nil, &transport.ConnectionError{Op: "locate", Err: err}
		}
		url := cfg.MQTT.BrokerURL(broker.Address())
		slog.Debug("dialing located broker", slog.String("url", url))
		return dialerFor(cfg, url, clientID).Dial(ctx, will)
	}), nil
}

func dialerFor(cfg *config.Config, url, clientID string) transport.Dialer {
	if cfg.MQTT.Transport == config.TransportNATS {
		return &transport.NATSDialer{URL: url, Name: clientID}
	}
	return &transport.MQTTDialer{
		BrokerURL:      url,
		ClientID:       clientID,
		Username:       cfg.MQTT.Client.Username,
		Password:       cfg.MQTT.Client.Password,
		TLSSkipVerify:  cfg.MQTT.Client.TLSSkipVerify,
		ConnectTimeout: cfg.MQTT.PublishTimeout,
		KeepAlive:      cfg.MQTT.Client.KeepAlive,
	}
}

