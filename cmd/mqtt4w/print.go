package main

import (
	"context"
	"fmt"
	"io"

	"github.com/casualjim/mqtt4w/config"
	"github.com/casualjim/mqtt4w/discovery"
	"github.com/casualjim/mqtt4w/service"
	"github.com/casualjim/mqtt4w/topic"
	"github.com/fatih/color"
	json "github.com/goccy/go-json"
	"github.com/k0kubun/pp/v3"
	"gopkg.in/yaml.v3"
)

const masked = "********"

func printSchema(w io.Writer) error {
	data, err := json.MarshalIndent(config.Schema(), "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// printConfig writes the effective configuration as YAML, the password
// masked.
func printConfig(w io.Writer, cfg *config.Config) error {
	shown := *cfg
	if shown.MQTT.Client.Password != "" {
		shown.MQTT.Client.Password = masked
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&shown); err != nil {
		return err
	}
	return enc.Close()
}

// printDiscovery compiles the discovery payloads of every configured
// service without connecting.
func printDiscovery(ctx context.Context, w io.Writer, cfg *config.Config, builder service.Builder, identity discovery.Identity, root topic.Topic) error {
	services, err := builder.Build(ctx)
	if err != nil {
		return err
	}
	prefix := topic.Parse(cfg.MQTT.Discovery.Prefix)
	availability := root.Append(topic.Parse(cfg.MQTT.AvailabilitySubtopic))

	printer := pp.New()
	printer.SetOutput(w)
	printer.SetColoringEnabled(!color.NoColor)

	for _, svc := range services {
		d, ok := svc.(service.Discoverable)
		if !ok {
			continue
		}
		fmt.Fprintln(w, color.MagentaString(svc.Name()))
		for _, entity := range d.Entities() {
			compiled, err := discovery.Compile(entity, identity, root.Append(svc.Subtopic()), availability)
			if err != nil {
				return fmt.Errorf("%s/%s: %w", svc.Name(), entity.ID, err)
			}
			var payload map[string]any
			if err := json.Unmarshal(compiled.Payload, &payload); err != nil {
				return err
			}
			fmt.Fprintln(w, color.CyanString(prefix.Append(compiled.Topic).String()))
			if _, err := printer.Println(payload); err != nil {
				return err
			}
		}
	}
	return nil
}
