package discovery

import (
	"testing"

	"github.com/casualjim/mqtt4w/topic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

var (
	testIdentity = Identity{
		UniqueID:        "123456789",
		WorkstationName: "desk",
		Version:         "1.2.3",
	}
	testBase         = topic.MustNew("mqtt4w", "desk", "file_usage_tracker")
	testAvailability = topic.MustNew("mqtt4w", "desk", "available")
)

func cameraEntity() Entity {
	return BinarySensor("camera", Subconfig{
		Name:        "Camera",
		DeviceClass: "running",
		StateTopic:  "camera/state",
		Icon:        "mdi:webcam",
	})
}

func TestCompile(t *testing.T) {
	t.Run("binary sensor payload", func(t *testing.T) {
		cfg, err := Compile(cameraEntity(), testIdentity, testBase, testAvailability)
		require.NoError(t, err)

		assert.Equal(t, "binary_sensor/123456789_camera/config", cfg.Topic.String())
		require.True(t, gjson.ValidBytes(cfg.Payload))

		doc := gjson.ParseBytes(cfg.Payload)
		assert.Equal(t, "123456789_camera", doc.Get("uniq_id").String())
		assert.Equal(t, "Camera", doc.Get("name").String())
		assert.Equal(t, "mqtt4w/desk/file_usage_tracker/camera/state", doc.Get("state_topic").String())
		assert.Equal(t, "mqtt4w/desk/available", doc.Get("availability_topic").String())
		assert.Equal(t, "online", doc.Get("payload_available").String())
		assert.Equal(t, "offline", doc.Get("payload_not_available").String())
		assert.Equal(t, "desk", doc.Get("device.name").String())
		assert.Equal(t, "Jumper Heavy Industries", doc.Get("device.manufacturer").String())
		assert.Equal(t, "MQTT4Workstations", doc.Get("device.model").String())
		assert.Equal(t, "1.2.3", doc.Get("device.sw_version").String())
		assert.Equal(t, "123456789", doc.Get("device.identifiers.0").String())
		assert.False(t, doc.Get("command_topic").Exists())
	})

	t.Run("keys are in merge order", func(t *testing.T) {
		cfg, err := Compile(cameraEntity(), testIdentity, testBase, testAvailability)
		require.NoError(t, err)

		var keys []string
		gjson.ParseBytes(cfg.Payload).ForEach(func(key, _ gjson.Result) bool {
			keys = append(keys, key.String())
			return true
		})
		assert.Equal(t, []string{
			"uniq_id", "name", "icon", "device_class", "state_topic",
			"device", "availability_topic", "payload_available", "payload_not_available",
		}, keys)
	})

	t.Run("deterministic", func(t *testing.T) {
		entity := cameraEntity()
		entity.Subconfig.Extra = map[string]any{"zz": 1, "aa": true, "mm": "x"}

		first, err := Compile(entity, testIdentity, testBase, testAvailability)
		require.NoError(t, err)
		for range 20 {
			again, err := Compile(entity, testIdentity, testBase, testAvailability)
			require.NoError(t, err)
			assert.Equal(t, first.Payload, again.Payload)
		}
	})

	t.Run("does not modify the descriptor", func(t *testing.T) {
		entity := cameraEntity()
		_, err := Compile(entity, testIdentity, testBase, testAvailability)
		require.NoError(t, err)
		assert.Equal(t, "camera/state", entity.Subconfig.StateTopic)
		assert.Equal(t, cameraEntity(), entity)
	})

	t.Run("later sources win", func(t *testing.T) {
		entity := cameraEntity()
		entity.Subconfig.Extra = map[string]any{
			"uniq_id":            "overridden",
			"availability_topic": "elsewhere",
		}
		cfg, err := Compile(entity, testIdentity, testBase, testAvailability)
		require.NoError(t, err)

		doc := gjson.ParseBytes(cfg.Payload)
		assert.Equal(t, "overridden", doc.Get("uniq_id").String())
		assert.Equal(t, "mqtt4w/desk/available", doc.Get("availability_topic").String())
	})

	t.Run("button with command topic", func(t *testing.T) {
		button := Button("lock", Subconfig{
			Name:         "Lock screen",
			CommandTopic: "lock/press",
			PayloadPress: "PRESS",
		})
		cfg, err := Compile(button, testIdentity, topic.MustNew("mqtt4w", "desk", "commands"), testAvailability)
		require.NoError(t, err)

		assert.Equal(t, "button/123456789_lock/config", cfg.Topic.String())
		doc := gjson.ParseBytes(cfg.Payload)
		assert.Equal(t, "mqtt4w/desk/commands/lock/press", doc.Get("command_topic").String())
		assert.Equal(t, "PRESS", doc.Get("payload_press").String())
	})

	t.Run("text sensor", func(t *testing.T) {
		title := Sensor("active_window_title", Subconfig{Name: "Active window", StateTopic: "title"})
		cfg, err := Compile(title, testIdentity, topic.MustNew("mqtt4w", "desk", "windows_tracker", "active_window"), testAvailability)
		require.NoError(t, err)

		assert.Equal(t, "sensor/123456789_active_window_title/config", cfg.Topic.String())
		doc := gjson.ParseBytes(cfg.Payload)
		assert.Equal(t, "mqtt4w/desk/windows_tracker/active_window/title", doc.Get("state_topic").String())
		assert.False(t, doc.Get("payload_on").Exists())
	})

	t.Run("rejects invalid descriptors", func(t *testing.T) {
		tests := []struct {
			name   string
			entity Entity
		}{
			{"unknown kind", Entity{Kind: "switch", ID: "x", Subconfig: Subconfig{Name: "X"}}},
			{"missing id", BinarySensor("", Subconfig{Name: "X"})},
			{"missing name", BinarySensor("x", Subconfig{})},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := Compile(tt.entity, testIdentity, testBase, testAvailability)
				assert.ErrorIs(t, err, ErrInvalidEntity)
			})
		}
	})

	t.Run("rejects an id that is not a topic segment", func(t *testing.T) {
		_, err := Compile(BinarySensor("a/b", Subconfig{Name: "X"}), testIdentity, testBase, testAvailability)
		assert.ErrorIs(t, err, topic.ErrInvalidSegment)
	})
}
