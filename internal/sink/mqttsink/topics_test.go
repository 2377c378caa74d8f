package mqttsink

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/SMSLab-dev/mtconnect-agent/internal/device"
)

func TestObservationTopic(t *testing.T) {
	d := device.New("dev", "LinuxCNC", "000")
	ctrl := d.AddComponent(nil, &device.Component{ID: "cont", Name: "Controller", Type: "Controller"})
	path := d.AddComponent(ctrl, &device.Component{ID: "path1", Name: "path", Type: "Path"})

	line := device.NewDataItem("cn2", "LINE", device.CategoryEvent)
	line.Name = "line"
	path.AddDataItem(line)

	assert.Equal(t,
		"MTConnect/Observation/000/Controller[Controller]/Path[path]/Line[line]",
		ObservationTopic(line))
}

func TestObservationTopicOverride(t *testing.T) {
	d := device.New("dev", "LinuxCNC", "000")
	di := device.NewDataItem("cn2", "LINE", device.CategoryEvent)
	di.Topic = "Custom/Topic"
	d.AddDataItem(di)

	assert.Equal(t, "Custom/Topic", ObservationTopic(di))
}

func TestObservationTopicDeviceLevel(t *testing.T) {
	d := device.New("dev", "LinuxCNC", "000")
	device.Verify(d, device.MustParseSchemaVersion("2.0"))

	avail := d.Availability()
	assert.Equal(t, "MTConnect/Observation/000/Availability[dev_avail]", ObservationTopic(avail))
}

func TestDeviceAndAssetTopics(t *testing.T) {
	assert.Equal(t, "MTConnect/Device/000", DeviceTopic("000"))
	assert.Equal(t, "MTConnect/Asset/0001", AssetTopic("0001"))
}
