package mqttsink

import (
	"strings"

	"github.com/SMSLab-dev/mtconnect-agent/internal/device"
)

// Topic prefixes for the MQTT surface.
const (
	TopicPrefixDevice      = "MTConnect/Device/"
	TopicPrefixObservation = "MTConnect/Observation/"
	TopicPrefixAsset       = "MTConnect/Asset/"
)

// DeviceTopic returns the device descriptor topic.
//
// Example: MTConnect/Device/000
func DeviceTopic(uuid string) string {
	return TopicPrefixDevice + uuid
}

// AssetTopic returns the asset change topic.
//
// Example: MTConnect/Asset/0001
func AssetTopic(assetID string) string {
	return TopicPrefixAsset + assetID
}

// ObservationTopic returns an observation's topic: the device uuid, the
// component path as Type[name] segments, and the data item segment. A
// topic attribute on the data item overrides the derived path.
//
// Example: MTConnect/Observation/000/Controller[Controller]/Path[path]/Line[line]
func ObservationTopic(di *device.DataItem) string {
	if di.Topic != "" {
		return di.Topic
	}

	d := di.Device()
	if d == nil {
		return TopicPrefixObservation + di.TopicSegment()
	}

	var segments []string
	for c := di.Component(); c != nil && !c.IsRoot(); c = c.Parent() {
		segments = append([]string{c.TopicSegment()}, segments...)
	}
	segments = append(segments, di.TopicSegment())

	return TopicPrefixObservation + d.UUID() + "/" + strings.Join(segments, "/")
}
