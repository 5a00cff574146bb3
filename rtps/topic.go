package rtps

import "github.com/jech/rtpsreader/qos"

// TopicAttributes is the reader-side view of a topic's identity and
// the History/ResourceLimits policies that size its history cache,
// ported from eProsima's TopicAttributes.
type TopicAttributes struct {
	Kind           TopicKind
	Name           string
	DataTypeName   string
	History        qos.History
	ResourceLimits qos.ResourceLimits
}
