package mq

// Device broker topics
const (
	TopicStorage        = "/device/storage"
	TopicWeight         = "/device/weight/10kg"
	TopicGPS            = "/device/gps"
	TopicSchedule       = "/device/schedule"
	TopicScheduleAdd    = "/device/schedule/add"
	TopicScheduleToggle = "/device/schedule/toggle"
	TopicScheduleDelete = "/device/schedule/delete"
	TopicFeed           = "/device/feed"
)

// InboundTopics is the fixed set subscribed after every successful connect
var InboundTopics = []string{
	TopicStorage,
	TopicWeight,
	TopicGPS,
	TopicSchedule,
}
