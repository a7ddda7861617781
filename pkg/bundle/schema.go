package bundle

import "fmt"

// Redis key pattern helpers
//
// All Redis keys and Pub/Sub channels are namespaced by instance name so that
// staging and production content can share one Redis server.
//
// Key pattern: guidepost:{instance_name}:{entity}[:{id}]
// Channel pattern: guidepost:{instance_name}:{event_type}_events

// Bundle hash fields: the encoded bundle and its write revision.
const (
	bundleDataField = "data"
	bundleRevField  = "rev"
)

// BundleKey returns the Redis key for a language bundle hash.
// Pattern: guidepost:{instance_name}:bundle:{lang}
func BundleKey(instanceName string, lang Lang) string {
	return fmt.Sprintf("guidepost:%s:bundle:%s", instanceName, lang)
}

// PublishLockKey returns the Redis key for the singleton publish lock hash.
// Pattern: guidepost:{instance_name}:publish_lock
func PublishLockKey(instanceName string) string {
	return fmt.Sprintf("guidepost:%s:publish_lock", instanceName)
}

// VersionKey returns the Redis key for the singleton version counter.
// Pattern: guidepost:{instance_name}:version
func VersionKey(instanceName string) string {
	return fmt.Sprintf("guidepost:%s:version", instanceName)
}

// WorkflowKey returns the Redis key for a guide's workflow record hash.
// Pattern: guidepost:{instance_name}:workflow:{guide_id}
func WorkflowKey(instanceName, guideID string) string {
	return fmt.Sprintf("guidepost:%s:workflow:%s", instanceName, guideID)
}

// VersionEventsChannel returns the Pub/Sub channel carrying version bumps.
// Pattern: guidepost:{instance_name}:version_events
func VersionEventsChannel(instanceName string) string {
	return fmt.Sprintf("guidepost:%s:version_events", instanceName)
}
