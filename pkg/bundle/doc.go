// Package bundle provides type-safe Go definitions and Redis schema patterns
// for Guidepost language bundles.
//
// # Overview
//
// Help-guide content is served to end users from one flat key/value bundle per
// supported language. Every component (publisher daemon, CLI, read-side cache)
// interacts with those bundles through the types and the Client in this package.
//
// # Core Concepts
//
// A Bundle is a flat mapping from dotted key to string value. Two namespaces
// coexist inside each bundle, distinguished by key prefix:
//
//	guides.<id>.*       published content
//	guidesDraft.<id>.*  draft content
//
// A Snapshot pairs a Bundle with an opaque Token. The token is the bundle's
// write revision at read time. Every successful write bumps the revision, so
// WriteBundle succeeds only if nobody has written the bundle since the caller
// read it, even if the content was later written back to the same bytes.
//
// The PublishLock is a singleton, TTL-bounded record serializing publish
// attempts. The version counter is a singleton integer bumped once per
// successful publish; readers treat a change as "invalidate every cached bundle".
//
// # Usage Example
//
//	client, err := bundle.NewClient(&redis.Options{Addr: "localhost:6379"}, "prod")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	snap, err := client.ReadBundle(ctx, "en")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	next := snap.Data.Clone()
//	next["guides.firstDay.title"] = "Your first day"
//
//	if err := client.WriteBundle(ctx, "en", next, snap.Token); errors.Is(err, bundle.ErrTokenMismatch) {
//		// someone else wrote "en" since we read it: re-read, recompute, retry
//	}
//
// # Redis Schema
//
// All Redis keys follow the pattern: guidepost:{instance_name}:{entity}[:{id}]
//
// Bundles: guidepost:{instance_name}:bundle:{lang} (hash: data, rev)
// Publish lock: guidepost:{instance_name}:publish_lock
// Version counter: guidepost:{instance_name}:version
// Workflow records: guidepost:{instance_name}:workflow:{guide_id}
//
// Pub/Sub channel: guidepost:{instance_name}:version_events
package bundle
