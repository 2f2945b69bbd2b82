// Package bus implements the property-change event bus.
//
// The bus decouples producers (the sync engines and the group coordinator)
// from consumers awaiting or subscribing to property changes. Delivery to
// each subscriber is bounded: a subscriber that falls behind loses events
// rather than blocking publishers, and the loss is counted and observable
// via Subscription.Dropped. There is no unbounded queue anywhere on the
// delivery path.
//
// Subscriptions are keyed by event name and entity (a zone slot, or
// EntityDevice for device-wide properties); either key accepts a wildcard.
package bus
