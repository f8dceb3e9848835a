// Package qos enforces the quality-of-service contract a subscription was
// sold under. A Strategy is selected by the subscription's stored QoS kind;
// every strategy performs its check and its consumption in one atomic step
// against redis so concurrent validators cannot over-admit.
package qos
