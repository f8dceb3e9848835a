// Package subscription implements the durable store for granted access
// records. Records live in redis as versioned binary blobs with a TTL
// matching the subscription expiry; the remaining-unit budget is a separate
// counter key decremented by a server-side script so concurrent validators
// never overdraw it.
package subscription
