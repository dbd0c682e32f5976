// Package distribution fans finished assets out to tier-gated destination
// platforms. Platforms are independent failure domains: each delivery is
// attempted exactly once and failures never roll back sibling deliveries.
package distribution
