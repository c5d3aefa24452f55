// Package tenants implements the tenant directory and the membership registry.
//
// A Directory creates tenants together with their first owner, updates
// settings on behalf of owners and admins, and applies subscription changes
// pushed by the billing provider. Subscription events are applied at most
// once per provider event id.
//
// A Registry manages memberships: adding and inviting members within the
// tenant's user limit, role changes, removals and the per-user default
// tenant. Mutations that touch owners run inside one store transaction that
// first locks the tenant row, so a tenant can never be left without an
// active owner even under concurrent removals. SetDefaultTenant locks the
// user's memberships and clears every other default before setting the new
// one.
//
// # Storage
//
// Both services run on a Store. MemoryStore keeps everything in process and
// is used by tests and single-node development setups. PostgresStore uses
// lib/pq and the schema from Migrations, which also installs the storage
// level row policies for tenant scoped resource tables.
//
// # Caching
//
// MembershipCache keeps a user's membership list in an expiring in-process
// LRU with an optional Redis tier behind it. Only tenant context resolution
// reads through the cache. Authorization always reads the store, and every
// registry mutation invalidates the affected user.
package tenants
