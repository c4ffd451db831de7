// Package postgres provides pgx-backed tenant persistence.
//
// Each tenant owns a pool whose connections are pinned to the tenant id
// through the nile.tenant_id setting.
package postgres
