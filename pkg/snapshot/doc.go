// Package snapshot implements C9: periodic, per-(tenant, entity, projection)
// state captures that bound how far C8 has to replay. Snapshots are
// persisted in a bbolt-backed store and superseded older generations are
// garbage collected once a newer one is durable.
package snapshot
