// Package devicerepo is the persistent device and template repository.
// Templates are deduplicated by content digest: devices whose templates
// hash identically share one template row. Save and Remove each run as a
// single sqlite transaction (RemoveAll calls Remove once per key, so each
// key is its own transaction), and every operation is additionally
// serialized by the Repository's own mutex, since the registration
// service can call Save for the same digest from both broker sides
// concurrently.
package devicerepo
