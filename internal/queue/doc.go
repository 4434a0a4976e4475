// Package queue is the durable, directory-based queue that connects the
// pipeline stages.
//
// Layout under the base directory:
//
//	proposals/<id>.json               proposal records
//	staging/<id>/                     one directory per implementation attempt
//	staging/<id>/manifest.json        attempt manifest
//	staging/<id>/.validated           write-once marker holding the validation ID
//	validation/<id>.json              validation reports
//	deployed/<staging>.deployed       write-once deployment marker
//	deployed/<staging>.escalated      write-once escalation marker
//	deployed/<staging>.rejected       write-once rejection marker
//	logs/ESCALATION_<staging>_<ts>.json
//	logs/REJECTION_<staging>_<ts>.json
//
// Records are written to a temporary file and renamed into place, so a
// reader never observes a partial record. Markers are created with O_EXCL
// and are never overwritten. Exclusive processing of an item is arbitrated
// by a Claimer, normally the SQLite store.
package queue
