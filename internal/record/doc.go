// Package record defines the records that move through the change pipeline:
// findings, proposals, implementation manifests, validation reports and the
// terminal governance records.
//
// Every other internal package imports record; record imports nothing
// internal. All JSON tags use snake_case so that files written to the queue
// directories are readable by hand.
package record
