// Package pipeline coordinates content through its lifecycle: uploading,
// transcoding, distributing, completed. Failed is an absorbing stage that
// keeps the failure's origin and message on the record. The coordinator owns
// all stage transitions; subsystems never move the pipeline themselves.
package pipeline
