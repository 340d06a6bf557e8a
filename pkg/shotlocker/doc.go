// Package shotlocker grants per-edit, time-bounded read access to media in
// S3 buckets.
//
// A bucket becomes a locker when it carries the enable tag and an upload
// notification. Each uploaded edit document (OTIO, FCP7 XML) gets a random
// access token and its own folder. Processing conforms the timeline's media
// references to objects in the bucket and appends the token to the access
// tag of every object the timeline uses. Granting a principal access adds a
// bucket policy statement allowing reads of objects whose access tag
// contains the token, until the end of an expiry day.
//
// Storage
//
// The Service works against the ObjectStore interface. An S3 implementation
// and an in-memory one for tests and local development are provided under
// storage/. Workflows (processing, access add and remove, bucket disable)
// run through the Workflow interface: Step Functions in production, or the
// in-process runner under workflow/local.
//
// Access tag values hold tokens joined by ":". Tokens are compared exactly,
// so removing one token never touches another that shares a substring.
package shotlocker
