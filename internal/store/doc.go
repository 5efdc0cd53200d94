// Package store persists minute files on the local filesystem.
//
// Layout under the root directory:
//
//	{channel}/chat/{hour}/{minute}_{hash}
//
// where hour is "2006-01-02T15", minute is "2006-01-02T15:04:05" (UTC) and
// hash is the hex SHA-256 of the file's canonical bytes. Files are never
// modified after creation. A minute is superseded by writing its new file
// first and only then removing the files it replaces, so a crash leaves the
// old file, the new file, or both, but never neither.
//
// Several files may exist for one minute at the same time: a locally
// recorded file and copies deposited by another node. Read returns all of
// them.
package store
