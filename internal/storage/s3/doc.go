/*
Package s3 fetches immutable blobs from Amazon S3 (or an S3-compatible
endpoint) and plugs them into the cradle caches.

BlobSource wraps an S3 client behind the narrow API interface so tests can
substitute a fake. FetchBlob is the cached entry point: the object identity
is

	Combine(MakeID("get_blob"), MakeID(bucket), MakeID(key))

and lookups go through service.FullyCached, so concurrent requests for the
same object share one download and later requests are served from memory
or from the disk cache of a previous process.

	source, err := s3.NewBlobSource(ctx, &s3.Config{Region: "us-west-2"}, logger)
	if err != nil {
		return err
	}
	data, err := s3.FetchBlob(ctx, core, source, "my-bucket", "path/to/object")

S3 failures map onto cradle error codes: missing objects and buckets are
OBJECT_NOT_FOUND, authorization failures are ACCESS_DENIED, deadlines are
OPERATION_TIMEOUT and anything else is STORAGE_READ. Failed downloads are
not written to disk.
*/
package s3
